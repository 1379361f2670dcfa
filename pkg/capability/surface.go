package capability

import (
	"fmt"
	"net/http"

	"github.com/openfroyo/scripthost/pkg/packages"
	"github.com/openfroyo/scripthost/pkg/stores"
)

// Names of the capability objects bound into every engine.
const (
	NameStore   = "store"
	NameHTTP    = "http"
	NameFS      = "fs"
	NameProcess = "process"
	NamePackage = "package"
)

// RequiredNames lists the capability surface in binding order.
var RequiredNames = []string{NameStore, NameHTTP, NameFS, NameProcess, NamePackage}

// Surface is the registration table of capability objects for one
// workspace.
type Surface struct {
	objects []*Object
	index   map[string]*Object
}

// NewSurface creates an empty surface.
func NewSurface() *Surface {
	return &Surface{index: make(map[string]*Object)}
}

// Register adds obj. Names must be unique.
func (s *Surface) Register(obj *Object) error {
	if obj == nil || obj.Name == "" {
		return fmt.Errorf("capability object must have a name")
	}
	if _, exists := s.index[obj.Name]; exists {
		return fmt.Errorf("capability %q already registered", obj.Name)
	}
	s.objects = append(s.objects, obj)
	s.index[obj.Name] = obj
	return nil
}

// Get returns the object registered under name.
func (s *Surface) Get(name string) (*Object, bool) {
	obj, ok := s.index[name]
	return obj, ok
}

// Objects returns the registered objects in registration order.
func (s *Surface) Objects() []*Object {
	return append([]*Object(nil), s.objects...)
}

// Validate checks that every required capability is present.
func (s *Surface) Validate() error {
	for _, name := range RequiredNames {
		if _, ok := s.index[name]; !ok {
			return fmt.Errorf("capability surface is missing %q", name)
		}
	}
	return nil
}

// With returns a new surface whose objects pass through mws.
func (s *Surface) With(mws ...Middleware) *Surface {
	out := NewSurface()
	for _, obj := range s.objects {
		wrapped := obj.With(mws...)
		out.objects = append(out.objects, wrapped)
		out.index[wrapped.Name] = wrapped
	}
	return out
}

// SurfaceConfig holds the collaborators the standard surface wraps.
type SurfaceConfig struct {
	Store    stores.KeyValueStore
	HTTP     HTTPConfig
	FSRoot   string
	Process  ProcessConfig
	Packages packages.Manager

	// Middleware applies to every object, outermost first.
	Middleware []Middleware
}

// Build assembles the standard capability surface.
func Build(cfg SurfaceConfig) (*Surface, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Packages == nil {
		cfg.Packages = packages.Unavailable{}
	}
	if cfg.HTTP.Client == nil {
		cfg.HTTP.Client = http.DefaultClient
	}

	s := NewSurface()
	for _, obj := range []*Object{
		NewStore(cfg.Store),
		NewHTTP(cfg.HTTP),
		NewFS(cfg.FSRoot),
		NewProcess(cfg.Process),
		NewPackage(cfg.Packages),
	} {
		if err := s.Register(obj); err != nil {
			return nil, err
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Middleware) > 0 {
		s = s.With(cfg.Middleware...)
	}
	return s, nil
}
