package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/openfroyo/scripthost/pkg/capability"
	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

// Kind names a script backend, e.g. "js".
type Kind string

// Registered backend kinds.
const (
	KindJS       Kind = "js"
	KindStarlark Kind = "starlark"
	KindLua      Kind = "lua"
	KindExpr     Kind = "expr"
)

// Session is the single-threaded view of an engine: bind capability objects,
// then execute source against them.
type Session interface {
	// Bind injects obj into the script's global scope under name. Binding
	// the same name again replaces the previous object.
	Bind(name string, obj *capability.Object) error

	// Execute evaluates source and returns its result.
	Execute(ctx context.Context, source string) (value.Value, error)
}

// Backend is implemented by each script technology. Backends are not safe
// for concurrent use; Guarded serializes access to them.
type Backend interface {
	Session
	Kind() Kind
	Close() error
}

// Engine is a process-wide, shareable script engine.
type Engine interface {
	Session

	Kind() Kind

	// SupportsKind reports whether the engine executes sources of kind.
	SupportsKind(kind Kind) bool

	// Exclusive runs fn while holding the engine, so bind-then-execute
	// sequences from one caller are never interleaved with another's.
	Exclusive(fn func(Session) error) error

	Close() error
}

// ErrClosed is returned by a closed engine.
var ErrClosed = errors.New("engine is closed")

// Guarded wraps a Backend with a mutex.
type Guarded struct {
	mu      sync.Mutex
	backend Backend
	closed  bool
}

// NewGuarded wraps b.
func NewGuarded(b Backend) *Guarded {
	return &Guarded{backend: b}
}

// Kind returns the backend kind.
func (g *Guarded) Kind() Kind { return g.backend.Kind() }

// SupportsKind reports whether kind matches the backend.
func (g *Guarded) SupportsKind(kind Kind) bool { return g.backend.Kind() == kind }

// Bind binds obj under name.
func (g *Guarded) Bind(name string, obj *capability.Object) error {
	return g.Exclusive(func(s Session) error { return s.Bind(name, obj) })
}

// Execute evaluates source.
func (g *Guarded) Execute(ctx context.Context, source string) (value.Value, error) {
	result := value.Null()
	err := g.Exclusive(func(s Session) error {
		v, err := s.Execute(ctx, source)
		result = v
		return err
	})
	return result, err
}

// Exclusive runs fn with the backend locked.
func (g *Guarded) Exclusive(fn func(Session) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return hosterr.NewEngineError(string(g.backend.Kind())+" engine", ErrClosed)
	}
	return fn(g.backend)
}

// Close releases the backend. Later calls fail with ErrClosed.
func (g *Guarded) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.backend.Close()
}

// BindSurface binds every object of surface into s under its own name.
func BindSurface(s Session, surface *capability.Surface) error {
	for _, obj := range surface.Objects() {
		if err := s.Bind(obj.Name, obj); err != nil {
			return err
		}
	}
	return nil
}
