package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/scripthost/pkg/hosterr"
)

// Registration tells a Factory how to build one engine kind.
type Registration struct {
	Kind Kind
	New  func() (Engine, error)
}

// Factory creates engines on first use and caches one instance per kind.
type Factory struct {
	registrations map[Kind]Registration

	mu      sync.RWMutex
	engines map[Kind]Engine
}

// NewFactory creates a factory for the given registrations. Kinds must be
// non-empty and unique.
func NewFactory(registrations ...Registration) (*Factory, error) {
	f := &Factory{
		registrations: make(map[Kind]Registration, len(registrations)),
		engines:       make(map[Kind]Engine),
	}
	for _, reg := range registrations {
		if reg.Kind == "" {
			return nil, fmt.Errorf("registration has an empty kind")
		}
		if reg.New == nil {
			return nil, fmt.Errorf("registration %q has no constructor", reg.Kind)
		}
		if _, exists := f.registrations[reg.Kind]; exists {
			return nil, fmt.Errorf("kind %q registered twice", reg.Kind)
		}
		f.registrations[reg.Kind] = reg
	}
	return f, nil
}

// Get returns the engine for kind, creating it on first call. Unknown kinds
// fail with an UnsupportedKind error listing the registered kinds.
// Constructor failures are returned and not cached.
func (f *Factory) Get(kind Kind) (Engine, error) {
	reg, ok := f.registrations[kind]
	if !ok {
		return nil, hosterr.NewUnsupportedKindError(string(kind), f.kindNames())
	}

	f.mu.RLock()
	eng, ok := f.engines[kind]
	f.mu.RUnlock()
	if ok {
		return eng, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if eng, ok := f.engines[kind]; ok {
		return eng, nil
	}
	eng, err := reg.New()
	if err != nil {
		return nil, hosterr.NewEngineError(fmt.Sprintf("failed to create %s engine", kind), err)
	}
	f.engines[kind] = eng
	return eng, nil
}

// Supports reports whether kind is registered.
func (f *Factory) Supports(kind Kind) bool {
	_, ok := f.registrations[kind]
	return ok
}

// SupportedKinds returns the registered kinds, sorted.
func (f *Factory) SupportedKinds() []Kind {
	kinds := make([]Kind, 0, len(f.registrations))
	for k := range f.registrations {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (f *Factory) kindNames() []string {
	kinds := f.SupportedKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

// Close closes every engine created so far. The factory can create fresh
// engines afterwards.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for kind, eng := range f.engines {
		if err := eng.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", kind, err))
		}
		delete(f.engines, kind)
	}
	return errors.Join(errs...)
}
