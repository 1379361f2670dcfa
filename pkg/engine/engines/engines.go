// Package engines wires every built-in backend into an engine.Factory.
package engines

import (
	"sync"

	"github.com/openfroyo/scripthost/pkg/engine"
	"github.com/openfroyo/scripthost/pkg/engine/exprengine"
	"github.com/openfroyo/scripthost/pkg/engine/jsengine"
	"github.com/openfroyo/scripthost/pkg/engine/luaengine"
	"github.com/openfroyo/scripthost/pkg/engine/starlarkengine"
)

// Registrations returns the registration table for all built-in kinds.
func Registrations(opts engine.Options) []engine.Registration {
	return []engine.Registration{
		jsengine.Registration(opts),
		starlarkengine.Registration(opts),
		luaengine.Registration(opts),
		exprengine.Registration(opts),
	}
}

// NewDefaultFactory creates a factory that knows every built-in kind.
func NewDefaultFactory(opts engine.Options) (*engine.Factory, error) {
	return engine.NewFactory(Registrations(opts)...)
}

var (
	defaultOnce    sync.Once
	defaultFactory *engine.Factory
	defaultErr     error
)

// Default returns the process-wide factory, created with opts on the first
// call. Later calls ignore opts.
func Default(opts engine.Options) (*engine.Factory, error) {
	defaultOnce.Do(func() {
		defaultFactory, defaultErr = NewDefaultFactory(opts)
	})
	return defaultFactory, defaultErr
}
