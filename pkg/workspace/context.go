package workspace

import (
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/scripthost/pkg/capability"
	"github.com/openfroyo/scripthost/pkg/packages"
	"github.com/openfroyo/scripthost/pkg/stores"
)

// StateFile is the store database inside a workspace directory.
const StateFile = "state.db"

// Context is an opened workspace: its configuration and its own store.
// A Context is immutable; a config reload produces a new Context sharing
// the same store.
type Context struct {
	Name   string
	Dir    string
	Config *Config
	Store  stores.Store

	// Packages drives the package capability. Nil selects the backend from
	// Config.PackageManager, or the one detected on PATH.
	Packages packages.Manager
}

// RunTimeout returns the per-run timeout, or zero for none.
func (c *Context) RunTimeout() time.Duration {
	return c.Config.RunTimeout()
}

// PolicyPaths returns the workspace policy location, resolved against the
// workspace directory.
func (c *Context) PolicyPaths() []string {
	if c.Config.Policy == "" {
		return nil
	}
	path := c.Config.Policy
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.Dir, path)
	}
	return []string{path}
}

// SurfaceConfig returns the capability surface configuration for this
// workspace. Middleware is left for the caller.
func (c *Context) SurfaceConfig(logger zerolog.Logger) capability.SurfaceConfig {
	return capability.SurfaceConfig{
		Store: c.Store,
		HTTP: capability.HTTPConfig{
			Client:    &http.Client{},
			BaseURL:   c.Config.BaseURL,
			Headers:   c.Config.Headers,
			UserAgent: "froyo",
		},
		FSRoot: c.Dir,
		Process: capability.ProcessConfig{
			Dir:    c.Dir,
			Env:    c.Config.Env,
			Logger: logger,
		},
		Packages: c.packageManager(),
	}
}

func (c *Context) packageManager() packages.Manager {
	if c.Packages != nil {
		return c.Packages
	}
	name := c.Config.PackageManager
	if name == "" {
		detected, err := packages.Detect()
		if err != nil {
			return packages.Unavailable{}
		}
		name = detected
	}
	return packages.Open(name)
}

// withConfig returns a copy of c using cfg.
func (c *Context) withConfig(cfg *Config) *Context {
	out := *c
	out.Config = cfg
	return &out
}

// SortedHeaders returns the default headers as "Name: value" lines.
func (c *Context) SortedHeaders() []string {
	names := make([]string, 0, len(c.Config.Headers))
	for name := range c.Config.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = name + ": " + c.Config.Headers[name]
	}
	return lines
}
