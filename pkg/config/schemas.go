package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Schema names registered by default.
const (
	SchemaSettings  = "settings"
	SchemaWorkspace = "workspace"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	// built-in schemas are constants; a failure here is a programming error
	if err := sr.RegisterSchema(SchemaSettings, builtinSettingsSchema, "#Settings"); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaWorkspace, builtinWorkspaceSchema, "#Workspace"); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles source and registers the definition at path
// under name.
func (sr *SchemaRegistry) RegisterSchema(name, source, path string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(path))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, path)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Context returns the CUE context schemas were compiled in. Values unified
// with a schema must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinSettingsSchema = `
// Global froyo settings (config.cue in the froyo home directory)
#Settings: {
	home?:           string
	default_engine?: "js" | "starlark" | "lua" | "expr"

	log?: {
		level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal" | "panic" | "disabled"
		format?: "console" | "json"
	}

	metrics?: {
		enabled?: bool
		address?: string
	}

	tracing?: {
		enabled?:       bool
		exporter?:      "none" | "stdout" | "otlp"
		endpoint?:      string
		sampling_rate?: number & >=0 & <=1
		timeout?:       string
		insecure?:      bool
	}

	policy_dirs?: [...string]
}
`

const builtinWorkspaceSchema = `
// Workspace configuration (workspace.cue)
#Workspace: {
	// Name is the workspace name
	name: string & =~"^[a-z0-9_-]+$"

	// Engine is the script engine kind
	engine: string & !=""

	// BaseURL resolves relative http capability URLs
	base_url?: string

	// Headers are sent with every http capability request
	headers?: {[string]: string}

	// Env is added to the environment of spawned processes
	env?: {[string]: string}

	// Timeout bounds a single run, e.g. "30s"
	timeout?: string

	// Policy is a Rego file or directory gating capability calls
	policy?: string

	// PackageManager selects the package backend
	package_manager?: "apt" | "dnf" | "yum" | "zypper" | "apk" | "brew"
}
`
