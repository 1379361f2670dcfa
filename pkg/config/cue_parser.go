package config

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// MaxFileSize bounds configuration files read by the parser.
const MaxFileSize = 1 << 20

// CUEParser decodes CUE configuration validated against registered schemas
// and struct validation tags.
type CUEParser struct {
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser with the built-in schemas.
func NewCUEParser() *CUEParser {
	return NewCUEParserWith(NewSchemaRegistry(), validator.New())
}

// NewCUEParserWith creates a parser using an existing registry and
// validator, so callers can register extra schemas or validation tags.
func NewCUEParserWith(registry *SchemaRegistry, v *validator.Validate) *CUEParser {
	return &CUEParser{schemaRegistry: registry, validator: v}
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// DecodeFile reads a CUE file, validates it against schemaName and decodes
// it into out. When out is a struct pointer its validate tags are checked
// too.
func (cp *CUEParser) DecodeFile(path, schemaName string, out interface{}) error {
	data, err := readConfigFile(path)
	if err != nil {
		return err
	}
	return cp.Decode(data, path, schemaName, out)
}

// Decode validates CUE source against schemaName and decodes it into out.
// filename is used in error positions.
func (cp *CUEParser) Decode(data []byte, filename, schemaName string, out interface{}) error {
	val, err := cp.unify(data, filename, schemaName, true)
	if err != nil {
		return err
	}
	if err := val.Decode(out); err != nil {
		return convertCUEErrors(err)
	}
	if err := cp.validator.Struct(out); err != nil {
		if _, invalid := err.(*validator.InvalidValidationError); !invalid {
			return fmt.Errorf("%s: validation failed: %w", filename, err)
		}
	}
	return nil
}

// DecodeMap validates a CUE file against schemaName allowing fields to be
// left open, and returns it as a map for merging into other sources.
func (cp *CUEParser) DecodeMap(path, schemaName string) (map[string]interface{}, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	val, err := cp.unify(data, path, schemaName, false)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := val.Decode(&out); err != nil {
		return nil, convertCUEErrors(err)
	}
	return out, nil
}

func (cp *CUEParser) unify(data []byte, filename, schemaName string, concrete bool) (cue.Value, error) {
	schema, ok := cp.schemaRegistry.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	val := cp.schemaRegistry.Context().CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(concrete)); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return unified, nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s is too large (%d bytes, limit %d)", path, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// convertCUEErrors converts a CUE error list to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		format, args := e.Msg()
		ve := ValidationError{Message: fmt.Sprintf(format, args...)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}
