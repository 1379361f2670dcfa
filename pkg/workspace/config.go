package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/scripthost/pkg/config"
)

// Config file names, in lookup order.
const (
	YAMLConfigFile = "workspace.yaml"
	CUEConfigFile  = "workspace.cue"
)

var namePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Config is the persisted configuration of one workspace.
type Config struct {
	// Name identifies the workspace and names its directory.
	Name string `json:"name" yaml:"name" validate:"required,workspace_name"`

	// Engine is the script engine kind, e.g. "js".
	Engine string `json:"engine" yaml:"engine" validate:"required"`

	// BaseURL resolves relative URLs passed to the http capability.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`

	// Headers are sent with every http capability request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Env is added to the environment of processes scripts spawn.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Timeout bounds a single run, e.g. "30s". Empty means no limit.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"omitempty,duration"`

	// Policy is a Rego file or directory gating capability calls. Relative
	// paths resolve against the workspace directory.
	Policy string `json:"policy,omitempty" yaml:"policy,omitempty"`

	// PackageManager selects the package backend; empty means detect.
	PackageManager string `json:"package_manager,omitempty" yaml:"package_manager,omitempty" validate:"omitempty,oneof=apt dnf yum zypper apk brew"`
}

// RunTimeout returns the parsed timeout, or zero when unset.
func (c *Config) RunTimeout() time.Duration {
	if c.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// newValidator returns a validator with the workspace-specific tags.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("workspace_name", func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d >= 0
	})
	return v
}

// ValidName reports whether name is a valid workspace name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// configLoader reads and validates workspace config files.
type configLoader struct {
	validate *validator.Validate
	cue      *config.CUEParser
}

func newConfigLoader() *configLoader {
	v := newValidator()
	return &configLoader{
		validate: v,
		cue:      config.NewCUEParserWith(config.NewSchemaRegistry(), v),
	}
}

// Validate checks c against the struct tags and the #Workspace schema.
func (l *configLoader) Validate(c *Config) error {
	if err := l.validate.Struct(c); err != nil {
		return fmt.Errorf("invalid workspace config: %w", err)
	}
	if err := l.cue.GetSchemaRegistry().ValidateAgainstSchema(config.SchemaWorkspace, c); err != nil {
		return fmt.Errorf("invalid workspace config: %w", err)
	}
	return nil
}

// ConfigPath returns the config file present in dir, preferring YAML.
func ConfigPath(dir string) (string, error) {
	for _, name := range []string{YAMLConfigFile, CUEConfigFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", os.ErrNotExist
}

// Load reads the workspace config in dir.
func (l *configLoader) Load(dir string) (*Config, error) {
	path, err := ConfigPath(dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if filepath.Base(path) == CUEConfigFile {
		if err := l.cue.DecodeFile(path, config.SchemaWorkspace, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to dir as workspace.yaml.
func (l *configLoader) Save(dir string, cfg *Config) error {
	if err := l.Validate(cfg); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode workspace config: %w", err)
	}

	tmp := filepath.Join(dir, "."+YAMLConfigFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write workspace config: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, YAMLConfigFile)); err != nil {
		return fmt.Errorf("failed to write workspace config: %w", err)
	}
	return nil
}
