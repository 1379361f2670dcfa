package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/openfroyo/scripthost/pkg/telemetry"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. FROYO_LOG_LEVEL.
	EnvPrefix = "FROYO"

	// SettingsFileName is the optional settings file in the home directory.
	SettingsFileName = "config.cue"
)

// LoadOptions defines explicit settings loading inputs.
type LoadOptions struct {
	// Home overrides the home directory lookup when set.
	Home string

	// ConfigFile forces loading a specific settings file when set.
	ConfigFile string

	// Flags are bound to settings keys; a flag overrides the file and the
	// environment only when it was set on the command line.
	Flags *pflag.FlagSet

	// FlagKeys maps flag names to settings keys, e.g. "log-level" to
	// "log.level".
	FlagKeys map[string]string
}

// DefaultHome returns $FROYO_HOME, or ~/.froyo.
func DefaultHome() (string, error) {
	if home := os.Getenv(EnvPrefix + "_HOME"); home != "" {
		return home, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(userHome, ".froyo"), nil
}

// Load resolves settings from defaults, config.cue, FROYO_* environment
// variables and flags.
func Load(ctx context.Context, opts LoadOptions) (*Settings, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load settings canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range opts.FlagKeys {
		if opts.Flags == nil {
			break
		}
		if flag := opts.Flags.Lookup(name); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	home := opts.Home
	if home == "" {
		home = v.GetString("home")
	}
	if home == "" {
		var err error
		if home, err = DefaultHome(); err != nil {
			return nil, err
		}
	}

	path := opts.ConfigFile
	if path == "" {
		candidate := filepath.Join(home, SettingsFileName)
		if fileExists(candidate) {
			path = candidate
		}
	} else if !fileExists(path) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if opts.Home != "" || s.Home == "" {
		s.Home = home
	}

	if err := validator.New().Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("home", "")
	v.SetDefault("default_engine", d.DefaultEngine)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("tracing.timeout", d.Tracing.Timeout)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("policy_dirs", d.PolicyDirs)
}

// loadCUEIntoViper validates a settings file against #Settings and merges
// it over the defaults. Environment and flags still take precedence.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	values, err := NewCUEParser().DecodeMap(path, SchemaSettings)
	if err != nil {
		return fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	if err := v.MergeConfigMap(values); err != nil {
		return fmt.Errorf("failed to merge settings: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// WorkspacesDir returns the directory holding workspace directories.
func (s *Settings) WorkspacesDir() string {
	return filepath.Join(s.Home, "workspaces")
}

// TelemetryConfig maps the settings onto a telemetry configuration.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = s.Log.Level
	cfg.Logging.Format = s.Log.Format
	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.ListenAddress = s.Metrics.Address
	cfg.Tracing.Enabled = s.Tracing.Enabled && s.Tracing.Exporter != "none"
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.SamplingRate = s.Tracing.SamplingRate
	cfg.Tracing.ExportTimeout = s.Tracing.Timeout
	cfg.Tracing.Insecure = s.Tracing.Insecure
	return cfg
}
