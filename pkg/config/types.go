package config

import (
	"fmt"
	"strings"
	"time"
)

// Settings are the global settings of the froyo CLI. They come from
// defaults, an optional config.cue in the home directory, FROYO_*
// environment variables and command-line flags, in increasing precedence.
type Settings struct {
	// Home is the froyo home directory holding workspaces and config.cue.
	Home string `mapstructure:"home" json:"home"`

	// DefaultEngine is the engine kind new workspaces use when none is given.
	DefaultEngine string `mapstructure:"default_engine" json:"default_engine" validate:"required"`

	// Log configures the root logger.
	Log LogSettings `mapstructure:"log" json:"log"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsSettings `mapstructure:"metrics" json:"metrics"`

	// Tracing configures OpenTelemetry export.
	Tracing TracingSettings `mapstructure:"tracing" json:"tracing"`

	// PolicyDirs are loaded into every workspace's policy gate.
	PolicyDirs []string `mapstructure:"policy_dirs" json:"policy_dirs,omitempty"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level  string `mapstructure:"level" json:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `mapstructure:"format" json:"format" validate:"oneof=console json"`
}

// MetricsSettings configures metrics.
type MetricsSettings struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Address serves /metrics when set, e.g. "127.0.0.1:9464".
	Address string `mapstructure:"address" json:"address,omitempty" validate:"omitempty,hostname_port"`
}

// TracingSettings configures tracing.
type TracingSettings struct {
	Enabled      bool          `mapstructure:"enabled" json:"enabled"`
	Exporter     string        `mapstructure:"exporter" json:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string        `mapstructure:"endpoint" json:"endpoint,omitempty"`
	SamplingRate float64       `mapstructure:"sampling_rate" json:"sampling_rate" validate:"gte=0,lte=1"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout"`
	Insecure     bool          `mapstructure:"insecure" json:"insecure"`
}

// DefaultSettings returns the settings used when nothing overrides them.
func DefaultSettings() *Settings {
	return &Settings{
		DefaultEngine: "js",
		Log: LogSettings{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsSettings{
			Enabled: true,
		},
		Tracing: TracingSettings{
			Exporter:     "none",
			SamplingRate: 1.0,
			Timeout:      10 * time.Second,
		},
	}
}

// ValidationError is a single problem found in a configuration file.
type ValidationError struct {
	// File is the source file containing the error.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the configuration path (e.g., "log.level").
	Path string `json:"path,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects every problem found in one configuration.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
