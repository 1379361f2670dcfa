package telemetry

import (
	"context"
	"errors"
)

// Telemetry bundles the logger, tracer and metrics built from one Config.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// NewTelemetry creates a telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// NopTelemetry returns telemetry that logs nothing, traces nothing and records no
// metrics. Tests and library callers without a CLI use it.
func NopTelemetry() *Telemetry {
	tracer, _ := NewTracer(TracingConfig{}, "froyo", "dev")
	metrics, _ := NewMetrics(MetricsConfig{})
	return &Telemetry{
		Logger:  Nop(),
		Tracer:  tracer,
		Metrics: metrics,
		Config:  DefaultConfig(),
	}
}

// WithContext adds the logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(ctx)
}

// Shutdown flushes and stops the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.Tracer != nil {
		if err := t.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
