// Package telemetry provides logging, tracing and metrics for the froyo
// scripting host.
//
// It wraps zerolog for structured logs, OpenTelemetry for spans and
// Prometheus for metrics, and builds capability middleware from them so
// every script-visible operation is observed the same way regardless of
// the engine that called it.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.Level = "debug"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	surface, err := capability.Build(capability.SurfaceConfig{
//	    Store:      store,
//	    Middleware: tel.Middleware(),
//	})
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger = logger.WithWorkspace("demo").WithRunID(runID)
//	logger.Info("run started")
//	logger.WithError(err).Error("run failed")
//
// Components that take a zerolog.Logger directly receive
// tel.Logger.Zerolog().
//
// # Tracing
//
// Exporters are "stdout" (pretty-printed to stderr), "otlp" (gRPC to a
// collector) and "none" (spans are created but not exported). The
// orchestrator opens an "orchestrator.run" span per run; the tracing
// middleware opens one span per capability call named after it, e.g.
// "http.get".
//
// # Metrics
//
// With the default namespace the exported series are:
//
//   - froyo_script_runs_total{engine,status}
//   - froyo_script_run_duration_seconds{engine}
//   - froyo_active_runs
//   - froyo_capability_calls_total{object,member}
//   - froyo_capability_call_duration_seconds{object,member}
//   - froyo_capability_errors_total{object,kind}
//   - froyo_store_operations_total{op,status}
//
// StartMetricsServer serves them over HTTP when a listen address is set.
package telemetry
