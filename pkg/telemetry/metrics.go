package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for script runs, capability calls
// and store operations. A disabled Metrics records nothing.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	scriptRuns  *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	activeRuns  prometheus.Gauge

	// Capability metrics
	capabilityCalls    *prometheus.CounterVec
	capabilityDuration *prometheus.HistogramVec
	capabilityErrors   *prometheus.CounterVec

	// Store metrics
	storeOps *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		scriptRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_runs_total",
				Help:      "Total number of script runs by engine and outcome",
			},
			[]string{"engine", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "script_run_duration_seconds",
				Help:      "Duration of script runs in seconds",
				Buckets:   buckets,
			},
			[]string{"engine"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of executing scripts",
			},
		),

		capabilityCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capability_calls_total",
				Help:      "Total number of capability calls",
			},
			[]string{"object", "member"},
		),
		capabilityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "capability_call_duration_seconds",
				Help:      "Duration of capability calls in seconds",
				Buckets:   buckets,
			},
			[]string{"object", "member"},
		),
		capabilityErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capability_errors_total",
				Help:      "Total number of failed capability calls by error kind",
			},
			[]string{"object", "kind"},
		),

		storeOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of key-value store operations",
			},
			[]string{"op", "status"},
		),
	}

	registry.MustRegister(
		m.scriptRuns,
		m.runDuration,
		m.activeRuns,
		m.capabilityCalls,
		m.capabilityDuration,
		m.capabilityErrors,
		m.storeOps,
	)

	return m, nil
}

// Enabled reports whether metrics are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the registry metrics are registered with, or nil when
// disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRunStarted marks a run as active.
func (m *Metrics) RecordRunStarted() {
	if !m.Enabled() {
		return
	}
	m.activeRuns.Inc()
}

// RecordRunCompleted records a finished run with its outcome and duration.
func (m *Metrics) RecordRunCompleted(engine, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.scriptRuns.WithLabelValues(engine, status).Inc()
	m.runDuration.WithLabelValues(engine).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordCapabilityCall records one capability call and its duration.
func (m *Metrics) RecordCapabilityCall(object, member string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.capabilityCalls.WithLabelValues(object, member).Inc()
	m.capabilityDuration.WithLabelValues(object, member).Observe(duration.Seconds())
}

// RecordCapabilityError records a failed capability call.
func (m *Metrics) RecordCapabilityError(object, kind string) {
	if !m.Enabled() {
		return
	}
	m.capabilityErrors.WithLabelValues(object, kind).Inc()
}

// ObserveStoreOperation matches stores.Config.Observer.
func (m *Metrics) ObserveStoreOperation(op string, err error) {
	if !m.Enabled() {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.storeOps.WithLabelValues(op, status).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MetricsServer serves the metrics endpoint until shut down.
type MetricsServer struct {
	server   *http.Server
	listener net.Listener
}

// Addr returns the address the server listens on.
func (s *MetricsServer) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// StartMetricsServer listens on the configured address and serves metrics
// in the background. It returns nil, nil when metrics are disabled or no
// address is configured. Serve errors are reported through onError.
func (m *Metrics) StartMetricsServer(onError func(error)) (*MetricsServer, error) {
	if !m.Enabled() || m.config.ListenAddress == "" {
		return nil, nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()

	return &MetricsServer{server: server, listener: ln}, nil
}
