package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the orchestrator.
type Metrics struct {
	config MetricsConfig

	// Batch metrics
	batchesApplied *prometheus.CounterVec
	batchDuration  *prometheus.HistogramVec

	// Model state metrics
	resourcesByState *prometheus.GaugeVec
	dirtyResources   *prometheus.GaugeVec
	modelVersion     *prometheus.GaugeVec

	// Transitive propagation metrics
	blockedTransitions *prometheus.CounterVec

	// Deploy metrics
	deployResults *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Restore metrics
	restores *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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

		batchesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_applied_total",
				Help:      "Total number of batches applied to a model state",
			},
			[]string{"environment", "kind", "status"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of batch application in seconds",
				Buckets:   buckets,
			},
			[]string{"environment", "kind"},
		),

		resourcesByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources",
				Help:      "Current number of resources by handler state",
			},
			[]string{"environment", "handler_state"},
		),
		dirtyResources: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dirty_resources",
				Help:      "Current number of deployable resources",
			},
			[]string{"environment"},
		),
		modelVersion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_version",
				Help:      "Model version currently loaded",
			},
			[]string{"environment"},
		),

		blockedTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocked_transitions_total",
				Help:      "Total number of blocked status changes made by transitive propagation",
			},
			[]string{"environment", "direction"},
		),

		deployResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deploy_results_total",
				Help:      "Total number of deploy results folded into the model",
			},
			[]string{"environment", "result"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		restores: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restores_total",
				Help:      "Total number of model state restores from storage",
			},
			[]string{"environment", "outcome"},
		),
	}

	registry.MustRegister(
		m.batchesApplied,
		m.batchDuration,
		m.resourcesByState,
		m.dirtyResources,
		m.modelVersion,
		m.blockedTransitions,
		m.deployResults,
		m.errorsByClass,
		m.errorsByCode,
		m.restores,
	)

	return m, nil
}

// Batch Metrics

// RecordBatch records one applied batch with its outcome and duration.
func (m *Metrics) RecordBatch(environment, kind, status string, duration time.Duration) {
	if m.batchesApplied == nil {
		return
	}
	m.batchesApplied.WithLabelValues(environment, kind, status).Inc()
	m.batchDuration.WithLabelValues(environment, kind).Observe(duration.Seconds())
}

// Model State Metrics

// SetResourceCounts replaces the per handler state resource counts of an environment.
func (m *Metrics) SetResourceCounts(environment string, counts map[string]int) {
	if m.resourcesByState == nil {
		return
	}
	for state, count := range counts {
		m.resourcesByState.WithLabelValues(environment, state).Set(float64(count))
	}
}

// SetDirtyResources sets the number of deployable resources of an environment.
func (m *Metrics) SetDirtyResources(environment string, count int) {
	if m.dirtyResources == nil {
		return
	}
	m.dirtyResources.WithLabelValues(environment).Set(float64(count))
}

// SetModelVersion sets the model version loaded for an environment.
func (m *Metrics) SetModelVersion(environment string, version int) {
	if m.modelVersion == nil {
		return
	}
	m.modelVersion.WithLabelValues(environment).Set(float64(version))
}

// RecordBlockedTransitions records the blocked status changes of one propagation.
func (m *Metrics) RecordBlockedTransitions(environment string, unblocked, blocked int) {
	if m.blockedTransitions == nil {
		return
	}
	m.blockedTransitions.WithLabelValues(environment, "unblocked").Add(float64(unblocked))
	m.blockedTransitions.WithLabelValues(environment, "blocked").Add(float64(blocked))
}

// Deploy Metrics

// RecordDeployResult records one deploy result.
func (m *Metrics) RecordDeployResult(environment, result string) {
	if m.deployResults == nil {
		return
	}
	m.deployResults.WithLabelValues(environment, result).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Restore Metrics

// RecordRestore records the outcome of a restore (restored, empty, failed).
func (m *Metrics) RecordRestore(environment, outcome string) {
	if m.restores == nil {
		return
	}
	m.restores.WithLabelValues(environment, outcome).Inc()
}

// Registry returns the registry metrics are registered with, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
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

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. Serve errors are reported on
// the returned channel.
func (m *Metrics) StartMetricsServer() (*http.Server, <-chan error) {
	errs := make(chan error, 1)
	if !m.config.Enabled {
		close(errs)
		return nil, errs
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		defer close(errs)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	return server, errs
}
