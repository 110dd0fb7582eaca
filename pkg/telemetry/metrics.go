package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the zap engine. A nil *Metrics and
// a disabled one are both valid and record nothing.
type Metrics struct {
	config MetricsConfig

	// Scheduler metrics
	sweeps        prometheus.Counter
	sweepDuration prometheus.Histogram
	activeZaps    prometheus.Gauge
	zapOutcomes   *prometheus.CounterVec
	skippedBusy   prometheus.Counter

	// Execution metrics
	executionsStarted  prometheus.Counter
	executionsFinished *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	inflightExecutions prometheus.Gauge

	// Step metrics
	stepExecutions *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec

	// Handler metrics
	handlerCalls    *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	handlerErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

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

		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "sweeps_total",
			Help:      "Total number of scheduler sweeps",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "sweep_duration_seconds",
			Help:      "Time spent listing and dispatching zaps per sweep",
			Buckets:   buckets,
		}),
		activeZaps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "active_zaps",
			Help:      "Number of active zaps seen by the last sweep",
		}),
		zapOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "zap_outcomes_total",
			Help:      "Zap run outcomes",
		}, []string{"outcome"}),
		skippedBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "zaps_skipped_busy_total",
			Help:      "Zaps skipped because a previous run still held the zap lock",
		}),

		executionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_started_total",
			Help:      "Total number of executions opened",
		}),
		executionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_finished_total",
			Help:      "Total number of executions closed or discarded",
		}, []string{"status"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Duration of zap executions in seconds",
			Buckets:   buckets,
		}, []string{"status"}),
		inflightExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_executions",
			Help:      "Executions currently in progress",
		}),

		stepExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_executions_total",
			Help:      "Total number of step executions closed",
		}, []string{"kind", "class", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of step executions in seconds",
			Buckets:   buckets,
		}, []string{"kind", "class"}),

		handlerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_calls_total",
			Help:      "Total number of trigger/action handler invocations",
		}, []string{"kind", "class"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_call_duration_seconds",
			Help:      "Duration of handler invocations in seconds",
			Buckets:   buckets,
		}, []string{"kind", "class"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Total number of handler invocations that returned an error",
		}, []string{"kind", "class"}),

		errorsByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Engine errors by class and code",
		}, []string{"class", "code"}),
	}

	registry.MustRegister(
		m.sweeps,
		m.sweepDuration,
		m.activeZaps,
		m.zapOutcomes,
		m.skippedBusy,
		m.executionsStarted,
		m.executionsFinished,
		m.executionDuration,
		m.inflightExecutions,
		m.stepExecutions,
		m.stepDuration,
		m.handlerCalls,
		m.handlerDuration,
		m.handlerErrors,
		m.errorsByClass,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Scheduler Metrics

// RecordSweep records one completed sweep.
func (m *Metrics) RecordSweep(duration time.Duration, activeZaps int) {
	if !m.enabled() {
		return
	}
	m.sweeps.Inc()
	m.sweepDuration.Observe(duration.Seconds())
	m.activeZaps.Set(float64(activeZaps))
}

// RecordZapOutcome counts the outcome of one zap run.
func (m *Metrics) RecordZapOutcome(outcome string) {
	if !m.enabled() {
		return
	}
	m.zapOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSkippedBusy counts a zap skipped because it was still running.
func (m *Metrics) RecordSkippedBusy() {
	if !m.enabled() {
		return
	}
	m.skippedBusy.Inc()
}

// Execution Metrics

// RecordExecutionStarted counts an opened execution.
func (m *Metrics) RecordExecutionStarted() {
	if !m.enabled() {
		return
	}
	m.executionsStarted.Inc()
	m.inflightExecutions.Inc()
}

// RecordExecutionFinished records a closed or discarded execution.
func (m *Metrics) RecordExecutionFinished(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.executionsFinished.WithLabelValues(status).Inc()
	m.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.inflightExecutions.Dec()
}

// RecordStepExecution records a closed step execution.
func (m *Metrics) RecordStepExecution(kind, class, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.stepExecutions.WithLabelValues(kind, class, status).Inc()
	m.stepDuration.WithLabelValues(kind, class).Observe(duration.Seconds())
}

// Handler Metrics

// RecordHandlerCall records a handler invocation and whether it failed.
func (m *Metrics) RecordHandlerCall(kind, class string, duration time.Duration, err error) {
	if !m.enabled() {
		return
	}
	m.handlerCalls.WithLabelValues(kind, class).Inc()
	m.handlerDuration.WithLabelValues(kind, class).Observe(duration.Seconds())
	if err != nil {
		m.handlerErrors.WithLabelValues(kind, class).Inc()
	}
}

// RecordError records an engine error by class and code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass, errorCode).Inc()
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint until ctx is cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) error {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Infof("metrics listening on %s%s", m.config.ListenAddress, path)
	return nil
}
