package procmgr

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	// State transition metrics
	stateTransitions *prometheus.CounterVec

	// Performance metrics
	handoffDuration     *prometheus.HistogramVec
	terminationDuration prometheus.Histogram

	// Outcome metrics
	exits   *prometheus.CounterVec
	errors  *prometheus.CounterVec
	running prometheus.Gauge

	// Readiness metrics
	probeAttempts *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "modelpool"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	// State transitions
	pmc.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_state_transitions_total",
			Help:      "Total number of worker state transitions",
		},
		[]string{"instance", "from_state", "to_state"},
	)

	// Handoff duration
	pmc.handoffDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_handoff_duration_seconds",
			Help:      "Duration of payload handoff to worker processes",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"instance", "status"},
	)

	// Termination duration
	pmc.terminationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_termination_duration_seconds",
			Help:      "Duration of worker termination rounds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// Exits
	pmc.exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_exits_total",
			Help:      "Total number of reaped workers by exit code",
		},
		[]string{"instance", "exit_code"},
	)

	// Errors
	pmc.errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_errors_total",
			Help:      "Total number of worker errors",
		},
		[]string{"instance", "error_type"},
	)

	// Running workers
	pmc.running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_running",
			Help:      "Current number of running workers",
		},
	)

	// Readiness probe attempts
	pmc.probeAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_readiness_probe_attempts",
			Help:      "Number of health checks until a worker was ready or the probe gave up",
			Buckets:   []float64{1, 2, 4, 8, 16, 32},
		},
		[]string{"ready"},
	)

	// Register all metrics
	pmc.registry.MustRegister(
		pmc.stateTransitions,
		pmc.handoffDuration,
		pmc.terminationDuration,
		pmc.exits,
		pmc.errors,
		pmc.running,
		pmc.probeAttempts,
	)

	return pmc
}

// WorkerStateTransition records a state transition
func (pmc *PrometheusMetricsCollector) WorkerStateTransition(id WorkerID, fromState, toState WorkerState) {
	pmc.stateTransitions.WithLabelValues(
		string(id),
		fromState.String(),
		toState.String(),
	).Inc()
}

// HandoffDuration records the duration of a payload handoff
func (pmc *PrometheusMetricsCollector) HandoffDuration(id WorkerID, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	pmc.handoffDuration.WithLabelValues(
		string(id),
		status,
	).Observe(duration.Seconds())
}

// WorkerExit records a reaped worker
func (pmc *PrometheusMetricsCollector) WorkerExit(id WorkerID, exitCode int) {
	pmc.exits.WithLabelValues(
		string(id),
		strconv.Itoa(exitCode),
	).Inc()
}

// TerminationDuration records the duration of a termination round
func (pmc *PrometheusMetricsCollector) TerminationDuration(duration time.Duration) {
	pmc.terminationDuration.Observe(duration.Seconds())
}

// WorkerError records a worker error
func (pmc *PrometheusMetricsCollector) WorkerError(id WorkerID, errorType string) {
	pmc.errors.WithLabelValues(
		string(id),
		errorType,
	).Inc()
}

// RunningWorkers records the current number of running workers
func (pmc *PrometheusMetricsCollector) RunningWorkers(count int) {
	pmc.running.Set(float64(count))
}

// ReadinessProbe records a finished readiness probe
func (pmc *PrometheusMetricsCollector) ReadinessProbe(id WorkerID, attempts int, ready bool) {
	pmc.probeAttempts.WithLabelValues(
		strconv.FormatBool(ready),
	).Observe(float64(attempts))
}

// Registry returns the Prometheus registry for HTTP handler setup
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// Compile-time interface compliance check
var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)
