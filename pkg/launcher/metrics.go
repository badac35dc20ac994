package launcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exports launch-level Prometheus metrics. Worker-level
// metrics come from the supervisor's procmgr collector.
type MetricsCollector struct {
	launchesTotal     *prometheus.CounterVec
	launchDuration    *prometheus.HistogramVec
	prepareDuration   *prometheus.HistogramVec
	instancesTotal    *prometheus.CounterVec
	degradedInstances prometheus.Gauge
	lastLaunch        prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetricsCollector creates a collector registered on its own registry
func NewMetricsCollector(namespace string) *MetricsCollector {
	if namespace == "" {
		namespace = "modelpool"
	}

	registry := prometheus.NewRegistry()

	mc := &MetricsCollector{
		launchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "launches_total",
				Help:      "Total number of launches by outcome",
			},
			[]string{"outcome"},
		),
		launchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "launch_duration_seconds",
				Help:      "Time from launch start until every worker was joined",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
			},
			[]string{"outcome"},
		),
		prepareDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "artifact_prepare_duration_seconds",
				Help:      "Time spent loading, placing and sealing the shared artifact",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
			},
			[]string{"status"},
		),
		instancesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instances_total",
				Help:      "Total number of joined instances by result",
			},
			[]string{"result"},
		),
		degradedInstances: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_launch_degraded_instances",
				Help:      "Number of failed instances in the most recent launch",
			},
		),
		lastLaunch: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_launch_timestamp_seconds",
				Help:      "Unix time the most recent launch finished",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		mc.launchesTotal,
		mc.launchDuration,
		mc.prepareDuration,
		mc.instancesTotal,
		mc.degradedInstances,
		mc.lastLaunch,
	)

	return mc
}

// RecordPrepare records one Resource Preparer run
func (mc *MetricsCollector) RecordPrepare(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	mc.prepareDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordLaunch records a finished launch and its per-instance results
func (mc *MetricsCollector) RecordLaunch(s *Summary) {
	outcome := string(s.Outcome)
	mc.launchesTotal.WithLabelValues(outcome).Inc()
	mc.launchDuration.WithLabelValues(outcome).Observe(s.Duration().Seconds())

	for _, inst := range s.Instances {
		result := "clean"
		if inst.Failed() {
			result = string(inst.ErrorCode)
		}
		mc.instancesTotal.WithLabelValues(result).Inc()
	}

	mc.degradedInstances.Set(float64(len(s.FailedOrdinals())))
	mc.lastLaunch.Set(float64(s.FinishedAt.Unix()))
}

// Registry returns the Prometheus registry for this collector
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}
