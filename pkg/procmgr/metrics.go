package procmgr

import (
	"time"
)

// MetricsCollector defines the interface for collecting supervisor metrics
type MetricsCollector interface {
	// WorkerStateTransition records a state transition for a worker
	WorkerStateTransition(id WorkerID, fromState, toState WorkerState)

	// HandoffDuration records how long payload delivery took
	HandoffDuration(id WorkerID, duration time.Duration, err error)

	// WorkerExit records the exit code of a reaped worker
	WorkerExit(id WorkerID, exitCode int)

	// TerminationDuration records how long a termination round took
	TerminationDuration(duration time.Duration)

	// WorkerError records an error for a worker
	WorkerError(id WorkerID, errorType string)

	// RunningWorkers records the number of running workers
	RunningWorkers(count int)

	// ReadinessProbe records the outcome of a readiness probe
	ReadinessProbe(id WorkerID, attempts int, ready bool)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) WorkerStateTransition(id WorkerID, fromState, toState WorkerState) {}
func (n *noopMetricsCollector) HandoffDuration(id WorkerID, duration time.Duration, err error)   {}
func (n *noopMetricsCollector) WorkerExit(id WorkerID, exitCode int)                            {}
func (n *noopMetricsCollector) TerminationDuration(duration time.Duration)                      {}
func (n *noopMetricsCollector) WorkerError(id WorkerID, errorType string)                       {}
func (n *noopMetricsCollector) RunningWorkers(count int)                                        {}
func (n *noopMetricsCollector) ReadinessProbe(id WorkerID, attempts int, ready bool)            {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
