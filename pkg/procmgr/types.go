package procmgr

import (
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jrepp/prism-modelpool/pkg/config"
	"github.com/jrepp/prism-modelpool/pkg/handoff"
)

// WorkerState represents the lifecycle state of a worker process
type WorkerState int

const (
	// WorkerStateCreated - worker recorded, nothing started yet
	WorkerStateCreated WorkerState = iota
	// WorkerStateSpawning - process starting, payload in flight
	WorkerStateSpawning
	// WorkerStateRunning - payload acknowledged, process serving
	WorkerStateRunning
	// WorkerStateExited - process exited on its own with an exit code
	WorkerStateExited
	// WorkerStateKilled - process ended by a signal
	WorkerStateKilled
	// WorkerStateFailedToStart - process never reached Running
	WorkerStateFailedToStart
)

// String returns the string representation of a WorkerState
func (ws WorkerState) String() string {
	switch ws {
	case WorkerStateCreated:
		return "Created"
	case WorkerStateSpawning:
		return "Spawning"
	case WorkerStateRunning:
		return "Running"
	case WorkerStateExited:
		return "Exited"
	case WorkerStateKilled:
		return "Killed"
	case WorkerStateFailedToStart:
		return "FailedToStart"
	default:
		return "Unknown"
	}
}

// Terminal returns true once the worker can no longer change state
func (ws WorkerState) Terminal() bool {
	return ws == WorkerStateExited || ws == WorkerStateKilled || ws == WorkerStateFailedToStart
}

// WorkerID identifies a worker in logs and metrics (its instance name)
type WorkerID string

// CommandFunc builds the OS command for one worker. The supervisor attaches
// the handoff pipes itself.
type CommandFunc func(ic config.InstanceConfig) *exec.Cmd

// Result is the outcome of one worker as reported by JoinAll
type Result struct {
	Ordinal      int
	InstanceName string
	Address      string
	PID          int
	State        WorkerState
	ExitCode     int
	Ready        bool
	StartedAt    time.Time
	ExitedAt     time.Time
	Err          error
}

// Supervisor spawns, tracks and reaps the worker processes of one launch
type Supervisor struct {
	mu sync.Mutex

	// Worker tracking
	workers map[int]*workerStatus
	channel *handoff.Channel

	// Configuration
	command          CommandFunc
	handoffTimeout   time.Duration
	readinessTimeout time.Duration
	gracePeriod      time.Duration
	limiter          *rate.Limiter
	logger           *zap.Logger
	metrics          MetricsCollector

	// Lifecycle
	terminating bool
	wg          sync.WaitGroup
}

// Internal state tracking per worker
type workerStatus struct {
	id     WorkerID
	config config.InstanceConfig
	cmd    *exec.Cmd
	pid    int

	// Lifecycle timestamps
	createdAt  time.Time
	spawningAt time.Time
	runningAt  time.Time
	exitedAt   time.Time
	failedAt   time.Time

	killed   bool
	exitCode int
	ready    bool
	err      error

	// closed once the process is reaped (or was never started)
	done chan struct{}
}

// State returns the current state of the worker
func (ws *workerStatus) State() WorkerState {
	if !ws.failedAt.IsZero() {
		return WorkerStateFailedToStart
	}
	if !ws.exitedAt.IsZero() {
		if ws.killed {
			return WorkerStateKilled
		}
		return WorkerStateExited
	}
	if !ws.runningAt.IsZero() {
		return WorkerStateRunning
	}
	if !ws.spawningAt.IsZero() {
		return WorkerStateSpawning
	}
	return WorkerStateCreated
}

// IsReaped returns true once the OS process has been waited for
func (ws *workerStatus) IsReaped() bool {
	select {
	case <-ws.done:
		return true
	default:
		return false
	}
}

func (ws *workerStatus) result() Result {
	r := Result{
		Ordinal:      ws.config.Identity.Ordinal,
		InstanceName: ws.config.InstanceName,
		Address:      ws.config.Identity.Address(),
		PID:          ws.pid,
		State:        ws.State(),
		ExitCode:     ws.exitCode,
		Ready:        ws.ready,
		StartedAt:    ws.runningAt,
		ExitedAt:     ws.exitedAt,
		Err:          ws.err,
	}
	if r.ExitedAt.IsZero() {
		r.ExitedAt = ws.failedAt
	}
	return r
}
