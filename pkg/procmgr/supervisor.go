package procmgr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jrepp/prism-modelpool/internal/logging"
	"github.com/jrepp/prism-modelpool/pkg/config"
	"github.com/jrepp/prism-modelpool/pkg/handoff"
)

// Defaults applied by NewSupervisor
const (
	DefaultHandoffTimeout   = 30 * time.Second
	DefaultReadinessTimeout = 10 * time.Second
	DefaultGracePeriod      = 10 * time.Second
)

// NewSupervisor creates a supervisor that draws worker payloads from channel
func NewSupervisor(channel *handoff.Channel, opts ...Option) *Supervisor {
	s := &Supervisor{
		workers:          make(map[int]*workerStatus),
		channel:          channel,
		handoffTimeout:   DefaultHandoffTimeout,
		readinessTimeout: DefaultReadinessTimeout,
		gracePeriod:      DefaultGracePeriod,
		logger:           zap.NewNop(),
		metrics:          NewNoopMetricsCollector(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.command == nil {
		s.command = DefaultCommand("")
	}

	return s
}

// DefaultCommand runs "<exe> worker". An empty exe re-executes the running
// binary. env entries (KEY=value) are added after the inherited environment.
func DefaultCommand(exe string, env ...string) CommandFunc {
	return func(ic config.InstanceConfig) *exec.Cmd {
		path := exe
		if path == "" {
			self, err := os.Executable()
			if err != nil {
				self = os.Args[0]
			}
			path = self
		}
		cmd := exec.Command(path, "worker")
		cmd.Env = append(os.Environ(), env...)
		cmd.Env = append(cmd.Env, logging.EnvInstance+"="+ic.InstanceName)
		return cmd
	}
}

// transitionLocked applies mutate and records any resulting state change.
// Caller holds s.mu.
func (s *Supervisor) transitionLocked(ws *workerStatus, mutate func()) {
	oldState := ws.State()
	mutate()
	newState := ws.State()
	if newState == oldState {
		return
	}

	s.metrics.WorkerStateTransition(ws.id, oldState, newState)
	s.metrics.RunningWorkers(s.runningLocked())
	s.logger.Debug("worker state transition",
		zap.String("instance", string(ws.id)),
		zap.Stringer("from", oldState),
		zap.Stringer("to", newState))
}

func (s *Supervisor) runningLocked() int {
	n := 0
	for _, ws := range s.workers {
		if ws.State() == WorkerStateRunning {
			n++
		}
	}
	return n
}

// Spawn starts the worker for ic and hands it the payload queued for its
// ordinal. On any failure before the worker acknowledges, the worker is
// killed, marked FailedToStart and the error is returned. There are no retries.
func (s *Supervisor) Spawn(ctx context.Context, ic config.InstanceConfig) error {
	ordinal := ic.Identity.Ordinal

	s.mu.Lock()
	if s.terminating {
		s.mu.Unlock()
		return ErrTerminating
	}
	if _, exists := s.workers[ordinal]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrAlreadySpawned, ordinal)
	}
	ws := &workerStatus{
		id:        WorkerID(ic.InstanceName),
		config:    ic.Clone(),
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	s.workers[ordinal] = ws
	s.transitionLocked(ws, func() { ws.spawningAt = time.Now() })
	s.mu.Unlock()

	logger := s.logger.With(
		zap.String("launch_id", s.channel.LaunchID()),
		zap.Int("ordinal", ordinal),
		zap.String("instance", ic.InstanceName))

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return s.failToStart(ws, logger, &InterruptedError{Ordinal: ordinal, Stage: "rate limit", Cause: err}, "interrupted")
			}
			return s.failToStart(ws, logger, &StartError{Ordinal: ordinal, Cause: err}, "spawn_cancelled")
		}
	}

	hctx, cancel := context.WithTimeout(ctx, s.handoffTimeout)
	defer cancel()

	payload, err := s.channel.Receive(hctx, ordinal)
	if err != nil {
		if ctx.Err() != nil {
			return s.failToStart(ws, logger, &InterruptedError{Ordinal: ordinal, Stage: "receive", Cause: err}, "interrupted")
		}
		return s.failToStart(ws, logger, &HandoffError{Ordinal: ordinal, Cause: err}, "handoff")
	}

	payloadR, payloadW, err := os.Pipe()
	if err != nil {
		return s.failToStart(ws, logger, &StartError{Ordinal: ordinal, Cause: err}, "start")
	}
	ackR, ackW, err := os.Pipe()
	if err != nil {
		payloadR.Close()
		payloadW.Close()
		return s.failToStart(ws, logger, &StartError{Ordinal: ordinal, Cause: err}, "start")
	}

	cmd := s.command(ws.config)
	// fd 3 carries the payload, fd 4 the acknowledgement
	cmd.ExtraFiles = []*os.File{payloadR, ackW}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stderr
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	applySysProcAttr(cmd)

	startErr := cmd.Start()
	payloadR.Close()
	ackW.Close()
	if startErr != nil {
		payloadW.Close()
		ackR.Close()
		return s.failToStart(ws, logger, &StartError{Ordinal: ordinal, Cause: startErr}, "start")
	}

	s.mu.Lock()
	ws.cmd = cmd
	ws.pid = cmd.Process.Pid
	terminating := s.terminating
	s.mu.Unlock()

	logger = logger.With(zap.Int("pid", ws.pid))
	logger.Info("worker process started")

	s.wg.Add(1)
	go s.reap(ws, logger)

	if terminating {
		killGroup(cmd.Process)
	}

	started := time.Now()
	err = handoff.Deliver(hctx, payload, payloadW, ackR)
	payloadW.Close()
	ackR.Close()
	s.metrics.HandoffDuration(ws.id, time.Since(started), err)

	if err != nil {
		killGroup(cmd.Process)
		// the operator cancelled the launch; nothing timed out
		if ctx.Err() != nil {
			return s.failToStart(ws, logger, &InterruptedError{Ordinal: ordinal, Stage: "deliver", Cause: err}, "interrupted")
		}
		return s.failToStart(ws, logger, &HandoffError{Ordinal: ordinal, Cause: err}, "handoff")
	}

	s.mu.Lock()
	s.transitionLocked(ws, func() { ws.runningAt = time.Now() })
	s.mu.Unlock()

	logger.Info("worker running",
		zap.String("address", ic.Identity.Address()),
		zap.Duration("handoff", time.Since(started)))

	if s.readinessTimeout > 0 {
		s.wg.Add(1)
		go s.probeReadiness(ws, logger)
	}

	return nil
}

// failToStart marks ws FailedToStart. Workers that never got a process are
// considered reaped immediately.
func (s *Supervisor) failToStart(ws *workerStatus, logger *zap.Logger, err error, errorType string) error {
	s.mu.Lock()
	s.transitionLocked(ws, func() {
		ws.failedAt = time.Now()
		ws.err = err
	})
	if ws.cmd == nil {
		close(ws.done)
	}
	s.mu.Unlock()

	s.metrics.WorkerError(ws.id, errorType)
	logger.Error("worker failed to start", zap.Error(err))
	return err
}

// reap waits for the worker process and records how it ended
func (s *Supervisor) reap(ws *workerStatus, logger *zap.Logger) {
	defer s.wg.Done()

	waitErr := ws.cmd.Wait()
	code := -1
	if ws.cmd.ProcessState != nil {
		code = ws.cmd.ProcessState.ExitCode()
	}

	s.mu.Lock()
	s.transitionLocked(ws, func() {
		ws.exitedAt = time.Now()
		ws.exitCode = code
		ws.killed = code == -1
		if ws.err == nil {
			switch {
			case code == -1:
				ws.err = fmt.Errorf("worker %d killed: %v", ws.config.Identity.Ordinal, waitErr)
			case code != 0:
				ws.err = &ExitError{Ordinal: ws.config.Identity.Ordinal, ExitCode: code}
			}
		}
	})
	state := ws.State()
	s.mu.Unlock()
	close(ws.done)

	s.metrics.WorkerExit(ws.id, code)
	if code == 0 {
		logger.Info("worker exited", zap.Int("exit_code", code), zap.Stringer("state", state))
	} else {
		logger.Warn("worker exited", zap.Int("exit_code", code), zap.Stringer("state", state))
	}
}

// Terminate asks every live worker to stop with SIGTERM and sends SIGKILL to
// those still alive after grace. It blocks until all of them are reaped.
// No new workers can be spawned afterwards.
func (s *Supervisor) Terminate(grace time.Duration) {
	started := time.Now()

	type live struct {
		ws   *workerStatus
		proc *os.Process
	}

	s.mu.Lock()
	s.terminating = true
	var workers []live
	for _, ws := range s.workers {
		if ws.cmd != nil && !ws.IsReaped() {
			workers = append(workers, live{ws: ws, proc: ws.cmd.Process})
		}
	}
	s.mu.Unlock()

	if len(workers) == 0 {
		return
	}

	s.logger.Info("terminating workers", zap.Int("count", len(workers)), zap.Duration("grace_period", grace))
	for _, w := range workers {
		if err := signalGroup(w.proc, syscall.SIGTERM); err != nil {
			s.logger.Debug("SIGTERM failed", zap.String("instance", string(w.ws.id)), zap.Error(err))
		}
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

wait:
	for _, w := range workers {
		select {
		case <-w.ws.done:
		case <-timer.C:
			for _, rem := range workers {
				if !rem.ws.IsReaped() {
					s.logger.Warn("worker did not exit within grace period, killing",
						zap.String("instance", string(rem.ws.id)),
						zap.Int("pid", rem.proc.Pid))
					killGroup(rem.proc)
				}
			}
			break wait
		}
	}

	for _, w := range workers {
		<-w.ws.done
	}
	s.metrics.TerminationDuration(time.Since(started))
}

// JoinAll blocks until every spawned worker is in a terminal state and
// returns one Result per worker ordered by ordinal. If ctx ends first the
// remaining workers are terminated with the configured grace period.
func (s *Supervisor) JoinAll(ctx context.Context) []Result {
	s.mu.Lock()
	workers := make([]*workerStatus, 0, len(s.workers))
	for _, ws := range s.workers {
		workers = append(workers, ws)
	}
	s.mu.Unlock()

	terminated := false
	for _, ws := range workers {
		select {
		case <-ws.done:
			continue
		case <-ctx.Done():
		}
		if !terminated {
			s.logger.Info("join interrupted, terminating workers", zap.Error(ctx.Err()))
			s.Terminate(s.gracePeriod)
			terminated = true
		}
		<-ws.done
	}

	s.wg.Wait()
	return s.Results()
}

// Results returns a snapshot of every worker ordered by ordinal
func (s *Supervisor) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]Result, 0, len(s.workers))
	for _, ws := range s.workers {
		results = append(results, ws.result())
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Ordinal < results[j].Ordinal })
	return results
}

// Status returns the current status of one worker
func (s *Supervisor) Status(ordinal int) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, exists := s.workers[ordinal]
	if !exists {
		return Result{}, false
	}
	return ws.result(), true
}

// HealthCheck represents the health status of the supervisor
type HealthCheck struct {
	TotalWorkers   int
	RunningWorkers int
	ReadyWorkers   int
	ExitedWorkers  int
	KilledWorkers  int
	FailedWorkers  int
	Workers        map[int]WorkerHealth
}

// WorkerHealth represents the health status of an individual worker
type WorkerHealth struct {
	State    WorkerState
	Ready    bool
	PID      int
	Uptime   time.Duration
	ExitCode int
}

// Health returns the current health status of the supervisor
func (s *Supervisor) Health() HealthCheck {
	s.mu.Lock()
	defer s.mu.Unlock()

	health := HealthCheck{
		Workers: make(map[int]WorkerHealth),
	}

	for ordinal, ws := range s.workers {
		health.TotalWorkers++

		state := ws.State()
		switch state {
		case WorkerStateRunning:
			health.RunningWorkers++
			if ws.ready {
				health.ReadyWorkers++
			}
		case WorkerStateExited:
			health.ExitedWorkers++
		case WorkerStateKilled:
			health.KilledWorkers++
		case WorkerStateFailedToStart:
			health.FailedWorkers++
		}

		var uptime time.Duration
		if !ws.runningAt.IsZero() {
			if ws.exitedAt.IsZero() {
				uptime = time.Since(ws.runningAt)
			} else {
				uptime = ws.exitedAt.Sub(ws.runningAt)
			}
		}

		health.Workers[ordinal] = WorkerHealth{
			State:    state,
			Ready:    ws.ready,
			PID:      ws.pid,
			Uptime:   uptime,
			ExitCode: ws.exitCode,
		}
	}

	return health
}

func killGroup(proc *os.Process) {
	_ = signalGroup(proc, syscall.SIGKILL)
}
