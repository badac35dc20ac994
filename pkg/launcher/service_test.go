package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jrepp/prism-modelpool/internal/testutil/workerproc"
	"github.com/jrepp/prism-modelpool/pkg/artifact"
	"github.com/jrepp/prism-modelpool/pkg/config"
	"github.com/jrepp/prism-modelpool/pkg/handoff"
	"github.com/jrepp/prism-modelpool/pkg/procmgr"
)

func TestMain(m *testing.M) {
	if workerproc.IsWorker() {
		os.Exit(workerproc.Run())
	}
	os.Exit(m.Run())
}

// recordingPublisher keeps every event in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (p *recordingPublisher) ReportLifecycleEvent(ctx context.Context, eventType, message string, metadata map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, LifecycleEvent{Type: eventType, Message: message, Metadata: metadata})
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.events))
	for i, e := range p.events {
		types[i] = e.Type
	}
	return types
}

// protocolChecker re-executes the test binary to answer "version --protocol"
func protocolChecker(version string) *ProtocolChecker {
	mode := workerproc.ModeProtocol
	if version != "" {
		mode += ":" + version
	}
	return &ProtocolChecker{
		Executable: os.Args[0],
		Args:       []string{"-test.run=^$"},
		Env:        []string{workerproc.EnvMode + "=" + mode},
	}
}

type launchFixture struct {
	cfg      *Config
	events   *recordingPublisher
	metrics  *MetricsCollector
	cacheDir string
	spawns   atomic.Int32
	modes    map[int]string
	compat   CompatibilityChecker
}

func newLaunchFixture(t *testing.T, count int) *launchFixture {
	t.Helper()

	model := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, os.WriteFile(model, []byte("shared weights"), 0o644))

	cfg := DefaultConfig()
	cfg.InstanceCount = count
	cfg.Base.ModelReference = model
	cfg.Base.BasePort = workerproc.FreePortRange(t, max(count, 1))
	cfg.Base.ListenHost = "127.0.0.1"
	cfg.Base.CredentialPrefix = "hw"
	cfg.HandoffTimeout = 10 * time.Second
	cfg.GracePeriod = 5 * time.Second

	return &launchFixture{
		cfg:      cfg,
		events:   &recordingPublisher{},
		metrics:  NewMetricsCollector("test"),
		cacheDir: t.TempDir(),
		modes:    map[int]string{},
		compat:   protocolChecker(""),
	}
}

func (f *launchFixture) launcher(t *testing.T) *Launcher {
	t.Helper()

	command := workerproc.Command(f.modes, workerproc.ModeServe)
	l, err := New(f.cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithEventPublisher(f.events),
		WithMetrics(f.metrics),
		WithCompatibilityChecker(f.compat),
		WithPreparer(artifact.NewPreparer(artifact.WithCacheDir(f.cacheDir))),
		WithCommand(func(ic config.InstanceConfig) *exec.Cmd {
			f.spawns.Add(1)
			return command(ic)
		}),
	)
	require.NoError(t, err)
	return l
}

type launchRun struct {
	summary *Summary
	err     error
}

// start runs Launch in the background; the returned cancel acts as the operator signal
func start(l *Launcher) (<-chan launchRun, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan launchRun, 1)
	go func() {
		s, err := l.Launch(ctx)
		done <- launchRun{summary: s, err: err}
	}()
	return done, cancel
}

func wait(t *testing.T, done <-chan launchRun) launchRun {
	t.Helper()
	select {
	case run := <-done:
		return run
	case <-time.After(30 * time.Second):
		t.Fatal("launch did not finish")
		return launchRun{}
	}
}

func TestLaunch_AllHealthy(t *testing.T) {
	f := newLaunchFixture(t, 3)
	l := f.launcher(t)

	done, cancel := start(l)
	defer cancel()

	require.Eventually(t, func() bool {
		return l.Health().ReadyWorkers == 3
	}, 20*time.Second, 50*time.Millisecond)

	cancel()
	run := wait(t, done)
	require.NoError(t, run.err)

	s := run.summary
	assert.Equal(t, OutcomeHealthy, s.Outcome)
	assert.Equal(t, ExitHealthy, s.ExitCode())
	assert.Empty(t, s.FailedOrdinals())
	assert.Empty(t, s.Unconsumed)
	assert.NotEmpty(t, s.ArtifactDigest)
	assert.Equal(t, l.LaunchID(), s.LaunchID)

	require.Len(t, s.Instances, 3)
	for i, inst := range s.Instances {
		assert.Equal(t, i, inst.Ordinal)
		assert.Equal(t, fmt.Sprintf("hw%d", i+1), inst.InstanceName)
		assert.Equal(t, inst.InstanceName, inst.CredentialRef)
		assert.Equal(t, f.cfg.Base.BasePort+i, inst.Port)
		assert.Equal(t, "Exited", inst.State)
		assert.Equal(t, 0, inst.ExitCode)
		assert.True(t, inst.Ready)
		assert.NotZero(t, inst.PID)
	}

	assert.Equal(t, int32(3), f.spawns.Load())
	assert.Equal(t, 1, f.events.count(EventLaunchStarting))
	assert.Equal(t, 1, f.events.count(EventArtifactPrepared))
	assert.Equal(t, 3, f.events.count(EventInstanceSpawned))
	assert.Equal(t, 3, f.events.count(EventInstanceExited))
	assert.Equal(t, 1, f.events.count(EventLaunchCompleted))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.launchesTotal.WithLabelValues("healthy")))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.instancesTotal.WithLabelValues("clean")))

	// The artifact was sealed once and shared by reference
	entries, err := os.ReadDir(f.cacheDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "one artifact and one placement sidecar")
}

// 3 instances, prefix "hw", with the second port already bound elsewhere
func TestLaunch_DegradedBind(t *testing.T) {
	f := newLaunchFixture(t, 3)
	workerproc.Occupy(t, "127.0.0.1", f.cfg.Base.BasePort+1)
	l := f.launcher(t)

	done, cancel := start(l)
	defer cancel()

	require.Eventually(t, func() bool {
		h := l.Health()
		return h.ExitedWorkers == 1 && h.ReadyWorkers == 2
	}, 20*time.Second, 50*time.Millisecond)

	cancel()
	run := wait(t, done)
	require.NoError(t, run.err, "instance failures do not fail the launch")

	s := run.summary
	assert.Equal(t, OutcomeDegraded, s.Outcome)
	assert.Equal(t, ExitDegraded, s.ExitCode())
	assert.Equal(t, []int{1}, s.FailedOrdinals())
	assert.Equal(t, 2, s.HealthyCount())

	failed := s.Instances[1]
	assert.Equal(t, "hw2", failed.InstanceName)
	assert.Equal(t, ErrorCodeBindFailed, failed.ErrorCode)
	assert.Equal(t, 3, failed.ExitCode)

	for _, i := range []int{0, 2} {
		assert.False(t, s.Instances[i].Failed())
		assert.True(t, s.Instances[i].Ready)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.degradedInstances))
}

func TestLaunch_SiblingExitDoesNotStopPool(t *testing.T) {
	f := newLaunchFixture(t, 3)
	f.modes[0] = workerproc.ModeExit + ":1"
	f.cfg.ReadinessTimeout = 0
	l := f.launcher(t)

	done, cancel := start(l)
	defer cancel()

	require.Eventually(t, func() bool {
		h := l.Health()
		return h.ExitedWorkers == 1 && h.RunningWorkers == 2
	}, 20*time.Second, 50*time.Millisecond)

	cancel()
	run := wait(t, done)
	require.NoError(t, run.err)

	assert.Equal(t, OutcomeDegraded, run.summary.Outcome)
	assert.Equal(t, []int{0}, run.summary.FailedOrdinals())
	assert.Equal(t, ErrorCodeWorkerRuntime, run.summary.Instances[0].ErrorCode)
}

func TestLaunch_HandoffTimeout(t *testing.T) {
	f := newLaunchFixture(t, 2)
	f.modes[1] = workerproc.ModeHang
	f.cfg.HandoffTimeout = 500 * time.Millisecond
	f.cfg.ReadinessTimeout = 0
	l := f.launcher(t)

	done, cancel := start(l)
	defer cancel()

	require.Eventually(t, func() bool {
		h := l.Health()
		return h.FailedWorkers == 1 && h.RunningWorkers == 1
	}, 20*time.Second, 50*time.Millisecond)

	cancel()
	run := wait(t, done)
	require.NoError(t, run.err)

	s := run.summary
	assert.Equal(t, OutcomeDegraded, s.Outcome)
	assert.Equal(t, []int{1}, s.FailedOrdinals())
	assert.Equal(t, ErrorCodeHandoffTimeout, s.Instances[1].ErrorCode)
	assert.Equal(t, "FailedToStart", s.Instances[1].State)
	assert.Equal(t, 1, f.events.count(EventInstanceFailedToStart))
	assert.Empty(t, s.Unconsumed, "the timed-out payload was claimed, not dropped")
}

func TestLaunch_ZeroInstancesAborts(t *testing.T) {
	f := newLaunchFixture(t, 0)
	l := f.launcher(t)

	s, err := l.Launch(context.Background())
	require.Error(t, err)

	assert.True(t, IsErrorCode(err, ErrorCodeConfigurationInvalid))
	var verr *config.ValidationError
	assert.True(t, errors.As(err, &verr))

	assert.Equal(t, OutcomeAborted, s.Outcome)
	assert.Equal(t, ExitAborted, s.ExitCode())
	assert.Equal(t, ErrorCodeConfigurationInvalid, s.ErrorCode)
	assert.Empty(t, s.Instances)
	assert.Equal(t, int32(0), f.spawns.Load())

	entries, _ := os.ReadDir(f.cacheDir)
	assert.Empty(t, entries, "nothing is prepared for an invalid configuration")
	assert.Equal(t, []string{EventLaunchStarting, EventLaunchAborted}, f.events.types())
}

func TestLaunch_MissingArtifactAborts(t *testing.T) {
	f := newLaunchFixture(t, 3)
	f.cfg.Base.ModelReference = filepath.Join(t.TempDir(), "missing.bin")
	l := f.launcher(t)

	s, err := l.Launch(context.Background())
	require.Error(t, err)

	assert.Equal(t, ErrorCodeResourceUnavailable, GetErrorCode(err))
	var rerr *artifact.ResourceUnavailableError
	assert.True(t, errors.As(err, &rerr))
	assert.Equal(t, OutcomeAborted, s.Outcome)
	assert.Equal(t, int32(0), f.spawns.Load())
	assert.Zero(t, f.events.count(EventInstanceSpawned))
	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics.prepareDuration))
}

func TestLaunch_PlacementUnsupportedAborts(t *testing.T) {
	f := newLaunchFixture(t, 2)
	f.cfg.Base.Precision = config.PrecisionReduced
	l := f.launcher(t)

	s, err := l.Launch(context.Background())
	require.Error(t, err)

	assert.Equal(t, ErrorCodePlacementUnsupported, GetErrorCode(err))
	var perr *artifact.PlacementError
	assert.True(t, errors.As(err, &perr))
	assert.Equal(t, OutcomeAborted, s.Outcome)
	assert.Equal(t, int32(0), f.spawns.Load())
}

func TestLaunch_CompatibilityFailedAborts(t *testing.T) {
	f := newLaunchFixture(t, 2)
	f.compat = protocolChecker("99")
	l := f.launcher(t)

	s, err := l.Launch(context.Background())
	require.Error(t, err)

	assert.Equal(t, ErrorCodeCompatibilityFailed, GetErrorCode(err))
	assert.ErrorIs(t, err, handoff.ErrProtocolMismatch)
	assert.Equal(t, OutcomeAborted, s.Outcome)
	assert.Equal(t, int32(0), f.spawns.Load())

	entries, _ := os.ReadDir(f.cacheDir)
	assert.Empty(t, entries, "the compatibility check runs before preparation")
}

func TestLaunch_CompatibilityFunc(t *testing.T) {
	f := newLaunchFixture(t, 1)
	f.compat = CompatibilityFunc(func(ctx context.Context) error {
		return errors.New("driver too old")
	})
	l := f.launcher(t)

	_, err := l.Launch(context.Background())
	assert.True(t, IsErrorCode(err, ErrorCodeCompatibilityFailed))
	assert.Contains(t, GetSuggestion(err), "version --protocol")
}

func TestLaunch_CancelledBeforeSpawn(t *testing.T) {
	f := newLaunchFixture(t, 2)
	l := f.launcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	l.events = publisherFunc(func(eventType string) {
		if eventType == EventArtifactPrepared {
			once.Do(cancel)
		}
	})

	s, err := l.Launch(ctx)
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrorCodeLaunchInterrupted))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, OutcomeAborted, s.Outcome)
	assert.Equal(t, ErrorCodeLaunchInterrupted, s.ErrorCode)
	assert.Equal(t, ExitAborted, s.ExitCode())
	assert.Empty(t, s.Instances)
	assert.ElementsMatch(t, []int{0, 1}, s.Unconsumed)
	assert.Equal(t, int32(0), f.spawns.Load())
}

// publisherFunc observes event types
type publisherFunc func(eventType string)

func (f publisherFunc) ReportLifecycleEvent(ctx context.Context, eventType, message string, metadata map[string]string) error {
	f(eventType)
	return nil
}

func TestNew_WorkerEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerExecutable = "/usr/local/bin/modelpool"

	l, err := New(cfg, WithWorkerEnv("MODELPOOL_LOG_LEVEL=warn", "MODELPOOL_LOG_DEVELOPMENT=true"))
	require.NoError(t, err)

	cmd := l.command(config.InstanceConfig{InstanceName: "hw1"})
	assert.Contains(t, cmd.Env, "MODELPOOL_LOG_LEVEL=warn")
	assert.Contains(t, cmd.Env, "MODELPOOL_LOG_DEVELOPMENT=true")
	assert.Contains(t, cmd.Env, "MODELPOOL_INSTANCE=hw1")
}

func TestInstanceOutcome_NotSpawned(t *testing.T) {
	ic := config.InstanceConfig{
		Identity:     config.Identity{Ordinal: 4, CredentialRef: "hw5", ListenHost: "0.0.0.0", ListenPort: 9004},
		InstanceName: "hw5",
	}

	inst := instanceOutcome(ic, procmgr.Result{}, false)
	assert.Equal(t, "NotSpawned", inst.State)
	assert.Equal(t, "0.0.0.0:9004", inst.Address)
	assert.Equal(t, NoExitCode, inst.ExitCode)
	assert.True(t, inst.Failed())
}

func TestInstanceOutcome_FailedToStartWithoutProcess(t *testing.T) {
	ic := config.InstanceConfig{
		Identity:     config.Identity{Ordinal: 0, CredentialRef: "hw1", ListenHost: "0.0.0.0", ListenPort: 9000},
		InstanceName: "hw1",
	}

	inst := instanceOutcome(ic, procmgr.Result{
		Ordinal:      0,
		InstanceName: "hw1",
		State:        procmgr.WorkerStateFailedToStart,
		Err:          &procmgr.StartError{Ordinal: 0, Cause: errors.New("exec: not found")},
	}, true)
	assert.Equal(t, ErrorCodeProcessStartFailed, inst.ErrorCode)
	assert.Equal(t, NoExitCode, inst.ExitCode)

	data, err := json.Marshal(inst)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"exit_code":-1`)

	reaped := instanceOutcome(ic, procmgr.Result{
		PID:      4242,
		State:    procmgr.WorkerStateExited,
		ExitCode: 0,
	}, true)
	assert.Equal(t, 0, reaped.ExitCode)
}
