package launcher

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jrepp/prism-modelpool/pkg/artifact"
	"github.com/jrepp/prism-modelpool/pkg/config"
	"github.com/jrepp/prism-modelpool/pkg/handoff"
	"github.com/jrepp/prism-modelpool/pkg/procmgr"
)

// DefaultInstanceCount is the pool size when none is configured
const DefaultInstanceCount = 10

// Config holds launcher configuration
type Config struct {
	// Number of worker instances in the pool
	InstanceCount int `mapstructure:"instance_count" yaml:"instance_count"`

	// Shared settings every instance config is derived from
	Base config.BaseConfig `mapstructure:",squash" yaml:",inline"`

	// Supervisor settings
	HandoffTimeout   time.Duration `mapstructure:"handoff_timeout" yaml:"handoff_timeout"`
	ReadinessTimeout time.Duration `mapstructure:"readiness_timeout" yaml:"readiness_timeout"`
	GracePeriod      time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	SpawnRate        float64       `mapstructure:"spawn_rate" yaml:"spawn_rate"`

	// Worker binary; empty re-executes the launcher binary
	WorkerExecutable string `mapstructure:"worker_executable" yaml:"worker_executable"`

	// Skip the "<worker> version --protocol" probe
	SkipCompatibilityCheck bool `mapstructure:"skip_compatibility_check" yaml:"skip_compatibility_check"`

	// Artifact cache and object storage
	ArtifactCacheDir string            `mapstructure:"artifact_cache_dir" yaml:"artifact_cache_dir"`
	S3               artifact.S3Config `mapstructure:"s3" yaml:"s3"`

	// Lifecycle event and summary sinks
	Events EventsConfig `mapstructure:"events" yaml:"events"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
}

// EventsConfig selects the lifecycle event publisher (none, log or nats)
type EventsConfig struct {
	Backend string     `mapstructure:"backend" yaml:"backend"`
	NATS    NATSConfig `mapstructure:"nats" yaml:"nats"`
}

// StoreConfig selects the summary store (none or redis)
type StoreConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// DefaultConfig returns the launcher defaults
func DefaultConfig() *Config {
	return &Config{
		InstanceCount: DefaultInstanceCount,
		Base: config.BaseConfig{
			Device:     config.DeviceCPU,
			Precision:  config.PrecisionFull,
			ListenHost: config.DefaultListenHost,
		},
		HandoffTimeout:   procmgr.DefaultHandoffTimeout,
		ReadinessTimeout: procmgr.DefaultReadinessTimeout,
		GracePeriod:      procmgr.DefaultGracePeriod,
		ArtifactCacheDir: artifact.DefaultCacheDir(),
		Events:           EventsConfig{Backend: "log"},
		Store:            StoreConfig{Backend: "none"},
	}
}

// Launcher runs launches: prepare the shared artifact once, hand one payload
// to each worker process and supervise the pool until it is joined.
type Launcher struct {
	config *Config

	// Collaborators
	preparer      *artifact.Preparer
	compat        CompatibilityChecker
	command       procmgr.CommandFunc
	events        EventPublisher
	store         SummaryStore
	metrics       *MetricsCollector
	workerMetrics procmgr.MetricsCollector
	tracer        trace.Tracer
	logger        *zap.Logger
	newLaunchID   func() string
	workerEnv     []string

	// Current launch
	mu         sync.Mutex
	launchID   string
	supervisor *procmgr.Supervisor
}

// Option configures a Launcher
type Option func(*Launcher)

// WithPreparer replaces the Resource Preparer
func WithPreparer(p *artifact.Preparer) Option {
	return func(l *Launcher) { l.preparer = p }
}

// WithCompatibilityChecker replaces the version check
func WithCompatibilityChecker(c CompatibilityChecker) Option {
	return func(l *Launcher) { l.compat = c }
}

// WithCommand replaces how worker processes are built
func WithCommand(fn procmgr.CommandFunc) Option {
	return func(l *Launcher) { l.command = fn }
}

// WithWorkerEnv adds KEY=value entries to the environment of the default
// worker command. It has no effect together with WithCommand.
func WithWorkerEnv(env ...string) Option {
	return func(l *Launcher) { l.workerEnv = append(l.workerEnv, env...) }
}

// WithEventPublisher sets the lifecycle event publisher
func WithEventPublisher(p EventPublisher) Option {
	return func(l *Launcher) { l.events = p }
}

// WithSummaryStore persists every summary
func WithSummaryStore(s SummaryStore) Option {
	return func(l *Launcher) { l.store = s }
}

// WithMetrics sets the launch-level metrics collector
func WithMetrics(mc *MetricsCollector) Option {
	return func(l *Launcher) { l.metrics = mc }
}

// WithWorkerMetrics sets the supervisor's metrics collector
func WithWorkerMetrics(mc procmgr.MetricsCollector) Option {
	return func(l *Launcher) { l.workerMetrics = mc }
}

// WithTracer sets the tracer used for launch spans
func WithTracer(t trace.Tracer) Option {
	return func(l *Launcher) { l.tracer = t }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Launcher) { l.logger = logger }
}

// WithLaunchIDFunc overrides launch ID generation
func WithLaunchIDFunc(fn func() string) Option {
	return func(l *Launcher) { l.newLaunchID = fn }
}

// New creates a launcher. Collaborators not set through options are built from cfg.
func New(cfg *Config, opts ...Option) (*Launcher, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Launcher{
		config:      cfg,
		logger:      zap.NewNop(),
		events:      &NoopEventPublisher{},
		newLaunchID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.tracer == nil {
		l.tracer = otel.Tracer("github.com/jrepp/prism-modelpool/pkg/launcher")
	}
	if l.workerMetrics == nil {
		l.workerMetrics = procmgr.NewNoopMetricsCollector()
	}
	if l.command == nil {
		l.command = procmgr.DefaultCommand(cfg.WorkerExecutable, l.workerEnv...)
	}
	if l.compat == nil && !cfg.SkipCompatibilityCheck {
		l.compat = &ProtocolChecker{Executable: cfg.WorkerExecutable}
	}
	if l.preparer == nil {
		popts := []artifact.Option{
			artifact.WithCacheDir(cfg.ArtifactCacheDir),
			artifact.WithLogger(l.logger.Named("artifact")),
		}
		if artifact.SchemeOf(cfg.Base.ModelReference) == "s3" {
			s3p, err := artifact.NewS3Provider(context.Background(), cfg.S3, cfg.ArtifactCacheDir)
			if err != nil {
				return nil, fmt.Errorf("create s3 provider: %w", err)
			}
			popts = append(popts, artifact.WithProvider("s3", s3p))
		}
		l.preparer = artifact.NewPreparer(popts...)
	}

	return l, nil
}

// Config returns the launcher configuration
func (l *Launcher) Config() *Config {
	return l.config
}

// LaunchID returns the ID of the current or most recent launch
func (l *Launcher) LaunchID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launchID
}

// Health returns the worker health of the current launch
func (l *Launcher) Health() procmgr.HealthCheck {
	l.mu.Lock()
	sup := l.supervisor
	l.mu.Unlock()

	if sup == nil {
		return procmgr.HealthCheck{Workers: map[int]procmgr.WorkerHealth{}}
	}
	return sup.Health()
}

// Launch runs one launch to completion and returns its summary.
//
// A launch-level failure (compatibility, configuration, artifact) returns an
// aborted summary together with a *LauncherError; no worker is spawned.
// Otherwise the call blocks until every worker was joined. Cancelling ctx
// terminates the workers with the grace period; the summary is still returned.
// A cancellation that lands before any worker process started aborts the
// launch with LAUNCH_INTERRUPTED.
// Instance failures make the outcome degraded but are not returned as errors.
func (l *Launcher) Launch(ctx context.Context) (*Summary, error) {
	launchID := l.newLaunchID()
	logger := l.logger.With(zap.String("launch_id", launchID))

	ctx, span := l.tracer.Start(ctx, "launch", trace.WithAttributes(
		attribute.String("launch_id", launchID),
		attribute.Int("instance_count", l.config.InstanceCount),
		attribute.String("model_reference", l.config.Base.ModelReference),
	))
	defer span.End()

	// Reporting continues after an operator signal cancels ctx
	reportCtx := context.WithoutCancel(ctx)

	summary := &Summary{
		LaunchID:       launchID,
		InstanceCount:  l.config.InstanceCount,
		ModelReference: l.config.Base.ModelReference,
		Instances:      []InstanceOutcome{},
		StartedAt:      time.Now(),
	}

	l.mu.Lock()
	l.launchID = launchID
	l.supervisor = nil
	l.mu.Unlock()

	l.publish(reportCtx, logger, EventLaunchStarting, "launch starting", map[string]string{
		"instance_count":  strconv.Itoa(l.config.InstanceCount),
		"model_reference": l.config.Base.ModelReference,
	})

	// 1. Compatibility check before anything else
	if l.compat != nil {
		if err := l.compat.Check(ctx); err != nil {
			return l.abort(reportCtx, span, logger, summary, ErrCompatibilityFailed(err))
		}
	}

	// 2. Per-instance configs
	instances, err := config.Build(l.config.Base, l.config.InstanceCount)
	if err != nil {
		return l.abort(reportCtx, span, logger, summary, ErrConfigurationInvalid(err))
	}

	// 3. Shared artifact, exactly once
	shared, err := l.prepare(ctx, logger)
	if err != nil {
		return l.abort(reportCtx, span, logger, summary, classifyPrepareError(l.config.Base, err))
	}
	ref := shared.Ref()
	summary.ArtifactPath = ref.Path
	summary.ArtifactDigest = ref.Digest

	l.publish(reportCtx, logger, EventArtifactPrepared, "artifact prepared", map[string]string{
		"path":   ref.Path,
		"digest": ref.Digest,
		"size":   strconv.FormatInt(ref.Size, 10),
	})

	// 4. One identity-tagged payload per instance
	channel := handoff.NewChannel(launchID, len(instances))
	for _, ic := range instances {
		if err := channel.Send(handoff.NewPayload(launchID, ref, ic)); err != nil {
			channel.Close()
			return l.abort(reportCtx, span, logger, summary,
				NewError(ErrorCodeInternalError, "Failed to queue handoff payload").
					WithContext("ordinal", ic.Identity.Ordinal).
					WithCause(err))
		}
	}

	// 5. Spawn
	sup := procmgr.NewSupervisor(channel, l.supervisorOptions(logger)...)
	l.mu.Lock()
	l.supervisor = sup
	l.mu.Unlock()

	spawned := 0
	for _, ic := range instances {
		if ctx.Err() != nil {
			logger.Warn("launch interrupted before all workers were spawned",
				zap.Int("spawned", spawned), zap.Int("instance_count", len(instances)))
			break
		}
		l.spawn(ctx, reportCtx, sup, ic, logger)
		spawned++
	}
	span.SetAttributes(attribute.Int("spawned", spawned))
	logger.Info("workers spawned", zap.Int("spawned", spawned), zap.Int("instance_count", len(instances)))

	// 6. Join
	results := sup.JoinAll(ctx)
	summary.Unconsumed = channel.Close()
	if len(summary.Unconsumed) > 0 {
		logger.Warn("handoff payloads never consumed", zap.Ints("ordinals", summary.Unconsumed))
	}

	if ctx.Err() != nil && !anyStarted(results) {
		return l.abort(reportCtx, span, logger, summary, ErrLaunchInterrupted(ctx.Err()).
			WithContext("spawned", spawned))
	}

	byOrdinal := make(map[int]procmgr.Result, len(results))
	for _, r := range results {
		byOrdinal[r.Ordinal] = r
	}

	for _, ic := range instances {
		r, ok := byOrdinal[ic.Identity.Ordinal]
		inst := instanceOutcome(ic, r, ok)
		summary.Instances = append(summary.Instances, inst)

		if ok && r.State != procmgr.WorkerStateFailedToStart {
			l.publish(reportCtx, logger, EventInstanceExited, "instance exited", map[string]string{
				"ordinal":   strconv.Itoa(inst.Ordinal),
				"instance":  inst.InstanceName,
				"state":     inst.State,
				"exit_code": strconv.Itoa(inst.ExitCode),
			})
		}
	}

	summary.Outcome = decideOutcome(summary.Instances)
	summary.FinishedAt = time.Now()
	span.SetAttributes(
		attribute.String("outcome", string(summary.Outcome)),
		attribute.Int("failed", len(summary.FailedOrdinals())),
	)

	l.finish(reportCtx, logger, summary)
	l.publish(reportCtx, logger, EventLaunchCompleted, "launch completed", map[string]string{
		"outcome": string(summary.Outcome),
		"healthy": strconv.Itoa(summary.HealthyCount()),
		"failed":  joinInts(summary.FailedOrdinals()),
	})

	logger.Info("launch completed",
		zap.String("outcome", string(summary.Outcome)),
		zap.Int("healthy", summary.HealthyCount()),
		zap.Ints("failed_ordinals", summary.FailedOrdinals()),
		zap.Duration("duration", summary.Duration()))

	return summary, nil
}

func (l *Launcher) prepare(ctx context.Context, logger *zap.Logger) (*artifact.Artifact, error) {
	ctx, span := l.tracer.Start(ctx, "prepare")
	defer span.End()

	start := time.Now()
	a, err := l.preparer.Prepare(ctx, l.config.Base)
	if l.metrics != nil {
		l.metrics.RecordPrepare(time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("artifact preparation failed", zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("digest", a.Ref().Digest))
	return a, nil
}

func (l *Launcher) spawn(ctx, reportCtx context.Context, sup *procmgr.Supervisor, ic config.InstanceConfig, logger *zap.Logger) {
	ctx, span := l.tracer.Start(ctx, "spawn", trace.WithAttributes(
		attribute.Int("ordinal", ic.Identity.Ordinal),
		attribute.String("instance", ic.InstanceName),
		attribute.Int("port", ic.Identity.ListenPort),
	))
	defer span.End()

	meta := map[string]string{
		"ordinal":  strconv.Itoa(ic.Identity.Ordinal),
		"instance": ic.InstanceName,
		"address":  ic.Identity.Address(),
	}

	if err := sup.Spawn(ctx, ic); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		meta["error"] = err.Error()
		l.publish(reportCtx, logger, EventInstanceFailedToStart, "instance failed to start", meta)
		return
	}

	if r, ok := sup.Status(ic.Identity.Ordinal); ok {
		meta["pid"] = strconv.Itoa(r.PID)
		span.SetAttributes(attribute.Int("pid", r.PID))
	}
	l.publish(reportCtx, logger, EventInstanceSpawned, "instance spawned", meta)
}

func (l *Launcher) supervisorOptions(logger *zap.Logger) []procmgr.Option {
	opts := []procmgr.Option{
		procmgr.WithCommand(l.command),
		procmgr.WithLogger(logger.Named("supervisor")),
		procmgr.WithMetricsCollector(l.workerMetrics),
		procmgr.WithReadinessTimeout(l.config.ReadinessTimeout),
		procmgr.WithSpawnRate(l.config.SpawnRate),
	}
	if l.config.HandoffTimeout > 0 {
		opts = append(opts, procmgr.WithHandoffTimeout(l.config.HandoffTimeout))
	}
	if l.config.GracePeriod > 0 {
		opts = append(opts, procmgr.WithGracePeriod(l.config.GracePeriod))
	}
	return opts
}

// abort finishes a launch that failed before anything was spawned
func (l *Launcher) abort(ctx context.Context, span trace.Span, logger *zap.Logger, summary *Summary, lerr *LauncherError) (*Summary, error) {
	summary.Outcome = OutcomeAborted
	summary.ErrorCode = lerr.Code
	summary.Error = lerr.Error()
	summary.FinishedAt = time.Now()

	span.RecordError(lerr)
	span.SetStatus(codes.Error, string(lerr.Code))
	span.SetAttributes(attribute.String("outcome", string(OutcomeAborted)))

	logger.Error("launch aborted", zap.String("code", string(lerr.Code)), zap.Error(lerr.Cause))

	l.finish(ctx, logger, summary)
	l.publish(ctx, logger, EventLaunchAborted, "launch aborted", map[string]string{
		"code":  string(lerr.Code),
		"error": lerr.Message,
	})
	return summary, lerr
}

// finish records metrics and persists the summary
func (l *Launcher) finish(ctx context.Context, logger *zap.Logger, summary *Summary) {
	if l.metrics != nil {
		l.metrics.RecordLaunch(summary)
	}
	if l.store != nil {
		if err := l.store.Save(ctx, summary); err != nil {
			logger.Warn("failed to persist launch summary", zap.Error(err))
		}
	}
}

// publish reports an event; delivery failures are logged and never fail the launch
func (l *Launcher) publish(ctx context.Context, logger *zap.Logger, eventType, message string, metadata map[string]string) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["launch_id"] = l.LaunchID()

	if err := l.events.ReportLifecycleEvent(ctx, eventType, message, metadata); err != nil {
		logger.Warn("failed to publish lifecycle event", zap.String("event", eventType), zap.Error(err))
	}
}

// instanceOutcome merges an instance config with its supervisor result
func instanceOutcome(ic config.InstanceConfig, r procmgr.Result, spawned bool) InstanceOutcome {
	inst := InstanceOutcome{
		Ordinal:       ic.Identity.Ordinal,
		InstanceName:  ic.InstanceName,
		CredentialRef: ic.Identity.CredentialRef,
		Address:       ic.Identity.Address(),
		Port:          ic.Identity.ListenPort,
	}

	if !spawned {
		inst.ExitCode = NoExitCode
		inst.State = "NotSpawned"
		inst.ErrorCode = ErrorCodeNotSpawned
		inst.Error = "launch was interrupted before this instance was spawned"
		return inst
	}

	inst.PID = r.PID
	inst.State = r.State.String()
	inst.ExitCode = r.ExitCode
	if r.PID == 0 {
		inst.ExitCode = NoExitCode
	}
	inst.Ready = r.Ready
	inst.StartedAt = r.StartedAt
	inst.ExitedAt = r.ExitedAt

	if lerr := classifyResult(r); lerr != nil {
		inst.ErrorCode = lerr.Code
		inst.Error = lerr.Message
		if r.Err != nil {
			inst.Error += ": " + r.Err.Error()
		}
	}
	return inst
}

// anyStarted reports whether at least one worker got an OS process
func anyStarted(results []procmgr.Result) bool {
	for _, r := range results {
		if r.PID != 0 {
			return true
		}
	}
	return false
}
