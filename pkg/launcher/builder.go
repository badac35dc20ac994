package launcher

import (
	"fmt"
	"time"

	"github.com/jrepp/prism-modelpool/pkg/config"
)

// Builder provides a fluent interface for constructing a Launcher.
//
// Usage:
//
//	l, err := launcher.NewBuilder().
//	    WithModelReference("/models/core.bin").
//	    WithInstanceCount(3).
//	    WithBasePort(9000).
//	    WithCredentialPrefix("hw").
//	    Build(launcher.WithLogger(logger))
//
// All builder methods return the builder for method chaining. The first
// invalid setting is reported by Build.
type Builder struct {
	config *Config
	err    error
}

// NewBuilder creates a new Builder with DefaultConfig.
//
// Defaults:
//   - InstanceCount: 10
//   - Device: cpu, Precision: full, ListenHost: 0.0.0.0
//   - HandoffTimeout: 30 seconds
//   - ReadinessTimeout: 10 seconds
//   - GracePeriod: 10 seconds
func NewBuilder() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithInstanceCount sets the pool size. Zero and negative counts are
// rejected by Launch as CONFIGURATION_INVALID, not here.
func (b *Builder) WithInstanceCount(n int) *Builder {
	if b.err != nil {
		return b
	}
	b.config.InstanceCount = n
	return b
}

// WithModelReference sets the shared artifact reference (path, file:// or s3:// URL).
func (b *Builder) WithModelReference(ref string) *Builder {
	if b.err != nil {
		return b
	}
	if ref == "" {
		b.err = fmt.Errorf("model reference cannot be empty")
		return b
	}
	b.config.Base.ModelReference = ref
	return b
}

// WithBasePort sets the listen port of ordinal 0.
func (b *Builder) WithBasePort(port int) *Builder {
	if b.err != nil {
		return b
	}
	if port < 1 || port > 65535 {
		b.err = fmt.Errorf("base port must be between 1 and 65535, got %d", port)
		return b
	}
	b.config.Base.BasePort = port
	return b
}

// WithListenHost sets the interface every instance binds to.
func (b *Builder) WithListenHost(host string) *Builder {
	if b.err != nil {
		return b
	}
	b.config.Base.ListenHost = host
	return b
}

// WithCredentialPrefix sets the prefix per-instance credential names are derived from.
//
// Example:
//
//	builder.WithCredentialPrefix("hw") // hw1, hw2, ...
func (b *Builder) WithCredentialPrefix(prefix string) *Builder {
	if b.err != nil {
		return b
	}
	if prefix == "" {
		b.err = fmt.Errorf("credential prefix cannot be empty")
		return b
	}
	b.config.Base.CredentialPrefix = prefix
	return b
}

// WithCredentialSet names the credential collection the keys live in.
func (b *Builder) WithCredentialSet(set string) *Builder {
	if b.err != nil {
		return b
	}
	b.config.Base.CredentialSet = set
	return b
}

// WithPlacement sets the device and precision the artifact is prepared for.
//
// Example:
//
//	builder.WithPlacement("cuda:0", config.PrecisionReduced)
func (b *Builder) WithPlacement(device, precision string) *Builder {
	if b.err != nil {
		return b
	}
	switch precision {
	case config.PrecisionFull, config.PrecisionReduced:
	default:
		b.err = fmt.Errorf("precision must be %s or %s, got %q", config.PrecisionFull, config.PrecisionReduced, precision)
		return b
	}
	b.config.Base.Device = device
	b.config.Base.Precision = precision
	return b
}

// WithHandoffTimeout bounds how long each worker has to acknowledge its payload.
func (b *Builder) WithHandoffTimeout(d time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	if d <= 0 {
		b.err = fmt.Errorf("handoff timeout must be positive, got %v", d)
		return b
	}
	b.config.HandoffTimeout = d
	return b
}

// WithReadinessTimeout bounds the per-worker health probe (0 disables it).
func (b *Builder) WithReadinessTimeout(d time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	if d < 0 {
		b.err = fmt.Errorf("readiness timeout cannot be negative, got %v", d)
		return b
	}
	b.config.ReadinessTimeout = d
	return b
}

// WithGracePeriod sets the SIGTERM to SIGKILL delay on shutdown.
func (b *Builder) WithGracePeriod(d time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	if d < 0 {
		b.err = fmt.Errorf("grace period cannot be negative, got %v", d)
		return b
	}
	b.config.GracePeriod = d
	return b
}

// WithSpawnRate paces worker starts (spawns per second, 0 is unlimited).
func (b *Builder) WithSpawnRate(perSecond float64) *Builder {
	if b.err != nil {
		return b
	}
	if perSecond < 0 {
		b.err = fmt.Errorf("spawn rate cannot be negative, got %v", perSecond)
		return b
	}
	b.config.SpawnRate = perSecond
	return b
}

// WithWarmup sets the worker-local memory reservation in bytes.
func (b *Builder) WithWarmup(bytes int64) *Builder {
	if b.err != nil {
		return b
	}
	if bytes < 0 {
		b.err = fmt.Errorf("warmup bytes cannot be negative, got %d", bytes)
		return b
	}
	if bytes > config.MaxWarmupBytes {
		b.err = fmt.Errorf("warmup bytes cannot exceed %d, got %d", config.MaxWarmupBytes, bytes)
		return b
	}
	b.config.Base.WarmupBytes = bytes
	return b
}

// WithVerifyArtifact makes workers recompute the artifact digest before serving.
func (b *Builder) WithVerifyArtifact(verify bool) *Builder {
	if b.err != nil {
		return b
	}
	b.config.Base.VerifyArtifact = verify
	return b
}

// WithExtra adds a free-form endpoint server setting.
func (b *Builder) WithExtra(key, value string) *Builder {
	if b.err != nil {
		return b
	}
	if b.config.Base.Extra == nil {
		b.config.Base.Extra = make(map[string]string)
	}
	b.config.Base.Extra[key] = value
	return b
}

// WithArtifactCacheDir sets where sealed artifacts are stored.
func (b *Builder) WithArtifactCacheDir(dir string) *Builder {
	if b.err != nil {
		return b
	}
	if dir == "" {
		b.err = fmt.Errorf("artifact cache directory cannot be empty")
		return b
	}
	b.config.ArtifactCacheDir = dir
	return b
}

// WithWorkerExecutable sets the binary started for each worker.
func (b *Builder) WithWorkerExecutable(path string) *Builder {
	if b.err != nil {
		return b
	}
	b.config.WorkerExecutable = path
	return b
}

// WithDevelopmentDefaults configures the launcher for local development.
//
// Settings:
//   - InstanceCount: 3
//   - ListenHost: 127.0.0.1
//   - HandoffTimeout: 10 seconds
//   - GracePeriod: 2 seconds
func (b *Builder) WithDevelopmentDefaults() *Builder {
	return b.
		WithInstanceCount(3).
		WithListenHost("127.0.0.1").
		WithHandoffTimeout(10 * time.Second).
		WithGracePeriod(2 * time.Second)
}

// WithConfig directly sets the configuration object.
//
// Note: This replaces all previous builder settings.
func (b *Builder) WithConfig(cfg *Config) *Builder {
	if b.err != nil {
		return b
	}
	if cfg == nil {
		b.err = fmt.Errorf("config cannot be nil")
		return b
	}
	b.config = cfg
	return b
}

// Build validates the configuration and creates the Launcher.
func (b *Builder) Build(opts ...Option) (*Launcher, error) {
	if b.err != nil {
		return nil, fmt.Errorf("builder validation failed: %w", b.err)
	}

	if err := b.validateConfig(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := New(b.config, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create launcher: %w", err)
	}
	return l, nil
}

// MustBuild creates the Launcher and panics on error.
func (b *Builder) MustBuild(opts ...Option) *Launcher {
	l, err := b.Build(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to build launcher: %v", err))
	}
	return l
}

// GetConfig returns the current configuration without building the launcher.
func (b *Builder) GetConfig() *Config {
	return b.config
}

// validateConfig checks launcher-level settings. Instance-level settings are
// validated by the Configuration Builder when a launch starts.
func (b *Builder) validateConfig() error {
	if b.config.HandoffTimeout < 0 {
		return fmt.Errorf("handoff timeout cannot be negative")
	}
	if b.config.ReadinessTimeout < 0 {
		return fmt.Errorf("readiness timeout cannot be negative")
	}
	if b.config.GracePeriod < 0 {
		return fmt.Errorf("grace period cannot be negative")
	}
	if b.config.SpawnRate < 0 {
		return fmt.Errorf("spawn rate cannot be negative")
	}

	switch b.config.Events.Backend {
	case "", "none", "log", "nats":
	default:
		return fmt.Errorf("unknown events backend %q", b.config.Events.Backend)
	}
	switch b.config.Store.Backend {
	case "", "none", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", b.config.Store.Backend)
	}
	return nil
}
