package artifact

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jrepp/prism-modelpool/pkg/config"
)

// Preparer produces the single sealed artifact of a launch.
type Preparer struct {
	providers map[string]Provider
	probe     DeviceProbe
	logger    *zap.Logger
}

// Option configures a Preparer.
type Option func(*Preparer)

// WithProvider registers a provider for a reference scheme (file, s3, ...).
func WithProvider(scheme string, p Provider) Option {
	return func(pr *Preparer) {
		pr.providers[scheme] = p
	}
}

// WithDeviceProbe replaces the host device probe.
func WithDeviceProbe(probe DeviceProbe) Option {
	return func(pr *Preparer) {
		pr.probe = probe
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(pr *Preparer) {
		pr.logger = logger
	}
}

// WithCacheDir registers the file provider against cacheDir.
func WithCacheDir(cacheDir string) Option {
	return func(pr *Preparer) {
		pr.providers["file"] = NewFileProvider(cacheDir)
	}
}

// NewPreparer creates a preparer with the file provider registered.
func NewPreparer(opts ...Option) *Preparer {
	pr := &Preparer{
		providers: map[string]Provider{"file": NewFileProvider("")},
		probe:     HostProbe{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(pr)
	}
	return pr
}

// Prepare loads, places and seals the artifact named by base.ModelReference.
// Placement is checked before anything is loaded.
func (pr *Preparer) Prepare(ctx context.Context, base config.BaseConfig) (*Artifact, error) {
	base = base.WithDefaults()
	ref := base.ModelReference
	if ref == "" {
		return nil, &ResourceUnavailableError{Reference: ref, Reason: "no model reference"}
	}

	if err := checkPlacement(pr.probe, base.Device, base.Precision); err != nil {
		return nil, err
	}

	scheme := SchemeOf(ref)
	provider, ok := pr.providers[scheme]
	if !ok {
		return nil, &ResourceUnavailableError{Reference: ref, Reason: fmt.Sprintf("no provider for scheme %q", scheme)}
	}

	a, err := provider.Load(ctx, ref, base.Device, base.Precision)
	if err != nil {
		return nil, err
	}
	if err := provider.Prepare(ctx, a); err != nil {
		return nil, fmt.Errorf("placement failed: %w", err)
	}
	if !a.Placed() {
		return nil, &PlacementError{Device: base.Device, Precision: base.Precision, Reason: "provider did not place artifact"}
	}
	a.seal()

	r := a.Ref()
	pr.logger.Info("artifact sealed",
		zap.String("reference", ref),
		zap.String("provider", r.Provider),
		zap.String("path", r.Path),
		zap.String("digest", r.Digest),
		zap.Int64("size", r.Size),
		zap.String("device", r.Device),
		zap.String("precision", r.Precision))

	return a, nil
}
