package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Provider loads a model artifact and places it on a device.
type Provider interface {
	// Load resolves reference and returns an unplaced artifact
	Load(ctx context.Context, reference, device, precision string) (*Artifact, error)

	// Prepare finalizes placement of a loaded artifact
	Prepare(ctx context.Context, a *Artifact) error
}

// FileProvider loads artifacts from the local filesystem.
type FileProvider struct {
	cacheDir string
}

// NewFileProvider returns a provider that seals files into cacheDir.
func NewFileProvider(cacheDir string) *FileProvider {
	if cacheDir == "" {
		cacheDir = DefaultCacheDir()
	}
	return &FileProvider{cacheDir: cacheDir}
}

// Load copies the referenced file into the content-addressed cache.
func (p *FileProvider) Load(ctx context.Context, reference, device, precision string) (*Artifact, error) {
	path := strings.TrimPrefix(reference, "file://")

	info, err := os.Stat(path)
	if err != nil {
		reason := "cannot stat file"
		if errors.Is(err, fs.ErrNotExist) {
			reason = "file does not exist"
		}
		return nil, &ResourceUnavailableError{Reference: reference, Reason: reason, Cause: err}
	}
	if info.IsDir() {
		return nil, &ResourceUnavailableError{Reference: reference, Reason: "is a directory"}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &ResourceUnavailableError{Reference: reference, Reason: "cannot open file", Cause: err}
	}
	defer f.Close()

	cached, digest, size, err := materialize(ctx, f, p.cacheDir)
	if err != nil {
		return nil, &ResourceUnavailableError{Reference: reference, Reason: "cannot read file", Cause: err}
	}

	return New(Ref{
		ModelReference: reference,
		Provider:       "file",
		Path:           cached,
		Digest:         digest,
		Size:           size,
		Device:         device,
		Precision:      precision,
	}), nil
}

// Prepare records placement in the sidecar and marks the artifact placed.
func (p *FileProvider) Prepare(ctx context.Context, a *Artifact) error {
	return placeWithSidecar(ctx, a)
}

func placeWithSidecar(ctx context.Context, a *Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writePlacement(a.Ref()); err != nil {
		return fmt.Errorf("failed to record placement: %w", err)
	}
	return a.Place()
}
