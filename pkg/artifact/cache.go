package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultCacheDir is where sealed artifacts are stored when no cache dir is configured.
func DefaultCacheDir() string {
	return filepath.Join(os.TempDir(), "modelpool-artifacts")
}

// cachePath returns the content-addressed location for digest.
func cachePath(cacheDir, digest string) string {
	return filepath.Join(cacheDir, digest+".artifact")
}

// placementPath returns the sidecar location for ref. One sealed file can
// back several placements, so the name carries device and precision too.
func placementPath(ref Ref) string {
	dir := filepath.Dir(ref.Path)
	base := filepath.Base(ref.Path)
	base = base[:len(base)-len(filepath.Ext(base))]
	device := strings.NewReplacer(":", "-", "/", "-").Replace(ref.Device)
	return filepath.Join(dir, fmt.Sprintf("%s.%s.%s.placement.yaml", base, device, ref.Precision))
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// materialize streams r into the cache, naming the result by its sha256.
// An existing entry with the same digest is reused. The cached file is 0444.
func materialize(ctx context.Context, r io.Reader, cacheDir string) (path, digest string, size int64, err error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", "", 0, fmt.Errorf("failed to create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(cacheDir, ".incoming-*")
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to create cache entry: %w", err)
	}
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmp.Name())
	}()

	h := sha256.New()
	size, err = io.Copy(io.MultiWriter(tmp, h), ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to write cache entry: %w", err)
	}

	digest = hex.EncodeToString(h.Sum(nil))
	path = cachePath(cacheDir, digest)

	if info, statErr := os.Stat(path); statErr == nil && info.Size() == size {
		return path, digest, size, nil
	}

	if err := os.Chmod(tmp.Name(), 0o444); err != nil {
		return "", "", 0, fmt.Errorf("failed to seal cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", "", 0, fmt.Errorf("failed to publish cache entry: %w", err)
	}
	return path, digest, size, nil
}

// digestFile computes the sha256 of a file on disk.
func digestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
