// Package artifact prepares the shared model artifact handed to every worker.
//
// An Artifact is loaded by a Provider, placed on a device at a precision,
// then sealed by the Preparer. Once sealed it is immutable; workers only ever
// see its Ref, a serializable pointer to a read-only, content-addressed file.
package artifact

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ErrSealed is returned when an already sealed artifact is modified.
var ErrSealed = errors.New("artifact is sealed")

// Ref is the serializable reference to a prepared artifact.
type Ref struct {
	ModelReference string `yaml:"model_reference"`
	Provider       string `yaml:"provider"`
	Path           string `yaml:"path"`
	Digest         string `yaml:"digest"`
	Size           int64  `yaml:"size"`
	Device         string `yaml:"device"`
	Precision      string `yaml:"precision"`
}

// Artifact is the shared resource of one launch.
type Artifact struct {
	mu     sync.RWMutex
	ref    Ref
	placed bool
	sealed bool
}

// New creates an unplaced artifact. Providers call it from Load with the
// requested device and precision already set on ref.
func New(ref Ref) *Artifact {
	return &Artifact{ref: ref}
}

// Ref returns a copy of the artifact reference.
func (a *Artifact) Ref() Ref {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ref
}

// Place finalizes device and precision placement.
func (a *Artifact) Place() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return ErrSealed
	}
	a.placed = true
	return nil
}

// Placed reports whether placement was finalized.
func (a *Artifact) Placed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.placed
}

// Sealed reports whether the artifact is safe to hand off.
func (a *Artifact) Sealed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sealed
}

func (a *Artifact) seal() {
	a.mu.Lock()
	a.sealed = true
	a.mu.Unlock()
}

// ParseDevice splits "cuda:1" into ("cuda", 1). A bare name has index 0.
func ParseDevice(device string) (string, int, error) {
	name, idx, found := strings.Cut(strings.ToLower(strings.TrimSpace(device)), ":")
	if name == "" {
		return "", 0, fmt.Errorf("empty device")
	}
	if !found {
		return name, 0, nil
	}
	index, err := strconv.Atoi(idx)
	if err != nil || index < 0 {
		return "", 0, fmt.Errorf("invalid device index %q", idx)
	}
	return name, index, nil
}

// SchemeOf returns the provider scheme of a model reference. References
// without a scheme are local files.
func SchemeOf(reference string) string {
	if scheme, _, ok := strings.Cut(reference, "://"); ok {
		return strings.ToLower(scheme)
	}
	return "file"
}
