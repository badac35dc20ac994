package artifact

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Placement is the sidecar record written next to a sealed artifact.
type Placement struct {
	Digest    string    `yaml:"digest"`
	Size      int64     `yaml:"size"`
	Device    string    `yaml:"device"`
	Precision string    `yaml:"precision"`
	Source    string    `yaml:"source"`
	SealedAt  time.Time `yaml:"sealed_at"`
}

func writePlacement(ref Ref) error {
	p := Placement{
		Digest:    ref.Digest,
		Size:      ref.Size,
		Device:    ref.Device,
		Precision: ref.Precision,
		Source:    ref.ModelReference,
		SealedAt:  time.Now().UTC(),
	}

	data, err := yaml.Marshal(&p)
	if err != nil {
		return fmt.Errorf("failed to marshal placement: %w", err)
	}

	path := placementPath(ref)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write placement: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadPlacement loads the sidecar recorded for ref's path, device and precision.
func ReadPlacement(ref Ref) (*Placement, error) {
	data, err := os.ReadFile(placementPath(ref))
	if err != nil {
		return nil, err
	}

	var p Placement
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse placement: %w", err)
	}
	return &p, nil
}
