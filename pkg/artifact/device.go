package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrepp/prism-modelpool/pkg/config"
)

// DeviceProbe reports which placement targets exist on the host.
type DeviceProbe interface {
	Supports(device string) bool
}

// HostProbe checks device nodes under DevDir (default /dev).
type HostProbe struct {
	DevDir string
}

// Supports returns true for cpu and for cuda devices with a device node.
func (p HostProbe) Supports(device string) bool {
	name, index, err := ParseDevice(device)
	if err != nil {
		return false
	}

	switch name {
	case config.DeviceCPU:
		return true
	case "cuda":
		dir := p.DevDir
		if dir == "" {
			dir = "/dev"
		}
		_, err := os.Stat(filepath.Join(dir, fmt.Sprintf("nvidia%d", index)))
		return err == nil
	default:
		return false
	}
}

// checkPlacement validates a device/precision combination before any loading.
func checkPlacement(probe DeviceProbe, device, precision string) error {
	name, _, err := ParseDevice(device)
	if err != nil {
		return &PlacementError{Device: device, Precision: precision, Reason: err.Error()}
	}
	if !probe.Supports(device) {
		return &PlacementError{Device: device, Precision: precision, Reason: "device not available on host"}
	}

	switch precision {
	case config.PrecisionFull:
	case config.PrecisionReduced:
		if name == config.DeviceCPU {
			return &PlacementError{Device: device, Precision: precision, Reason: "reduced precision requires an accelerator device"}
		}
	default:
		return &PlacementError{Device: device, Precision: precision, Reason: "unknown precision mode"}
	}
	return nil
}
