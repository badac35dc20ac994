package artifact

import "fmt"

// ResourceUnavailableError means the named artifact could not be located or read.
type ResourceUnavailableError struct {
	Reference string
	Reason    string
	Cause     error
}

func (e *ResourceUnavailableError) Error() string {
	msg := fmt.Sprintf("artifact %q unavailable: %s", e.Reference, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResourceUnavailableError) Unwrap() error {
	return e.Cause
}

// PlacementError means the device/precision combination is unsupported on this host.
type PlacementError struct {
	Device    string
	Precision string
	Reason    string
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("cannot place artifact on %s at %s precision: %s", e.Device, e.Precision, e.Reason)
}
