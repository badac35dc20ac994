package procmgr

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadySpawned = errors.New("worker already spawned for ordinal")
	ErrTerminating    = errors.New("supervisor is terminating")
)

// HandoffError means the payload never reached the worker, or was not acknowledged.
type HandoffError struct {
	Ordinal int
	Cause   error
}

func (e *HandoffError) Error() string {
	return fmt.Sprintf("handoff to worker %d failed: %v", e.Ordinal, e.Cause)
}

func (e *HandoffError) Unwrap() error {
	return e.Cause
}

// InterruptedError means the spawn was abandoned because its context was
// cancelled, not because the worker misbehaved.
type InterruptedError struct {
	Ordinal int
	Stage   string
	Cause   error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("spawn of worker %d interrupted during %s: %v", e.Ordinal, e.Stage, e.Cause)
}

func (e *InterruptedError) Unwrap() error {
	return e.Cause
}

// StartError means the OS refused to start the worker process.
type StartError struct {
	Ordinal int
	Cause   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start worker %d: %v", e.Ordinal, e.Cause)
}

func (e *StartError) Unwrap() error {
	return e.Cause
}

// ExitError reports a worker that exited with a non-zero code.
type ExitError struct {
	Ordinal  int
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("worker %d exited with code %d", e.Ordinal, e.ExitCode)
}
