package launcher

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jrepp/prism-modelpool/pkg/artifact"
	"github.com/jrepp/prism-modelpool/pkg/config"
	"github.com/jrepp/prism-modelpool/pkg/handoff"
	"github.com/jrepp/prism-modelpool/pkg/procmgr"
	"github.com/jrepp/prism-modelpool/pkg/worker"
)

// LauncherError represents an error with additional context for troubleshooting.
type LauncherError struct {
	// Code identifies the error type
	Code ErrorCode

	// Message is the primary error message
	Message string

	// Context provides additional details
	Context map[string]interface{}

	// Cause is the underlying error (if any)
	Cause error

	// Suggestion provides actionable guidance for resolving the error
	Suggestion string
}

// ErrorCode identifies categories of errors
type ErrorCode string

const (
	// Launch-level errors: the launch is aborted and nothing is spawned
	ErrorCodeConfigurationInvalid ErrorCode = "CONFIGURATION_INVALID"
	ErrorCodeResourceUnavailable  ErrorCode = "RESOURCE_UNAVAILABLE"
	ErrorCodePlacementUnsupported ErrorCode = "PLACEMENT_UNSUPPORTED"
	ErrorCodeCompatibilityFailed  ErrorCode = "COMPATIBILITY_FAILED"
	ErrorCodeLaunchInterrupted    ErrorCode = "LAUNCH_INTERRUPTED"

	// Instance-level errors: one worker is lost, its siblings keep running
	ErrorCodeBindFailed         ErrorCode = "BIND_FAILED"
	ErrorCodeWorkerRuntime      ErrorCode = "WORKER_RUNTIME"
	ErrorCodeWorkerKilled       ErrorCode = "WORKER_KILLED"
	ErrorCodeHandoffTimeout     ErrorCode = "HANDOFF_TIMEOUT"
	ErrorCodeProcessStartFailed ErrorCode = "PROCESS_START_FAILED"
	ErrorCodeNotSpawned         ErrorCode = "NOT_SPAWNED"
	ErrorCodeInterrupted        ErrorCode = "INTERRUPTED"

	// Internal errors
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// Error implements the error interface
func (e *LauncherError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "; ")
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *LauncherError) Unwrap() error {
	return e.Cause
}

// NewError creates a new LauncherError with the given code and message
func NewError(code ErrorCode, message string) *LauncherError {
	return &LauncherError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *LauncherError) WithContext(key string, value interface{}) *LauncherError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause to the error
func (e *LauncherError) WithCause(cause error) *LauncherError {
	e.Cause = cause
	return e
}

// WithSuggestion adds an actionable suggestion to the error
func (e *LauncherError) WithSuggestion(suggestion string) *LauncherError {
	e.Suggestion = suggestion
	return e
}

// Common error constructors with helpful suggestions

// ErrConfigurationInvalid wraps a launch parameter rejected before any work started
func ErrConfigurationInvalid(cause error) *LauncherError {
	err := NewError(ErrorCodeConfigurationInvalid, "Launch configuration is invalid").
		WithCause(cause).
		WithSuggestion(
			"Check the launch parameters:\n" +
				"  - instance_count must be at least 1\n" +
				"  - model_reference, base_port and credential_prefix are required\n" +
				"  - base_port + instance_count - 1 must not exceed 65535")

	var verr *config.ValidationError
	if errors.As(cause, &verr) {
		err.WithContext("field", verr.Field).WithContext("value", verr.Value)
	}
	return err
}

// ErrResourceUnavailable wraps a model artifact that could not be loaded
func ErrResourceUnavailable(reference string, cause error) *LauncherError {
	return NewError(ErrorCodeResourceUnavailable,
		fmt.Sprintf("Model artifact '%s' is unavailable", reference)).
		WithContext("model_reference", reference).
		WithCause(cause).
		WithSuggestion(
			"Verify the artifact exists and is readable:\n" +
				"  - local paths: ls -la <path>\n" +
				"  - s3 references: aws s3 ls s3://<bucket>/<key>")
}

// ErrPlacementUnsupported wraps a device/precision combination the host cannot serve
func ErrPlacementUnsupported(device, precision string, cause error) *LauncherError {
	return NewError(ErrorCodePlacementUnsupported,
		fmt.Sprintf("Cannot place artifact on %s with %s precision", device, precision)).
		WithContext("device", device).
		WithContext("precision", precision).
		WithCause(cause).
		WithSuggestion(
			"Reduced precision requires an accelerator device.\n" +
				"Use device=cpu with precision_mode=full, or check that the device is present (ls /dev/nvidia*)")
}

// ErrCompatibilityFailed wraps a failed environment/version check
func ErrCompatibilityFailed(cause error) *LauncherError {
	return NewError(ErrorCodeCompatibilityFailed, "Compatibility check failed").
		WithContext("protocol_version", handoff.ProtocolVersion).
		WithCause(cause).
		WithSuggestion(
			"The worker binary must speak the same handoff protocol as the launcher.\n" +
				"Check: <worker-executable> version --protocol")
}

// ErrLaunchInterrupted wraps a cancellation that arrived before any worker
// process was started
func ErrLaunchInterrupted(cause error) *LauncherError {
	return NewError(ErrorCodeLaunchInterrupted, "Launch was interrupted before any worker started").
		WithCause(cause).
		WithSuggestion("The launch was cancelled by a signal or deadline; rerun it to start the pool")
}

// ErrInterrupted creates an error for a worker whose start was abandoned
// because the launch was cancelled
func ErrInterrupted(instance string, cause error) *LauncherError {
	return NewError(ErrorCodeInterrupted,
		fmt.Sprintf("Start of worker '%s' was interrupted", instance)).
		WithContext("instance", instance).
		WithCause(cause)
}

// ErrProcessStartFailed creates an error for process start failures
func ErrProcessStartFailed(instance string, cause error) *LauncherError {
	return NewError(ErrorCodeProcessStartFailed,
		fmt.Sprintf("Failed to start worker '%s'", instance)).
		WithContext("instance", instance).
		WithCause(cause).
		WithSuggestion(
			"Common causes:\n" +
				"  1. Worker executable not found or not runnable\n" +
				"  2. Insufficient permissions\n" +
				"  3. Process or file descriptor limits reached")
}

// ErrHandoffTimeout creates an error for a worker that never acknowledged its payload
func ErrHandoffTimeout(instance string, cause error) *LauncherError {
	return NewError(ErrorCodeHandoffTimeout,
		fmt.Sprintf("Worker '%s' did not acknowledge its payload", instance)).
		WithContext("instance", instance).
		WithCause(cause).
		WithSuggestion("Raise handoff_timeout or check the worker logs for a startup crash")
}

// ErrBindFailed creates an error for a worker that could not bind its port
func ErrBindFailed(instance, address string, cause error) *LauncherError {
	return NewError(ErrorCodeBindFailed,
		fmt.Sprintf("Worker '%s' could not bind %s", instance, address)).
		WithContext("instance", instance).
		WithContext("address", address).
		WithCause(cause).
		WithSuggestion(fmt.Sprintf(
			"Find the process holding the port:\n"+
				"  ss -ltnp | grep %s\n"+
				"or choose a different base_port", address))
}

// ErrWorkerRuntime creates an error for a worker that exited with a failure code
func ErrWorkerRuntime(instance string, exitCode int, cause error) *LauncherError {
	return NewError(ErrorCodeWorkerRuntime,
		fmt.Sprintf("Worker '%s' exited with code %d", instance, exitCode)).
		WithContext("instance", instance).
		WithContext("exit_code", exitCode).
		WithCause(cause).
		WithSuggestion("Check the worker logs on stderr for details")
}

// ErrWorkerKilled creates an error for a worker ended by a signal
func ErrWorkerKilled(instance string, cause error) *LauncherError {
	return NewError(ErrorCodeWorkerKilled,
		fmt.Sprintf("Worker '%s' was killed by a signal", instance)).
		WithContext("instance", instance).
		WithCause(cause).
		WithSuggestion(
			"The worker ignored SIGTERM for the whole grace period, or was killed externally.\n" +
				"Raise grace_period or check dmesg for the OOM killer")
}

// classifyPrepareError maps a Resource Preparer failure to a launch error
func classifyPrepareError(base config.BaseConfig, err error) *LauncherError {
	var perr *artifact.PlacementError
	if errors.As(err, &perr) {
		return ErrPlacementUnsupported(perr.Device, perr.Precision, err)
	}
	return ErrResourceUnavailable(base.ModelReference, err)
}

// classifyResult maps a worker outcome to an instance-level error, or nil for
// a worker that ended cleanly.
func classifyResult(r procmgr.Result) *LauncherError {
	switch r.State {
	case procmgr.WorkerStateFailedToStart:
		var interrupted *procmgr.InterruptedError
		if errors.As(r.Err, &interrupted) {
			return ErrInterrupted(r.InstanceName, r.Err)
		}
		var startErr *procmgr.StartError
		if errors.As(r.Err, &startErr) {
			return ErrProcessStartFailed(r.InstanceName, r.Err)
		}
		return ErrHandoffTimeout(r.InstanceName, r.Err)

	case procmgr.WorkerStateKilled:
		return ErrWorkerKilled(r.InstanceName, r.Err)

	case procmgr.WorkerStateExited:
		switch r.ExitCode {
		case worker.ExitOK:
			return nil
		case worker.ExitBind:
			return ErrBindFailed(r.InstanceName, r.Address, r.Err)
		case worker.ExitArtifactUnavailable:
			return NewError(ErrorCodeResourceUnavailable,
				fmt.Sprintf("Worker '%s' could not verify the shared artifact", r.InstanceName)).
				WithContext("instance", r.InstanceName).
				WithCause(r.Err).
				WithSuggestion("The sealed artifact was removed or modified after preparation; relaunch to reseal it")
		case worker.ExitHandoff:
			return ErrHandoffTimeout(r.InstanceName, r.Err)
		default:
			return ErrWorkerRuntime(r.InstanceName, r.ExitCode, r.Err)
		}
	}

	return nil
}

// IsErrorCode checks if an error has the specified error code
func IsErrorCode(err error, code ErrorCode) bool {
	var launcherErr *LauncherError
	if errors.As(err, &launcherErr) {
		return launcherErr.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or empty string if not a LauncherError
func GetErrorCode(err error) ErrorCode {
	var launcherErr *LauncherError
	if errors.As(err, &launcherErr) {
		return launcherErr.Code
	}
	return ""
}

// GetSuggestion returns the suggestion from an error, or empty string if not available
func GetSuggestion(err error) string {
	var launcherErr *LauncherError
	if errors.As(err, &launcherErr) {
		return launcherErr.Suggestion
	}
	return ""
}
