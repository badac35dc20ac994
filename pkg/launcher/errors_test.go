package launcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jrepp/prism-modelpool/pkg/artifact"
	"github.com/jrepp/prism-modelpool/pkg/config"
	"github.com/jrepp/prism-modelpool/pkg/handoff"
	"github.com/jrepp/prism-modelpool/pkg/procmgr"
)

func TestLauncherError(t *testing.T) {
	err := NewError(ErrorCodeResourceUnavailable, "Artifact missing")

	if err.Code != ErrorCodeResourceUnavailable {
		t.Errorf("Expected code %s, got %s", ErrorCodeResourceUnavailable, err.Code)
	}

	errStr := err.Error()
	if !strings.Contains(errStr, string(ErrorCodeResourceUnavailable)) {
		t.Errorf("Error string should contain error code: %s", errStr)
	}

	if !strings.Contains(errStr, "Artifact missing") {
		t.Errorf("Error string should contain message: %s", errStr)
	}
}

func TestLauncherErrorWithContext(t *testing.T) {
	err := NewError(ErrorCodeBindFailed, "Bind failed").
		WithContext("instance", "hw2").
		WithContext("address", "0.0.0.0:9001")

	errStr := err.Error()

	// Context keys are rendered in sorted order
	if !strings.Contains(errStr, "Context: address=0.0.0.0:9001, instance=hw2") {
		t.Errorf("Error should contain sorted context: %s", errStr)
	}
}

func TestLauncherErrorWithCause(t *testing.T) {
	cause := errors.New("file not found")
	err := NewError(ErrorCodeResourceUnavailable, "Artifact missing").
		WithCause(cause)

	if err.Cause != cause {
		t.Error("Cause should be set")
	}

	if !strings.Contains(err.Error(), "file not found") {
		t.Errorf("Error should contain cause: %s", err.Error())
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should work with Unwrap")
	}
}

func TestErrConfigurationInvalid(t *testing.T) {
	_, cause := config.Build(config.BaseConfig{ModelReference: "m", BasePort: 9000, CredentialPrefix: "hw"}, 0)
	err := ErrConfigurationInvalid(cause)

	if err.Code != ErrorCodeConfigurationInvalid {
		t.Errorf("Expected code %s, got %s", ErrorCodeConfigurationInvalid, err.Code)
	}

	if err.Context["field"] != "instance_count" {
		t.Errorf("Context should name the invalid field, got %v", err.Context["field"])
	}

	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		t.Error("errors.As should reach the validation error")
	}
}

func TestClassifyPrepareError(t *testing.T) {
	base := config.BaseConfig{ModelReference: "/models/missing.bin"}

	missing := classifyPrepareError(base, &artifact.ResourceUnavailableError{Reference: base.ModelReference, Reason: "file does not exist"})
	if missing.Code != ErrorCodeResourceUnavailable {
		t.Errorf("Expected code %s, got %s", ErrorCodeResourceUnavailable, missing.Code)
	}
	if missing.Context["model_reference"] != "/models/missing.bin" {
		t.Error("Context should contain model_reference")
	}

	placement := classifyPrepareError(base, fmt.Errorf("wrapped: %w", &artifact.PlacementError{Device: "cpu", Precision: "reduced", Reason: "no accelerator"}))
	if placement.Code != ErrorCodePlacementUnsupported {
		t.Errorf("Expected code %s, got %s", ErrorCodePlacementUnsupported, placement.Code)
	}
	if placement.Context["device"] != "cpu" {
		t.Error("Context should contain device")
	}
}

func TestClassifyResult(t *testing.T) {
	tests := []struct {
		name   string
		result procmgr.Result
		want   ErrorCode
	}{
		{
			name:   "clean exit",
			result: procmgr.Result{State: procmgr.WorkerStateExited, ExitCode: 0},
		},
		{
			name:   "bind failure",
			result: procmgr.Result{State: procmgr.WorkerStateExited, ExitCode: 3},
			want:   ErrorCodeBindFailed,
		},
		{
			name:   "artifact unavailable in worker",
			result: procmgr.Result{State: procmgr.WorkerStateExited, ExitCode: 4},
			want:   ErrorCodeResourceUnavailable,
		},
		{
			name:   "handoff failure in worker",
			result: procmgr.Result{State: procmgr.WorkerStateExited, ExitCode: 5},
			want:   ErrorCodeHandoffTimeout,
		},
		{
			name:   "runtime failure",
			result: procmgr.Result{State: procmgr.WorkerStateExited, ExitCode: 1},
			want:   ErrorCodeWorkerRuntime,
		},
		{
			name:   "killed",
			result: procmgr.Result{State: procmgr.WorkerStateKilled, ExitCode: -1},
			want:   ErrorCodeWorkerKilled,
		},
		{
			name: "handoff timeout",
			result: procmgr.Result{
				State: procmgr.WorkerStateFailedToStart,
				Err:   &procmgr.HandoffError{Ordinal: 0, Cause: &handoff.TimeoutError{LaunchID: "l", Ordinal: 0}},
			},
			want: ErrorCodeHandoffTimeout,
		},
		{
			name: "cancelled during handoff",
			result: procmgr.Result{
				State: procmgr.WorkerStateFailedToStart,
				Err: &procmgr.InterruptedError{
					Ordinal: 0,
					Stage:   "deliver",
					Cause:   &handoff.TimeoutError{LaunchID: "l", Ordinal: 0, Cause: context.Canceled},
				},
			},
			want: ErrorCodeInterrupted,
		},
		{
			name: "start failure",
			result: procmgr.Result{
				State: procmgr.WorkerStateFailedToStart,
				Err:   &procmgr.StartError{Ordinal: 0, Cause: errors.New("exec: not found")},
			},
			want: ErrorCodeProcessStartFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyResult(tt.result)
			if tt.want == "" {
				if got != nil {
					t.Errorf("Expected no error, got %v", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("Expected code %s, got nil", tt.want)
			}
			if got.Code != tt.want {
				t.Errorf("Expected code %s, got %s", tt.want, got.Code)
			}
		})
	}
}

func TestErrBindFailed(t *testing.T) {
	err := ErrBindFailed("hw2", "0.0.0.0:9001", errors.New("exit 3"))

	if !strings.Contains(err.Suggestion, "0.0.0.0:9001") {
		t.Error("Suggestion should include the address")
	}
	if !strings.Contains(err.Suggestion, "base_port") {
		t.Error("Suggestion should mention base_port")
	}
}

func TestIsErrorCode(t *testing.T) {
	err := NewError(ErrorCodeCompatibilityFailed, "test")

	if !IsErrorCode(err, ErrorCodeCompatibilityFailed) {
		t.Error("IsErrorCode should return true for matching code")
	}

	if IsErrorCode(err, ErrorCodeProcessStartFailed) {
		t.Error("IsErrorCode should return false for non-matching code")
	}

	wrapped := fmt.Errorf("launch: %w", err)
	if !IsErrorCode(wrapped, ErrorCodeCompatibilityFailed) {
		t.Error("IsErrorCode should see through wrapping")
	}

	if IsErrorCode(errors.New("other error"), ErrorCodeCompatibilityFailed) {
		t.Error("IsErrorCode should return false for non-LauncherError")
	}
}

func TestGetErrorCodeAndSuggestion(t *testing.T) {
	err := NewError(ErrorCodeHandoffTimeout, "test").
		WithSuggestion("Raise handoff_timeout")

	if code := GetErrorCode(err); code != ErrorCodeHandoffTimeout {
		t.Errorf("Expected code %s, got %s", ErrorCodeHandoffTimeout, code)
	}
	if s := GetSuggestion(err); s != "Raise handoff_timeout" {
		t.Errorf("Expected suggestion, got %s", s)
	}

	otherErr := errors.New("other error")
	if code := GetErrorCode(otherErr); code != "" {
		t.Errorf("Expected empty code for non-LauncherError, got %s", code)
	}
	if s := GetSuggestion(otherErr); s != "" {
		t.Errorf("Expected empty suggestion for non-LauncherError, got %s", s)
	}
}
