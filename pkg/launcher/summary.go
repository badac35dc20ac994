package launcher

import (
	"time"
)

// Outcome is the launch-level result
type Outcome string

const (
	// OutcomeHealthy means every instance started and ended cleanly
	OutcomeHealthy Outcome = "healthy"
	// OutcomeDegraded means at least one instance failed while the launch itself completed
	OutcomeDegraded Outcome = "degraded"
	// OutcomeAborted means the launch failed before any worker was spawned
	OutcomeAborted Outcome = "aborted"
)

// Process exit codes of the launcher binary per outcome
const (
	ExitHealthy  = 0
	ExitAborted  = 1
	ExitDegraded = 2
)

// NoExitCode is reported for an instance that never had a process to reap
const NoExitCode = -1

// InstanceOutcome reports what happened to one instance
type InstanceOutcome struct {
	Ordinal       int       `json:"ordinal" yaml:"ordinal"`
	InstanceName  string    `json:"instance_name" yaml:"instance_name"`
	CredentialRef string    `json:"credential_ref" yaml:"credential_ref"`
	Address       string    `json:"address" yaml:"address"`
	Port          int       `json:"port" yaml:"port"`
	PID           int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	State         string    `json:"state" yaml:"state"`
	ExitCode      int       `json:"exit_code" yaml:"exit_code"`
	Ready         bool      `json:"ready" yaml:"ready"`
	StartedAt     time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	ExitedAt      time.Time `json:"exited_at,omitempty" yaml:"exited_at,omitempty"`
	ErrorCode     ErrorCode `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	Error         string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failed reports whether the instance did not end cleanly
func (o InstanceOutcome) Failed() bool {
	return o.ErrorCode != ""
}

// Summary is the report of one launch
type Summary struct {
	LaunchID       string            `json:"launch_id" yaml:"launch_id"`
	Outcome        Outcome           `json:"outcome" yaml:"outcome"`
	InstanceCount  int               `json:"instance_count" yaml:"instance_count"`
	ModelReference string            `json:"model_reference" yaml:"model_reference"`
	ArtifactPath   string            `json:"artifact_path,omitempty" yaml:"artifact_path,omitempty"`
	ArtifactDigest string            `json:"artifact_digest,omitempty" yaml:"artifact_digest,omitempty"`
	Instances      []InstanceOutcome `json:"instances" yaml:"instances"`
	Unconsumed     []int             `json:"unconsumed,omitempty" yaml:"unconsumed,omitempty"`
	StartedAt      time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt     time.Time         `json:"finished_at" yaml:"finished_at"`
	ErrorCode      ErrorCode         `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	Error          string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// Duration returns how long the launch ran
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// FailedOrdinals returns the ordinals of instances that did not end cleanly
func (s *Summary) FailedOrdinals() []int {
	var failed []int
	for _, inst := range s.Instances {
		if inst.Failed() {
			failed = append(failed, inst.Ordinal)
		}
	}
	return failed
}

// HealthyCount returns the number of instances that ended cleanly
func (s *Summary) HealthyCount() int {
	return len(s.Instances) - len(s.FailedOrdinals())
}

// ExitCode maps the outcome to the launcher process exit code
func (s *Summary) ExitCode() int {
	switch s.Outcome {
	case OutcomeHealthy:
		return ExitHealthy
	case OutcomeDegraded:
		return ExitDegraded
	default:
		return ExitAborted
	}
}

// decideOutcome derives the launch outcome from instance outcomes
func decideOutcome(instances []InstanceOutcome) Outcome {
	for _, inst := range instances {
		if inst.Failed() {
			return OutcomeDegraded
		}
	}
	return OutcomeHealthy
}
