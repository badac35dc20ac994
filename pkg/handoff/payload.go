// Package handoff moves identity-tagged payloads from the launcher to workers.
//
// Within the launcher a Channel holds one slot per ordinal so each payload is
// consumed exactly once by the matching receiver. Across the process boundary
// Deliver and Accept exchange the same payload as a length-delimited protobuf
// frame, followed by an acknowledgement frame from the worker.
package handoff

import (
	"github.com/jrepp/prism-modelpool/pkg/artifact"
	"github.com/jrepp/prism-modelpool/pkg/config"
)

// ProtocolVersion is bumped whenever the payload layout changes.
const ProtocolVersion = 1

// Payload is what one worker needs to start serving.
type Payload struct {
	ProtocolVersion int                   `yaml:"protocol_version"`
	LaunchID        string                `yaml:"launch_id"`
	Artifact        artifact.Ref          `yaml:"artifact"`
	Config          config.InstanceConfig `yaml:"config"`
}

// NewPayload tags an instance config for a launch.
func NewPayload(launchID string, ref artifact.Ref, ic config.InstanceConfig) Payload {
	return Payload{
		ProtocolVersion: ProtocolVersion,
		LaunchID:        launchID,
		Artifact:        ref,
		Config:          ic.Clone(),
	}
}

// Ordinal returns the instance ordinal the payload is addressed to.
func (p Payload) Ordinal() int {
	return p.Config.Identity.Ordinal
}
