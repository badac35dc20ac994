package handoff

import (
	"errors"
	"fmt"
)

var (
	ErrClosed           = errors.New("handoff channel closed")
	ErrChannelFull      = errors.New("handoff channel full")
	ErrDuplicateOrdinal = errors.New("payload already sent for ordinal")
	ErrForeignLaunch    = errors.New("payload belongs to another launch")
	ErrInvalidOrdinal   = errors.New("invalid ordinal")
	ErrAlreadyClaimed   = errors.New("payload already claimed")
	ErrProtocolMismatch = errors.New("handoff protocol version mismatch")
	ErrMalformedPayload = errors.New("malformed handoff payload")
	ErrAckMismatch      = errors.New("handoff acknowledgement does not match payload")
)

// TimeoutError is returned when a payload is not handed off in time.
type TimeoutError struct {
	LaunchID string
	Ordinal  int
	Cause    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("handoff for ordinal %d of launch %s timed out: %v", e.Ordinal, e.LaunchID, e.Cause)
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
