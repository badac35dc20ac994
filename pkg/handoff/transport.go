package handoff

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"
)

// File descriptors a worker process finds its handoff pipes on.
const (
	PayloadFD = 3
	AckFD     = 4
)

// Deliver writes p to w and waits for the worker's acknowledgement on ackR.
// If ctx ends first a *TimeoutError is returned; the caller must close the
// pipes to release the pending I/O.
func Deliver(ctx context.Context, p Payload, w io.Writer, ackR io.Reader) error {
	msg, err := Encode(p)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	result := make(chan error, 1)
	go func() {
		if _, err := protodelim.MarshalTo(w, msg); err != nil {
			result <- fmt.Errorf("failed to write payload: %w", err)
			return
		}

		ack := &structpb.Struct{}
		if err := protodelim.UnmarshalFrom(bufio.NewReader(ackR), ack); err != nil {
			result <- fmt.Errorf("failed to read acknowledgement: %w", err)
			return
		}
		launchID, ordinal := decodeAck(ack)
		if launchID != p.LaunchID || ordinal != p.Ordinal() {
			result <- fmt.Errorf("%w: got %s/%d, want %s/%d", ErrAckMismatch, launchID, ordinal, p.LaunchID, p.Ordinal())
			return
		}
		result <- nil
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return &TimeoutError{LaunchID: p.LaunchID, Ordinal: p.Ordinal(), Cause: ctx.Err()}
	}
}

// Accept reads one payload from r and acknowledges it on ackW.
func Accept(r io.Reader, ackW io.Writer) (Payload, error) {
	msg := &structpb.Struct{}
	if err := protodelim.UnmarshalFrom(bufio.NewReader(r), msg); err != nil {
		return Payload{}, fmt.Errorf("failed to read payload: %w", err)
	}

	p, err := Decode(msg)
	if err != nil {
		return Payload{}, err
	}
	if p.ProtocolVersion != ProtocolVersion {
		return Payload{}, fmt.Errorf("%w: got %d, want %d", ErrProtocolMismatch, p.ProtocolVersion, ProtocolVersion)
	}

	ack, err := encodeAck(p)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to encode acknowledgement: %w", err)
	}
	if _, err := protodelim.MarshalTo(ackW, ack); err != nil {
		return Payload{}, fmt.Errorf("failed to write acknowledgement: %w", err)
	}
	return p, nil
}
