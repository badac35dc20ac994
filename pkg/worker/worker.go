// Package worker is the entry point of a spawned worker process.
//
// A worker receives its payload over the handoff pipe, checks the shared
// artifact, optionally warms up, and then runs its endpoint server until it
// is told to stop. It never relies on memory inherited from the launcher.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/jrepp/prism-modelpool/pkg/artifact"
	"github.com/jrepp/prism-modelpool/pkg/config"
	"github.com/jrepp/prism-modelpool/pkg/handoff"
)

// Worker exit codes.
const (
	ExitOK                  = 0
	ExitRuntime             = 1
	ExitBind                = 3
	ExitArtifactUnavailable = 4
	ExitHandoff             = 5
)

// Options wires a worker to its handoff pipes and endpoint server.
type Options struct {
	PayloadReader io.Reader
	AckWriter     io.Writer
	ServerFactory ServerFactory
	Logger        *zap.Logger
}

// HandoffFiles returns the inherited payload and ack pipe ends.
func HandoffFiles() (*os.File, *os.File, error) {
	payload := os.NewFile(uintptr(handoff.PayloadFD), "handoff-payload")
	ack := os.NewFile(uintptr(handoff.AckFD), "handoff-ack")
	if payload == nil || ack == nil {
		return nil, nil, fmt.Errorf("handoff pipes not inherited on fd %d/%d", handoff.PayloadFD, handoff.AckFD)
	}
	if _, err := payload.Stat(); err != nil {
		return nil, nil, fmt.Errorf("handoff payload pipe unusable: %w", err)
	}
	return payload, ack, nil
}

// Main runs the worker and returns its exit code.
func Main(ctx context.Context, opts Options) int {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ServerFactory == nil {
		opts.ServerFactory = DefaultServerFactory(logger)
	}

	p, err := handoff.Accept(opts.PayloadReader, opts.AckWriter)
	if err != nil {
		logger.Error("handoff failed", zap.Error(err))
		return ExitHandoff
	}

	ic := p.Config
	logger = logger.With(
		zap.String("launch_id", p.LaunchID),
		zap.Int("ordinal", ic.Identity.Ordinal),
		zap.String("instance", ic.InstanceName),
		zap.Int("port", ic.Identity.ListenPort))
	logger.Info("payload accepted", zap.Int("pid", os.Getpid()))

	if err := artifact.Verify(p.Artifact, ic.VerifyArtifact); err != nil {
		logger.Error("artifact unavailable", zap.Error(err))
		return ExitArtifactUnavailable
	}

	reservation, err := warmup(ic.WarmupBytes)
	if err != nil {
		logger.Error("warm-up refused", zap.Error(err))
		return ExitRuntime
	}
	if len(reservation) > 0 {
		logger.Info("warm-up reservation held", zap.Int("bytes", len(reservation)))
	}

	srv, err := opts.ServerFactory(ic, p.Artifact)
	if err != nil {
		logger.Error("failed to construct endpoint server", zap.Error(err))
		return ExitRuntime
	}

	err = srv.Run(ctx)
	runtime.KeepAlive(reservation)

	var bindErr *BindError
	switch {
	case err == nil:
		logger.Info("worker exiting")
		return ExitOK
	case errors.As(err, &bindErr):
		logger.Error("endpoint bind failed", zap.String("address", bindErr.Address), zap.Error(bindErr.Cause))
		return ExitBind
	default:
		logger.Error("endpoint server failed", zap.Error(err))
		return ExitRuntime
	}
}

// warmup allocates n bytes and touches every page so the memory is resident.
func warmup(n int64) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > config.MaxWarmupBytes {
		return nil, fmt.Errorf("warm-up of %d bytes exceeds the %d byte limit", n, config.MaxWarmupBytes)
	}
	buf := make([]byte, n)
	page := os.Getpagesize()
	for i := 0; i < len(buf); i += page {
		buf[i] = 1
	}
	return buf, nil
}
