package worker

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/jrepp/prism-modelpool/pkg/artifact"
	"github.com/jrepp/prism-modelpool/pkg/config"
)

// EndpointServer serves requests for one instance until ctx is cancelled.
type EndpointServer interface {
	Run(ctx context.Context) error
}

// ServerFactory constructs the endpoint server of an instance.
type ServerFactory func(ic config.InstanceConfig, ref artifact.Ref) (EndpointServer, error)

// BindError means the instance could not bind its listen address.
type BindError struct {
	Address string
	Cause   error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Address, e.Cause)
}

func (e *BindError) Unwrap() error {
	return e.Cause
}

// GRPCServer is the default endpoint server. It exposes the standard health
// service, reporting the instance name as SERVING, plus server reflection.
type GRPCServer struct {
	config config.InstanceConfig
	ref    artifact.Ref
	logger *zap.Logger
	health *health.Server
}

// NewGRPCServer creates the default endpoint server for ic.
func NewGRPCServer(ic config.InstanceConfig, ref artifact.Ref, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCServer{
		config: ic,
		ref:    ref,
		logger: logger,
		health: health.NewServer(),
	}
}

// DefaultServerFactory returns a factory for GRPCServer.
func DefaultServerFactory(logger *zap.Logger) ServerFactory {
	return func(ic config.InstanceConfig, ref artifact.Ref) (EndpointServer, error) {
		return NewGRPCServer(ic, ref, logger), nil
	}
}

// Run listens on the instance address and serves until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context) error {
	addr := s.config.Identity.Address()
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Address: addr, Cause: err}
	}

	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, s.health)
	reflection.Register(server)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(s.config.InstanceName, healthpb.HealthCheckResponse_SERVING)

	s.logger.Info("endpoint server listening",
		zap.String("instance", s.config.InstanceName),
		zap.String("address", lis.Addr().String()),
		zap.String("credential", s.config.Identity.CredentialRef),
		zap.String("artifact", s.ref.Digest))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		server.GracefulStop()
		<-errCh
		s.logger.Info("endpoint server stopped", zap.String("instance", s.config.InstanceName))
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("endpoint server failed: %w", err)
		}
		return nil
	}
}
