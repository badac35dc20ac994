package procmgr

import (
	"context"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jrepp/prism-modelpool/pkg/config"
)

const (
	probeBaseDelay    = 50 * time.Millisecond
	probeMaxDelay     = time.Second
	probeCheckTimeout = 500 * time.Millisecond
)

// probeAddress maps wildcard listen hosts to loopback
func probeAddress(id config.Identity) string {
	host := id.ListenHost
	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}
	return net.JoinHostPort(host, strconv.Itoa(id.ListenPort))
}

// probeReadiness polls the worker's gRPC health service until it reports
// SERVING, the worker exits, or the readiness timeout passes. A worker that
// never becomes ready keeps running; only its Ready flag stays false.
func (s *Supervisor) probeReadiness(ws *workerStatus, logger *zap.Logger) {
	defer s.wg.Done()

	addr := probeAddress(ws.config.Identity)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Warn("readiness probe unavailable", zap.String("address", addr), zap.Error(err))
		return
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), s.readinessTimeout)
	defer cancel()

	attempts := 0
	for {
		attempts++
		checkCtx, checkCancel := context.WithTimeout(ctx, probeCheckTimeout)
		resp, err := client.Check(checkCtx, &healthpb.HealthCheckRequest{Service: ws.config.InstanceName})
		checkCancel()

		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			s.mu.Lock()
			ws.ready = true
			s.mu.Unlock()
			s.metrics.ReadinessProbe(ws.id, attempts, true)
			logger.Info("worker ready", zap.String("address", addr), zap.Int("attempts", attempts))
			return
		}

		select {
		case <-ws.done:
			s.metrics.ReadinessProbe(ws.id, attempts, false)
			return
		case <-ctx.Done():
			s.metrics.ReadinessProbe(ws.id, attempts, false)
			logger.Warn("worker not ready within timeout",
				zap.Duration("timeout", s.readinessTimeout),
				zap.Int("attempts", attempts),
				zap.Error(err))
			return
		case <-time.After(ExponentialBackoff(attempts-1, probeBaseDelay, probeMaxDelay)):
		}
	}
}
