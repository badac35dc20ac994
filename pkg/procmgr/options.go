package procmgr

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Option configures the Supervisor
type Option func(*Supervisor)

// WithCommand sets how worker processes are built
func WithCommand(fn CommandFunc) Option {
	return func(s *Supervisor) {
		s.command = fn
	}
}

// WithHandoffTimeout bounds payload delivery per worker
func WithHandoffTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.handoffTimeout = d
	}
}

// WithReadinessTimeout bounds the health probe per worker (0 disables probing)
func WithReadinessTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.readinessTimeout = d
	}
}

// WithGracePeriod sets how long JoinAll waits after SIGTERM when interrupted
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		s.gracePeriod = d
	}
}

// WithSpawnRate paces spawns to perSecond (0 means unlimited)
func WithSpawnRate(perSecond float64) Option {
	return func(s *Supervisor) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(s *Supervisor) {
		s.metrics = mc
	}
}
