package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Lifecycle event types published during a launch
const (
	EventLaunchStarting        = "launch.starting"
	EventArtifactPrepared      = "artifact.prepared"
	EventInstanceSpawned       = "instance.spawned"
	EventInstanceFailedToStart = "instance.failed_to_start"
	EventInstanceExited        = "instance.exited"
	EventLaunchCompleted       = "launch.completed"
	EventLaunchAborted         = "launch.aborted"
)

// EventPublisher defines the interface for publishing launch lifecycle events.
//
// Event types:
//   - launch.starting: a launch was accepted and got its launch ID
//   - artifact.prepared: the shared artifact is sealed
//   - instance.spawned: a worker acknowledged its payload
//   - instance.failed_to_start: a worker never acknowledged its payload
//   - instance.exited: a worker was reaped
//   - launch.completed: every worker was joined (healthy or degraded)
//   - launch.aborted: the launch failed before any worker was spawned
type EventPublisher interface {
	// ReportLifecycleEvent sends a lifecycle event
	//
	// Parameters:
	//   ctx: Context for the operation
	//   eventType: Type of event (launch.starting, instance.exited, etc.)
	//   message: Human-readable description of the event
	//   metadata: Additional context (launch_id, ordinal, exit_code, etc.)
	//
	// Returns error if the event could not be delivered.
	ReportLifecycleEvent(ctx context.Context, eventType, message string, metadata map[string]string) error
}

// NoopEventPublisher drops every event
type NoopEventPublisher struct{}

// ReportLifecycleEvent does nothing
func (n *NoopEventPublisher) ReportLifecycleEvent(ctx context.Context, eventType, message string, metadata map[string]string) error {
	return nil
}

// LogEventPublisher writes events to a zap logger
type LogEventPublisher struct {
	logger *zap.Logger
}

// NewLogEventPublisher creates a publisher that logs at info level
func NewLogEventPublisher(logger *zap.Logger) *LogEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEventPublisher{logger: logger}
}

// ReportLifecycleEvent logs the event with its metadata as fields
func (p *LogEventPublisher) ReportLifecycleEvent(ctx context.Context, eventType, message string, metadata map[string]string) error {
	fields := make([]zap.Field, 0, len(metadata)+1)
	fields = append(fields, zap.String("event", eventType))
	for k, v := range metadata {
		fields = append(fields, zap.String(k, v))
	}
	p.logger.Info(message, fields...)
	return nil
}

// LifecycleEvent is the JSON body of a published event
type LifecycleEvent struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NATSConfig configures the NATS event publisher
type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
}

// NATSEventPublisher publishes events as JSON on <prefix>.<event type>
type NATSEventPublisher struct {
	conn    *nats.Conn
	prefix  string
	timeout time.Duration
	owned   bool
}

// NewNATSEventPublisher connects to NATS and returns a publisher that owns the connection
func NewNATSEventPublisher(cfg NATSConfig, logger *zap.Logger) (*NATSEventPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name("modelpool-launcher"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("disconnected from NATS", zap.Error(err))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := NewNATSEventPublisherWithConn(conn, cfg.SubjectPrefix)
	p.timeout = cfg.Timeout
	p.owned = true
	return p, nil
}

// NewNATSEventPublisherWithConn publishes on an existing connection
func NewNATSEventPublisherWithConn(conn *nats.Conn, prefix string) *NATSEventPublisher {
	if prefix == "" {
		prefix = "modelpool"
	}
	return &NATSEventPublisher{conn: conn, prefix: prefix, timeout: 5 * time.Second}
}

// Subject returns the subject an event type is published on
func (p *NATSEventPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// ReportLifecycleEvent publishes the event and flushes it to the server
func (p *NATSEventPublisher) ReportLifecycleEvent(ctx context.Context, eventType, message string, metadata map[string]string) error {
	body, err := json.Marshal(LifecycleEvent{
		Type:      eventType,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if err := p.conn.Publish(p.Subject(eventType), body); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	// FlushWithContext requires a deadline
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.conn.FlushWithContext(ctx)
}

// Close closes the connection if the publisher opened it
func (p *NATSEventPublisher) Close() {
	if p.owned {
		p.conn.Close()
	}
}

// NewEventPublisher builds the publisher selected by cfg.Backend
func NewEventPublisher(cfg EventsConfig, logger *zap.Logger) (EventPublisher, error) {
	switch cfg.Backend {
	case "", "none":
		return &NoopEventPublisher{}, nil
	case "log":
		return NewLogEventPublisher(logger), nil
	case "nats":
		p, err := NewNATSEventPublisher(cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}
