// Package events publishes the engine's outbound event stream over NATS.
// Consumers are dashboards and alerting; the engine never reads these
// subjects back, so publication is fire-and-forget.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"tradewarden/internal/config"
)

// Subjects relative to the configured topic prefix.
const (
	SubjectCycleStarted        = "cycle.started"
	SubjectCycleCompleted      = "cycle.completed"
	SubjectDecisionEmitted     = "decision.emitted"
	SubjectOrderPlaced         = "order.placed"
	SubjectPositionOpened      = "position.opened"
	SubjectPositionClosed      = "position.closed"
	SubjectPositionDiscrepancy = "position.discrepancy"
	SubjectStopLossTriggered   = "stoploss.triggered"
	SubjectCircuitStateChanged = "safety.circuit_state_changed"
	SubjectRateLimitHit        = "safety.rate_limit_hit"
	SubjectRugShieldRejected   = "safety.rug_shield_rejected"
	SubjectHeliosPhase         = "helios.phase_decision"
	SubjectHeliosRollback      = "helios.rollback_triggered"
	SubjectPostmortemOpened    = "helios.postmortem_opened"
	SubjectPostmortemClosed    = "helios.postmortem_closed"
	SubjectBotIsolated         = "bot.isolated"
)

// Publisher delivers engine events to the outside world.
type Publisher interface {
	// Publish sends one event. Implementations must not block the
	// trading cycle; failures are logged, never returned to the caller's
	// control flow.
	Publish(ctx context.Context, subject string, payload any)

	// Close flushes and releases the transport.
	Close()
}

// Envelope is the wire form of every published event.
type Envelope struct {
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NATSPublisher publishes JSON envelopes to a NATS subject tree.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

// NewNATSPublisher connects to the configured NATS server.
func NewNATSPublisher(cfg config.NATSConfig) (*NATSPublisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("tradewarden"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: cfg.TopicPrefix,
		logger: config.NewLogger("events"),
	}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) {
	full := p.prefix + "." + subject
	data, err := json.Marshal(Envelope{
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		p.logger.Error().Err(err).Str("subject", full).Msg("Failed to encode event")
		return
	}
	if err := p.conn.Publish(full, data); err != nil {
		p.logger.Warn().Err(err).Str("subject", full).Msg("Failed to publish event")
	}
}

func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn().Err(err).Msg("NATS drain failed")
	}
	p.conn.Close()
}

// NoopPublisher discards all events, used when NATS is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) {}
func (NoopPublisher) Close()                               {}

// New returns a NATS publisher when enabled, otherwise a no-op.
func New(cfg config.NATSConfig) (Publisher, error) {
	if !cfg.Enabled {
		return NoopPublisher{}, nil
	}
	return NewNATSPublisher(cfg)
}
