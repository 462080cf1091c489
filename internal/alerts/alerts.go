// Package alerts delivers operator notifications: cycle status digests,
// safety trips, and rollback notices.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tradewarden/internal/config"
)

// Severity levels for alerts.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one operator notification.
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]any
}

// Alerter is one delivery channel.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to every configured channel. A failing channel
// never suppresses the others.
type Manager struct {
	alerters []Alerter
	logger   zerolog.Logger
}

// NewManager builds a manager over the given channels.
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{
		alerters: alerters,
		logger:   config.NewLogger("alerts"),
	}
}

// FromConfig builds the standard channel set: always the log channel,
// plus Telegram when a token is configured.
func FromConfig(cfg config.AlertsConfig) (*Manager, error) {
	channels := []Alerter{NewLogAlerter()}
	if cfg.TelegramToken != "" {
		tg, err := NewTelegramAlerter(cfg.TelegramToken, []int64{cfg.TelegramChatID})
		if err != nil {
			return nil, err
		}
		channels = append(channels, tg)
	}
	return NewManager(channels...), nil
}

// Send delivers one alert to all channels, returning the last failure.
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	var lastErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			m.logger.Error().Err(err).Str("title", alert.Title).Msg("Failed to send alert")
			lastErr = err
		}
	}
	return lastErr
}

// SendCritical delivers a CRITICAL alert.
func (m *Manager) SendCritical(ctx context.Context, title, message string, metadata map[string]any) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityCritical, Metadata: metadata})
}

// SendWarning delivers a WARNING alert.
func (m *Manager) SendWarning(ctx context.Context, title, message string, metadata map[string]any) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityWarning, Metadata: metadata})
}

// SendInfo delivers an INFO alert.
func (m *Manager) SendInfo(ctx context.Context, title, message string, metadata map[string]any) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityInfo, Metadata: metadata})
}

// RollbackExecuted notifies operators that a deployment rolled back and
// trading paused.
func (m *Manager) RollbackExecuted(ctx context.Context, fromVersion, toVersion, reason string) {
	_ = m.SendCritical(ctx, "Deployment rolled back", fmt.Sprintf(
		"Rolled back %s to stable %s: %s. Trading paused pending postmortem.",
		fromVersion, toVersion, reason,
	), map[string]any{
		"from_version": fromVersion,
		"to_version":   toVersion,
		"reason":       reason,
	})
}

// CircuitOpened notifies operators that the exchange circuit tripped.
func (m *Manager) CircuitOpened(ctx context.Context, name, reason string) {
	_ = m.SendWarning(ctx, "Circuit breaker opened", fmt.Sprintf(
		"Circuit %q opened: %s", name, reason,
	), map[string]any{"circuit": name, "reason": reason})
}

// StatusDigest delivers the periodic aggregate status line.
func (m *Manager) StatusDigest(ctx context.Context, cycle int, openPositions, activeBots, isolatedBots int) {
	_ = m.SendInfo(ctx, "Status digest", fmt.Sprintf(
		"Cycle %d: %d open position(s), %d active bot(s), %d isolated",
		cycle, openPositions, activeBots, isolatedBots,
	), map[string]any{
		"cycle":          cycle,
		"open_positions": openPositions,
		"active_bots":    activeBots,
		"isolated_bots":  isolatedBots,
	})
}

// ShutdownNotice announces a clean shutdown.
func (m *Manager) ShutdownNotice(ctx context.Context, reason string) {
	_ = m.SendInfo(ctx, "Engine shutting down", reason, nil)
}

// LogAlerter writes alerts to the structured log.
type LogAlerter struct {
	logger zerolog.Logger
}

// NewLogAlerter builds the log channel.
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{logger: config.NewLogger("alerts.log")}
}

func (l *LogAlerter) Send(ctx context.Context, alert Alert) error {
	var event *zerolog.Event
	switch alert.Severity {
	case SeverityCritical:
		event = l.logger.Error()
	case SeverityWarning:
		event = l.logger.Warn()
	default:
		event = l.logger.Info()
	}
	for key, value := range alert.Metadata {
		event = event.Interface(key, value)
	}
	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg(alert.Message)
	return nil
}
