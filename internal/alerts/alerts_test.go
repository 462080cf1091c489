package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewarden/internal/config"
)

type recordingAlerter struct {
	sent []Alert
	err  error
}

func (r *recordingAlerter) Send(_ context.Context, alert Alert) error {
	r.sent = append(r.sent, alert)
	return r.err
}

func TestManagerFanOut(t *testing.T) {
	a := &recordingAlerter{}
	b := &recordingAlerter{}
	m := NewManager(a, b)

	err := m.SendWarning(context.Background(), "test", "message", map[string]any{"k": "v"})
	require.NoError(t, err)
	require.Len(t, a.sent, 1)
	require.Len(t, b.sent, 1)
	assert.Equal(t, SeverityWarning, a.sent[0].Severity)
	assert.False(t, a.sent[0].Timestamp.IsZero())
}

func TestManagerFailingChannelDoesNotSuppressOthers(t *testing.T) {
	bad := &recordingAlerter{err: errors.New("chat unreachable")}
	good := &recordingAlerter{}
	m := NewManager(bad, good)

	err := m.SendCritical(context.Background(), "down", "engine stopped", nil)
	assert.Error(t, err)
	assert.Len(t, good.sent, 1)
}

func TestManagerDomainHelpers(t *testing.T) {
	rec := &recordingAlerter{}
	m := NewManager(rec)
	ctx := context.Background()

	m.RollbackExecuted(ctx, "1.2.0", "1.1.0", "latency regression")
	m.CircuitOpened(ctx, "binance", "5 consecutive failures")
	m.StatusDigest(ctx, 42, 3, 9, 1)
	m.ShutdownNotice(ctx, "SIGTERM")

	require.Len(t, rec.sent, 4)
	assert.Equal(t, SeverityCritical, rec.sent[0].Severity)
	assert.Equal(t, "1.1.0", rec.sent[0].Metadata["to_version"])
	assert.Equal(t, SeverityWarning, rec.sent[1].Severity)
	assert.Equal(t, SeverityInfo, rec.sent[2].Severity)
	assert.Equal(t, 42, rec.sent[2].Metadata["cycle"])
	assert.Contains(t, rec.sent[3].Message, "SIGTERM")
}

func TestFromConfigWithoutTelegram(t *testing.T) {
	m, err := FromConfig(config.AlertsConfig{})
	require.NoError(t, err)
	// Log channel only; sending must not error
	assert.NoError(t, m.SendInfo(context.Background(), "boot", "started", nil))
}

func TestTelegramFormat(t *testing.T) {
	tg := &TelegramAlerter{}
	msg := tg.formatAlert(Alert{
		Title:     "Deployment rolled back",
		Message:   "Rolled back 1.2.0 to stable 1.1.0",
		Severity:  SeverityCritical,
		Timestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		Metadata:  map[string]any{"reason": "latency regression"},
	})

	assert.Contains(t, msg, "*Deployment rolled back*")
	assert.Contains(t, msg, "Rolled back 1.2.0 to stable 1.1.0")
	assert.Contains(t, msg, "latency regression")
	assert.Contains(t, msg, "2026-08-25 12:00:00")
}
