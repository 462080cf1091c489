package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewarden/internal/bots"
	"tradewarden/internal/config"
	"tradewarden/internal/positions"
)

func TestNormalizeHaltReason(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"max drawdown 12% exceeded", HaltReasonDrawdown},
		{"Volatility spike on BTCUSDT", HaltReasonVolatility},
		{"exchange rate limit hit", HaltReasonRateLimit},
		{"rug pull suspected: liquidity drained", HaltReasonRugPull},
		{"manual halt via API", HaltReasonManual},
		{"something unexpected", HaltReasonOther},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHaltReason(tt.reason))
		})
	}
}

type stubLedger struct {
	open []*positions.Position
	err  error
}

func (s *stubLedger) GetOpen(context.Context) ([]*positions.Position, error) {
	return s.open, s.err
}

type stubFleet struct {
	statuses []bots.Status
}

func (s *stubFleet) StatusSummary() []bots.Status { return s.statuses }

func TestSamplerPositions(t *testing.T) {
	ledger := &stubLedger{open: []*positions.Position{
		{ID: uuid.New(), Symbol: "BTC/USDT", Side: positions.SideLong, EntryPrice: 50000, Amount: 0.1},
		{ID: uuid.New(), Symbol: "BTC/USDT", Side: positions.SideLong, EntryPrice: 51000, Amount: 0.1},
		{ID: uuid.New(), Symbol: "ETH/USDT", Side: positions.SideShort, EntryPrice: 3000, Amount: 1},
	}}

	s := NewSampler(ledger, nil, time.Minute)
	s.Sample(context.Background())

	assert.InDelta(t, 3, testutil.ToFloat64(OpenPositions), 1e-9)
	assert.InDelta(t, 50000*0.1+51000*0.1, testutil.ToFloat64(PositionExposure.WithLabelValues("BTC/USDT")), 1e-9)
	assert.InDelta(t, 3000, testutil.ToFloat64(PositionExposure.WithLabelValues("ETH/USDT")), 1e-9)

	// A symbol with no remaining positions drops out entirely.
	ledger.open = ledger.open[:2]
	s.Sample(context.Background())
	assert.InDelta(t, 2, testutil.ToFloat64(OpenPositions), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(PositionExposure))
}

func TestSamplerFleet(t *testing.T) {
	fleet := &stubFleet{statuses: []bots.Status{
		{Name: "rsi_momentum", Health: bots.HealthOK},
		{Name: "lstm_forecast", Health: bots.HealthOK},
		{Name: "whale_watch", Health: bots.HealthDegraded},
	}}

	s := NewSampler(nil, fleet, time.Minute)
	s.Sample(context.Background())

	assert.InDelta(t, 2, testutil.ToFloat64(ActiveBots), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(BotHealth.WithLabelValues("rsi_momentum")), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(BotHealth.WithLabelValues("whale_watch")), 1e-9)
}

func TestServerEndpoints(t *testing.T) {
	RecordCycle(0.25)
	RecordHalt("max drawdown breached")

	srv := httptest.NewServer(NewServer(config.MonitoringConfig{MetricsPort: 0}).handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tradewarden_cycles_total")
	assert.Contains(t, string(body), `tradewarden_safety_halts_total{reason="max_drawdown"}`)
}
