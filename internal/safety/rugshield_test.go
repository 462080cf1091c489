package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewarden/internal/config"
	"tradewarden/internal/market"
)

func testShieldConfig() config.RugShieldConfig {
	return config.RugShieldConfig{
		MinLiquidityUSD: 1_000_000,
		MinVolume24hUSD: 100_000,
		MaxSpreadPct:    1.0,
	}
}

func healthySnapshot(t *testing.T) *market.Snapshot {
	t.Helper()
	snap, err := market.NewSnapshot(&market.Ticker{
		Symbol:    "BTC/USDT",
		Last:      50_000,
		Bid:       49_990,
		Ask:       50_010,
		Volume24h: 5_000_000,
		FetchedAt: time.Now(),
	}, nil)
	require.NoError(t, err)
	return snap
}

func deepBook(notional float64) *market.OrderBook {
	// Single fat level per side; liquidity = 2 * notional
	return &market.OrderBook{
		Symbol: "BTC/USDT",
		Bids:   []market.OrderBookLevel{{Price: 50_000, Amount: notional / 50_000}},
		Asks:   []market.OrderBookLevel{{Price: 50_010, Amount: notional / 50_010}},
	}
}

func TestRugShieldPassesHealthySymbol(t *testing.T) {
	rs := NewRugShield(testShieldConfig())

	a := rs.Assess(healthySnapshot(t), deepBook(2_000_000))
	assert.True(t, a.Safe)
	assert.Zero(t, a.Score)
	assert.Equal(t, RiskLow, a.Level)
	assert.Empty(t, a.Reasons)
}

func TestRugShieldScoring(t *testing.T) {
	rs := NewRugShield(testShieldConfig())

	t.Run("thin liquidity alone stays below threshold", func(t *testing.T) {
		a := rs.Assess(healthySnapshot(t), deepBook(100_000))
		assert.Equal(t, scoreLowLiquidity, a.Score)
		assert.Equal(t, RiskMedium, a.Level)
		assert.True(t, a.Safe)
	})

	t.Run("thin liquidity plus dead volume rejects", func(t *testing.T) {
		snap, err := market.NewSnapshot(&market.Ticker{
			Symbol:    "BTC/USDT",
			Last:      50_000,
			Bid:       49_990,
			Ask:       50_010,
			Volume24h: 50_000, // below minimum
			FetchedAt: time.Now(),
		}, nil)
		require.NoError(t, err)

		a := rs.Assess(snap, deepBook(100_000))
		assert.Equal(t, scoreLowLiquidity+scoreLowVolume, a.Score)
		assert.False(t, a.Safe)
		assert.Equal(t, RiskHigh, a.Level)
		assert.Len(t, a.Reasons, 2)
	})

	t.Run("wide spread contributes", func(t *testing.T) {
		snap, err := market.NewSnapshot(&market.Ticker{
			Symbol:    "BTC/USDT",
			Last:      50_000,
			Bid:       49_000,
			Ask:       51_000, // 4% spread
			Volume24h: 5_000_000,
			FetchedAt: time.Now(),
		}, nil)
		require.NoError(t, err)

		a := rs.Assess(snap, deepBook(2_000_000))
		assert.Equal(t, scoreWideSpread, a.Score)
		assert.True(t, a.Safe)
	})
}

func TestRugShieldBlacklist(t *testing.T) {
	cfg := testShieldConfig()
	cfg.Blacklist = []string{"SCAM/USDT"}
	rs := NewRugShield(cfg)

	snap, err := market.NewSnapshot(&market.Ticker{
		Symbol:    "SCAM/USDT",
		Last:      1,
		Bid:       0.999,
		Ask:       1.001,
		Volume24h: 10_000_000,
		FetchedAt: time.Now(),
	}, nil)
	require.NoError(t, err)

	a := rs.Assess(snap, deepBook(10_000_000))
	assert.False(t, a.Safe)
	assert.Equal(t, RiskCritical, a.Level)
	assert.Equal(t, 100, a.Score)

	t.Run("runtime blacklist", func(t *testing.T) {
		rs.Blacklist("BTC/USDT")
		a := rs.Assess(healthySnapshot(t), deepBook(5_000_000))
		assert.False(t, a.Safe)
	})
}

func TestRugShieldNilBookFallsBackToVolume(t *testing.T) {
	rs := NewRugShield(testShieldConfig())

	// 24h volume of 5M stands in for liquidity when no book is available
	a := rs.Assess(healthySnapshot(t), nil)
	assert.True(t, a.Safe)
}
