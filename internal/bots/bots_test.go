package bots

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewarden/internal/market"
)

// snapshotFromCloses builds a snapshot whose candles close at the given
// values, oldest first.
func snapshotFromCloses(t *testing.T, symbol string, closes []float64) *market.Snapshot {
	t.Helper()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.OHLCV, len(closes))
	for i, c := range closes {
		o := c
		if i > 0 {
			o = closes[i-1]
		}
		hi, lo := o, c
		if c > hi {
			hi = c
		}
		if o < lo {
			lo = o
		}
		candles[i] = market.OHLCV{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     o,
			High:     hi * 1.0005,
			Low:      lo * 0.9995,
			Close:    c,
			Volume:   100,
		}
	}
	last := closes[len(closes)-1]
	snap, err := market.NewSnapshot(&market.Ticker{
		Symbol:    symbol,
		Last:      last,
		Bid:       last * 0.9999,
		Ask:       last * 1.0001,
		Volume24h: 5_000_000,
		FetchedAt: base.Add(time.Duration(len(closes)) * time.Hour),
	}, candles)
	require.NoError(t, err)
	return snap
}

// ramp produces n closes multiplying by factor each step.
func ramp(n int, start, factor float64) []float64 {
	out := make([]float64, n)
	v := start
	for i := range out {
		out[i] = v
		v *= factor
	}
	return out
}

func TestRSIBotSignals(t *testing.T) {
	bot := NewRSIBot(14)

	t.Run("steady decline is oversold", func(t *testing.T) {
		snap := snapshotFromCloses(t, "BTC/USDT", ramp(40, 50_000, 0.99))
		sig, err := bot.Analyze(context.Background(), snap)
		require.NoError(t, err)
		assert.Equal(t, ActionBuy, sig.Action)
		assert.Greater(t, sig.Confidence, 0.0)
	})

	t.Run("steady climb is overbought", func(t *testing.T) {
		snap := snapshotFromCloses(t, "BTC/USDT", ramp(40, 50_000, 1.01))
		sig, err := bot.Analyze(context.Background(), snap)
		require.NoError(t, err)
		assert.Equal(t, ActionSell, sig.Action)
	})

	t.Run("insufficient data errors", func(t *testing.T) {
		snap := snapshotFromCloses(t, "BTC/USDT", ramp(5, 50_000, 1))
		_, err := bot.Analyze(context.Background(), snap)
		assert.Error(t, err)
	})
}

func TestLSTMMomentumBot(t *testing.T) {
	bot := NewLSTMMomentumBot(10)

	t.Run("uptrend buys", func(t *testing.T) {
		snap := snapshotFromCloses(t, "ETH/USDT", ramp(20, 3_000, 1.01))
		sig, err := bot.Analyze(context.Background(), snap)
		require.NoError(t, err)
		assert.Equal(t, ActionBuy, sig.Action)
		assert.Greater(t, sig.Confidence, 0.15)
	})

	t.Run("downtrend sells", func(t *testing.T) {
		snap := snapshotFromCloses(t, "ETH/USDT", ramp(20, 3_000, 0.99))
		sig, err := bot.Analyze(context.Background(), snap)
		require.NoError(t, err)
		assert.Equal(t, ActionSell, sig.Action)
	})

	t.Run("flat market holds", func(t *testing.T) {
		snap := snapshotFromCloses(t, "ETH/USDT", ramp(20, 3_000, 1))
		sig, err := bot.Analyze(context.Background(), snap)
		require.NoError(t, err)
		assert.Equal(t, ActionHold, sig.Action)
	})
}

func TestGridBot(t *testing.T) {
	bot := NewGridBot(1.0, 5)
	ctx := context.Background()

	// First sight anchors the grid
	snap := snapshotFromCloses(t, "BTC/USDT", ramp(5, 50_000, 1))
	sig, err := bot.Analyze(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)

	t.Run("drop below a grid level buys", func(t *testing.T) {
		snap := snapshotFromCloses(t, "BTC/USDT", []float64{49_000, 48_900, 48_950})
		sig, err := bot.Analyze(ctx, snap)
		require.NoError(t, err)
		assert.Equal(t, ActionBuy, sig.Action)
	})

	t.Run("rise above a grid level sells", func(t *testing.T) {
		snap := snapshotFromCloses(t, "BTC/USDT", []float64{51_000, 51_100, 51_050})
		sig, err := bot.Analyze(ctx, snap)
		require.NoError(t, err)
		assert.Equal(t, ActionSell, sig.Action)
	})

	t.Run("leaving the grid re-anchors", func(t *testing.T) {
		snap := snapshotFromCloses(t, "BTC/USDT", []float64{80_000, 80_100, 80_050})
		sig, err := bot.Analyze(ctx, snap)
		require.NoError(t, err)
		assert.Equal(t, ActionHold, sig.Action)
		assert.Contains(t, sig.Reason, "re-anchored")
	})
}

func TestVWAPBot(t *testing.T) {
	bot := NewVWAPBot(20)
	ctx := context.Background()

	t.Run("price rich to vwap sells", func(t *testing.T) {
		// Flat series then a late jump leaves price above vwap
		closes := append(ramp(25, 3_000, 1), 3_100, 3_120)
		snap := snapshotFromCloses(t, "ETH/USDT", closes)
		sig, err := bot.Analyze(ctx, snap)
		require.NoError(t, err)
		assert.Equal(t, ActionSell, sig.Action)
	})

	t.Run("price cheap to vwap buys", func(t *testing.T) {
		closes := append(ramp(25, 3_000, 1), 2_900, 2_880)
		snap := snapshotFromCloses(t, "ETH/USDT", closes)
		sig, err := bot.Analyze(ctx, snap)
		require.NoError(t, err)
		assert.Equal(t, ActionBuy, sig.Action)
	})
}

func TestMACDBot(t *testing.T) {
	bot := NewMACDBot()
	ctx := context.Background()

	t.Run("insufficient data errors", func(t *testing.T) {
		snap := snapshotFromCloses(t, "BTC/USDT", ramp(30, 50_000, 1))
		_, err := bot.Analyze(ctx, snap)
		assert.Error(t, err)
	})

	t.Run("reports histogram", func(t *testing.T) {
		snap := snapshotFromCloses(t, "BTC/USDT", ramp(60, 50_000, 1.002))
		sig, err := bot.Analyze(ctx, snap)
		require.NoError(t, err)
		assert.Contains(t, sig.Indicators, "histogram")
		assert.Contains(t, []Action{ActionBuy, ActionSell, ActionHold}, sig.Action)
	})
}

func TestBollingerBot(t *testing.T) {
	bot := NewBollingerBot(20)
	ctx := context.Background()

	t.Run("inside the bands holds", func(t *testing.T) {
		snap := snapshotFromCloses(t, "ETH/USDT", ramp(25, 3_000, 1))
		sig, err := bot.Analyze(ctx, snap)
		require.NoError(t, err)
		assert.Equal(t, ActionHold, sig.Action)
	})

	t.Run("spike above the upper band sells", func(t *testing.T) {
		closes := append(ramp(25, 3_000, 1), 3_120)
		snap := snapshotFromCloses(t, "ETH/USDT", closes)
		sig, err := bot.Analyze(ctx, snap)
		require.NoError(t, err)
		assert.Equal(t, ActionSell, sig.Action)
	})

	t.Run("spike below the lower band buys", func(t *testing.T) {
		closes := append(ramp(25, 3_000, 1), 2_880)
		snap := snapshotFromCloses(t, "ETH/USDT", closes)
		sig, err := bot.Analyze(ctx, snap)
		require.NoError(t, err)
		assert.Equal(t, ActionBuy, sig.Action)
	})
}

func TestVaRGuardBot(t *testing.T) {
	bot := NewVaRGuardBot(0.95, 0.03)
	ctx := context.Background()

	t.Run("calm market holds", func(t *testing.T) {
		snap := snapshotFromCloses(t, "BTC/USDT", ramp(40, 50_000, 1.001))
		sig, err := bot.Analyze(ctx, snap)
		require.NoError(t, err)
		assert.Equal(t, ActionHold, sig.Action)
		assert.Zero(t, sig.Confidence)
	})

	t.Run("violent drawdowns reach veto strength", func(t *testing.T) {
		// Repeated 6% drops put the tail loss far past the 3% limit
		closes := make([]float64, 0, 40)
		v := 50_000.0
		for i := 0; i < 40; i++ {
			if i%3 == 0 {
				v *= 0.94
			} else {
				v *= 1.005
			}
			closes = append(closes, v)
		}
		snap := snapshotFromCloses(t, "BTC/USDT", closes)
		sig, err := bot.Analyze(ctx, snap)
		require.NoError(t, err)
		assert.Equal(t, ActionSell, sig.Action)
		assert.GreaterOrEqual(t, sig.Confidence, 0.9)
		assert.Equal(t, CategoryRisk, sig.Category)
	})
}

func TestProfitLockBot(t *testing.T) {
	bot := NewProfitLockBot(3.0, 0.5)
	ctx := context.Background()

	tick := PositionTick{
		PositionID: uuid.New(),
		Symbol:     "BTC/USDT",
		Side:       "LONG",
		EntryPrice: 50_000,
		Amount:     1,
	}

	t.Run("below trigger does nothing", func(t *testing.T) {
		tick := tick
		tick.LastPrice = 50_500 // +1%
		eval, err := bot.Evaluate(ctx, tick)
		require.NoError(t, err)
		assert.False(t, eval.Close)
		assert.Nil(t, eval.AdjustStop)
	})

	t.Run("above trigger locks half the gain", func(t *testing.T) {
		tick := tick
		tick.LastPrice = 53_000 // +6%
		eval, err := bot.Evaluate(ctx, tick)
		require.NoError(t, err)
		require.NotNil(t, eval.AdjustStop)
		// lock 3% of entry: 51500
		assert.InDelta(t, 51_500, *eval.AdjustStop, 0.01)
	})

	t.Run("short side mirrors", func(t *testing.T) {
		tick := tick
		tick.Side = "SHORT"
		tick.LastPrice = 47_000 // +6% for a short
		eval, err := bot.Evaluate(ctx, tick)
		require.NoError(t, err)
		require.NotNil(t, eval.AdjustStop)
		assert.InDelta(t, 48_500, *eval.AdjustStop, 0.01)
	})
}

func TestWhaleWatchBot(t *testing.T) {
	bot := NewWhaleWatchBot(5)
	ctx := context.Background()

	normal := snapshotFromCloses(t, "BTC/USDT", ramp(10, 50_000, 1))
	for i := 0; i < 5; i++ {
		require.NoError(t, bot.Update(ctx, normal))
	}
	assert.Zero(t, bot.Spikes("BTC/USDT"))

	// A candle printing 10x the running average volume is a spike
	spike := snapshotFromCloses(t, "BTC/USDT", ramp(10, 50_000, 1))
	spike.OHLCV[len(spike.OHLCV)-1].Volume = 1_000
	require.NoError(t, bot.Update(ctx, spike))
	assert.Equal(t, 1, bot.Spikes("BTC/USDT"))

	status := bot.Status()
	assert.Equal(t, 1.0, status.Metrics["spikes_observed"])
}
