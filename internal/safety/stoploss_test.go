package safety

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewarden/internal/config"
	"tradewarden/internal/market"
)

func testStopConfig() config.StopLossConfig {
	return config.StopLossConfig{
		BasePct:       2.0,
		ATRMultiplier: 1.5,
		MinPct:        0.5,
		MaxPct:        5.0,
		ATRPeriod:     14,
		Timeframe:     "1h",
	}
}

// flatCandles returns n candles with a constant 100-point true range
// around the given price.
func flatCandles(n int, price float64) []market.OHLCV {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.OHLCV, n)
	for i := range candles {
		candles[i] = market.OHLCV{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     price,
			High:     price + 50,
			Low:      price - 50,
			Close:    price,
			Volume:   10,
		}
	}
	return candles
}

func TestATR(t *testing.T) {
	t.Run("constant range", func(t *testing.T) {
		atr, err := ATR(flatCandles(20, 50_000), 14)
		require.NoError(t, err)
		assert.InDelta(t, 100, atr, 1e-9)
	})

	t.Run("gap widens true range", func(t *testing.T) {
		candles := flatCandles(20, 50_000)
		// Close of the second-to-last candle gaps far below the final
		// candle's low; true range must use the previous close.
		candles[18].Close = 49_000
		atr, err := ATR(candles, 14)
		require.NoError(t, err)
		assert.Greater(t, atr, 100.0)
	})

	t.Run("insufficient data", func(t *testing.T) {
		_, err := ATR(flatCandles(10, 50_000), 14)
		assert.Error(t, err)
	})

	t.Run("bad period", func(t *testing.T) {
		_, err := ATR(flatCandles(10, 50_000), 0)
		assert.Error(t, err)
	})
}

func TestStopLossDistanceClamped(t *testing.T) {
	sl := NewStopLoss(testStopConfig())

	// ATR 100 on price 50000: 2.0 + 1.5*0.2 = 2.3 pct
	d := sl.distance(100, 50_000)
	assert.InDelta(t, 0.023, d, 1e-9)

	// Huge volatility clamps at max_pct
	d = sl.distance(5_000, 50_000)
	assert.InDelta(t, 0.05, d, 1e-9)

	// Tiny volatility clamps at base_pct floor... base 2.0 is above min,
	// so the base dominates
	d = sl.distance(0, 50_000)
	assert.InDelta(t, 0.02, d, 1e-9)
}

func TestStopLossTrackAndTrigger(t *testing.T) {
	sl := NewStopLoss(testStopConfig())
	ref := PositionRef{ID: uuid.New(), Symbol: "BTC/USDT", Side: "LONG", EntryPrice: 50_000}

	require.NoError(t, sl.Track(ref, flatCandles(20, 50_000)))

	stop, ok := sl.StopPrice(ref.ID)
	require.True(t, ok)
	// distance 2.3% -> stop at 48850
	assert.InDelta(t, 48_850, stop, 0.01)

	t.Run("price above stop does nothing", func(t *testing.T) {
		assert.Nil(t, sl.OnTick(ref.ID, 49_500))
	})

	t.Run("crossing the stop emits a close directive", func(t *testing.T) {
		directive := sl.OnTick(ref.ID, 48_800)
		require.NotNil(t, directive)
		assert.Equal(t, ref.ID, directive.PositionID)
		assert.Equal(t, "BTC/USDT", directive.Symbol)
		assert.Equal(t, 48_800.0, directive.LastPrice)

		// Tracking is dropped after the directive
		_, ok := sl.StopPrice(ref.ID)
		assert.False(t, ok)
	})
}

func TestStopLossTrailsMonotonically(t *testing.T) {
	sl := NewStopLoss(testStopConfig())
	ref := PositionRef{ID: uuid.New(), Symbol: "ETH/USDT", Side: "LONG", EntryPrice: 3_000}

	require.NoError(t, sl.Track(ref, flatCandles(20, 3_000)))
	initial, _ := sl.StopPrice(ref.ID)

	// Favorable move lifts the stop
	require.Nil(t, sl.OnTick(ref.ID, 3_300))
	raised, _ := sl.StopPrice(ref.ID)
	assert.Greater(t, raised, initial)

	// Adverse move (still above the stop) must not lower it
	require.Nil(t, sl.OnTick(ref.ID, 3_250))
	held, _ := sl.StopPrice(ref.ID)
	assert.Equal(t, raised, held)

	// Re-tracking with fresh candles cannot loosen an established stop
	require.NoError(t, sl.Track(ref, flatCandles(20, 3_000)))
	after, _ := sl.StopPrice(ref.ID)
	assert.Equal(t, raised, after)
}

func TestStopLossShortSide(t *testing.T) {
	sl := NewStopLoss(testStopConfig())
	ref := PositionRef{ID: uuid.New(), Symbol: "BTC/USDT", Side: "SHORT", EntryPrice: 50_000}

	require.NoError(t, sl.Track(ref, flatCandles(20, 50_000)))
	stop, _ := sl.StopPrice(ref.ID)
	// Mirrored above the entry
	assert.InDelta(t, 51_150, stop, 0.01)

	// Favorable (downward) move lowers the stop
	require.Nil(t, sl.OnTick(ref.ID, 49_000))
	trailed, _ := sl.StopPrice(ref.ID)
	assert.Less(t, trailed, stop)

	// Rising price crosses the short stop
	directive := sl.OnTick(ref.ID, trailed+1)
	require.NotNil(t, directive)
}

func TestStopLossAdjustStop(t *testing.T) {
	sl := NewStopLoss(testStopConfig())
	ref := PositionRef{ID: uuid.New(), Symbol: "BTC/USDT", Side: "LONG", EntryPrice: 50_000}

	require.NoError(t, sl.Track(ref, flatCandles(20, 50_000)))
	initial, _ := sl.StopPrice(ref.ID)

	// Raising the stop (profit lock) is honored
	assert.True(t, sl.AdjustStop(ref.ID, initial+500))
	raised, _ := sl.StopPrice(ref.ID)
	assert.Equal(t, initial+500, raised)

	// Loosening is refused
	assert.False(t, sl.AdjustStop(ref.ID, initial))
	held, _ := sl.StopPrice(ref.ID)
	assert.Equal(t, raised, held)

	// Unknown positions are refused
	assert.False(t, sl.AdjustStop(uuid.New(), 1))
}

func TestStopLossForget(t *testing.T) {
	sl := NewStopLoss(testStopConfig())
	ref := PositionRef{ID: uuid.New(), Symbol: "BTC/USDT", Side: "LONG", EntryPrice: 50_000}

	require.NoError(t, sl.Track(ref, flatCandles(20, 50_000)))
	sl.Forget(ref.ID)

	_, ok := sl.StopPrice(ref.ID)
	assert.False(t, ok)
	assert.Nil(t, sl.OnTick(ref.ID, 1))
}
