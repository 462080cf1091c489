package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{name: "canonical pair", symbol: "BTC/USDT", wantErr: false},
		{name: "numeric base", symbol: "1INCH/USDT", wantErr: false},
		{name: "missing separator", symbol: "BTCUSDT", wantErr: true},
		{name: "lowercase", symbol: "btc/usdt", wantErr: true},
		{name: "empty quote", symbol: "BTC/", wantErr: true},
		{name: "base too short", symbol: "B/USDT", wantErr: true},
		{name: "base too long", symbol: "ABCDEFGHIJK/USDT", wantErr: true},
		{name: "empty", symbol: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func testTicker() *Ticker {
	return &Ticker{
		Symbol:    "BTC/USDT",
		Last:      50000,
		Bid:       49995,
		Ask:       50005,
		Volume24h: 1_500_000,
		Change24h: 0.012,
		FetchedAt: time.Now(),
	}
}

func testCandles(n int) []OHLCV {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]OHLCV, n)
	for i := range candles {
		candles[i] = OHLCV{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     50000,
			High:     50100,
			Low:      49900,
			Close:    50050,
			Volume:   10,
		}
	}
	return candles
}

func TestNewSnapshot(t *testing.T) {
	t.Run("valid snapshot", func(t *testing.T) {
		snap, err := NewSnapshot(testTicker(), testCandles(5))
		require.NoError(t, err)
		assert.Equal(t, "BTC/USDT", snap.Symbol)
		assert.Len(t, snap.OHLCV, 5)
		assert.InDelta(t, 0.02, snap.SpreadPct, 0.001)
	})

	t.Run("crossed book rejected", func(t *testing.T) {
		ticker := testTicker()
		ticker.Bid = 50010
		_, err := NewSnapshot(ticker, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "crossed book")
	})

	t.Run("out of order candles rejected", func(t *testing.T) {
		candles := testCandles(3)
		candles[2].OpenTime = candles[0].OpenTime.Add(-time.Hour)
		_, err := NewSnapshot(testTicker(), candles)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of order")
	})

	t.Run("non-positive last price rejected", func(t *testing.T) {
		ticker := testTicker()
		ticker.Last = 0
		_, err := NewSnapshot(ticker, nil)
		assert.Error(t, err)
	})

	t.Run("invalid symbol rejected", func(t *testing.T) {
		ticker := testTicker()
		ticker.Symbol = "btcusdt"
		_, err := NewSnapshot(ticker, nil)
		assert.Error(t, err)
	})

	t.Run("candles are copied", func(t *testing.T) {
		candles := testCandles(2)
		snap, err := NewSnapshot(testTicker(), candles)
		require.NoError(t, err)
		candles[0].Close = 1
		assert.Equal(t, 50050.0, snap.OHLCV[0].Close)
	})
}

func TestSnapshotCloses(t *testing.T) {
	snap, err := NewSnapshot(testTicker(), testCandles(4))
	require.NoError(t, err)
	closes := snap.Closes()
	require.Len(t, closes, 4)
	for _, c := range closes {
		assert.Equal(t, 50050.0, c)
	}
}
