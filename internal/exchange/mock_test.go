package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMock(t *testing.T) *MockClient {
	t.Helper()
	return NewMockClient([]string{"BTC/USDT", "ETH/USDT"}, WithSeed(42))
}

func TestMockGetTicker(t *testing.T) {
	mock := newTestMock(t)

	ticker, err := mock.GetTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", ticker.Symbol)
	assert.Greater(t, ticker.Last, 0.0)
	assert.GreaterOrEqual(t, ticker.Ask, ticker.Bid)

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := mock.GetTicker(context.Background(), "XRP/USDT")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMockDeterministicWalk(t *testing.T) {
	a := NewMockClient([]string{"BTC/USDT"}, WithSeed(7))
	b := NewMockClient([]string{"BTC/USDT"}, WithSeed(7))

	for i := 0; i < 5; i++ {
		ta, err := a.GetTicker(context.Background(), "BTC/USDT")
		require.NoError(t, err)
		tb, err := b.GetTicker(context.Background(), "BTC/USDT")
		require.NoError(t, err)
		assert.Equal(t, ta.Last, tb.Last, "walk diverged at step %d", i)
	}
}

func TestMockGetOHLCV(t *testing.T) {
	mock := newTestMock(t)

	candles, err := mock.GetOHLCV(context.Background(), "BTC/USDT", "1m", 50)
	require.NoError(t, err)
	require.Len(t, candles, 50)
	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i].OpenTime.After(candles[i-1].OpenTime))
	}
	for _, c := range candles {
		assert.GreaterOrEqual(t, c.High, c.Low)
	}

	t.Run("daily interval", func(t *testing.T) {
		candles, err := mock.GetOHLCV(context.Background(), "BTC/USDT", "1d", 3)
		require.NoError(t, err)
		assert.Equal(t, 24*time.Hour, candles[1].OpenTime.Sub(candles[0].OpenTime))
	})

	t.Run("bad interval", func(t *testing.T) {
		_, err := mock.GetOHLCV(context.Background(), "BTC/USDT", "daily", 3)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestMockGetOrderBook(t *testing.T) {
	mock := newTestMock(t)

	book, err := mock.GetOrderBook(context.Background(), "ETH/USDT", 5)
	require.NoError(t, err)
	assert.Len(t, book.Bids, 5)
	assert.Len(t, book.Asks, 5)
	assert.Less(t, book.Bids[0].Price, book.Asks[0].Price)
}

func TestMockPlaceOrder(t *testing.T) {
	mock := newTestMock(t)
	req := OrderRequest{
		ClientOrderID: "cycle-1-BTC/USDT-buy",
		Symbol:        "BTC/USDT",
		Side:          OrderSideBuy,
		Type:          OrderTypeMarket,
		Quantity:      0.5,
	}

	order, err := mock.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFilled, order.Status)
	assert.Equal(t, 0.5, order.FilledQty)
	assert.Greater(t, order.AvgFillPrice, 0.0)
	assert.Greater(t, order.Fees, 0.0)

	t.Run("idempotent on client order id", func(t *testing.T) {
		again, err := mock.PlaceOrder(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, order.ID, again.ID)
		assert.Equal(t, order.AvgFillPrice, again.AvgFillPrice)
	})

	t.Run("invalid request rejected", func(t *testing.T) {
		bad := req
		bad.ClientOrderID = "other"
		bad.Quantity = 0
		_, err := mock.PlaceOrder(context.Background(), bad)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("lookup by venue id", func(t *testing.T) {
		got, err := mock.GetOrder(context.Background(), order.ID.String())
		require.NoError(t, err)
		assert.Equal(t, order.ClientOrderID, got.ClientOrderID)
	})

	t.Run("cancel filled order conflicts", func(t *testing.T) {
		_, err := mock.CancelOrder(context.Background(), order.ID.String())
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestMockGetBalance(t *testing.T) {
	mock := NewMockClient([]string{"BTC/USDT"}, WithStartingBalance("USDT", 5_000))

	bal, err := mock.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, 5_000.0, bal.Free)

	empty, err := mock.GetBalance(context.Background(), "DOGE")
	require.NoError(t, err)
	assert.Equal(t, 0.0, empty.Free)
}

func TestMockHonorsContext(t *testing.T) {
	mock := newTestMock(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mock.GetTicker(ctx, "BTC/USDT")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrderRequestValidate(t *testing.T) {
	valid := OrderRequest{
		ClientOrderID: "abc",
		Symbol:        "BTC/USDT",
		Side:          OrderSideSell,
		Type:          OrderTypeLimit,
		Quantity:      1,
		Price:         100,
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*OrderRequest)
	}{
		{"missing client order id", func(r *OrderRequest) { r.ClientOrderID = "" }},
		{"missing symbol", func(r *OrderRequest) { r.Symbol = "" }},
		{"bad side", func(r *OrderRequest) { r.Side = "HOLD" }},
		{"bad type", func(r *OrderRequest) { r.Type = "STOP" }},
		{"zero quantity", func(r *OrderRequest) { r.Quantity = 0 }},
		{"limit without price", func(r *OrderRequest) { r.Price = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}
