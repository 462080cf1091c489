// Package exchange provides the venue client abstraction. MockClient
// (paper trading) and BinanceClient (live trading) both implement Client;
// everything above this package talks to the venue through the safety
// envelope, never to a Client directly.
package exchange

import (
	"context"
	"fmt"

	"tradewarden/internal/market"
)

// Client is the raw venue interface. Implementations do their own wire
// handling but no rate limiting or circuit breaking; that belongs to the
// safety envelope wrapping them.
type Client interface {
	// Name identifies the backend, e.g. "mock" or "binance".
	Name() string

	// GetTicker returns the latest quote for a symbol.
	GetTicker(ctx context.Context, symbol string) (*market.Ticker, error)

	// GetOrderBook returns bids and asks up to depth levels per side.
	GetOrderBook(ctx context.Context, symbol string, depth int) (*market.OrderBook, error)

	// GetOHLCV returns up to limit candles for the interval, oldest first.
	GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]market.OHLCV, error)

	// PlaceOrder submits an order. Resubmitting the same ClientOrderID
	// returns the original order instead of creating a new one.
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// GetOrder looks up an order by its venue ID.
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// CancelOrder cancels an open order by its venue ID.
	CancelOrder(ctx context.Context, orderID string) (*Order, error)

	// GetBalance returns the balance of a single asset.
	GetBalance(ctx context.Context, asset string) (*Balance, error)
}

func wrapValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
