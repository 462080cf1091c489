package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tradewarden/internal/config"
	"tradewarden/internal/events"
	"tradewarden/internal/exchange"
	"tradewarden/internal/market"
)

// Envelope wraps a raw venue client with the safety policies. It
// implements exchange.Client, so everything above it calls the venue
// through the envelope and never directly.
type Envelope struct {
	client    exchange.Client
	limiter   *RateLimiter
	breaker   *Breaker
	rugShield *RugShield
	stopLoss  *StopLoss
	timeout   time.Duration
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewEnvelope assembles the safety envelope around a venue client.
func NewEnvelope(client exchange.Client, cfg *config.Config, publisher events.Publisher) *Envelope {
	e := &Envelope{
		client:    client,
		limiter:   NewRateLimiter(cfg.Safety.RateLimitPerMinute, cfg.Safety.RateLimitPerSecond),
		rugShield: NewRugShield(cfg.RugShield),
		stopLoss:  NewStopLoss(cfg.StopLoss),
		timeout:   cfg.Safety.RequestTimeout(),
		publisher: publisher,
		logger:    config.NewLogger("safety.envelope"),
	}
	e.breaker = NewBreaker(client.Name(), cfg.Safety.FailureThreshold, cfg.Safety.RecoveryTimeout(), func(change StateChange) {
		publisher.Publish(context.Background(), events.SubjectCircuitStateChanged, map[string]any{
			"from":   change.From,
			"to":     change.To,
			"reason": change.Reason,
		})
	})
	return e
}

// guard runs one venue call under the rate limiter, circuit breaker and
// per-call timeout. Denials return without any I/O.
func (e *Envelope) guard(ctx context.Context, op string, fn func(context.Context) error) error {
	if allowed, wait := e.limiter.Check(); !allowed {
		e.publisher.Publish(ctx, events.SubjectRateLimitHit, map[string]any{
			"op":     op,
			"wait_s": wait.Seconds(),
		})
	}
	if err := e.limiter.Acquire(ctx); err != nil {
		return err
	}

	record, err := e.breaker.Allow()
	if err != nil {
		e.logger.Debug().Str("op", op).Msg("Call rejected, circuit open")
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err = fn(callCtx)
	record(ClassifyOutcome(err))
	return err
}

// checkSymbol rejects malformed symbols before the limiter or breaker
// see any traffic. A bad symbol must not consume a rate-limit slot.
func checkSymbol(symbol string) error {
	if err := market.ValidateSymbol(symbol); err != nil {
		return fmt.Errorf("%w: %v", exchange.ErrValidation, err)
	}
	return nil
}

func (e *Envelope) Name() string { return e.client.Name() }

func (e *Envelope) GetTicker(ctx context.Context, symbol string) (*market.Ticker, error) {
	if err := checkSymbol(symbol); err != nil {
		return nil, err
	}
	var ticker *market.Ticker
	err := e.guard(ctx, "get_ticker", func(ctx context.Context) error {
		var err error
		ticker, err = e.client.GetTicker(ctx, symbol)
		return err
	})
	return ticker, err
}

func (e *Envelope) GetOrderBook(ctx context.Context, symbol string, depth int) (*market.OrderBook, error) {
	if err := checkSymbol(symbol); err != nil {
		return nil, err
	}
	var book *market.OrderBook
	err := e.guard(ctx, "get_order_book", func(ctx context.Context) error {
		var err error
		book, err = e.client.GetOrderBook(ctx, symbol, depth)
		return err
	})
	return book, err
}

func (e *Envelope) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]market.OHLCV, error) {
	if err := checkSymbol(symbol); err != nil {
		return nil, err
	}
	var candles []market.OHLCV
	err := e.guard(ctx, "get_ohlcv", func(ctx context.Context) error {
		var err error
		candles, err = e.client.GetOHLCV(ctx, symbol, interval, limit)
		return err
	})
	return candles, err
}

func (e *Envelope) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	if err := checkSymbol(req.Symbol); err != nil {
		return nil, err
	}
	var order *exchange.Order
	err := e.guard(ctx, "place_order", func(ctx context.Context) error {
		var err error
		order, err = e.client.PlaceOrder(ctx, req)
		return err
	})
	if err == nil {
		e.publisher.Publish(ctx, events.SubjectOrderPlaced, order)
	}
	return order, err
}

func (e *Envelope) GetOrder(ctx context.Context, orderID string) (*exchange.Order, error) {
	var order *exchange.Order
	err := e.guard(ctx, "get_order", func(ctx context.Context) error {
		var err error
		order, err = e.client.GetOrder(ctx, orderID)
		return err
	})
	return order, err
}

func (e *Envelope) CancelOrder(ctx context.Context, orderID string) (*exchange.Order, error) {
	var order *exchange.Order
	err := e.guard(ctx, "cancel_order", func(ctx context.Context) error {
		var err error
		order, err = e.client.CancelOrder(ctx, orderID)
		return err
	})
	return order, err
}

func (e *Envelope) GetBalance(ctx context.Context, asset string) (*exchange.Balance, error) {
	var balance *exchange.Balance
	err := e.guard(ctx, "get_balance", func(ctx context.Context) error {
		var err error
		balance, err = e.client.GetBalance(ctx, asset)
		return err
	})
	return balance, err
}

// ScreenOrder runs the rug shield over a symbol before a new order and
// publishes a rejection event when the symbol is unsafe.
func (e *Envelope) ScreenOrder(ctx context.Context, snapshot *market.Snapshot, book *market.OrderBook) Assessment {
	assessment := e.rugShield.Assess(snapshot, book)
	if !assessment.Safe {
		e.publisher.Publish(ctx, events.SubjectRugShieldRejected, assessment)
	}
	return assessment
}

// RugShield exposes the screen for blacklist management.
func (e *Envelope) RugShield() *RugShield { return e.rugShield }

// StopLoss exposes the trailing stop tracker.
func (e *Envelope) StopLoss() *StopLoss { return e.stopLoss }

// CircuitState reports the breaker state for status summaries.
func (e *Envelope) CircuitState() string { return e.breaker.State() }

// RateLimitInFlight reports current window occupancy for status summaries.
func (e *Envelope) RateLimitInFlight() int { return e.limiter.InFlight() }
