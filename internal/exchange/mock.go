package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradewarden/internal/config"
	"tradewarden/internal/market"
)

// MockClient is an in-memory venue for paper trading and tests. Prices
// follow a seeded random walk so runs are reproducible; orders fill
// immediately at the simulated price.
type MockClient struct {
	mu sync.Mutex

	rng      *rand.Rand
	prices   map[string]float64
	orders   map[string]*Order   // by venue ID
	byClient map[string]*Order   // by client_order_id, for idempotency
	balances map[string]*Balance

	feeRate float64
	now     func() time.Time
	logger  zerolog.Logger
}

// MockOption customizes a MockClient.
type MockOption func(*MockClient)

// WithSeed fixes the price walk seed.
func WithSeed(seed int64) MockOption {
	return func(m *MockClient) { m.rng = rand.New(rand.NewSource(seed)) }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MockOption {
	return func(m *MockClient) { m.now = now }
}

// WithStartingBalance seeds an asset balance.
func WithStartingBalance(asset string, free float64) MockOption {
	return func(m *MockClient) {
		m.balances[asset] = &Balance{Asset: asset, Free: free}
	}
}

// NewMockClient creates a paper-trading client with default prices for
// the given symbols.
func NewMockClient(symbols []string, opts ...MockOption) *MockClient {
	m := &MockClient{
		rng:      rand.New(rand.NewSource(1)),
		prices:   make(map[string]float64),
		orders:   make(map[string]*Order),
		byClient: make(map[string]*Order),
		balances: map[string]*Balance{
			"USDT": {Asset: "USDT", Free: 100_000},
		},
		feeRate: 0.001,
		now:     time.Now,
		logger:  config.NewLogger("exchange.mock"),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, symbol := range symbols {
		m.prices[symbol] = defaultPrice(symbol)
	}
	return m
}

func defaultPrice(symbol string) float64 {
	switch symbol {
	case "BTC/USDT":
		return 50_000
	case "ETH/USDT":
		return 3_000
	case "SOL/USDT":
		return 150
	default:
		return 100
	}
}

func (m *MockClient) Name() string { return "mock" }

// SetMarketPrice pins the simulated price for a symbol.
func (m *MockClient) SetMarketPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// step advances the random walk for a symbol and returns the new price.
// Caller must hold m.mu.
func (m *MockClient) step(symbol string) (float64, error) {
	price, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: unknown symbol %s", ErrNotFound, symbol)
	}
	// +/- 0.1% drift per observation
	price *= 1 + (m.rng.Float64()-0.5)*0.002
	m.prices[symbol] = price
	return price, nil
}

func (m *MockClient) GetTicker(ctx context.Context, symbol string) (*market.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	price, err := m.step(symbol)
	if err != nil {
		return nil, err
	}
	spread := price * 0.0002
	return &market.Ticker{
		Symbol:    symbol,
		Last:      price,
		Bid:       price - spread/2,
		Ask:       price + spread/2,
		Volume24h: 5_000_000 + m.rng.Float64()*1_000_000,
		High24h:   price * 1.02,
		Low24h:    price * 0.98,
		Change24h: (m.rng.Float64() - 0.5) * 0.06,
		FetchedAt: m.now(),
	}, nil
}

func (m *MockClient) GetOrderBook(ctx context.Context, symbol string, depth int) (*market.OrderBook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	price, err := m.step(symbol)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 10
	}
	book := &market.OrderBook{Symbol: symbol, FetchedAt: m.now()}
	tick := price * 0.0001
	for i := 1; i <= depth; i++ {
		amount := 1 + m.rng.Float64()*5
		book.Bids = append(book.Bids, market.OrderBookLevel{Price: price - tick*float64(i), Amount: amount})
		book.Asks = append(book.Asks, market.OrderBookLevel{Price: price + tick*float64(i), Amount: amount})
	}
	return book, nil
}

func (m *MockClient) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]market.OHLCV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	price, ok := m.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: unknown symbol %s", ErrNotFound, symbol)
	}
	step, err := parseInterval(interval)
	if err != nil {
		return nil, fmt.Errorf("%w: bad interval %q", ErrValidation, interval)
	}
	if limit <= 0 {
		limit = 100
	}

	// Walk backwards from the current price so the last close matches it
	closes := make([]float64, limit)
	closes[limit-1] = price
	for i := limit - 2; i >= 0; i-- {
		closes[i] = closes[i+1] / (1 + (m.rng.Float64()-0.5)*0.004)
	}

	start := m.now().Add(-step * time.Duration(limit))
	candles := make([]market.OHLCV, limit)
	for i := range candles {
		c := closes[i]
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
			OpenTime: start.Add(step * time.Duration(i)),
			Open:     o,
			High:     hi * 1.001,
			Low:      lo * 0.999,
			Close:    c,
			Volume:   10 + m.rng.Float64()*50,
		}
	}
	return candles, nil
}

// parseInterval parses venue-style intervals ("1m", "1h", "1d").
func parseInterval(interval string) (time.Duration, error) {
	if n := len(interval); n > 1 && interval[n-1] == 'd' {
		days, err := strconv.Atoi(interval[:n-1])
		if err != nil {
			return 0, err
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(interval)
}

func (m *MockClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotency: same client_order_id returns the original order
	if existing, ok := m.byClient[req.ClientOrderID]; ok {
		return cloneOrder(existing), nil
	}

	price, err := m.step(req.Symbol)
	if err != nil {
		return nil, err
	}
	fillPrice := price
	if req.Type == OrderTypeLimit {
		fillPrice = req.Price
	}

	now := m.now()
	order := &Order{
		ID:            uuid.New(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        OrderStatusFilled,
		Quantity:      req.Quantity,
		FilledQty:     req.Quantity,
		AvgFillPrice:  fillPrice,
		Fees:          fillPrice * req.Quantity * m.feeRate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.orders[order.ID.String()] = order
	m.byClient[req.ClientOrderID] = order

	m.logger.Debug().
		Str("order_id", order.ID.String()).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Float64("fill_price", fillPrice).
		Msg("Mock order filled")

	return cloneOrder(order), nil
}

func (m *MockClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return cloneOrder(order), nil
}

func (m *MockClient) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	if order.Status == OrderStatusFilled {
		return nil, fmt.Errorf("%w: order %s already filled", ErrConflict, orderID)
	}
	order.Status = OrderStatusCanceled
	order.UpdatedAt = m.now()
	return cloneOrder(order), nil
}

func (m *MockClient) GetBalance(ctx context.Context, asset string) (*Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[asset]
	if !ok {
		return &Balance{Asset: asset}, nil
	}
	copied := *bal
	return &copied, nil
}

func cloneOrder(o *Order) *Order {
	copied := *o
	return &copied
}
