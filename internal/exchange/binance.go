package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradewarden/internal/config"
	"tradewarden/internal/market"
)

// BinanceClient talks to Binance spot through the official REST client.
type BinanceClient struct {
	api    *binance.Client
	logger zerolog.Logger
}

// NewBinanceClient creates a live venue client. testnet routes all calls
// to the Binance spot testnet.
func NewBinanceClient(apiKey, secretKey string, testnet bool) *BinanceClient {
	binance.UseTestnet = testnet
	return &BinanceClient{
		api:    binance.NewClient(apiKey, secretKey),
		logger: config.NewLogger("exchange.binance"),
	}
}

func (b *BinanceClient) Name() string { return "binance" }

// venueSymbol converts "BTC/USDT" to Binance's "BTCUSDT".
func venueSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// classify maps Binance API errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*common.APIError); ok {
		switch apiErr.Code {
		case -1003, -1015: // too many requests
			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
		case -1121, -2013: // invalid symbol, order does not exist
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
		case -1100, -1102, -1111, -2010: // malformed or rejected request
			return fmt.Errorf("%w: %s", ErrValidation, apiErr.Message)
		default:
			return fmt.Errorf("%w: binance code %d: %s", ErrUnavailable, apiErr.Code, apiErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func parseFloat(field, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrDecode, field, value)
	}
	return f, nil
}

func (b *BinanceClient) GetTicker(ctx context.Context, symbol string) (*market.Ticker, error) {
	stats, err := b.api.NewListPriceChangeStatsService().
		Symbol(venueSymbol(symbol)).
		Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("%w: no stats for %s", ErrNotFound, symbol)
	}
	s := stats[0]

	ticker := &market.Ticker{Symbol: symbol, FetchedAt: time.Now()}
	fields := []struct {
		name  string
		raw   string
		dst   *float64
		scale float64
	}{
		{"last_price", s.LastPrice, &ticker.Last, 1},
		{"bid_price", s.BidPrice, &ticker.Bid, 1},
		{"ask_price", s.AskPrice, &ticker.Ask, 1},
		{"quote_volume", s.QuoteVolume, &ticker.Volume24h, 1},
		{"high_price", s.HighPrice, &ticker.High24h, 1},
		{"low_price", s.LowPrice, &ticker.Low24h, 1},
		{"price_change_percent", s.PriceChangePercent, &ticker.Change24h, 0.01},
	}
	for _, f := range fields {
		v, err := parseFloat(f.name, f.raw)
		if err != nil {
			return nil, err
		}
		*f.dst = v * f.scale
	}
	return ticker, nil
}

func (b *BinanceClient) GetOrderBook(ctx context.Context, symbol string, depth int) (*market.OrderBook, error) {
	if depth <= 0 {
		depth = 10
	}
	res, err := b.api.NewDepthService().
		Symbol(venueSymbol(symbol)).
		Limit(depth).
		Do(ctx)
	if err != nil {
		return nil, classify(err)
	}

	book := &market.OrderBook{Symbol: symbol, FetchedAt: time.Now()}
	for _, bid := range res.Bids {
		price, qty, err := bid.Parse()
		if err != nil {
			return nil, fmt.Errorf("%w: bid level: %v", ErrDecode, err)
		}
		book.Bids = append(book.Bids, market.OrderBookLevel{Price: price, Amount: qty})
	}
	for _, ask := range res.Asks {
		price, qty, err := ask.Parse()
		if err != nil {
			return nil, fmt.Errorf("%w: ask level: %v", ErrDecode, err)
		}
		book.Asks = append(book.Asks, market.OrderBookLevel{Price: price, Amount: qty})
	}
	return book, nil
}

func (b *BinanceClient) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]market.OHLCV, error) {
	if limit <= 0 {
		limit = 100
	}
	klines, err := b.api.NewKlinesService().
		Symbol(venueSymbol(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify(err)
	}

	candles := make([]market.OHLCV, 0, len(klines))
	for _, k := range klines {
		row := market.OHLCV{OpenTime: time.UnixMilli(k.OpenTime)}
		for _, f := range []struct {
			name string
			raw  string
			dst  *float64
		}{
			{"open", k.Open, &row.Open},
			{"high", k.High, &row.High},
			{"low", k.Low, &row.Low},
			{"close", k.Close, &row.Close},
			{"volume", k.Volume, &row.Volume},
		} {
			v, err := parseFloat(f.name, f.raw)
			if err != nil {
				return nil, err
			}
			*f.dst = v
		}
		candles = append(candles, row)
	}
	return candles, nil
}

func (b *BinanceClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	svc := b.api.NewCreateOrderService().
		Symbol(venueSymbol(req.Symbol)).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderType(req.Type)).
		NewClientOrderID(req.ClientOrderID).
		Quantity(strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	if req.Type == OrderTypeLimit {
		svc = svc.
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(strconv.FormatFloat(req.Price, 'f', -1, 64))
	}

	res, err := svc.Do(ctx)
	if err != nil {
		// Duplicate client order id means the order already exists
		if apiErr, ok := err.(*common.APIError); ok && apiErr.Code == -2026 {
			return b.findByClientOrderID(ctx, req.Symbol, req.ClientOrderID)
		}
		return nil, classify(err)
	}

	order := &Order{
		ID:            uuid.New(),
		ClientOrderID: res.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        OrderStatus(res.Status),
		Quantity:      req.Quantity,
		CreatedAt:     time.UnixMilli(res.TransactTime),
		UpdatedAt:     time.UnixMilli(res.TransactTime),
	}
	filled, err := parseFloat("executed_qty", res.ExecutedQuantity)
	if err != nil {
		return nil, err
	}
	order.FilledQty = filled

	var notional, fees float64
	for _, fill := range res.Fills {
		price, err := parseFloat("fill_price", fill.Price)
		if err != nil {
			return nil, err
		}
		qty, err := parseFloat("fill_qty", fill.Quantity)
		if err != nil {
			return nil, err
		}
		fee, err := parseFloat("fill_commission", fill.Commission)
		if err != nil {
			return nil, err
		}
		notional += price * qty
		fees += fee
	}
	if order.FilledQty > 0 {
		order.AvgFillPrice = notional / order.FilledQty
	}
	order.Fees = fees

	b.logger.Info().
		Str("client_order_id", order.ClientOrderID).
		Str("symbol", order.Symbol).
		Str("status", string(order.Status)).
		Float64("filled_qty", order.FilledQty).
		Msg("Order placed")

	return order, nil
}

func (b *BinanceClient) findByClientOrderID(ctx context.Context, symbol, clientOrderID string) (*Order, error) {
	res, err := b.api.NewGetOrderService().
		Symbol(venueSymbol(symbol)).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return b.fromVenueOrder(symbol, res)
}

func (b *BinanceClient) fromVenueOrder(symbol string, res *binance.Order) (*Order, error) {
	order := &Order{
		ID:            uuid.New(),
		ClientOrderID: res.ClientOrderID,
		Symbol:        symbol,
		Side:          OrderSide(res.Side),
		Type:          OrderType(res.Type),
		Status:        OrderStatus(res.Status),
		CreatedAt:     time.UnixMilli(res.Time),
		UpdatedAt:     time.UnixMilli(res.UpdateTime),
	}
	qty, err := parseFloat("orig_qty", res.OrigQuantity)
	if err != nil {
		return nil, err
	}
	filled, err := parseFloat("executed_qty", res.ExecutedQuantity)
	if err != nil {
		return nil, err
	}
	quote, err := parseFloat("cummulative_quote_qty", res.CummulativeQuoteQuantity)
	if err != nil {
		return nil, err
	}
	order.Quantity = qty
	order.FilledQty = filled
	if filled > 0 {
		order.AvgFillPrice = quote / filled
	}
	return order, nil
}

// GetOrder is unsupported by venue ID alone on Binance spot; callers keep
// the client order ID and symbol instead.
func (b *BinanceClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return nil, fmt.Errorf("%w: binance lookup requires symbol and client order id", ErrValidation)
}

func (b *BinanceClient) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	return nil, fmt.Errorf("%w: binance cancel requires symbol and client order id", ErrValidation)
}

func (b *BinanceClient) GetBalance(ctx context.Context, asset string) (*Balance, error) {
	account, err := b.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	for _, bal := range account.Balances {
		if bal.Asset != asset {
			continue
		}
		free, err := parseFloat("free", bal.Free)
		if err != nil {
			return nil, err
		}
		locked, err := parseFloat("locked", bal.Locked)
		if err != nil {
			return nil, err
		}
		return &Balance{Asset: asset, Free: free, Locked: locked}, nil
	}
	return &Balance{Asset: asset}, nil
}
