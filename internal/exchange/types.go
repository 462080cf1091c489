package exchange

import (
	"time"

	"github.com/google/uuid"

	"tradewarden/internal/market"
)

// OrderSide is the direction of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType is the execution style of an order
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus tracks the lifecycle of an order on the venue
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "NEW"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusRejected OrderStatus = "REJECTED"
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// OrderRequest describes an order to be placed. ClientOrderID is the
// caller-chosen idempotency key: re-submitting the same key must not
// create a second order.
type OrderRequest struct {
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"type"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price,omitempty"` // limit orders only
}

// Order is the venue's record of a placed order
type Order struct {
	ID            uuid.UUID   `json:"id"`
	ClientOrderID string      `json:"client_order_id"`
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	Type          OrderType   `json:"type"`
	Status        OrderStatus `json:"status"`
	Quantity      float64     `json:"quantity"`
	FilledQty     float64     `json:"filled_qty"`
	AvgFillPrice  float64     `json:"avg_fill_price"`
	Fees          float64     `json:"fees"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Balance is the free and locked amount of one asset
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Validate checks an order request before it reaches the wire.
func (r *OrderRequest) Validate() error {
	if r.ClientOrderID == "" {
		return wrapValidation("client_order_id is required")
	}
	if err := market.ValidateSymbol(r.Symbol); err != nil {
		return wrapValidation(err.Error())
	}
	if r.Side != OrderSideBuy && r.Side != OrderSideSell {
		return wrapValidation("side must be BUY or SELL")
	}
	if r.Type != OrderTypeMarket && r.Type != OrderTypeLimit {
		return wrapValidation("type must be MARKET or LIMIT")
	}
	if r.Quantity <= 0 {
		return wrapValidation("quantity must be positive")
	}
	if r.Type == OrderTypeLimit && r.Price <= 0 {
		return wrapValidation("limit orders require a positive price")
	}
	return nil
}
