// Package market defines the immutable market data model shared by the
// exchange adapter, the intelligence hub, and the bots.
package market

import (
	"fmt"
	"regexp"
	"time"
)

// symbolPattern matches canonical BASE/QUOTE symbols, e.g. "BTC/USDT".
var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}/[A-Z0-9]{2,10}$`)

// ValidateSymbol rejects symbols that are not canonical BASE/QUOTE pairs.
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("invalid symbol %q: must match BASE/QUOTE", symbol)
	}
	return nil
}

// OHLCV is one candle row
type OHLCV struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Ticker holds the latest quote for a symbol
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume24h float64   `json:"volume_24h"`
	High24h   float64   `json:"high_24h"`
	Low24h    float64   `json:"low_24h"`
	Change24h float64   `json:"change_24h"` // signed ratio, e.g. -0.032
	FetchedAt time.Time `json:"fetched_at"`
}

// OrderBookLevel is one price level of an order book side
type OrderBookLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBook holds bids (descending) and asks (ascending) up to the
// requested depth. Sides may be empty only when the venue is unavailable.
type OrderBook struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// Snapshot is an immutable view of one symbol at one instant. Build it
// with NewSnapshot; once built it must not be mutated.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	SpreadPct float64   `json:"spread_pct"`
	Volume24h float64   `json:"volume_24h"`
	Change24h float64   `json:"change_24h"`
	OHLCV     []OHLCV   `json:"ohlcv"` // newest last
	FetchedAt time.Time `json:"fetched_at"`
}

// NewSnapshot assembles and validates a snapshot from a ticker and candles.
func NewSnapshot(ticker *Ticker, candles []OHLCV) (*Snapshot, error) {
	if err := ValidateSymbol(ticker.Symbol); err != nil {
		return nil, err
	}
	if ticker.Last <= 0 {
		return nil, fmt.Errorf("invalid last price %v for %s", ticker.Last, ticker.Symbol)
	}
	if ticker.Ask < ticker.Bid {
		return nil, fmt.Errorf("crossed book for %s: ask %v < bid %v", ticker.Symbol, ticker.Ask, ticker.Bid)
	}
	if ticker.Volume24h < 0 {
		return nil, fmt.Errorf("negative 24h volume %v for %s", ticker.Volume24h, ticker.Symbol)
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime.Before(candles[i-1].OpenTime) {
			return nil, fmt.Errorf("ohlcv rows for %s out of order at index %d", ticker.Symbol, i)
		}
	}

	// Copy candles so the caller cannot mutate the snapshot afterwards
	rows := make([]OHLCV, len(candles))
	copy(rows, candles)

	spreadPct := 0.0
	if mid := (ticker.Bid + ticker.Ask) / 2; mid > 0 {
		spreadPct = (ticker.Ask - ticker.Bid) / mid * 100
	}

	return &Snapshot{
		Symbol:    ticker.Symbol,
		LastPrice: ticker.Last,
		Bid:       ticker.Bid,
		Ask:       ticker.Ask,
		SpreadPct: spreadPct,
		Volume24h: ticker.Volume24h,
		Change24h: ticker.Change24h,
		OHLCV:     rows,
		FetchedAt: ticker.FetchedAt,
	}, nil
}

// Closes returns the close prices of the snapshot candles, oldest first.
func (s *Snapshot) Closes() []float64 {
	closes := make([]float64, len(s.OHLCV))
	for i, row := range s.OHLCV {
		closes[i] = row.Close
	}
	return closes
}
