package bots

import (
	"context"
	"fmt"

	"tradewarden/internal/market"
)

// VWAPBot compares price to the volume-weighted average over the
// snapshot window: trading below VWAP is cheap, above is rich.
type VWAPBot struct {
	Base
	window int
}

// NewVWAPBot builds the bot; window defaults to 20 candles.
func NewVWAPBot(window int) *VWAPBot {
	if window <= 0 {
		window = 20
	}
	return &VWAPBot{
		Base:   NewBase("vwap_exec", "1.0.0"),
		window: window,
	}
}

func (b *VWAPBot) Analyze(ctx context.Context, snapshot *market.Snapshot) (*Signal, error) {
	rows := snapshot.OHLCV
	if len(rows) < b.window {
		return nil, fmt.Errorf("need %d candles for vwap, got %d", b.window, len(rows))
	}

	var notional, volume float64
	for _, row := range rows[len(rows)-b.window:] {
		typical := (row.High + row.Low + row.Close) / 3
		notional += typical * row.Volume
		volume += row.Volume
	}
	if volume == 0 {
		return nil, fmt.Errorf("zero volume over vwap window")
	}
	vwap := notional / volume

	deviation := (snapshot.LastPrice - vwap) / vwap

	action := ActionHold
	switch {
	case deviation < -0.002:
		action = ActionBuy
	case deviation > 0.002:
		action = ActionSell
	}
	confidence := clamp01(abs(deviation) * 100)

	return b.Emit(snapshot.Symbol, action, confidence,
		fmt.Sprintf("price %.4f%% from vwap %.2f", deviation*100, vwap),
		map[string]any{"vwap": vwap, "deviation": deviation})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
