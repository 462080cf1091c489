package bots

import (
	"context"
	"fmt"

	"github.com/cinar/indicator/v2/momentum"

	"tradewarden/internal/market"
)

// RSIBot signals on Relative Strength Index extremes: oversold is a buy,
// overbought is a sell.
type RSIBot struct {
	Base
	period     int
	oversold   float64
	overbought float64
}

// NewRSIBot builds the bot; period defaults to 14 when non-positive.
func NewRSIBot(period int) *RSIBot {
	if period <= 0 {
		period = 14
	}
	return &RSIBot{
		Base:       NewBase("rsi_guard", "1.0.0"),
		period:     period,
		oversold:   30,
		overbought: 70,
	}
}

func (b *RSIBot) Analyze(ctx context.Context, snapshot *market.Snapshot) (*Signal, error) {
	closes := snapshot.Closes()
	if len(closes) < b.period+1 {
		return nil, fmt.Errorf("need %d closes for rsi, got %d", b.period+1, len(closes))
	}

	rsi := momentum.NewRsiWithPeriod[float64](b.period)
	values := collect(rsi.Compute(toChan(closes)))
	if len(values) == 0 {
		return nil, fmt.Errorf("no rsi values computed")
	}
	current := values[len(values)-1]

	action := ActionHold
	confidence := 0.0
	switch {
	case current <= b.oversold:
		action = ActionBuy
		// Deeper oversold means more conviction
		confidence = clamp01((b.oversold - current) / b.oversold * 2)
	case current >= b.overbought:
		action = ActionSell
		confidence = clamp01((current - b.overbought) / (100 - b.overbought) * 2)
	}
	if confidence < 0.1 && action != ActionHold {
		confidence = 0.1
	}

	return b.Emit(snapshot.Symbol, action, confidence,
		fmt.Sprintf("rsi(%d)=%.1f", b.period, current),
		map[string]any{"rsi": current})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
