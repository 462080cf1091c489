package bots

import (
	"context"
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/trend"

	"tradewarden/internal/market"
)

// MACDBot signals on MACD/signal-line crossovers.
type MACDBot struct {
	Base
	fast, slow, signal int
}

// NewMACDBot builds the bot with the conventional 12/26/9 periods.
func NewMACDBot() *MACDBot {
	return &MACDBot{
		Base: NewBase("macd_cross", "1.0.0"),
		fast: 12, slow: 26, signal: 9,
	}
}

func (b *MACDBot) Analyze(ctx context.Context, snapshot *market.Snapshot) (*Signal, error) {
	closes := snapshot.Closes()
	min := b.slow + b.signal
	if len(closes) < min {
		return nil, fmt.Errorf("need %d closes for macd, got %d", min, len(closes))
	}

	macd := trend.NewMacdWithPeriod[float64](b.fast, b.slow, b.signal)
	macdChan, signalChan := macd.Compute(toChan(closes))

	var macdValues, signalValues []float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		signalValues = append(signalValues, s)
	}
	if len(macdValues) < 2 {
		return nil, fmt.Errorf("no macd values computed")
	}

	last := len(macdValues) - 1
	histogram := macdValues[last] - signalValues[last]
	prevHistogram := macdValues[last-1] - signalValues[last-1]

	action := ActionHold
	switch {
	case prevHistogram <= 0 && histogram > 0:
		action = ActionBuy
	case prevHistogram >= 0 && histogram < 0:
		action = ActionSell
	}

	// Conviction scales with the histogram relative to price
	confidence := 0.0
	if action != ActionHold {
		confidence = clamp01(0.3 + math.Abs(histogram)/snapshot.LastPrice*1000)
	}

	return b.Emit(snapshot.Symbol, action, confidence,
		fmt.Sprintf("macd histogram %.4f (prev %.4f)", histogram, prevHistogram),
		map[string]any{
			"macd":      macdValues[last],
			"signal":    signalValues[last],
			"histogram": histogram,
		})
}
