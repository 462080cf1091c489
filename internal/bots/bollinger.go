package bots

import (
	"context"
	"fmt"

	"github.com/cinar/indicator/v2/volatility"

	"tradewarden/internal/market"
)

// BollingerBot signals when price leaves the Bollinger band envelope.
type BollingerBot struct {
	Base
	period int
}

// NewBollingerBot builds the bot; period defaults to 20.
func NewBollingerBot(period int) *BollingerBot {
	if period <= 0 {
		period = 20
	}
	return &BollingerBot{
		Base:   NewBase("bollinger_band", "1.0.0"),
		period: period,
	}
}

func (b *BollingerBot) Analyze(ctx context.Context, snapshot *market.Snapshot) (*Signal, error) {
	closes := snapshot.Closes()
	if len(closes) < b.period {
		return nil, fmt.Errorf("need %d closes for bollinger, got %d", b.period, len(closes))
	}

	bb := volatility.NewBollingerBandsWithPeriod[float64](b.period)
	lowerChan, middleChan, upperChan := bb.Compute(toChan(closes))

	var lower, middle, upper []float64
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lower = append(lower, l)
		middle = append(middle, m)
		upper = append(upper, u)
	}
	if len(middle) == 0 {
		return nil, fmt.Errorf("no bollinger values computed")
	}

	last := len(middle) - 1
	price := snapshot.LastPrice
	bandWidth := upper[last] - lower[last]

	action := ActionHold
	confidence := 0.0
	switch {
	case price <= lower[last]:
		action = ActionBuy
		if bandWidth > 0 {
			confidence = clamp01(0.3 + (lower[last]-price)/bandWidth)
		}
	case price >= upper[last]:
		action = ActionSell
		if bandWidth > 0 {
			confidence = clamp01(0.3 + (price-upper[last])/bandWidth)
		}
	}

	return b.Emit(snapshot.Symbol, action, confidence,
		fmt.Sprintf("price %.2f vs bands [%.2f, %.2f]", price, lower[last], upper[last]),
		map[string]any{
			"lower":  lower[last],
			"middle": middle[last],
			"upper":  upper[last],
		})
}
