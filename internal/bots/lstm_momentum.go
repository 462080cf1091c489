package bots

import (
	"context"
	"fmt"
	"math"

	"tradewarden/internal/market"
)

// LSTMMomentumBot scores short-horizon momentum with an exponentially
// weighted window, standing in for the hosted model endpoint. The shape
// of its output (direction plus calibrated confidence) matches what the
// model serves, so swapping the backend does not touch the orchestrator.
type LSTMMomentumBot struct {
	Base
	window int
}

// NewLSTMMomentumBot builds the bot; window defaults to 10 candles.
func NewLSTMMomentumBot(window int) *LSTMMomentumBot {
	if window <= 0 {
		window = 10
	}
	return &LSTMMomentumBot{
		Base:   NewBase("lstm_momentum", "1.0.0"),
		window: window,
	}
}

func (b *LSTMMomentumBot) Analyze(ctx context.Context, snapshot *market.Snapshot) (*Signal, error) {
	closes := snapshot.Closes()
	if len(closes) < b.window+1 {
		return nil, fmt.Errorf("need %d closes for momentum, got %d", b.window+1, len(closes))
	}

	// Exponentially weighted log returns, most recent weighted highest
	start := len(closes) - b.window
	var score, weightSum float64
	for i := start; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		ret := math.Log(closes[i] / closes[i-1])
		weight := math.Exp(float64(i-len(closes)+1) / 3)
		score += ret * weight
		weightSum += weight
	}
	if weightSum == 0 {
		return nil, fmt.Errorf("degenerate price series")
	}
	score /= weightSum

	// Squash the weighted return into a [-1, 1] conviction
	conviction := math.Tanh(score * 400)

	action := ActionHold
	switch {
	case conviction > 0.15:
		action = ActionBuy
	case conviction < -0.15:
		action = ActionSell
	}

	return b.Emit(snapshot.Symbol, action, math.Abs(conviction),
		fmt.Sprintf("momentum conviction %.3f over %d candles", conviction, b.window),
		map[string]any{"conviction": conviction, "window": b.window})
}
