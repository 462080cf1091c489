package bots

import (
	"context"
	"fmt"
	"math"
	"sort"

	"tradewarden/internal/market"
)

// VaRGuardBot estimates one-period historical Value at Risk from the
// snapshot returns. A breach of the loss limit emits a veto-strength
// SELL; the orchestrator treats RISK sells at or above 0.9 confidence as
// vetoes.
type VaRGuardBot struct {
	Base
	quantile  float64 // e.g. 0.95
	lossLimit float64 // tolerated one-period loss ratio, e.g. 0.03
}

// NewVaRGuardBot builds the guard; defaults: 95th percentile, 3% limit.
func NewVaRGuardBot(quantile, lossLimit float64) *VaRGuardBot {
	if quantile <= 0 || quantile >= 1 {
		quantile = 0.95
	}
	if lossLimit <= 0 {
		lossLimit = 0.03
	}
	return &VaRGuardBot{
		Base:      NewBase("var_guard", "1.0.0"),
		quantile:  quantile,
		lossLimit: lossLimit,
	}
}

func (b *VaRGuardBot) Analyze(ctx context.Context, snapshot *market.Snapshot) (*Signal, error) {
	closes := snapshot.Closes()
	if len(closes) < 20 {
		return nil, fmt.Errorf("need 20 closes for var, got %d", len(closes))
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	sort.Float64s(returns)

	// Loss quantile: the (1-q) tail of the return distribution
	idx := int(math.Floor(float64(len(returns)) * (1 - b.quantile)))
	if idx >= len(returns) {
		idx = len(returns) - 1
	}
	vaR := -returns[idx] // positive number = loss ratio

	action := ActionHold
	confidence := 0.0
	reason := fmt.Sprintf("VaR(%.0f%%)=%.2f%% within %.2f%% limit", b.quantile*100, vaR*100, b.lossLimit*100)
	if vaR > b.lossLimit {
		action = ActionSell
		// Scale into veto territory as the breach deepens
		confidence = clamp01(0.9 + (vaR-b.lossLimit)/b.lossLimit*0.1)
		reason = fmt.Sprintf("VaR(%.0f%%)=%.2f%% breaches %.2f%% limit", b.quantile*100, vaR*100, b.lossLimit*100)
	}

	return b.Emit(snapshot.Symbol, action, confidence, reason, map[string]any{
		"var":        vaR,
		"quantile":   b.quantile,
		"loss_limit": b.lossLimit,
	})
}
