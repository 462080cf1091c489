package bots

import (
	"context"
	"fmt"
	"math"
	"sync"

	"tradewarden/internal/market"
)

// GridBot trades mean reversion on a price grid anchored to a rolling
// reference: price below the anchor by whole grid steps is a buy, above
// is a sell.
type GridBot struct {
	Base

	mu      sync.Mutex
	anchors map[string]float64 // per-symbol grid anchor

	stepPct float64
	levels  int
}

// NewGridBot builds the bot; stepPct defaults to 1%, levels to 5.
func NewGridBot(stepPct float64, levels int) *GridBot {
	if stepPct <= 0 {
		stepPct = 1.0
	}
	if levels <= 0 {
		levels = 5
	}
	return &GridBot{
		Base:    NewBase("grid_trader", "1.0.0"),
		anchors: make(map[string]float64),
		stepPct: stepPct,
		levels:  levels,
	}
}

func (b *GridBot) Analyze(ctx context.Context, snapshot *market.Snapshot) (*Signal, error) {
	b.mu.Lock()
	anchor, ok := b.anchors[snapshot.Symbol]
	if !ok {
		// First sight of the symbol sets the grid anchor
		b.anchors[snapshot.Symbol] = snapshot.LastPrice
		b.mu.Unlock()
		return b.Emit(snapshot.Symbol, ActionHold, 0, "grid anchored", map[string]any{
			"anchor": snapshot.LastPrice,
		})
	}
	b.mu.Unlock()

	step := anchor * b.stepPct / 100
	offset := (snapshot.LastPrice - anchor) / step
	levelsAway := math.Trunc(offset)

	// Far outside the grid: re-anchor instead of fighting a trend
	if math.Abs(levelsAway) > float64(b.levels) {
		b.mu.Lock()
		b.anchors[snapshot.Symbol] = snapshot.LastPrice
		b.mu.Unlock()
		return b.Emit(snapshot.Symbol, ActionHold, 0,
			fmt.Sprintf("price left the grid (%+.0f levels), re-anchored", levelsAway),
			map[string]any{"anchor": snapshot.LastPrice})
	}

	action := ActionHold
	switch {
	case levelsAway <= -1:
		action = ActionBuy
	case levelsAway >= 1:
		action = ActionSell
	}
	confidence := clamp01(math.Abs(levelsAway) / float64(b.levels))

	return b.Emit(snapshot.Symbol, action, confidence,
		fmt.Sprintf("%+.0f grid levels from anchor %.2f", levelsAway, anchor),
		map[string]any{
			"anchor":      anchor,
			"levels_away": levelsAway,
			"step":        step,
		})
}
