// Package intel fans market snapshots out to the stateful bot fleet and
// reduces their observations into one feature bundle per cycle.
package intel

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tradewarden/internal/bots"
	"tradewarden/internal/config"
	"tradewarden/internal/market"
)

// FeatureProvider is implemented by bots that expose per-symbol features
// beyond their signals. Discovered by interface assertion, like the other
// capabilities.
type FeatureProvider interface {
	Features(symbol string) map[string]float64
}

// Bundle is the reduced intelligence attached to the orchestrator's
// inputs. Feature keys are namespaced "<source>.<feature>".
type Bundle struct {
	Symbol           string             `json:"symbol"`
	SourcesConsulted []string           `json:"sources_consulted"`
	Features         map[string]float64 `json:"features"`
	Warnings         []string           `json:"warnings,omitempty"`
	TimedOut         bool               `json:"timed_out"`
	GatheredAt       time.Time          `json:"gathered_at"`
}

// Hub distributes snapshots to updater bots and assembles the bundle.
type Hub struct {
	registry         *bots.Registry
	perSourceTimeout time.Duration
	budget           time.Duration
	logger           zerolog.Logger

	mu       sync.Mutex
	lastKey  string
	lastSeen *Bundle
}

// NewHub builds the hub. perSourceTimeout bounds each bot update; budget
// bounds the whole gather, after which partial results are returned with
// TimedOut set.
func NewHub(registry *bots.Registry, perSourceTimeout, budget time.Duration) *Hub {
	if perSourceTimeout <= 0 {
		perSourceTimeout = 2 * time.Second
	}
	if budget <= 0 {
		budget = 2 * perSourceTimeout
	}
	return &Hub{
		registry:         registry,
		perSourceTimeout: perSourceTimeout,
		budget:           budget,
		logger:           config.NewLogger("intel.hub"),
	}
}

// Gather fans the snapshot out to every updater bot, harvests feature
// providers, and reduces to one bundle. Calling it again for the same
// snapshot returns the cached bundle, so it is idempotent within a cycle.
func (h *Hub) Gather(ctx context.Context, snapshot *market.Snapshot) *Bundle {
	key := snapshot.Symbol + "@" + snapshot.FetchedAt.UTC().Format(time.RFC3339Nano)

	h.mu.Lock()
	if h.lastKey == key && h.lastSeen != nil {
		cached := h.lastSeen
		h.mu.Unlock()
		return cached
	}
	h.mu.Unlock()

	bundle := &Bundle{
		Symbol:     snapshot.Symbol,
		Features:   snapshotFeatures(snapshot),
		GatheredAt: time.Now().UTC(),
	}
	bundle.SourcesConsulted = append(bundle.SourcesConsulted, "snapshot")

	gctx, cancel := context.WithTimeout(ctx, h.budget)
	defer cancel()

	var (
		resMu    sync.Mutex
		warnings []string
		sources  []string
	)

	g := new(errgroup.Group)
	for _, updater := range h.registry.Updaters() {
		updater := updater
		g.Go(func() error {
			sctx, scancel := context.WithTimeout(gctx, h.perSourceTimeout)
			defer scancel()

			done := make(chan error, 1)
			go func() { done <- updater.Update(sctx, snapshot) }()

			var warn string
			var consulted bool
			select {
			case err := <-done:
				if err != nil {
					warn = fmt.Sprintf("%s: %v", updater.Name(), err)
				} else {
					consulted = true
				}
			case <-sctx.Done():
				warn = fmt.Sprintf("%s: %v", updater.Name(), sctx.Err())
			}

			resMu.Lock()
			defer resMu.Unlock()
			if consulted {
				sources = append(sources, updater.Name())
			} else {
				warnings = append(warnings, warn)
			}
			return nil
		})
	}
	_ = g.Wait()

	if gctx.Err() != nil {
		bundle.TimedOut = true
	}

	sort.Strings(sources)
	bundle.SourcesConsulted = append(bundle.SourcesConsulted, sources...)
	bundle.Warnings = warnings

	// Harvest features from any bot exposing them, consulted or not:
	// providers serve their latest state even when this cycle's update
	// timed out.
	for _, bot := range h.registry.All() {
		provider, ok := bot.(FeatureProvider)
		if !ok {
			continue
		}
		for k, v := range provider.Features(snapshot.Symbol) {
			bundle.Features[bot.Name()+"."+k] = v
		}
	}

	h.logger.Debug().
		Str("symbol", snapshot.Symbol).
		Int("sources", len(bundle.SourcesConsulted)).
		Int("features", len(bundle.Features)).
		Bool("timed_out", bundle.TimedOut).
		Msg("Intelligence gathered")

	h.mu.Lock()
	h.lastKey = key
	h.lastSeen = bundle
	h.mu.Unlock()
	return bundle
}

// snapshotFeatures derives cheap intrinsic features every cycle gets even
// when no bot contributes.
func snapshotFeatures(snapshot *market.Snapshot) map[string]float64 {
	out := map[string]float64{
		"snapshot.last_price": snapshot.LastPrice,
		"snapshot.spread_pct": snapshot.SpreadPct,
		"snapshot.volume_24h": snapshot.Volume24h,
		"snapshot.candles":    float64(len(snapshot.OHLCV)),
	}
	closes := snapshot.Closes()
	if len(closes) >= 3 {
		out["snapshot.volatility"] = realizedVolatility(closes)
	}
	return out
}

// realizedVolatility is the standard deviation of simple returns over the
// close series.
func realizedVolatility(closes []float64) float64 {
	returns := make([]float64, 0, len(closes)-1)
	var sum float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		r := closes[i]/closes[i-1] - 1
		returns = append(returns, r)
		sum += r
	}
	if len(returns) < 2 {
		return 0
	}
	mean := sum / float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}
