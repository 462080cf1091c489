package bots

import (
	"context"
	"sync"

	"tradewarden/internal/market"
)

// WhaleWatchBot is a stateful monitor: it tracks unusual volume spikes
// per symbol without emitting signals. Its observations surface through
// Status and the intelligence bundle.
type WhaleWatchBot struct {
	Base

	mu         sync.Mutex
	avgVolume  map[string]float64
	spikes     map[string]int
	spikeRatio float64
}

// NewWhaleWatchBot builds the monitor; a candle printing spikeRatio times
// the running average volume counts as a spike (default 5x).
func NewWhaleWatchBot(spikeRatio float64) *WhaleWatchBot {
	if spikeRatio <= 1 {
		spikeRatio = 5
	}
	return &WhaleWatchBot{
		Base:       NewBase("whale_watch", "1.0.0"),
		avgVolume:  make(map[string]float64),
		spikes:     make(map[string]int),
		spikeRatio: spikeRatio,
	}
}

func (b *WhaleWatchBot) Update(ctx context.Context, snapshot *market.Snapshot) error {
	if len(snapshot.OHLCV) == 0 {
		return nil
	}
	latest := snapshot.OHLCV[len(snapshot.OHLCV)-1]

	b.mu.Lock()
	defer b.mu.Unlock()

	avg, seen := b.avgVolume[snapshot.Symbol]
	if seen && avg > 0 && latest.Volume > avg*b.spikeRatio {
		b.spikes[snapshot.Symbol]++
		logger := b.Logger()
		logger.Warn().
			Str("symbol", snapshot.Symbol).
			Float64("volume", latest.Volume).
			Float64("avg_volume", avg).
			Msg("Volume spike observed")
	}

	// Exponential moving average, alpha 0.1
	if !seen {
		b.avgVolume[snapshot.Symbol] = latest.Volume
	} else {
		b.avgVolume[snapshot.Symbol] = avg*0.9 + latest.Volume*0.1
	}
	return nil
}

// Features exposes the monitor's per-symbol observations to the
// intelligence hub.
func (b *WhaleWatchBot) Features(symbol string) map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := map[string]float64{
		"volume_spikes": float64(b.spikes[symbol]),
	}
	if avg, ok := b.avgVolume[symbol]; ok {
		out["avg_volume"] = avg
	}
	return out
}

// Spikes reports the spike count seen for a symbol.
func (b *WhaleWatchBot) Spikes(symbol string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spikes[symbol]
}

func (b *WhaleWatchBot) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, n := range b.spikes {
		total += n
	}
	status := b.Base.Status()
	status.Metrics = map[string]float64{
		"symbols_tracked": float64(len(b.avgVolume)),
		"spikes_observed": float64(total),
	}
	return status
}
