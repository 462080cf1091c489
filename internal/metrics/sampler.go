package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tradewarden/internal/bots"
	"tradewarden/internal/config"
	"tradewarden/internal/positions"
)

// PositionSource is the slice of the position manager the sampler reads.
type PositionSource interface {
	GetOpen(ctx context.Context) ([]*positions.Position, error)
}

// BotSource reports fleet status; the bot registry implements it.
type BotSource interface {
	StatusSummary() []bots.Status
}

// Sampler refreshes the gauges that mirror external state: the open
// side of the ledger and the health of the bot fleet. Counters are
// recorded at the point of the event and never touched here.
type Sampler struct {
	ledger   PositionSource
	fleet    BotSource
	interval time.Duration
	logger   zerolog.Logger
	stop     chan struct{}
}

// NewSampler builds a sampler polling every interval.
func NewSampler(ledger PositionSource, fleet BotSource, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sampler{
		ledger:   ledger,
		fleet:    fleet,
		interval: interval,
		logger:   config.NewLogger("metrics.sampler"),
		stop:     make(chan struct{}),
	}
}

// Start runs the sampling loop until Stop or context cancellation.
func (s *Sampler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sample(ctx)
	for {
		select {
		case <-ticker.C:
			s.Sample(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the loop.
func (s *Sampler) Stop() {
	close(s.stop)
}

// Sample refreshes every gauge once.
func (s *Sampler) Sample(ctx context.Context) {
	s.samplePositions(ctx)
	s.sampleFleet()
}

func (s *Sampler) samplePositions(ctx context.Context) {
	if s.ledger == nil {
		return
	}
	open, err := s.ledger.GetOpen(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to sample open positions")
		return
	}

	OpenPositions.Set(float64(len(open)))

	exposure := make(map[string]float64, len(open))
	for _, p := range open {
		exposure[p.Symbol] += p.EntryPrice * p.Amount
	}
	// Reset before refilling so closed symbols drop to absent, not stale.
	PositionExposure.Reset()
	for symbol, value := range exposure {
		PositionExposure.WithLabelValues(symbol).Set(value)
	}
}

func (s *Sampler) sampleFleet() {
	if s.fleet == nil {
		return
	}
	statuses := s.fleet.StatusSummary()

	active := 0
	for _, st := range statuses {
		healthy := 0.0
		if st.Health == bots.HealthOK {
			healthy = 1
			active++
		}
		BotHealth.WithLabelValues(st.Name).Set(healthy)
	}
	ActiveBots.Set(float64(active))
}
