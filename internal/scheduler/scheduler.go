// Package scheduler drives the trading loop: one cycle per tick,
// snapshot through decision through execution, with pause/resume and
// cooperative shutdown.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradewarden/internal/bots"
	"tradewarden/internal/config"
	"tradewarden/internal/events"
	"tradewarden/internal/exchange"
	"tradewarden/internal/helios"
	"tradewarden/internal/intel"
	"tradewarden/internal/market"
	"tradewarden/internal/metrics"
	"tradewarden/internal/orchestrator"
	"tradewarden/internal/positions"
	"tradewarden/internal/safety"
)

// State is the scheduler's externally visible state.
type State struct {
	Running     bool   `json:"running"`
	Paused      bool   `json:"paused"`
	PauseReason string `json:"pause_reason,omitempty"`
	Cycle       int    `json:"cycle"`
}

// Ledger is the slice of the position manager the loop uses.
type Ledger interface {
	Open(ctx context.Context, symbol string, side positions.Side, entryPrice, amount float64, strategy string, metadata map[string]any) (uuid.UUID, error)
	Close(ctx context.Context, id uuid.UUID, exitPrice float64, reason string, fees float64) (*positions.Position, error)
	GetOpen(ctx context.Context) ([]*positions.Position, error)
	Health(ctx context.Context) error
}

// Notifier receives operator-facing notices; the alerts manager
// implements it.
type Notifier interface {
	StatusDigest(ctx context.Context, cycle, openPositions, activeBots, isolatedBots int)
	RollbackExecuted(ctx context.Context, fromVersion, toVersion, reason string)
	ShutdownNotice(ctx context.Context, reason string)
}

// Deps are the collaborators the scheduler coordinates each cycle.
// Notifier and Notices are optional.
type Deps struct {
	Envelope     *safety.Envelope
	Registry     *bots.Registry
	Hub          *intel.Hub
	Orchestrator *orchestrator.Orchestrator
	Ledger       Ledger
	Publisher    events.Publisher
	Notifier     Notifier
	Notices      <-chan helios.RollbackNotice
}

// Scheduler is the main loop. It is single-threaded over cycles:
// per-cycle fan-out happens inside the orchestrator and intel hub, and
// always re-converges before the decision step.
type Scheduler struct {
	cfg    config.TradingConfig
	deps   Deps
	logger zerolog.Logger

	mu          sync.Mutex
	cycle       int
	running     bool
	paused      bool
	pauseReason string

	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	rng      *rand.Rand
}

// New validates the wiring and builds the scheduler. Missing core
// collaborators are an initialization error, which is fatal by policy.
func New(cfg config.TradingConfig, deps Deps) (*Scheduler, error) {
	if deps.Envelope == nil || deps.Registry == nil || deps.Hub == nil ||
		deps.Orchestrator == nil || deps.Ledger == nil || deps.Publisher == nil {
		return nil, fmt.Errorf("scheduler wiring incomplete: envelope, registry, hub, orchestrator, ledger and publisher are all required")
	}
	interval := cfg.CycleInterval()
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Scheduler{
		cfg:      cfg,
		deps:     deps,
		logger:   config.NewLogger("scheduler"),
		interval: interval,
		stop:     make(chan struct{}),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run executes cycles until the context is cancelled or Stop is called,
// then performs the cooperative shutdown sequence.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().
		Dur("interval", s.interval).
		Strs("pairs", s.cfg.Pairs).
		Bool("live", s.cfg.Enabled).
		Msg("Scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.safeCycle(ctx)
	for {
		select {
		case <-ticker.C:
			if s.cfg.CycleJitter {
				s.jitterSleep(ctx)
			}
			s.safeCycle(ctx)
		case notice := <-s.noticeCh():
			s.handleRollback(ctx, notice)
		case <-s.stop:
			return s.shutdown("stop requested")
		case <-ctx.Done():
			return s.shutdown("signal received")
		}
	}
}

// Stop ends the loop after the in-flight cycle.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// noticeCh returns the rollback channel, or a nil channel (which never
// fires) when Helios is not wired.
func (s *Scheduler) noticeCh() <-chan helios.RollbackNotice {
	return s.deps.Notices
}

// jitterSleep desynchronizes cycles across instances by up to a tenth
// of the interval.
func (s *Scheduler) jitterSleep(ctx context.Context) {
	d := time.Duration(s.rng.Int63n(int64(s.interval / 10)))
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// Pause suspends trading; cycles keep ticking but do no work.
func (s *Scheduler) Pause(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.pauseReason = reason
	s.logger.Warn().Str("reason", reason).Msg("Trading paused")
}

// Resume lifts a pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.pauseReason = ""
	s.logger.Info().Msg("Trading resumed")
}

// State reports the loop's current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Running:     s.running,
		Paused:      s.paused,
		PauseReason: s.pauseReason,
		Cycle:       s.cycle,
	}
}

func (s *Scheduler) handleRollback(ctx context.Context, notice helios.RollbackNotice) {
	s.Pause(fmt.Sprintf("deployment %s rolled back: %s", notice.DeploymentID, notice.Reason))
	metrics.Rollbacks.Inc()
	if s.deps.Notifier != nil {
		s.deps.Notifier.RollbackExecuted(ctx, notice.FromVersion, notice.ToVersion, notice.Reason)
	}
}

// safeCycle runs one cycle and converts a panic into a logged, counted
// failure. One bad cycle never takes down the loop.
func (s *Scheduler) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CyclePanics.Inc()
			s.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Cycle panicked")
		}
	}()
	s.runCycle(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context) {
	s.mu.Lock()
	s.cycle++
	cycle := s.cycle
	paused := s.paused
	s.mu.Unlock()

	if paused {
		s.logger.Debug().Int("cycle", cycle).Msg("Cycle skipped while paused")
		return
	}

	start := time.Now()
	s.deps.Publisher.Publish(ctx, events.SubjectCycleStarted, map[string]any{"cycle": cycle})

	open, err := s.deps.Ledger.GetOpen(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("cycle", cycle).Msg("Position ledger unavailable, cycle aborted")
		return
	}
	openBySymbol := make(map[string][]*positions.Position, len(open))
	for _, p := range open {
		openBySymbol[p.Symbol] = append(openBySymbol[p.Symbol], p)
	}

	processed, decisions := 0, 0
	for _, symbol := range s.cfg.Pairs {
		decision, err := s.processSymbol(ctx, cycle, symbol, openBySymbol[symbol], len(open))
		if err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Int("cycle", cycle).Msg("Symbol skipped")
			continue
		}
		processed++
		if decision != nil && decision.FinalAction != bots.ActionHold {
			decisions++
		}
	}

	health := "ok"
	if s.cfg.HealthEveryN > 0 && cycle%s.cfg.HealthEveryN == 0 {
		health = s.healthCheck(ctx)
	}
	if s.cfg.StatusEveryM > 0 && cycle%s.cfg.StatusEveryM == 0 && s.deps.Notifier != nil {
		isolated := len(s.deps.Orchestrator.IsolatedBots())
		active := len(s.deps.Registry.All()) - isolated
		s.deps.Notifier.StatusDigest(ctx, cycle, len(open), active, isolated)
	}

	metrics.RecordCycle(time.Since(start).Seconds())
	s.deps.Publisher.Publish(ctx, events.SubjectCycleCompleted, map[string]any{
		"cycle":             cycle,
		"symbols_processed": processed,
		"decisions":         decisions,
		"health_status":     health,
	})
}

// processSymbol runs the per-symbol pipeline: snapshot, intelligence,
// decision, execution, protection.
func (s *Scheduler) processSymbol(ctx context.Context, cycle int, symbol string, open []*positions.Position, totalOpen int) (*orchestrator.Decision, error) {
	ticker, err := s.deps.Envelope.GetTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("ticker fetch failed: %w", err)
	}
	candles, err := s.deps.Envelope.GetOHLCV(ctx, symbol, "1h", 100)
	if err != nil {
		return nil, fmt.Errorf("candle fetch failed: %w", err)
	}
	snapshot, err := market.NewSnapshot(ticker, candles)
	if err != nil {
		return nil, fmt.Errorf("snapshot rejected: %w", err)
	}

	bundle := s.deps.Hub.Gather(ctx, snapshot)
	decision := s.deps.Orchestrator.Decide(ctx, snapshot, bundle, len(open) > 0)

	switch decision.FinalAction {
	case bots.ActionBuy:
		s.executeBuy(ctx, cycle, snapshot, decision, totalOpen)
	case bots.ActionSell:
		s.executeSell(ctx, snapshot, decision, open)
	}

	s.protectPositions(ctx, snapshot, open)
	return decision, nil
}

func (s *Scheduler) executeBuy(ctx context.Context, cycle int, snapshot *market.Snapshot, decision *orchestrator.Decision, totalOpen int) {
	if s.cfg.MaxPositions > 0 && totalOpen >= s.cfg.MaxPositions {
		s.logger.Warn().
			Str("symbol", snapshot.Symbol).
			Int("open", totalOpen).
			Msg("BUY skipped, position limit reached")
		return
	}

	book, err := s.deps.Envelope.GetOrderBook(ctx, snapshot.Symbol, 20)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", snapshot.Symbol).Msg("Order book fetch failed, BUY skipped")
		return
	}
	if assessment := s.deps.Envelope.ScreenOrder(ctx, snapshot, book); !assessment.Safe {
		s.logger.Warn().
			Str("symbol", snapshot.Symbol).
			Int("score", assessment.Score).
			Strs("reasons", assessment.Reasons).
			Msg("BUY rejected by rug shield")
		return
	}

	qty := s.cfg.DefaultQuantity
	if !s.cfg.Enabled {
		s.logger.Info().
			Str("symbol", snapshot.Symbol).
			Float64("quantity", qty).
			Float64("confidence", decision.Confidence).
			Msg("Monitoring-only: would place BUY order")
		return
	}

	order, err := s.deps.Envelope.PlaceOrder(ctx, exchange.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        snapshot.Symbol,
		Side:          exchange.OrderSideBuy,
		Type:          exchange.OrderTypeMarket,
		Quantity:      qty,
	})
	if err != nil {
		// No auto-retry: the next cycle re-decides on fresh data.
		s.logger.Error().Err(err).Str("symbol", snapshot.Symbol).Msg("BUY order failed")
		return
	}
	metrics.RecordOrder(string(exchange.OrderSideBuy))

	entry := order.AvgFillPrice
	if entry == 0 {
		entry = snapshot.LastPrice
	}
	id, err := s.deps.Ledger.Open(ctx, snapshot.Symbol, positions.SideLong, entry, order.FilledQty, "consensus", map[string]any{
		"cycle":      cycle,
		"confidence": decision.Confidence,
		"aggregate":  decision.Aggregate,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", snapshot.Symbol).Msg("Order filled but ledger open failed")
		return
	}
	metrics.OpenPositions.Inc()

	if err := s.deps.Envelope.StopLoss().Track(safety.PositionRef{
		ID:         id,
		Symbol:     snapshot.Symbol,
		Side:       string(positions.SideLong),
		EntryPrice: entry,
	}, snapshot.OHLCV); err != nil {
		s.logger.Warn().Err(err).Str("position_id", id.String()).Msg("Stop-loss tracking unavailable")
	}
}

func (s *Scheduler) executeSell(ctx context.Context, snapshot *market.Snapshot, decision *orchestrator.Decision, open []*positions.Position) {
	for _, p := range open {
		reason := decision.Reason
		if decision.VetoedBy != "" {
			reason = fmt.Sprintf("risk veto by %s: %s", decision.VetoedBy, decision.Reason)
		}
		s.closePosition(ctx, p, snapshot.LastPrice, reason, string(exchange.OrderSideSell))
	}
}

// protectPositions runs the stop-loss tick and every protection bot
// over the symbol's open positions.
func (s *Scheduler) protectPositions(ctx context.Context, snapshot *market.Snapshot, open []*positions.Position) {
	stops := s.deps.Envelope.StopLoss()
	for _, p := range open {
		tick := bots.PositionTick{
			PositionID: p.ID,
			Symbol:     p.Symbol,
			Side:       string(p.Side),
			EntryPrice: p.EntryPrice,
			Amount:     p.Amount,
			LastPrice:  snapshot.LastPrice,
		}

		closed := false
		for _, ev := range s.deps.Registry.Evaluators() {
			eval, err := ev.Evaluate(ctx, tick)
			if err != nil {
				s.logger.Warn().Err(err).Str("bot", ev.Name()).Str("position_id", p.ID.String()).Msg("Evaluator failed")
				continue
			}
			if eval == nil {
				continue
			}
			if eval.AdjustStop != nil {
				stops.AdjustStop(p.ID, *eval.AdjustStop)
			}
			if eval.Close {
				s.closePosition(ctx, p, snapshot.LastPrice, fmt.Sprintf("%s: %s", ev.Name(), eval.Reason), string(exchange.OrderSideSell))
				closed = true
				break
			}
		}
		if closed {
			continue
		}

		if directive := stops.OnTick(p.ID, snapshot.LastPrice); directive != nil {
			metrics.StopLossTriggers.Inc()
			s.deps.Publisher.Publish(ctx, events.SubjectStopLossTriggered, directive)
			s.closePosition(ctx, p, directive.LastPrice, directive.Reason, string(exchange.OrderSideSell))
		}
	}
}

func (s *Scheduler) closePosition(ctx context.Context, p *positions.Position, exitPrice float64, reason, side string) {
	if !s.cfg.Enabled {
		s.logger.Info().
			Str("symbol", p.Symbol).
			Str("position_id", p.ID.String()).
			Str("reason", reason).
			Msg("Monitoring-only: would close position")
		return
	}

	if _, err := s.deps.Envelope.PlaceOrder(ctx, exchange.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        p.Symbol,
		Side:          exchange.OrderSide(side),
		Type:          exchange.OrderTypeMarket,
		Quantity:      p.Amount,
	}); err != nil {
		s.logger.Error().Err(err).Str("position_id", p.ID.String()).Msg("Close order failed")
		return
	}
	metrics.RecordOrder(side)

	closed, err := s.deps.Ledger.Close(ctx, p.ID, exitPrice, reason, 0)
	if err != nil {
		s.logger.Error().Err(err).Str("position_id", p.ID.String()).Msg("Order filled but ledger close failed")
		return
	}
	s.deps.Envelope.StopLoss().Forget(p.ID)

	var pnl float64
	if closed.RealizedPnL != nil {
		pnl = *closed.RealizedPnL
	}
	metrics.RecordPositionClosed(pnl)
	s.logger.Info().
		Str("symbol", p.Symbol).
		Str("position_id", p.ID.String()).
		Float64("realized_pnl", pnl).
		Str("reason", reason).
		Msg("Position closed")
}

func (s *Scheduler) healthCheck(ctx context.Context) string {
	health := "ok"
	if err := s.deps.Ledger.Health(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Health check: ledger unreachable")
		health = "degraded"
	}
	if state := s.deps.Envelope.CircuitState(); state == "open" {
		s.logger.Warn().Msg("Health check: exchange circuit open")
		health = "degraded"
	}
	return health
}

// shutdown runs the cooperative sequence: the in-flight cycle has
// already finished (cycles run inline), so verify the ledger within a
// grace deadline and announce the exit.
func (s *Scheduler) shutdown(reason string) error {
	s.logger.Info().Str("reason", reason).Msg("Scheduler shutting down")

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Ledger.Health(flushCtx); err != nil {
		s.logger.Error().Err(err).Msg("Ledger flush check failed during shutdown")
	}

	if s.deps.Notifier != nil {
		s.deps.Notifier.ShutdownNotice(flushCtx, reason)
	}
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}
