package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradewarden/internal/config"
	"tradewarden/internal/market"
)

// PositionRef is the slice of a position the stop-loss tracker needs.
type PositionRef struct {
	ID         uuid.UUID
	Symbol     string
	Side       string // "LONG" or "SHORT"
	EntryPrice float64
}

// CloseDirective tells the caller a stop was crossed. The tracker never
// executes the close itself.
type CloseDirective struct {
	PositionID uuid.UUID
	Symbol     string
	StopPrice  float64
	LastPrice  float64
	Reason     string
	IssuedAt   time.Time
}

type stopState struct {
	ref         PositionRef
	stopPrice   float64
	distancePct float64
	updatedAt   time.Time
}

// StopLoss tracks an ATR-derived trailing stop per open position. Stops
// only ever move toward profit.
type StopLoss struct {
	mu     sync.Mutex
	stops  map[uuid.UUID]*stopState
	cfg    config.StopLossConfig
	now    func() time.Time
	logger zerolog.Logger
}

// NewStopLoss builds the tracker from stop-loss config.
func NewStopLoss(cfg config.StopLossConfig) *StopLoss {
	return &StopLoss{
		stops:  make(map[uuid.UUID]*stopState),
		cfg:    cfg,
		now:    time.Now,
		logger: config.NewLogger("safety.stoploss"),
	}
}

// ATR is the mean true range over the configured period, computed on the
// most recent candles.
func ATR(candles []market.OHLCV, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("atr period must be positive, got %d", period)
	}
	// True range needs the previous close, so period+1 candles
	if len(candles) < period+1 {
		return 0, fmt.Errorf("atr needs %d candles, got %d", period+1, len(candles))
	}

	start := len(candles) - period
	var sum float64
	for i := start; i < len(candles); i++ {
		tr := candles[i].High - candles[i].Low
		prevClose := candles[i-1].Close
		if d := abs(candles[i].High - prevClose); d > tr {
			tr = d
		}
		if d := abs(candles[i].Low - prevClose); d > tr {
			tr = d
		}
		sum += tr
	}
	return sum / float64(period), nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// distance returns the stop distance as a fraction of price, clamped to
// the configured bounds.
func (sl *StopLoss) distance(atr, price float64) float64 {
	pct := sl.cfg.BasePct + sl.cfg.ATRMultiplier*(atr/price)*100
	if pct < sl.cfg.MinPct {
		pct = sl.cfg.MinPct
	}
	if pct > sl.cfg.MaxPct {
		pct = sl.cfg.MaxPct
	}
	return pct / 100
}

// Track establishes or refreshes the stop for a position. The initial
// stop anchors on the entry price.
func (sl *StopLoss) Track(ref PositionRef, candles []market.OHLCV) error {
	atr, err := ATR(candles, sl.cfg.ATRPeriod)
	if err != nil {
		return err
	}
	d := sl.distance(atr, ref.EntryPrice)

	stop := ref.EntryPrice * (1 - d)
	if ref.Side == "SHORT" {
		stop = ref.EntryPrice * (1 + d)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if existing, ok := sl.stops[ref.ID]; ok {
		// Re-tracking never loosens an established stop
		if !favorable(ref.Side, stop, existing.stopPrice) {
			return nil
		}
	}
	sl.stops[ref.ID] = &stopState{
		ref:         ref,
		stopPrice:   stop,
		distancePct: d * 100,
		updatedAt:   sl.now(),
	}

	sl.logger.Info().
		Str("position_id", ref.ID.String()).
		Str("symbol", ref.Symbol).
		Float64("stop_price", stop).
		Float64("distance_pct", d*100).
		Msg("Stop-loss tracked")
	return nil
}

// favorable reports whether candidate is a better (more protective) stop
// than current for the given side.
func favorable(side string, candidate, current float64) bool {
	if side == "SHORT" {
		return candidate < current
	}
	return candidate > current
}

// OnTick updates trailing stops with the latest price and returns a close
// directive when the price crosses a stop. The stop may only move toward
// profit; an adverse move leaves it where it was.
func (sl *StopLoss) OnTick(positionID uuid.UUID, price float64) *CloseDirective {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	state, ok := sl.stops[positionID]
	if !ok {
		return nil
	}

	crossed := price <= state.stopPrice
	if state.ref.Side == "SHORT" {
		crossed = price >= state.stopPrice
	}
	if crossed {
		directive := &CloseDirective{
			PositionID: positionID,
			Symbol:     state.ref.Symbol,
			StopPrice:  state.stopPrice,
			LastPrice:  price,
			Reason:     fmt.Sprintf("stop-loss crossed at %.8g", state.stopPrice),
			IssuedAt:   sl.now(),
		}
		delete(sl.stops, positionID)
		return directive
	}

	// Trail: move the stop toward profit, never away
	d := state.distancePct / 100
	candidate := price * (1 - d)
	if state.ref.Side == "SHORT" {
		candidate = price * (1 + d)
	}
	if favorable(state.ref.Side, candidate, state.stopPrice) {
		state.stopPrice = candidate
		state.updatedAt = sl.now()
	}
	return nil
}

// AdjustStop moves a tracked stop to the requested price, honoring the
// toward-profit-only rule. Protection bots use this to lock in gains.
func (sl *StopLoss) AdjustStop(positionID uuid.UUID, stop float64) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	state, ok := sl.stops[positionID]
	if !ok || !favorable(state.ref.Side, stop, state.stopPrice) {
		return false
	}
	state.stopPrice = stop
	state.updatedAt = sl.now()

	sl.logger.Info().
		Str("position_id", positionID.String()).
		Float64("stop_price", stop).
		Msg("Stop-loss adjusted")
	return true
}

// Forget drops tracking for a position, used after an external close.
func (sl *StopLoss) Forget(positionID uuid.UUID) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	delete(sl.stops, positionID)
}

// StopPrice returns the current stop for a position, if tracked.
func (sl *StopLoss) StopPrice(positionID uuid.UUID) (float64, bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	state, ok := sl.stops[positionID]
	if !ok {
		return 0, false
	}
	return state.stopPrice, true
}
