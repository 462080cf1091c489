// Package bots defines the bot capability protocol, the shared base, the
// registry, and the built-in bot fleet.
package bots

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tradewarden/internal/market"
)

// Action is a bot's recommended direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Sign is the direction sign used by the orchestrator: +1 BUY, -1 SELL,
// 0 HOLD.
func (a Action) Sign() float64 {
	switch a {
	case ActionBuy:
		return 1
	case ActionSell:
		return -1
	default:
		return 0
	}
}

// Signal is one bot's recommendation for one symbol in one cycle.
type Signal struct {
	BotName    string         `json:"bot_name"`
	Category   Category       `json:"category"`
	Symbol     string         `json:"symbol"`
	Action     Action         `json:"action"`
	Confidence float64        `json:"confidence"` // [0, 1]
	Reason     string         `json:"reason"`
	Indicators map[string]any `json:"indicators,omitempty"` // opaque audit trail
	Errored    bool           `json:"errored,omitempty"`
	EmittedAt  time.Time      `json:"emitted_at"`
}

// Health of a bot as reported in its status.
type Health string

const (
	HealthOK       Health = "ok"
	HealthDegraded Health = "degraded"
	HealthIsolated Health = "isolated"
)

// Status is the common status report every bot serves.
type Status struct {
	Name     string             `json:"name"`
	Version  string             `json:"version"`
	Category Category           `json:"category"`
	Health   Health             `json:"health"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// Bot is the minimal capability every bot implements. The further
// capabilities below are discovered by interface assertion, not by
// category.
type Bot interface {
	Name() string
	Version() string
	Category() Category
	Status() Status
}

// Analyzer bots emit a trading signal from a snapshot. Returning a nil
// signal means the bot abstains this cycle.
type Analyzer interface {
	Bot
	Analyze(ctx context.Context, snapshot *market.Snapshot) (*Signal, error)
}

// Updater bots consume snapshots to maintain internal state without
// emitting signals.
type Updater interface {
	Bot
	Update(ctx context.Context, snapshot *market.Snapshot) error
}

// PositionTick is the input to protection bots: one open position and the
// latest price.
type PositionTick struct {
	PositionID uuid.UUID
	Symbol     string
	Side       string
	EntryPrice float64
	Amount     float64
	LastPrice  float64
}

// Evaluation is a protection bot's verdict on an open position.
type Evaluation struct {
	Close      bool     `json:"close"`
	AdjustStop *float64 `json:"adjust_stop,omitempty"`
	Reason     string   `json:"reason"`
}

// Evaluator bots judge open positions each tick.
type Evaluator interface {
	Bot
	Evaluate(ctx context.Context, tick PositionTick) (*Evaluation, error)
}
