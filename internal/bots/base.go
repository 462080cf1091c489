package bots

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"tradewarden/internal/config"
	"tradewarden/internal/market"
)

var (
	botMetrics     *botMetricsSet
	botMetricsOnce sync.Once
)

type botMetricsSet struct {
	signals *prometheus.CounterVec
	errors  *prometheus.CounterVec
}

func initBotMetrics() *botMetricsSet {
	botMetricsOnce.Do(func() {
		botMetrics = &botMetricsSet{
			signals: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tradewarden_bot_signals_total",
					Help: "Signals emitted per bot and action",
				},
				[]string{"bot", "action"},
			),
			errors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tradewarden_bot_errors_total",
					Help: "Errors raised per bot",
				},
				[]string{"bot"},
			),
		}
	})
	return botMetrics
}

// Base is the shared scaffolding embedded by every built-in bot:
// identity, structured logging, metrics counters, and input assertions.
type Base struct {
	name     string
	version  string
	category Category
	logger   zerolog.Logger
	metrics  *botMetricsSet
}

// NewBase builds the scaffolding; the category is inferred from the name.
func NewBase(name, version string) Base {
	category := Categorize(name)
	return Base{
		name:     name,
		version:  version,
		category: category,
		logger:   config.NewBotLogger(name, string(category)),
		metrics:  initBotMetrics(),
	}
}

func (b *Base) Name() string       { return b.name }
func (b *Base) Version() string    { return b.version }
func (b *Base) Category() Category { return b.category }

// Logger returns the bot's structured logger.
func (b *Base) Logger() zerolog.Logger { return b.logger }

// Status reports the common health shape; bots with richer metrics
// override this.
func (b *Base) Status() Status {
	return Status{
		Name:     b.name,
		Version:  b.version,
		Category: b.category,
		Health:   HealthOK,
	}
}

// Emit builds a validated signal and bumps the metrics counter. The
// confidence is clamped to [0, 1].
func (b *Base) Emit(symbol string, action Action, confidence float64, reason string, indicators map[string]any) (*Signal, error) {
	if err := market.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if action != ActionBuy && action != ActionSell && action != ActionHold {
		return nil, fmt.Errorf("invalid action %q", action)
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	b.metrics.signals.WithLabelValues(b.name, string(action)).Inc()
	return &Signal{
		BotName:    b.name,
		Category:   b.category,
		Symbol:     symbol,
		Action:     action,
		Confidence: confidence,
		Reason:     reason,
		Indicators: indicators,
		EmittedAt:  time.Now(),
	}, nil
}

// CountError bumps the bot's error counter.
func (b *Base) CountError() {
	b.metrics.errors.WithLabelValues(b.name).Inc()
}

// AssertOrderInputs guards order parameters built from bot output.
func AssertOrderInputs(symbol, side string, amount float64) error {
	if err := market.ValidateSymbol(symbol); err != nil {
		return err
	}
	if side != string(ActionBuy) && side != string(ActionSell) {
		return fmt.Errorf("side must be BUY or SELL, got %q", side)
	}
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %v", amount)
	}
	return nil
}

// toChan feeds a price slice into a channel the way the indicator
// library consumes series.
func toChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

// collect drains an indicator output channel.
func collect(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}
