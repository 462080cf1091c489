// Package metrics exposes the engine's Prometheus instruments and the
// HTTP server that serves them.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Halt reasons form a bounded label set. Free-form reasons would blow
// up series cardinality.
const (
	HaltReasonDrawdown   = "max_drawdown"
	HaltReasonVolatility = "high_volatility"
	HaltReasonRateLimit  = "rate_limit"
	HaltReasonRugPull    = "rug_pull"
	HaltReasonManual     = "manual_halt"
	HaltReasonOther      = "other"
)

// NormalizeHaltReason maps an arbitrary halt reason onto the bounded set.
func NormalizeHaltReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "drawdown"):
		return HaltReasonDrawdown
	case strings.Contains(lower, "volatil"):
		return HaltReasonVolatility
	case strings.Contains(lower, "rate") || strings.Contains(lower, "limit"):
		return HaltReasonRateLimit
	case strings.Contains(lower, "rug") || strings.Contains(lower, "liquidity"):
		return HaltReasonRugPull
	case strings.Contains(lower, "manual") || strings.Contains(lower, "halt") || strings.Contains(lower, "pause"):
		return HaltReasonManual
	default:
		return HaltReasonOther
	}
}

// Trading cycle instruments.
var (
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewarden_cycles_total",
		Help: "Completed trading cycles",
	})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradewarden_cycle_duration_seconds",
		Help:    "Wall-clock duration of one trading cycle",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	CyclePanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewarden_cycle_panics_total",
		Help: "Trading cycles aborted by a recovered panic",
	})
)

// Position ledger instruments.
var (
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewarden_open_positions",
		Help: "Currently open positions",
	})

	PositionExposure = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradewarden_position_exposure_usd",
		Help: "Entry-price notional of open positions per symbol",
	}, []string{"symbol"})

	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewarden_realized_pnl_usd",
		Help: "Cumulative realized profit and loss since start",
	})

	OrdersExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewarden_orders_total",
		Help: "Orders placed through the exchange envelope",
	}, []string{"side"})

	StopLossTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewarden_stoploss_triggers_total",
		Help: "Positions closed by a stop-loss evaluator",
	})
)

// Bot fleet instruments.
var (
	ActiveBots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewarden_active_bots",
		Help: "Registered bots reporting healthy",
	})

	BotHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradewarden_bot_health",
		Help: "Per-bot health: 1 healthy, 0 degraded or failed",
	}, []string{"bot"})
)

// Safety and deployment instruments.
var (
	SafetyHalts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewarden_safety_halts_total",
		Help: "Trading halts by normalized reason",
	}, []string{"reason"})

	Rollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewarden_rollbacks_total",
		Help: "Deployment rollbacks executed",
	})
)

// Control API instruments.
var (
	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewarden_api_requests_total",
		Help: "Control API requests by route and status",
	}, []string{"method", "route", "status"})

	apiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradewarden_api_request_duration_seconds",
		Help:    "Control API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// RecordCycle observes one completed trading cycle.
func RecordCycle(seconds float64) {
	CyclesTotal.Inc()
	CycleDuration.Observe(seconds)
}

// RecordOrder counts one executed order.
func RecordOrder(side string) {
	OrdersExecuted.WithLabelValues(side).Inc()
}

// RecordPositionClosed folds a realized PnL delta into the running total.
func RecordPositionClosed(pnl float64) {
	RealizedPnL.Add(pnl)
	OpenPositions.Dec()
}

// RecordHalt counts a safety halt under its normalized reason.
func RecordHalt(reason string) {
	SafetyHalts.WithLabelValues(NormalizeHaltReason(reason)).Inc()
}

// RecordAPIRequest instruments one control API request. The route label
// must be the registered pattern, not the raw path.
func RecordAPIRequest(method, route, status string, seconds float64) {
	apiRequests.WithLabelValues(method, route, status).Inc()
	apiDuration.WithLabelValues(method, route).Observe(seconds)
}
