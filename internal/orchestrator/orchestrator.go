// Package orchestrator converts the per-cycle bot signals into a single
// trading decision per symbol via weighted category voting.
package orchestrator

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"tradewarden/internal/bots"
	"tradewarden/internal/config"
	"tradewarden/internal/events"
	"tradewarden/internal/intel"
	"tradewarden/internal/market"
)

// defaultWeights apply when the configuration leaves a category unset.
var defaultWeights = map[bots.Category]float64{
	bots.CategoryAIML:       0.25,
	bots.CategoryStrategy:   0.20,
	bots.CategoryIndicator:  0.15,
	bots.CategoryRisk:       0.20,
	bots.CategoryProtection: 0.15,
	bots.CategoryGeneral:    0.05,
}

// vetoConfidence is the floor at which a RISK signal becomes veto-capable.
const vetoConfidence = 0.9

// Decision is the orchestrator's verdict for one symbol in one cycle.
type Decision struct {
	Symbol              string                    `json:"symbol"`
	FinalAction         bots.Action               `json:"final_action"`
	Confidence          float64                   `json:"confidence"`
	Aggregate           float64                   `json:"aggregate"`
	ContributingSignals []bots.Signal             `json:"contributing_signals"`
	DissentRatio        float64                   `json:"dissent_ratio"`
	WeightsApplied      map[bots.Category]float64 `json:"weights_applied"`
	StaleBots           []string                  `json:"stale_bots,omitempty"`
	VetoedBy            string                    `json:"vetoed_by,omitempty"`
	Reason              string                    `json:"reason"`
	Intelligence        *intel.Bundle             `json:"intelligence,omitempty"`
	DecidedAt           time.Time                 `json:"decided_at"`
}

type metricsSet struct {
	decisions *prometheus.CounterVec
	stale     *prometheus.CounterVec
	isolated  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metrics     *metricsSet
)

func getMetrics() *metricsSet {
	metricsOnce.Do(func() {
		metrics = &metricsSet{
			decisions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tradewarden_decisions_total",
				Help: "Decisions emitted by final action",
			}, []string{"action"}),
			stale: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "tradewarden_bot_stale_total",
				Help: "Bot analyze calls skipped for exceeding the cycle budget",
			}, []string{"bot"}),
			isolated: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "tradewarden_bots_isolated",
				Help: "Bots currently isolated for repeated errors",
			}),
		}
	})
	return metrics
}

// Orchestrator aggregates bot signals cycle by cycle. Decide is called
// once per cycle by the scheduler; internal state is still locked so
// status readers can observe it concurrently.
type Orchestrator struct {
	registry  *bots.Registry
	publisher events.Publisher
	logger    zerolog.Logger
	metrics   *metricsSet

	tau         float64
	dissentGate float64
	weights     map[bots.Category]float64
	botTimeout  time.Duration
	isolationN  int
	isolationM  int

	mu        sync.Mutex
	cycle     int
	errCycles map[string][]int // bot -> cycles with errors, pruned to the window
	isolated  map[string]bool
}

// New builds the orchestrator from configuration.
func New(cfg config.OrchestratorConfig, registry *bots.Registry, publisher events.Publisher) *Orchestrator {
	tau := cfg.DecisionThreshold
	if tau <= 0 {
		tau = 0.15
	}
	gate := cfg.DissentGate
	if gate <= 0 {
		gate = 0.4
	}
	isolationN := cfg.ErrorIsolationN
	if isolationN <= 0 {
		isolationN = 3
	}
	isolationM := cfg.ErrorIsolationM
	if isolationM <= 0 {
		isolationM = 10
	}
	timeout := cfg.BotTimeout()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	weights := make(map[bots.Category]float64, len(defaultWeights))
	for cat, w := range defaultWeights {
		weights[cat] = w
	}
	for name, w := range cfg.CategoryWeights {
		weights[bots.Category(name)] = w
	}

	return &Orchestrator{
		registry:    registry,
		publisher:   publisher,
		logger:      config.NewLogger("orchestrator"),
		metrics:     getMetrics(),
		tau:         tau,
		dissentGate: gate,
		weights:     weights,
		botTimeout:  timeout,
		isolationN:  isolationN,
		isolationM:  isolationM,
		errCycles:   make(map[string][]int),
		isolated:    make(map[string]bool),
	}
}

// Decide gathers signals from every non-isolated analyzer bot on the
// snapshot and reduces them into one decision. hasPosition reports
// whether an open position exists for the symbol, which a SELL veto
// needs to act.
func (o *Orchestrator) Decide(ctx context.Context, snapshot *market.Snapshot, bundle *intel.Bundle, hasPosition bool) *Decision {
	o.mu.Lock()
	o.cycle++
	cycle := o.cycle
	o.releaseRecovered(cycle)
	o.mu.Unlock()

	signals, stale := o.gather(ctx, snapshot, cycle)

	decision := o.reduce(snapshot.Symbol, signals, hasPosition)
	decision.StaleBots = stale
	decision.Intelligence = bundle
	decision.DecidedAt = time.Now().UTC()

	o.metrics.decisions.WithLabelValues(string(decision.FinalAction)).Inc()
	o.publisher.Publish(ctx, events.SubjectDecisionEmitted, decision)
	o.logger.Info().
		Str("symbol", decision.Symbol).
		Str("action", string(decision.FinalAction)).
		Float64("confidence", decision.Confidence).
		Float64("dissent", decision.DissentRatio).
		Str("reason", decision.Reason).
		Msg("Decision made")
	return decision
}

// gather fans analyze calls out to the fleet with a per-bot deadline.
// Bots over budget are tallied stale; bots that error contribute a
// confidence-zero errored signal and advance their isolation window.
func (o *Orchestrator) gather(ctx context.Context, snapshot *market.Snapshot, cycle int) ([]bots.Signal, []string) {
	analyzers := o.registry.Analyzers()

	type outcome struct {
		signal *bots.Signal
		stale  bool
		name   string
	}

	results := make(chan outcome, len(analyzers))
	var wg sync.WaitGroup
	for _, analyzer := range analyzers {
		o.mu.Lock()
		skip := o.isolated[analyzer.Name()]
		o.mu.Unlock()
		if skip {
			continue
		}

		wg.Add(1)
		go func(a bots.Analyzer) {
			defer wg.Done()

			actx, cancel := context.WithTimeout(ctx, o.botTimeout)
			defer cancel()

			type reply struct {
				signal *bots.Signal
				err    error
			}
			done := make(chan reply, 1)
			go func() {
				sig, err := a.Analyze(actx, snapshot)
				done <- reply{sig, err}
			}()

			select {
			case r := <-done:
				if r.err != nil {
					o.recordError(a, snapshot.Symbol, cycle)
					results <- outcome{signal: &bots.Signal{
						BotName:   a.Name(),
						Category:  a.Category(),
						Symbol:    snapshot.Symbol,
						Action:    bots.ActionHold,
						Reason:    r.err.Error(),
						Errored:   true,
						EmittedAt: time.Now().UTC(),
					}}
					return
				}
				results <- outcome{signal: r.signal}
			case <-actx.Done():
				o.metrics.stale.WithLabelValues(a.Name()).Inc()
				results <- outcome{stale: true, name: a.Name()}
			}
		}(analyzer)
	}
	wg.Wait()
	close(results)

	var signals []bots.Signal
	var stale []string
	for r := range results {
		switch {
		case r.stale:
			stale = append(stale, r.name)
		case r.signal != nil:
			signals = append(signals, *r.signal)
		}
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i].BotName < signals[j].BotName })
	sort.Strings(stale)
	return signals, stale
}

// recordError advances a bot's error window and isolates it when the
// window holds isolationN or more errors.
func (o *Orchestrator) recordError(bot bots.Bot, symbol string, cycle int) {
	o.mu.Lock()
	name := bot.Name()
	kept := o.errCycles[name][:0]
	for _, c := range o.errCycles[name] {
		if c > cycle-o.isolationM {
			kept = append(kept, c)
		}
	}
	kept = append(kept, cycle)
	o.errCycles[name] = kept

	justIsolated := false
	if len(kept) >= o.isolationN && !o.isolated[name] {
		o.isolated[name] = true
		justIsolated = true
	}
	errorCount := len(kept)
	isolatedCount := len(o.isolated)
	o.mu.Unlock()

	if justIsolated {
		o.metrics.isolated.Set(float64(isolatedCount))
		o.publisher.Publish(context.Background(), events.SubjectBotIsolated, map[string]any{
			"bot":    name,
			"symbol": symbol,
			"errors": errorCount,
			"window": o.isolationM,
		})
		o.logger.Warn().
			Str("bot", name).
			Int("errors", errorCount).
			Int("window_cycles", o.isolationM).
			Msg("Bot isolated after repeated errors")
	}
}

// releaseRecovered lifts isolation from bots whose error window has
// drained and who report healthy again. Caller holds the lock.
func (o *Orchestrator) releaseRecovered(cycle int) {
	for name := range o.isolated {
		kept := o.errCycles[name][:0]
		for _, c := range o.errCycles[name] {
			if c > cycle-o.isolationM {
				kept = append(kept, c)
			}
		}
		o.errCycles[name] = kept
		if len(kept) >= o.isolationN {
			continue
		}
		bot, ok := o.registry.Get(name)
		if ok && bot.Status().Health != bots.HealthOK {
			continue
		}
		delete(o.isolated, name)
		o.logger.Info().Str("bot", name).Msg("Bot released from isolation")
	}
	o.metrics.isolated.Set(float64(len(o.isolated)))
}

// reduce runs the weighted vote over the gathered signals.
func (o *Orchestrator) reduce(symbol string, signals []bots.Signal, hasPosition bool) *Decision {
	decision := &Decision{
		Symbol:              symbol,
		FinalAction:         bots.ActionHold,
		ContributingSignals: signals,
		WeightsApplied:      o.weights,
		Reason:              "no signals",
	}
	if len(signals) == 0 {
		return decision
	}

	type bucket struct {
		score float64
		count int
	}
	buckets := make(map[bots.Category]*bucket)
	var buyWeight, sellWeight float64
	for _, sig := range signals {
		if sig.Errored {
			continue
		}
		b := buckets[sig.Category]
		if b == nil {
			b = &bucket{}
			buckets[sig.Category] = b
		}
		b.score += sig.Confidence * sig.Action.Sign()
		b.count++

		w := o.weights[sig.Category]
		switch sig.Action {
		case bots.ActionBuy:
			buyWeight += w * sig.Confidence
		case bots.ActionSell:
			sellWeight += w * sig.Confidence
		}
	}

	var aggregate float64
	for cat, b := range buckets {
		if b.count == 0 {
			continue
		}
		aggregate += o.weights[cat] * (b.score / float64(b.count))
	}
	decision.Aggregate = aggregate
	decision.Confidence = clamp01(math.Abs(aggregate))

	switch {
	case aggregate > o.tau:
		decision.FinalAction = bots.ActionBuy
		decision.Reason = "aggregate above threshold"
	case aggregate < -o.tau:
		decision.FinalAction = bots.ActionSell
		decision.Reason = "aggregate below threshold"
	default:
		// Exactly at the threshold counts as HOLD
		decision.FinalAction = bots.ActionHold
		decision.Reason = "aggregate within threshold"
	}

	if total := buyWeight + sellWeight; total > 0 {
		decision.DissentRatio = math.Min(buyWeight, sellWeight) / total
	}
	if decision.DissentRatio > o.dissentGate {
		decision.FinalAction = bots.ActionHold
		decision.Reason = "dissent gate"
	}

	if veto, ok := resolveVeto(signals); ok {
		switch veto.Action {
		case bots.ActionSell:
			decision.VetoedBy = veto.BotName
			if hasPosition {
				decision.FinalAction = bots.ActionSell
				decision.Reason = "risk veto"
			} else {
				decision.FinalAction = bots.ActionHold
				decision.Reason = "risk veto without position"
			}
			decision.Confidence = veto.Confidence
		case bots.ActionHold:
			// Equal-confidence vetoes in opposite directions cancel out
			decision.VetoedBy = veto.BotName
			decision.FinalAction = bots.ActionHold
			decision.Reason = "conflicting risk vetoes"
		default:
			// A high-confidence RISK BUY outranks a SELL veto but forces
			// nothing on its own.
		}
	}

	return decision
}

// resolveVeto picks the winning veto-strength RISK signal. Conflicting
// vetoes resolve to the higher confidence; an exact tie across directions
// degrades the veto to HOLD, which forces nothing.
func resolveVeto(signals []bots.Signal) (bots.Signal, bool) {
	var vetoes []bots.Signal
	for _, sig := range signals {
		if sig.Errored || sig.Category != bots.CategoryRisk {
			continue
		}
		if sig.Action == bots.ActionHold || sig.Confidence < vetoConfidence {
			continue
		}
		vetoes = append(vetoes, sig)
	}
	if len(vetoes) == 0 {
		return bots.Signal{}, false
	}

	winner := vetoes[0]
	tied := false
	for _, v := range vetoes[1:] {
		switch {
		case v.Confidence > winner.Confidence:
			winner = v
			tied = false
		case v.Confidence == winner.Confidence && v.Action != winner.Action:
			tied = true
		}
	}
	if tied {
		winner.Action = bots.ActionHold
	}
	return winner, true
}

// IsolatedBots lists bots currently under error isolation, name-sorted.
func (o *Orchestrator) IsolatedBots() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.isolated))
	for name := range o.isolated {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
