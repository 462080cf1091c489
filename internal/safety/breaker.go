package safety

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"tradewarden/internal/config"
	"tradewarden/internal/exchange"
)

// Outcome classifies a venue call for the circuit breaker.
type Outcome int

const (
	// OutcomeSuccess is a completed call.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure is a transient environment failure (network,
	// timeout, 5xx-equivalent) that counts toward tripping.
	OutcomeFailure
	// OutcomeNeutral is a local bug (decode, validation) that says
	// nothing about the venue and must not trip the circuit.
	OutcomeNeutral
)

// ClassifyOutcome maps exchange-boundary errors onto breaker outcomes.
func ClassifyOutcome(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case isNeutral(err):
		return OutcomeNeutral
	default:
		return OutcomeFailure
	}
}

func isNeutral(err error) bool {
	for _, sentinel := range []error{
		exchange.ErrDecode,
		exchange.ErrValidation,
		exchange.ErrNotFound,
		exchange.ErrConflict,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

var (
	breakerMetrics     *breakerMetricsSet
	breakerMetricsOnce sync.Once
)

type breakerMetricsSet struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
}

func initBreakerMetrics() *breakerMetricsSet {
	breakerMetricsOnce.Do(func() {
		breakerMetrics = &breakerMetricsSet{
			state: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "tradewarden_circuit_breaker_state",
					Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
				},
				[]string{"name"},
			),
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tradewarden_circuit_breaker_requests_total",
					Help: "Requests through the circuit breaker by result",
				},
				[]string{"name", "result"},
			),
		}
	})
	return breakerMetrics
}

// StateChange describes one breaker transition for event publication.
type StateChange struct {
	From   string
	To     string
	Reason string
}

// Breaker wraps gobreaker with consecutive-failure tripping and a
// single-probe half-open state.
type Breaker struct {
	cb       *gobreaker.TwoStepCircuitBreaker
	name     string
	metrics  *breakerMetricsSet
	logger   zerolog.Logger
	onChange func(StateChange)
}

// NewBreaker builds the venue circuit breaker. onChange may be nil.
func NewBreaker(name string, failureThreshold int, recoveryTimeout time.Duration, onChange func(StateChange)) *Breaker {
	b := &Breaker{
		name:     name,
		metrics:  initBreakerMetrics(),
		logger:   config.NewLogger("safety.breaker"),
		onChange: onChange,
	}

	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // half-open admits a single probe
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.metrics.state.WithLabelValues(name).Set(stateValue(to))
			b.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit state changed")
			if b.onChange != nil {
				b.onChange(StateChange{
					From:   from.String(),
					To:     to.String(),
					Reason: transitionReason(from, to),
				})
			}
		},
	})

	b.metrics.state.WithLabelValues(name).Set(stateValue(b.cb.State()))
	return b
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func transitionReason(from, to gobreaker.State) string {
	switch {
	case to == gobreaker.StateOpen && from == gobreaker.StateHalfOpen:
		return "probe failed"
	case to == gobreaker.StateOpen:
		return "failure threshold reached"
	case to == gobreaker.StateHalfOpen:
		return "recovery timeout elapsed"
	default:
		return "probe succeeded"
	}
}

// Allow asks for admission. When the circuit is open it returns
// ErrCircuitOpen without any I/O. On admission the returned record
// function must be called exactly once with the call's outcome.
func (b *Breaker) Allow() (record func(Outcome), err error) {
	done, err := b.cb.Allow()
	if err != nil {
		b.metrics.requests.WithLabelValues(b.name, "rejected").Inc()
		return nil, fmt.Errorf("%w: %s", exchange.ErrCircuitOpen, b.name)
	}
	return func(outcome Outcome) {
		switch outcome {
		case OutcomeFailure:
			b.metrics.requests.WithLabelValues(b.name, "failure").Inc()
			done(false)
		case OutcomeNeutral:
			// Neutral errors do not describe the venue; count the
			// request as non-failure so the trip counter is untouched.
			b.metrics.requests.WithLabelValues(b.name, "neutral").Inc()
			done(true)
		default:
			b.metrics.requests.WithLabelValues(b.name, "success").Inc()
			done(true)
		}
	}, nil
}

// State returns the current state name: "closed", "open" or "half-open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}
