package safety

import (
	"sync"

	"github.com/rs/zerolog"

	"tradewarden/internal/config"
	"tradewarden/internal/market"
)

// RiskLevel buckets a rug shield score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Score weights for each screening rule. A symbol passing every rule
// scores 0; the blacklist alone is disqualifying.
const (
	scoreLowLiquidity = 40
	scoreLowVolume    = 25
	scoreWideSpread   = 25
	scoreBlacklisted  = 100

	// Safe threshold: anything at or above this score is rejected.
	unsafeScore = 50
)

// Assessment is the result of screening one symbol before an order.
type Assessment struct {
	Symbol  string    `json:"symbol"`
	Score   int       `json:"score"` // 0-100, higher is riskier
	Level   RiskLevel `json:"level"`
	Safe    bool      `json:"safe"`
	Reasons []string  `json:"reasons,omitempty"`
}

// RugShield screens assets before any new order is placed. It rejects
// thin books, dead volume, wide spreads and blacklisted symbols.
type RugShield struct {
	mu        sync.RWMutex
	blacklist map[string]struct{}

	minLiquidityUSD float64
	minVolumeUSD    float64
	maxSpreadPct    float64
	logger          zerolog.Logger
}

// NewRugShield builds the screen from rug shield config.
func NewRugShield(cfg config.RugShieldConfig) *RugShield {
	blacklist := make(map[string]struct{}, len(cfg.Blacklist))
	for _, symbol := range cfg.Blacklist {
		blacklist[symbol] = struct{}{}
	}
	return &RugShield{
		blacklist:       blacklist,
		minLiquidityUSD: cfg.MinLiquidityUSD,
		minVolumeUSD:    cfg.MinVolume24hUSD,
		maxSpreadPct:    cfg.MaxSpreadPct,
		logger:          config.NewLogger("safety.rugshield"),
	}
}

// Blacklist adds a symbol to the manual blacklist at runtime.
func (rs *RugShield) Blacklist(symbol string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.blacklist[symbol] = struct{}{}
}

// Assess screens a symbol using its snapshot and order book. The book may
// be nil when the venue could not serve one; liquidity then falls back to
// 24h volume as a proxy.
func (rs *RugShield) Assess(snapshot *market.Snapshot, book *market.OrderBook) Assessment {
	a := Assessment{Symbol: snapshot.Symbol}

	rs.mu.RLock()
	_, blacklisted := rs.blacklist[snapshot.Symbol]
	rs.mu.RUnlock()

	if blacklisted {
		a.Score += scoreBlacklisted
		a.Reasons = append(a.Reasons, "symbol is blacklisted")
	}

	liquidity := bookLiquidityUSD(book)
	if book == nil {
		liquidity = snapshot.Volume24h
	}
	if liquidity < rs.minLiquidityUSD {
		a.Score += scoreLowLiquidity
		a.Reasons = append(a.Reasons, "liquidity below minimum")
	}
	if snapshot.Volume24h < rs.minVolumeUSD {
		a.Score += scoreLowVolume
		a.Reasons = append(a.Reasons, "24h volume below minimum")
	}
	if snapshot.SpreadPct > rs.maxSpreadPct {
		a.Score += scoreWideSpread
		a.Reasons = append(a.Reasons, "spread above maximum")
	}

	if a.Score > 100 {
		a.Score = 100
	}
	a.Level = levelFor(a.Score)
	a.Safe = a.Score < unsafeScore

	if !a.Safe {
		rs.logger.Warn().
			Str("symbol", a.Symbol).
			Int("score", a.Score).
			Str("level", string(a.Level)).
			Strs("reasons", a.Reasons).
			Msg("Symbol rejected by rug shield")
	}
	return a
}

func levelFor(score int) RiskLevel {
	switch {
	case score < 25:
		return RiskLow
	case score < 50:
		return RiskMedium
	case score < 75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// bookLiquidityUSD sums the notional value resting on both sides.
func bookLiquidityUSD(book *market.OrderBook) float64 {
	if book == nil {
		return 0
	}
	var total float64
	for _, level := range book.Bids {
		total += level.Price * level.Amount
	}
	for _, level := range book.Asks {
		total += level.Price * level.Amount
	}
	return total
}
