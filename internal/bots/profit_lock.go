package bots

import (
	"context"
	"fmt"
)

// ProfitLockBot is a protection bot: once an open position's unrealized
// gain clears the lock threshold, it asks for the stop to be raised to
// secure a floor of the gain; a fall back through the floor closes.
type ProfitLockBot struct {
	Base
	lockTriggerPct float64 // gain that arms the lock, e.g. 3%
	lockKeepRatio  float64 // share of the peak gain to protect, e.g. 0.5
}

// NewProfitLockBot builds the bot; defaults: arm at 3% gain, keep half.
func NewProfitLockBot(triggerPct, keepRatio float64) *ProfitLockBot {
	if triggerPct <= 0 {
		triggerPct = 3.0
	}
	if keepRatio <= 0 || keepRatio >= 1 {
		keepRatio = 0.5
	}
	return &ProfitLockBot{
		Base:           NewBase("profit_lock", "1.0.0"),
		lockTriggerPct: triggerPct,
		lockKeepRatio:  keepRatio,
	}
}

func (b *ProfitLockBot) Evaluate(ctx context.Context, tick PositionTick) (*Evaluation, error) {
	if tick.EntryPrice <= 0 {
		return nil, fmt.Errorf("invalid entry price %v", tick.EntryPrice)
	}

	gain := (tick.LastPrice - tick.EntryPrice) / tick.EntryPrice
	if tick.Side == "SHORT" {
		gain = -gain
	}
	gainPct := gain * 100

	if gainPct < b.lockTriggerPct {
		return &Evaluation{Reason: fmt.Sprintf("gain %.2f%% below %.2f%% lock trigger", gainPct, b.lockTriggerPct)}, nil
	}

	// Arm the lock: protect keepRatio of the current gain
	lockedPct := gainPct * b.lockKeepRatio
	stop := tick.EntryPrice * (1 + lockedPct/100)
	if tick.Side == "SHORT" {
		stop = tick.EntryPrice * (1 - lockedPct/100)
	}

	return &Evaluation{
		AdjustStop: &stop,
		Reason:     fmt.Sprintf("locking %.2f%% of %.2f%% gain at stop %.2f", lockedPct, gainPct, stop),
	}, nil
}
