// Package safety enforces the guard rails around the venue: request rate
// limiting, circuit breaking, pre-trade asset screening and dynamic
// stop-loss tracking. Nothing in this package performs I/O itself.
package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tradewarden/internal/config"
	"tradewarden/internal/exchange"
)

// maxRateLimitWait bounds how long a caller will sleep before the single
// retry allowed on a rate-limit denial.
const maxRateLimitWait = 5 * time.Second

// RateLimiter combines a sliding-window per-minute budget with a token
// bucket smoothing bursts per second. Check never blocks; Acquire sleeps
// at most maxRateLimitWait and retries once.
type RateLimiter struct {
	mu        sync.Mutex
	window    []time.Time // outbound request timestamps, oldest first
	perMinute int
	perSecond *rate.Limiter
	now       func() time.Time
	logger    zerolog.Logger
}

// NewRateLimiter builds a limiter from safety config. maxPerSecond <= 0
// disables the per-second bucket.
func NewRateLimiter(maxPerMinute, maxPerSecond int) *RateLimiter {
	rl := &RateLimiter{
		perMinute: maxPerMinute,
		now:       time.Now,
		logger:    config.NewLogger("safety.ratelimiter"),
	}
	if maxPerSecond > 0 {
		rl.perSecond = rate.NewLimiter(rate.Limit(maxPerSecond), maxPerSecond)
	}
	return rl
}

// Check reports whether a request may go out now and, if not, how long
// the caller should wait. It does not reserve a slot.
func (rl *RateLimiter) Check() (allowed bool, wait time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.prune(now)

	if len(rl.window) >= rl.perMinute {
		// The oldest timestamp in the window frees a slot when it ages out
		wait = rl.window[0].Add(time.Minute).Sub(now)
		if wait < 0 {
			wait = 0
		}
		return false, wait
	}
	if rl.perSecond != nil && rl.perSecond.Tokens() < 1 {
		return false, time.Second
	}
	return true, 0
}

// Acquire takes a request slot, sleeping and retrying once when the
// window is full. A second denial surfaces ErrRateLimited.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		if rl.tryAcquire() {
			return nil
		}
		if attempt == 1 {
			break
		}

		_, wait := rl.Check()
		if wait > maxRateLimitWait {
			wait = maxRateLimitWait
		}
		rl.logger.Warn().
			Dur("wait", wait).
			Msg("Rate limit hit, backing off before retry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%w: %d requests per minute exhausted", exchange.ErrRateLimited, rl.perMinute)
}

// tryAcquire reserves a slot if one is available.
func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.prune(now)

	if len(rl.window) >= rl.perMinute {
		return false
	}
	if rl.perSecond != nil && !rl.perSecond.Allow() {
		return false
	}
	rl.window = append(rl.window, now)
	return true
}

// prune drops timestamps older than one minute. Caller holds rl.mu.
func (rl *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(rl.window) && !rl.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rl.window = append(rl.window[:0], rl.window[i:]...)
	}
}

// InFlight returns the current window occupancy, for status reporting.
func (rl *RateLimiter) InFlight() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.prune(rl.now())
	return len(rl.window)
}
