package safety

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewarden/internal/exchange"
)

func TestRateLimiterCheckDoesNotReserve(t *testing.T) {
	rl := NewRateLimiter(2, 0)

	allowed, wait := rl.Check()
	assert.True(t, allowed)
	assert.Zero(t, wait)

	// Check is read-only; repeated checks never consume the budget
	for i := 0; i < 10; i++ {
		allowed, _ = rl.Check()
		assert.True(t, allowed)
	}
	assert.Zero(t, rl.InFlight())
}

func TestRateLimiterWindowExhaustion(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.tryAcquire())
	}
	assert.False(t, rl.tryAcquire())

	allowed, wait := rl.Check()
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, wait)

	// Slots free as the window slides
	now = now.Add(61 * time.Second)
	allowed, _ = rl.Check()
	assert.True(t, allowed)
	assert.True(t, rl.tryAcquire())
}

func TestRateLimiterAcquireRetriesOnce(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 0)
	rl.now = func() time.Time { return now }

	require.NoError(t, rl.Acquire(context.Background()))

	// Free the slot while Acquire is sleeping; bound the sleep so the
	// test stays fast.
	go func() {
		time.Sleep(10 * time.Millisecond)
		now = now.Add(2 * time.Minute)
	}()

	// wait computed as 60s gets capped at maxRateLimitWait; to keep the
	// test quick, verify the second denial path directly instead.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := rl.Acquire(ctx)
	// Either the retry succeeded after the window slid, or the context
	// expired during the bounded sleep.
	if err != nil {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}

func TestRateLimiterSurfacesRateLimited(t *testing.T) {
	// Frozen clock: the oldest entry is about to age out, so the computed
	// wait is short, but the clock never advances and the retry is denied
	// too. The second denial must surface ErrRateLimited.
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, 0)
	rl.now = func() time.Time { return base }
	rl.window = []time.Time{
		base.Add(-time.Minute + 20*time.Millisecond),
		base.Add(-time.Second),
	}

	err := rl.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exchange.ErrRateLimited)
}

func TestRateLimiterPerSecondBucket(t *testing.T) {
	rl := NewRateLimiter(1000, 2)

	got := 0
	for i := 0; i < 10; i++ {
		if rl.tryAcquire() {
			got++
		}
	}
	// Burst capacity equals the per-second rate
	assert.Equal(t, 2, got)
}
