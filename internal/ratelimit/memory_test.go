package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/codeagent/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock safe for concurrent reads.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiter_BurstThenRefill(t *testing.T) {
	clock := newFakeClock()
	lim := ratelimit.NewMemoryLimiterWithClock(clock.Now)
	limits := ratelimit.Limits{Capacity: 5, RefillPerSec: 1}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := lim.Allow(ctx, "tenant-a", limits)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 4-i, d.Remaining)
	}

	d, err := lim.Allow(ctx, "tenant-a", limits)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)
	assert.Equal(t, 1, d.RetryAfterSeconds())

	clock.Advance(time.Second)

	d, err = lim.Allow(ctx, "tenant-a", limits)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = lim.Allow(ctx, "tenant-a", limits)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestMemoryLimiter_RetryAfterFractional(t *testing.T) {
	clock := newFakeClock()
	lim := ratelimit.NewMemoryLimiterWithClock(clock.Now)
	limits := ratelimit.Limits{Capacity: 1, RefillPerSec: 0.5}
	ctx := context.Background()

	d, _ := lim.Allow(ctx, "k", limits)
	require.True(t, d.Allowed)

	clock.Advance(500 * time.Millisecond)
	d, _ = lim.Allow(ctx, "k", limits)
	assert.False(t, d.Allowed)
	// 0.25 tokens held, 0.75 missing at 0.5/s.
	assert.InDelta(t, 1.5, d.RetryAfter.Seconds(), 0.001)
	assert.Equal(t, 2, d.RetryAfterSeconds())
}

func TestMemoryLimiter_NeverExceedsCapacity(t *testing.T) {
	clock := newFakeClock()
	lim := ratelimit.NewMemoryLimiterWithClock(clock.Now)
	limits := ratelimit.Limits{Capacity: 3, RefillPerSec: 10}
	ctx := context.Background()

	clock.Advance(time.Hour)

	admitted := 0
	for i := 0; i < 10; i++ {
		d, err := lim.Allow(ctx, "k", limits)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d.Remaining, 0)
		assert.LessOrEqual(t, d.Remaining, limits.Capacity)
		if d.Allowed {
			admitted++
		}
	}
	assert.Equal(t, 3, admitted)
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	lim := ratelimit.NewMemoryLimiterWithClock(clock.Now)
	limits := ratelimit.Limits{Capacity: 1, RefillPerSec: 0.01}
	ctx := context.Background()

	d, _ := lim.Allow(ctx, "a", limits)
	assert.True(t, d.Allowed)
	d, _ = lim.Allow(ctx, "a", limits)
	assert.False(t, d.Allowed)

	d, _ = lim.Allow(ctx, "b", limits)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_LimitsChange(t *testing.T) {
	clock := newFakeClock()
	lim := ratelimit.NewMemoryLimiterWithClock(clock.Now)
	ctx := context.Background()

	d, _ := lim.Allow(ctx, "k", ratelimit.Limits{Capacity: 1, RefillPerSec: 0.01})
	require.True(t, d.Allowed)
	d, _ = lim.Allow(ctx, "k", ratelimit.Limits{Capacity: 1, RefillPerSec: 0.01})
	require.False(t, d.Allowed)

	upgraded := ratelimit.Limits{Capacity: 20, RefillPerSec: 5}
	d, _ = lim.Allow(ctx, "k", upgraded)
	assert.False(t, d.Allowed)
	assert.Equal(t, 20, d.Limit)

	clock.Advance(time.Second)
	admitted := 0
	for i := 0; i < 10; i++ {
		if d, _ := lim.Allow(ctx, "k", upgraded); d.Allowed {
			admitted++
		}
	}
	assert.Equal(t, 5, admitted)
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	clock := newFakeClock()
	lim := ratelimit.NewMemoryLimiterWithClock(clock.Now)
	limits := ratelimit.Limits{Capacity: 50, RefillPerSec: 1}
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := lim.Allow(ctx, "shared", limits)
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted.Load())
}

func TestDecision_RetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, ratelimit.Decision{Allowed: true}.RetryAfterSeconds())
	assert.Equal(t, 1, ratelimit.Decision{RetryAfter: 10 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 34, ratelimit.Decision{RetryAfter: 33100 * time.Millisecond}.RetryAfterSeconds())
}
