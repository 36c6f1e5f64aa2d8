package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one rate.Limiter per key. Each limiter has its own
// lock, so requests for different keys never contend.
type MemoryLimiter struct {
	buckets sync.Map // key -> *rate.Limiter
	now     func() time.Time
}

// NewMemoryLimiter returns a MemoryLimiter using the wall clock.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{now: time.Now}
}

// NewMemoryLimiterWithClock returns a MemoryLimiter driven by now.
func NewMemoryLimiterWithClock(now func() time.Time) *MemoryLimiter {
	return &MemoryLimiter{now: now}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, l Limits) (Decision, error) {
	now := m.now()
	lim := m.bucket(key, l, now)

	allowed := lim.AllowN(now, 1)
	tokens := lim.TokensAt(now)
	d := Decision{
		Allowed:   allowed,
		Limit:     l.Capacity,
		Remaining: int(math.Floor(math.Max(0, tokens))),
	}
	if !allowed {
		d.RetryAfter = retryAfter(tokens, l.RefillPerSec)
	}
	return d, nil
}

func (m *MemoryLimiter) bucket(key string, l Limits, now time.Time) *rate.Limiter {
	if v, ok := m.buckets.Load(key); ok {
		lim := v.(*rate.Limiter)
		// A plan change takes effect on the next request.
		if lim.Burst() != l.Capacity {
			lim.SetBurstAt(now, l.Capacity)
		}
		if lim.Limit() != rate.Limit(l.RefillPerSec) {
			lim.SetLimitAt(now, rate.Limit(l.RefillPerSec))
		}
		return lim
	}
	v, _ := m.buckets.LoadOrStore(key, rate.NewLimiter(rate.Limit(l.RefillPerSec), l.Capacity))
	return v.(*rate.Limiter)
}

var _ Limiter = (*MemoryLimiter)(nil)
