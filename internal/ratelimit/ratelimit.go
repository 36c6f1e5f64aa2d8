// Package ratelimit implements per-key token bucket admission control.
//
// A bucket holds at most Capacity tokens and refills continuously at
// RefillPerSec. Each admitted request takes one token. Buckets are created
// lazily on first use with the limits supplied by the caller.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Limits configures one bucket.
type Limits struct {
	Capacity     int
	RefillPerSec float64
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, as sent in the
// Retry-After header. Denied decisions never report less than one second.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter decides whether a request for key may proceed. The refill, check
// and decrement happen atomically per key.
type Limiter interface {
	Allow(ctx context.Context, key string, l Limits) (Decision, error)
}

// retryAfter is the time until a bucket holding tokens reaches one token.
func retryAfter(tokens, perSec float64) time.Duration {
	if tokens >= 1 || perSec <= 0 {
		return 0
	}
	return time.Duration((1 - tokens) / perSec * float64(time.Second))
}
