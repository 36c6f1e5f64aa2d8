package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucket refills, checks and decrements one bucket stored as a hash.
// KEYS[1] bucket key; ARGV capacity, refill/s, now (unix seconds, fractional), ttl seconds.
// Returns {allowed, tokens} with tokens as a string to keep the fraction.
var tokenBucket = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('EXPIRE', KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

// RedisLimiter keeps buckets in Redis so several server instances share them.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisLimiter stores buckets under prefix + ":" + key.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

// NewRedisLimiterWithClock is NewRedisLimiter driven by now.
func NewRedisLimiterWithClock(client *redis.Client, prefix string, now func() time.Time) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, now: now}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, l Limits) (Decision, error) {
	now := float64(r.now().UnixMicro()) / 1e6
	ttl := 1
	if l.RefillPerSec > 0 {
		// Long enough for an empty bucket to refill completely.
		ttl = int(math.Ceil(float64(l.Capacity)/l.RefillPerSec)) + 1
	}

	res, err := tokenBucket.Run(ctx, r.client, []string{r.prefix + ":" + key},
		l.Capacity, l.RefillPerSec, strconv.FormatFloat(now, 'f', 6, 64), ttl).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("token bucket script: unexpected reply %v", res)
	}

	allowed, _ := res[0].(int64)
	raw, _ := res[1].(string)
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket script: parse tokens %q: %w", raw, err)
	}

	d := Decision{
		Allowed:   allowed == 1,
		Limit:     l.Capacity,
		Remaining: int(math.Floor(math.Max(0, tokens))),
	}
	if !d.Allowed {
		d.RetryAfter = retryAfter(tokens, l.RefillPerSec)
	}
	return d, nil
}

var _ Limiter = (*RedisLimiter)(nil)
