package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/codeagent/internal/api/response"
	"github.com/kiranshivaraju/codeagent/internal/ratelimit"
)

// RateLimit throttles requests per API key with a token bucket.
type RateLimit struct {
	limiter ratelimit.Limiter
	limits  ratelimit.Limits
	logger  *slog.Logger
}

func NewRateLimit(l ratelimit.Limiter, limits ratelimit.Limits, logger *slog.Logger) *RateLimit {
	return &RateLimit{limiter: l, limits: limits, logger: logger}
}

// Limit applies the bucket keyed by the prefix set by Authenticate.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			// No key prefix means auth middleware didn't run; pass through
			next.ServeHTTP(w, r)
			return
		}

		d, err := rl.limiter.Allow(r.Context(), prefix, rl.limits)
		if err != nil {
			// Fail open on limiter errors.
			rl.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			next.ServeHTTP(w, r)
			return
		}

		SetRateLimitHeaders(w, d)
		if !d.Allowed {
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SetRateLimitHeaders writes X-RateLimit-Limit, X-RateLimit-Remaining and,
// for denied decisions, Retry-After in whole seconds.
func SetRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
	}
}
