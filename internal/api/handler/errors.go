package handler

import (
	"errors"
	"log/slog"
	"net/http"

	mw "github.com/kiranshivaraju/codeagent/internal/api/middleware"
	"github.com/kiranshivaraju/codeagent/internal/api/response"
	"github.com/kiranshivaraju/codeagent/internal/jobs"
	"github.com/kiranshivaraju/codeagent/internal/ratelimit"
)

// writeError maps service errors to HTTP responses. Anything unrecognised is
// logged and reported as a 500 without detail.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		ve *jobs.ValidationError
		rl *jobs.RateLimitedError
	)
	switch {
	case errors.As(err, &ve):
		response.Error(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Request validation failed", ve.Fields)
	case errors.As(err, &rl):
		mw.SetRateLimitHeaders(w, ratelimit.Decision{Limit: rl.Limit, RetryAfter: rl.RetryAfter})
		response.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
			"Too many submissions, retry later", nil)
	case errors.Is(err, jobs.ErrQuotaExceeded):
		response.Error(w, http.StatusPaymentRequired, "QUOTA_EXCEEDED",
			"Monthly task quota exceeded for your plan", nil)
	case errors.Is(err, jobs.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
	case errors.Is(err, jobs.ErrNotCancellable):
		response.Error(w, http.StatusConflict, "NOT_CANCELLABLE",
			"Only queued jobs can be cancelled", nil)
	default:
		logger.Error("request failed", slog.String("error", err.Error()))
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func unauthorized(w http.ResponseWriter) {
	response.Error(w, http.StatusUnauthorized, "INVALID_API_KEY", "Missing tenant", nil)
}
