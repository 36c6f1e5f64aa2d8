package ai

import (
	"context"
	"errors"
)

var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	ErrRefused             = errors.New("ai provider refused the request")
	ErrUpstreamRateLimited = errors.New("ai provider rate limited the request")
)

// IsTransient reports whether err is worth retrying. Malformed responses and
// refusals are permanent; outages, timeouts and upstream throttling are not.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrRefused):
		return false
	case errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrInferenceTimeout),
		errors.Is(err, ErrUpstreamRateLimited),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
