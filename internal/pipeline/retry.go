package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/codeagent/internal/ai"
	"github.com/kiranshivaraju/codeagent/internal/config"
)

// RetryPolicy bounds how a stage call is retried. Only transient completion
// errors are retried; everything else fails the stage on the first attempt.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// StageTimeout caps each attempt, not the stage as a whole.
	StageTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      2,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		StageTimeout:    120 * time.Second,
	}
}

// PolicyFromConfig maps PIPELINE_* settings onto a RetryPolicy.
func PolicyFromConfig(cfg config.PipelineConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.RetryInitial,
		MaxInterval:     cfg.RetryMax,
		StageTimeout:    cfg.StageTimeout,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxRetries)), ctx)
}

// errStagePanic marks a recovered panic; it is never retried.
var errStagePanic = errors.New("stage panicked")

// run calls fn until it succeeds, fails permanently or retries run out.
func (p RetryPolicy) run(ctx context.Context, logger *slog.Logger, fn func(ctx context.Context) (string, error)) (string, error) {
	var (
		out     string
		attempt int
	)
	op := func() (err error) {
		attempt++
		actx := ctx
		if p.StageTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.StageTimeout)
			defer cancel()
		}
		defer func() {
			if r := recover(); r != nil {
				err = backoff.Permanent(fmt.Errorf("%w: %v", errStagePanic, r))
			}
		}()

		res, err := fn(actx)
		if err == nil {
			out = res
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, ai.ErrInferenceTimeout) {
			err = fmt.Errorf("%w after %s: %v", ai.ErrInferenceTimeout, p.StageTimeout, err)
		}
		if !ai.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("stage attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(op, p.backOff(ctx), notify); err != nil {
		return "", err
	}
	return out, nil
}
