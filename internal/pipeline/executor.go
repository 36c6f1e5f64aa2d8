package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/codeagent/internal/jobs"
	"github.com/kiranshivaraju/codeagent/internal/store"
	"github.com/kiranshivaraju/codeagent/pkg/models"
)

// ErrNotClaimed is returned by Execute when the job was no longer queued,
// e.g. it was cancelled or another worker already claimed it.
var ErrNotClaimed = errors.New("job not claimed")

// finalizeTimeout bounds the store write that records a terminal status. It
// runs detached from the job context so a cancelled job still gets recorded.
const finalizeTimeout = 10 * time.Second

// Executor runs claimed jobs through a fixed list of stages.
type Executor struct {
	store     store.Store
	stages    []Stage
	policy    RetryPolicy
	observers jobs.Observers
	logger    *slog.Logger
}

// NewExecutor creates an Executor. stages must not be empty.
func NewExecutor(s store.Store, stages []Stage, policy RetryPolicy, logger *slog.Logger, observers ...jobs.Observer) *Executor {
	return &Executor{
		store:     s,
		stages:    stages,
		policy:    policy,
		observers: observers,
		logger:    logger,
	}
}

// Execute claims job id and runs every stage in order. The returned error is
// for logging only: pipeline failures are recorded on the job itself.
func (e *Executor) Execute(ctx context.Context, id uuid.UUID) (err error) {
	log := e.logger.With(slog.String("job_id", id.String()))

	job, err := e.claim(ctx, log, id)
	if err != nil {
		return err
	}
	log.Info("job claimed", slog.String("tenant_id", job.TenantID.String()))

	current := e.stages[0].Name()
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", slog.String("stage", current), slog.Any("panic", r))
			err = e.fail(ctx, log, id, current, fmt.Errorf("%w: %v", errStagePanic, r))
		}
	}()

	start := time.Now()
	in := Input{Task: job.Prompt()}
	result := &models.JobResult{}

	for i, st := range e.stages {
		current = st.Name()
		stageLog := log.With(slog.String("stage", current))

		if i > 0 {
			next := st.Status()
			if _, err := e.transition(ctx, id, func(j *models.Job) error {
				j.Status = next
				return nil
			}); err != nil {
				return e.fail(ctx, log, id, current, err)
			}
		}

		stageStart := time.Now()
		out, err := e.policy.run(ctx, stageLog, func(actx context.Context) (string, error) {
			return st.Run(actx, in)
		})
		if err != nil {
			stageLog.Warn("stage failed", slog.String("error", err.Error()))
			return e.fail(ctx, log, id, current, err)
		}
		stageLog.Info("stage completed", slog.Int64("duration_ms", time.Since(stageStart).Milliseconds()))

		st.Record(result, out)
		in.Prior = *result
	}

	_, err = e.finalize(ctx, id, func(j *models.Job) error {
		now := time.Now().UTC()
		j.Status = models.JobStatusCompleted
		j.Result = result
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	log.Info("job completed", slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

// claim moves the job out of queued. Store errors are retried under the
// policy; when they persist the job is failed with stage queue, since its id
// has already left the queue.
func (e *Executor) claim(ctx context.Context, log *slog.Logger, id uuid.UUID) (*models.Job, error) {
	var job *models.Job
	op := func() error {
		j, err := e.transition(ctx, id, func(j *models.Job) error {
			if j.Status != models.JobStatusQueued {
				return fmt.Errorf("%w: status is %s", ErrNotClaimed, j.Status)
			}
			now := time.Now().UTC()
			j.Status = e.stages[0].Status()
			j.StartedAt = &now
			return nil
		})
		switch {
		case err == nil:
			job = j
			return nil
		case errors.Is(err, ErrNotClaimed):
			return backoff.Permanent(err)
		case errors.Is(err, store.ErrNotFound):
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrNotClaimed, err))
		default:
			return err
		}
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("claim failed, retrying", slog.Duration("backoff", wait), slog.String("error", err.Error()))
	}

	err := backoff.RetryNotify(op, e.policy.backOff(ctx), notify)
	switch {
	case err == nil:
		return job, nil
	case errors.Is(err, ErrNotClaimed):
		return nil, err
	default:
		return nil, e.fail(ctx, log, id, jobs.StageQueue, fmt.Errorf("claim job: %w", err))
	}
}

// fail records the stage failure and returns cause for the caller to log.
func (e *Executor) fail(ctx context.Context, log *slog.Logger, id uuid.UUID, stage string, cause error) error {
	_, err := e.finalize(ctx, id, func(j *models.Job) error {
		now := time.Now().UTC()
		j.Status = models.JobStatusFailed
		j.Result = nil
		j.Error = &models.JobError{Stage: stage, Message: cause.Error()}
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		log.Error("failed to record job failure", slog.String("stage", stage), slog.String("error", err.Error()))
		return errors.Join(cause, err)
	}
	log.Info("job failed", slog.String("stage", stage))
	return cause
}

func (e *Executor) transition(ctx context.Context, id uuid.UUID, fn store.Mutator) (*models.Job, error) {
	job, err := e.store.UpdateJob(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	e.observers.Notify(ctx, e.logger, job)
	return job, nil
}

func (e *Executor) finalize(ctx context.Context, id uuid.UUID, fn store.Mutator) (*models.Job, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	return e.transition(fctx, id, fn)
}
