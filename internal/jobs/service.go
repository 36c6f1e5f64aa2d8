// Package jobs is the intake side of the system: it admits submissions under
// the tenant's rate limit and quota, creates and enqueues jobs, and serves
// the tenant-scoped reads used for polling.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/codeagent/internal/cache"
	"github.com/kiranshivaraju/codeagent/internal/plan"
	"github.com/kiranshivaraju/codeagent/internal/queue"
	"github.com/kiranshivaraju/codeagent/internal/quota"
	"github.com/kiranshivaraju/codeagent/internal/ratelimit"
	"github.com/kiranshivaraju/codeagent/internal/store"
	"github.com/kiranshivaraju/codeagent/pkg/models"
)

// StageQueue is recorded as the failing stage when an accepted job could not
// be handed to the queue.
const StageQueue = "queue"

// Deps holds everything the Service needs. Cache and Observers are optional.
type Deps struct {
	Store     store.Store
	Queue     queue.Queue
	Limiter   ratelimit.Limiter
	Quota     quota.Checker
	Cache     cache.Cache
	Observers Observers
	Logger    *slog.Logger
}

// Service implements the job operations exposed over HTTP.
type Service struct {
	store     store.Store
	queue     queue.Queue
	limiter   ratelimit.Limiter
	quota     quota.Checker
	cache     cache.Cache
	observers Observers
	logger    *slog.Logger
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     d.Store,
		queue:     d.Queue,
		limiter:   d.Limiter,
		quota:     d.Quota,
		cache:     d.Cache,
		observers: d.Observers,
		logger:    logger,
		validate:  newValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// JobList is the body of GET /jobs.
type JobList struct {
	Jobs  []*models.Job `json:"jobs"`
	Total int           `json:"total"`
	quota.Usage
}

// Metrics is the body of GET /metrics.
type Metrics struct {
	models.JobStats
	QueueDepth int `json:"queueDepth"`
}

// Submit admits a new job for tenant. Rejections leave no trace: nothing is
// created before the request has passed validation, the quota check and
// the rate limiter, in that order. The quota check runs first so a request
// it rejects does not spend a token.
func (s *Service) Submit(ctx context.Context, tenant *models.Tenant, req SubmitRequest) (*models.Job, error) {
	req.normalize()
	if err := s.validate.Struct(&req); err != nil {
		return nil, validationError(err)
	}

	if err := s.quota.CheckQuota(ctx, tenant); err != nil {
		return nil, err
	}

	p := plan.Lookup(tenant.Plan)
	d, err := s.limiter.Allow(ctx, tenant.ID.String(), ratelimit.Limits{
		Capacity:     p.BurstCapacity,
		RefillPerSec: p.RefillPerSec,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !d.Allowed {
		return nil, &RateLimitedError{RetryAfter: d.RetryAfter, Limit: d.Limit}
	}

	now := s.now()
	job := &models.Job{
		ID:           uuid.New(),
		TenantID:     tenant.ID,
		Description:  req.Description,
		Language:     req.Language,
		Framework:    req.Framework,
		Requirements: req.Requirements,
		Status:       models.JobStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.observers.Notify(ctx, s.logger, job)

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		s.logger.Error("enqueue failed",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()),
		)
		s.abandon(ctx, job.ID, err)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("job accepted",
		slog.String("job_id", job.ID.String()),
		slog.String("tenant_id", tenant.ID.String()),
		slog.String("language", job.Language),
	)
	return job, nil
}

// abandon fails a job that never reached the queue so it does not stay
// queued forever.
func (s *Service) abandon(ctx context.Context, id uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	failed, err := s.store.UpdateJob(ctx, id, func(j *models.Job) error {
		now := s.now()
		j.Status = models.JobStatusFailed
		j.Error = &models.JobError{Stage: StageQueue, Message: cause.Error()}
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		s.logger.Error("could not fail unqueued job",
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.observers.Notify(ctx, s.logger, failed)
}

// Get returns the job if it belongs to tenant. Foreign jobs are reported as
// ErrNotFound so their existence is not revealed.
func (s *Service) Get(ctx context.Context, tenant *models.Tenant, id uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job.TenantID != tenant.ID {
		return nil, ErrNotFound
	}
	return job, nil
}

// List returns the tenant's jobs in creation order with its monthly usage.
func (s *Service) List(ctx context.Context, tenant *models.Tenant) (*JobList, error) {
	list, err := s.store.ListJobs(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	usage, err := s.quota.Usage(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.Job{}
	}
	return &JobList{Jobs: list, Total: len(list), Usage: usage}, nil
}

// Cancel moves a queued job to cancelled and drops it from the queue. Jobs a
// worker has already claimed cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, tenant *models.Tenant, id uuid.UUID) (*models.Job, error) {
	if _, err := s.Get(ctx, tenant, id); err != nil {
		return nil, err
	}

	job, err := s.store.UpdateJob(ctx, id, func(j *models.Job) error {
		if j.Status != models.JobStatusQueued {
			return fmt.Errorf("%w: status is %s", ErrNotCancellable, j.Status)
		}
		now := s.now()
		j.Status = models.JobStatusCancelled
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotCancellable) {
			return nil, err
		}
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	s.observers.Notify(ctx, s.logger, job)

	// A worker that dequeues the id anyway fails to claim it, so a failed
	// removal only costs one wasted dequeue.
	if _, err := s.queue.Remove(ctx, id); err != nil {
		s.logger.Warn("remove cancelled job from queue",
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Info("job cancelled", slog.String("job_id", id.String()))
	return job, nil
}

// Status returns the lightweight status of a job, from the cache when it has
// an entry owned by tenant and from the store otherwise.
func (s *Service) Status(ctx context.Context, tenant *models.Tenant, id uuid.UUID) (cache.JobStatus, error) {
	if s.cache != nil {
		st, ok, err := s.cache.GetJobStatus(ctx, id)
		switch {
		case err != nil:
			s.logger.Warn("status cache read failed",
				slog.String("job_id", id.String()),
				slog.String("error", err.Error()),
			)
		case ok && st.TenantID == tenant.ID:
			return st, nil
		}
	}

	job, err := s.Get(ctx, tenant, id)
	if err != nil {
		return cache.JobStatus{}, err
	}
	return cache.StatusOf(job), nil
}

// Metrics reports job counts by status and the current queue depth.
func (s *Service) Metrics(ctx context.Context) (*Metrics, error) {
	stats, err := s.store.JobStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	depth, err := s.queue.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue depth: %w", err)
	}
	return &Metrics{JobStats: stats, QueueDepth: depth}, nil
}
