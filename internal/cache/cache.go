package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/codeagent/pkg/models"
	"github.com/redis/go-redis/v9"
)

// DefaultStatusTTL bounds how long a job status snapshot is kept.
const DefaultStatusTTL = 24 * time.Hour

// JobStatus is the lightweight snapshot served by GET /jobs/{jobId}/status.
type JobStatus struct {
	JobID     uuid.UUID `json:"jobId"`
	TenantID  uuid.UUID `json:"-"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StatusOf snapshots j.
func StatusOf(j *models.Job) JobStatus {
	return JobStatus{JobID: j.ID, TenantID: j.TenantID, Status: j.Status, UpdatedAt: j.UpdatedAt}
}

// Cache is the status cache interface. Implementations must be safe for
// concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	SetJobStatus(ctx context.Context, s JobStatus) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (JobStatus, bool, error)
}

// NewClient parses a redis:// URL into a client shared by the cache, the
// Redis queue and the Redis rate limiter.
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// RedisCache implements Cache using go-redis/v9.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps client. A non-positive ttl uses DefaultStatusTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// stored adds the owner, which is hidden from API responses.
type stored struct {
	TenantID  uuid.UUID `json:"tenantId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *RedisCache) SetJobStatus(ctx context.Context, s JobStatus) error {
	b, err := json.Marshal(stored{TenantID: s.TenantID, Status: s.Status, UpdatedAt: s.UpdatedAt})
	if err != nil {
		return fmt.Errorf("encode job status: %w", err)
	}
	return c.client.Set(ctx, JobStatusKey(s.JobID), b, c.ttl).Err()
}

func (c *RedisCache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (JobStatus, bool, error) {
	b, err := c.client.Get(ctx, JobStatusKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return JobStatus{}, false, nil
	}
	if err != nil {
		return JobStatus{}, false, err
	}
	var s stored
	if err := json.Unmarshal(b, &s); err != nil {
		return JobStatus{}, false, fmt.Errorf("decode job status: %w", err)
	}
	return JobStatus{JobID: jobID, TenantID: s.TenantID, Status: s.Status, UpdatedAt: s.UpdatedAt}, true, nil
}

// JobUpdated records every job transition so status polls skip the store.
func (c *RedisCache) JobUpdated(ctx context.Context, j *models.Job) error {
	return c.SetJobStatus(ctx, StatusOf(j))
}

var _ Cache = (*RedisCache)(nil)
