package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/codeagent/internal/cache"
	"github.com/kiranshivaraju/codeagent/internal/testutil"
	"github.com/kiranshivaraju/codeagent/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedis spins up a Redis container and returns a connected RedisCache.
func setupRedis(t *testing.T, ttl time.Duration) *cache.RedisCache {
	t.Helper()
	client, err := cache.NewClient(testutil.Redis(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisCache(client, ttl)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := cache.NewClient("http://localhost:6379")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	id := uuid.MustParse("7d9f1c2e-0000-4000-8000-000000000001")
	assert.Equal(t, "job:7d9f1c2e-0000-4000-8000-000000000001", cache.JobStatusKey(id))
	assert.Equal(t, "ratelimit:submit", cache.RateLimitPrefix("submit"))
}

func TestStatusOf(t *testing.T) {
	now := time.Now().UTC()
	j := &models.Job{ID: uuid.New(), TenantID: uuid.New(), Status: models.JobStatusRunningProducer, UpdatedAt: now}
	s := cache.StatusOf(j)
	assert.Equal(t, j.ID, s.JobID)
	assert.Equal(t, j.TenantID, s.TenantID)
	assert.Equal(t, models.JobStatusRunningProducer, s.Status)
	assert.Equal(t, now, s.UpdatedAt)
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t, 0)
	err := rc.Ping(context.Background())
	assert.NoError(t, err)
}

// --- Job status ---

func TestJobUpdated_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t, time.Minute)
	ctx := context.Background()

	j := &models.Job{ID: uuid.New(), TenantID: uuid.New(), Status: models.JobStatusRunningValidator, UpdatedAt: time.Now().UTC()}
	require.NoError(t, rc.JobUpdated(ctx, j))

	got, found, err := rc.GetJobStatus(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, j.ID, got.JobID)
	assert.Equal(t, j.TenantID, got.TenantID)
	assert.Equal(t, models.JobStatusRunningValidator, got.Status)
	assert.WithinDuration(t, j.UpdatedAt, got.UpdatedAt, time.Millisecond)
}

func TestGetJobStatus_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t, 0)

	_, found, err := rc.GetJobStatus(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetJobStatus_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t, time.Second)
	ctx := context.Background()

	s := cache.JobStatus{JobID: uuid.New(), TenantID: uuid.New(), Status: models.JobStatusQueued, UpdatedAt: time.Now()}
	require.NoError(t, rc.SetJobStatus(ctx, s))

	time.Sleep(1500 * time.Millisecond)

	_, found, err := rc.GetJobStatus(ctx, s.JobID)
	require.NoError(t, err)
	assert.False(t, found)
}
