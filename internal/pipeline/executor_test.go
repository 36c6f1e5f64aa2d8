package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/codeagent/internal/ai"
	"github.com/kiranshivaraju/codeagent/internal/ai/mock"
	"github.com/kiranshivaraju/codeagent/internal/jobs"
	"github.com/kiranshivaraju/codeagent/internal/pipeline"
	"github.com/kiranshivaraju/codeagent/internal/store"
	"github.com/kiranshivaraju/codeagent/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() pipeline.RetryPolicy {
	return pipeline.RetryPolicy{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		StageTimeout:    time.Second,
	}
}

// recorder is an observer that keeps the status trace of every job.
type recorder struct {
	mu     sync.Mutex
	traces map[uuid.UUID][]string
}

func newRecorder() *recorder { return &recorder{traces: make(map[uuid.UUID][]string)} }

func (r *recorder) JobUpdated(_ context.Context, j *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces[j.ID] = append(r.traces[j.ID], j.Status)
	return nil
}

func (r *recorder) trace(id uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.traces[id]...)
}

func queuedJob(t *testing.T, s store.Store) *models.Job {
	t.Helper()
	now := time.Now().UTC()
	j := &models.Job{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		Description: "Write a function that reverses a string",
		Language:    "python",
		Status:      models.JobStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateJob(context.Background(), j))
	return j
}

func TestExecute_Success(t *testing.T) {
	s := store.NewMemoryStore()
	rec := newRecorder()
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(mock.NewMockProvider()), fastPolicy(), discardLogger(), rec)
	job := queuedJob(t, s)

	require.NoError(t, exec.Execute(context.Background(), job.ID))

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.NotEmpty(t, got.Result.Artifact)
	assert.NotEmpty(t, got.Result.Report)
	assert.Nil(t, got.Error)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	assert.Equal(t, []string{
		models.JobStatusRunningProducer,
		models.JobStatusRunningValidator,
		models.JobStatusCompleted,
	}, rec.trace(job.ID))
}

func TestExecute_ValidatorSeesTaskAndArtifact(t *testing.T) {
	s := store.NewMemoryStore()
	var validatorInput string
	p := mock.NewMockProvider()
	p.ProducerFunc = func(_ context.Context, _ string) (string, error) { return "def reverse(s): return s[::-1]", nil }
	p.ValidatorFunc = func(_ context.Context, in string) (string, error) {
		validatorInput = in
		return "APPROVED", nil
	}
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(p), fastPolicy(), discardLogger())
	job := queuedJob(t, s)

	require.NoError(t, exec.Execute(context.Background(), job.ID))
	assert.Contains(t, validatorInput, "reverses a string")
	assert.Contains(t, validatorInput, "def reverse(s)")
}

func TestExecute_ValidatorTimeout(t *testing.T) {
	s := store.NewMemoryStore()
	rec := newRecorder()
	policy := fastPolicy()
	policy.MaxRetries = 1
	policy.StageTimeout = 30 * time.Millisecond
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(mock.NewValidatorTimeoutProvider()), policy, discardLogger(), rec)
	job := queuedJob(t, s)

	err := exec.Execute(context.Background(), job.ID)
	assert.ErrorIs(t, err, ai.ErrInferenceTimeout)

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, pipeline.StageValidator, got.Error.Stage)
	assert.Contains(t, got.Error.Message, "timeout")
	assert.Nil(t, got.Result)

	assert.Equal(t, []string{
		models.JobStatusRunningProducer,
		models.JobStatusRunningValidator,
		models.JobStatusFailed,
	}, rec.trace(job.ID))
}

func TestExecute_PermanentErrorNotRetried(t *testing.T) {
	s := store.NewMemoryStore()
	p := mock.NewFailingProvider(ai.ErrRefused)
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(p), fastPolicy(), discardLogger())
	job := queuedJob(t, s)

	err := exec.Execute(context.Background(), job.ID)
	assert.ErrorIs(t, err, ai.ErrRefused)
	assert.Equal(t, 1, p.Calls())

	got, _ := s.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, pipeline.StageProducer, got.Error.Stage)
}

func TestExecute_TransientErrorRetried(t *testing.T) {
	s := store.NewMemoryStore()
	var attempts atomic.Int64
	p := mock.NewMockProvider()
	p.ProducerFunc = func(_ context.Context, _ string) (string, error) {
		if attempts.Add(1) < 3 {
			return "", ai.ErrProviderUnavailable
		}
		return "code", nil
	}
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(p), fastPolicy(), discardLogger())
	job := queuedJob(t, s)

	require.NoError(t, exec.Execute(context.Background(), job.ID))
	assert.Equal(t, int64(3), attempts.Load())

	got, _ := s.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, "code", got.Result.Artifact)
}

func TestExecute_RetriesExhausted(t *testing.T) {
	s := store.NewMemoryStore()
	p := mock.NewFailingProvider(ai.ErrUpstreamRateLimited)
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(p), fastPolicy(), discardLogger())
	job := queuedJob(t, s)

	err := exec.Execute(context.Background(), job.ID)
	assert.ErrorIs(t, err, ai.ErrUpstreamRateLimited)
	assert.Equal(t, 3, p.Calls(), "one attempt plus two retries")

	got, _ := s.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
}

func TestExecute_EmptyOutputIsAccepted(t *testing.T) {
	// Providers reject empty content themselves; the executor records what it gets.
	s := store.NewMemoryStore()
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(&mock.MockProvider{Name_: "empty"}), fastPolicy(), discardLogger())
	job := queuedJob(t, s)

	require.NoError(t, exec.Execute(context.Background(), job.ID))
	got, _ := s.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestExecute_StagePanicRecorded(t *testing.T) {
	s := store.NewMemoryStore()
	p := mock.NewMockProvider()
	p.ValidatorFunc = func(_ context.Context, _ string) (string, error) { panic("nil map") }
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(p), fastPolicy(), discardLogger())
	job := queuedJob(t, s)

	err := exec.Execute(context.Background(), job.ID)
	require.Error(t, err)

	got, _ := s.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, pipeline.StageValidator, got.Error.Stage)
	assert.Contains(t, got.Error.Message, "nil map")
}

func TestExecute_CancelledContextStillRecordsFailure(t *testing.T) {
	s := store.NewMemoryStore()
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(mock.NewTimeoutProvider()), fastPolicy(), discardLogger())
	job := queuedJob(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	require.Error(t, exec.Execute(ctx, job.ID))

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, pipeline.StageProducer, got.Error.Stage)
}

func TestExecute_SkipsJobsNotQueued(t *testing.T) {
	s := store.NewMemoryStore()
	p := mock.NewMockProvider()
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(p), fastPolicy(), discardLogger())
	job := queuedJob(t, s)
	_, err := s.UpdateJob(context.Background(), job.ID, func(j *models.Job) error {
		j.Status = models.JobStatusCancelled
		return nil
	})
	require.NoError(t, err)

	err = exec.Execute(context.Background(), job.ID)
	assert.ErrorIs(t, err, pipeline.ErrNotClaimed)
	assert.Equal(t, 0, p.Calls())

	got, _ := s.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
}

func TestExecute_UnknownJob(t *testing.T) {
	exec := pipeline.NewExecutor(store.NewMemoryStore(), pipeline.DefaultStages(mock.NewMockProvider()), fastPolicy(), discardLogger())
	err := exec.Execute(context.Background(), uuid.New())
	assert.ErrorIs(t, err, pipeline.ErrNotClaimed)
}

func TestExecute_DuplicateDeliveryClaimedOnce(t *testing.T) {
	s := store.NewMemoryStore()
	p := mock.NewMockProvider()
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(p), fastPolicy(), discardLogger())
	job := queuedJob(t, s)

	var wg sync.WaitGroup
	var notClaimed atomic.Int64
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := exec.Execute(context.Background(), job.ID); errors.Is(err, pipeline.ErrNotClaimed) {
				notClaimed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), notClaimed.Load())
	assert.Equal(t, 2, p.Calls())
}

type failingObserver struct{}

func (failingObserver) JobUpdated(context.Context, *models.Job) error { return errors.New("cache down") }

func TestExecute_ObserverFailureIgnored(t *testing.T) {
	s := store.NewMemoryStore()
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(mock.NewMockProvider()), fastPolicy(), discardLogger(), failingObserver{})
	job := queuedJob(t, s)

	require.NoError(t, exec.Execute(context.Background(), job.ID))
	got, _ := s.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

// flakyStore fails the first failures calls to UpdateJob.
type flakyStore struct {
	store.Store
	failures atomic.Int64
}

func (f *flakyStore) UpdateJob(ctx context.Context, id uuid.UUID, fn store.Mutator) (*models.Job, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset")
	}
	return f.Store.UpdateJob(ctx, id, fn)
}

func TestExecute_ClaimRetriesTransientStoreError(t *testing.T) {
	s := &flakyStore{Store: store.NewMemoryStore()}
	s.failures.Store(1)
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(mock.NewMockProvider()), fastPolicy(), discardLogger())
	job := queuedJob(t, s)

	require.NoError(t, exec.Execute(context.Background(), job.ID))

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestExecute_ClaimFailureFailsJob(t *testing.T) {
	s := &flakyStore{Store: store.NewMemoryStore()}
	// Every claim attempt fails; the failure write afterwards succeeds.
	s.failures.Store(int64(fastPolicy().MaxRetries + 1))
	p := mock.NewMockProvider()
	exec := pipeline.NewExecutor(s, pipeline.DefaultStages(p), fastPolicy(), discardLogger())
	job := queuedJob(t, s)

	err := exec.Execute(context.Background(), job.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, pipeline.ErrNotClaimed)

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status, "job must not stay queued")
	require.NotNil(t, got.Error)
	assert.Equal(t, jobs.StageQueue, got.Error.Stage)
	assert.Contains(t, got.Error.Message, "connection reset")
	assert.Equal(t, 0, p.Calls())
}
