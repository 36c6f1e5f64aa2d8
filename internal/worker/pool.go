// Package worker drains the job queue with a fixed number of goroutines.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/codeagent/internal/pipeline"
	"github.com/kiranshivaraju/codeagent/internal/queue"
)

// Executor runs one job to a terminal state.
type Executor interface {
	Execute(ctx context.Context, id uuid.UUID) error
}

// Pool manages concurrent worker goroutines that dequeue job ids and run
// them through the Executor. Stages of one job run sequentially inside a
// single worker.
type Pool struct {
	queue       queue.Queue
	executor    Executor
	concurrency int
	errorDelay  time.Duration
	logger      *slog.Logger

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[uuid.UUID]context.CancelFunc
	cancelled  bool // set once the shutdown deadline passed
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithErrorDelay sets how long a worker waits after a queue error.
func WithErrorDelay(d time.Duration) PoolOption {
	return func(p *Pool) { p.errorDelay = d }
}

// NewPool creates a worker pool.
func NewPool(q queue.Queue, executor Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:       q,
		executor:    executor,
		concurrency: 4,
		errorDelay:  time.Second,
		logger:      logger,
		stopCh:      make(chan struct{}),
		activeJobs:  make(map[uuid.UUID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting", slog.Int("concurrency", p.concurrency))

	for i := range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop(i)
	}
	return nil
}

// Stop stops dequeuing and waits for in-flight jobs. When ctx is done first,
// in-flight jobs are cancelled and still recorded as failed.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}
	return nil
}

// Active reports the number of jobs currently executing.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop(worker int) {
	defer p.wg.Done()

	// Cancelled when Stop is called so a blocked Dequeue returns.
	dqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-dqCtx.Done():
		}
	}()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		id, err := p.queue.Dequeue(dqCtx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || dqCtx.Err() != nil {
				return
			}
			p.logger.Error("dequeue error", slog.Int("worker", worker), slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		p.run(worker, id)
	}
}

func (p *Pool) run(worker int, id uuid.UUID) {
	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(id, cancel)
	defer func() {
		p.untrackJob(id)
		cancel()
	}()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker recovered from panic",
				slog.Int("worker", worker),
				slog.String("job_id", id.String()),
				slog.Any("panic", r),
			)
		}
	}()

	err := p.executor.Execute(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrNotClaimed):
		p.logger.Info("skipping job",
			slog.Int("worker", worker),
			slog.String("job_id", id.String()),
			slog.String("reason", err.Error()),
		)
	default:
		p.logger.Error("job execution failed",
			slog.Int("worker", worker),
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.errorDelay):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(id uuid.UUID, cancel context.CancelFunc) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	if p.cancelled {
		cancel()
	}
	p.activeJobs[id] = cancel
}

func (p *Pool) untrackJob(id uuid.UUID) {
	p.activeMu.Lock()
	delete(p.activeJobs, id)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	p.cancelled = true
	for id, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", id.String()))
		cancel()
	}
}
