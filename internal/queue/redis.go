package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// pollInterval bounds each BRPOP so Close and ctx cancellation are noticed.
const pollInterval = time.Second

// RedisQueue is a Queue backed by a Redis list. Producers LPUSH and
// consumers BRPOP, so the oldest id is delivered first.
type RedisQueue struct {
	client *redis.Client
	key    string

	closeOnce sync.Once
	done      chan struct{}
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, done: make(chan struct{})}
}

func (q *RedisQueue) Enqueue(ctx context.Context, id uuid.UUID) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	if err := q.client.LPush(ctx, q.key, id.String()).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", id, err)
	}
	return nil
}

// Dequeue issues BRPOP on a context detached from ctx, so a cancellation
// cannot drop an id the server has already popped. ctx and Close are checked
// between polls; an id popped after either fires is pushed back to the head.
func (q *RedisQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	bctx := context.WithoutCancel(ctx)
	for {
		if err := q.stopped(ctx); err != nil {
			return uuid.Nil, err
		}

		res, err := q.client.BRPop(bctx, pollInterval, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return uuid.Nil, fmt.Errorf("dequeue: %w", err)
		}

		// res is [key, value].
		if stop := q.stopped(ctx); stop != nil {
			if err := q.client.RPush(bctx, q.key, res[1]).Err(); err != nil {
				return uuid.Nil, fmt.Errorf("requeue %s: %w", res[1], err)
			}
			return uuid.Nil, stop
		}
		id, err := uuid.Parse(res[1])
		if err != nil {
			return uuid.Nil, fmt.Errorf("dequeue: malformed job id %q: %w", res[1], err)
		}
		return id, nil
	}
}

func (q *RedisQueue) stopped(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	default:
		return nil
	}
}

func (q *RedisQueue) Remove(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := q.client.LRem(ctx, q.key, 0, id.String()).Result()
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", id, err)
	}
	return n > 0, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return int(n), nil
}

// Close stops local consumers. Pending ids stay in Redis for the next process.
func (q *RedisQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

var _ Queue = (*RedisQueue)(nil)
