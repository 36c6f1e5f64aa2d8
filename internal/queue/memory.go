package queue

import (
	"container/list"
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu     sync.Mutex
	items  *list.List
	index  map[uuid.UUID]*list.Element
	wake   chan struct{} // closed and replaced on every enqueue
	closed bool
	done   chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items: list.New(),
		index: make(map[uuid.UUID]*list.Element),
		wake:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.index[id] = q.items.PushBack(id)
	close(q.wake)
	q.wake = make(chan struct{})
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	for {
		if err := ctx.Err(); err != nil {
			return uuid.Nil, err
		}
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return uuid.Nil, ErrClosed
		}
		if front := q.items.Front(); front != nil {
			id := q.items.Remove(front).(uuid.UUID)
			delete(q.index, id)
			q.mu.Unlock()
			return id, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		case <-q.done:
			return uuid.Nil, ErrClosed
		case <-wake:
		}
	}
}

func (q *MemoryQueue) Remove(_ context.Context, id uuid.UUID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	el, ok := q.index[id]
	if !ok {
		return false, nil
	}
	q.items.Remove(el)
	delete(q.index, id)
	return true, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len(), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
