// Package queue buffers accepted job ids between the gateway and the
// worker pool. Delivery is FIFO and each id goes to exactly one consumer.
package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrClosed is returned by Dequeue and Enqueue once the queue is closed.
var ErrClosed = errors.New("queue closed")

// Queue is a FIFO of job ids. Implementations must be safe for concurrent use.
type Queue interface {
	// Enqueue appends id without blocking.
	Enqueue(ctx context.Context, id uuid.UUID) error
	// Dequeue blocks until an id is available, ctx is done, or the queue is closed.
	Dequeue(ctx context.Context) (uuid.UUID, error)
	// Remove drops a pending id. It reports whether the id was found.
	Remove(ctx context.Context, id uuid.UUID) (bool, error)
	// Len reports the number of pending ids.
	Len(ctx context.Context) (int, error)
	// Close wakes all blocked consumers with ErrClosed.
	Close() error
}
