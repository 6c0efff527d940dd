package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process queue for development and tests. Jobs
// survive only as long as the process.
type MemoryQueue struct {
	mu     sync.Mutex
	ready  chan Job
	closed bool
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{ready: make(chan Job, capacity)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.mu.Unlock()
	select {
	case q.ready <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job, ok := <-q.ready:
		if !ok {
			return Job{}, ErrClosed
		}
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *MemoryQueue) Nack(ctx context.Context, job Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}
	time.AfterFunc(delay, func() {
		_ = q.Enqueue(context.Background(), job)
	})
	return nil
}

func (q *MemoryQueue) Size(ctx context.Context) (int64, error) {
	return int64(len(q.ready)), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.ready)
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
