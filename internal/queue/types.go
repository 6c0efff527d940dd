package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/repliahq/replia/internal/normalize"
)

// ErrClosed is returned by blocking operations after Close.
var ErrClosed = errors.New("queue: closed")

// Job is one inbound message waiting to be processed.
type Job struct {
	ID         string                   `json:"id"`
	BusinessID string                   `json:"business_id"`
	Message    normalize.InboundMessage `json:"message"`
	Attempts   int                      `json:"attempts"`
	EnqueuedAt time.Time                `json:"enqueued_at"`
}

// NewJob wraps an inbound message into a job with a fresh ID.
func NewJob(businessID string, msg normalize.InboundMessage) Job {
	return Job{
		ID:         uuid.NewString(),
		BusinessID: businessID,
		Message:    msg,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Queue is the durable job queue contract. Dequeue blocks until a job
// is available or the context is done. Nack schedules a redelivery
// after the given delay.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
	Nack(ctx context.Context, job Job, delay time.Duration) error
	Size(ctx context.Context) (int64, error)
	Close() error
}
