package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/repliahq/replia/internal/logger"
	"github.com/repliahq/replia/internal/normalize"
)

// Dispatcher is the enqueue side of the pipeline. When no queue is
// available it degrades to processing jobs synchronously so inbound
// messages are never dropped.
type Dispatcher struct {
	queue     Queue
	processor Processor
	timeout   time.Duration
	logger    *slog.Logger
}

func NewDispatcher(q Queue, proc Processor, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	d := &Dispatcher{
		queue:     q,
		processor: proc,
		timeout:   timeout,
		logger:    logger.L.With(slog.String("service", "dispatcher")),
	}
	if q == nil {
		d.logger.Warn("no queue backend available, processing inbound messages synchronously")
	}
	return d
}

// Dispatch hands an inbound message to the pipeline. With a queue
// backend the job is enqueued and processed by the worker pool; the
// synchronous fallback processes it before returning.
func (d *Dispatcher) Dispatch(ctx context.Context, businessID string, msg normalize.InboundMessage) error {
	job := NewJob(businessID, msg)
	if d.queue != nil {
		if err := d.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		return nil
	}
	procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	job.Attempts = 1
	if err := d.processor.Process(procCtx, job); err != nil {
		d.logger.Error("synchronous processing",
			slog.String("job_id", job.ID),
			slog.String("business_id", businessID),
			slog.Any("error", err))
		return fmt.Errorf("process: %w", err)
	}
	return nil
}
