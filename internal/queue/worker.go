package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/repliahq/replia/internal/logger"
)

// Processor handles one dequeued job.
type Processor interface {
	Process(ctx context.Context, job Job) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job Job) error

func (f ProcessorFunc) Process(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// Record is the outcome of a finished job, kept for the stats
// endpoint.
type Record struct {
	JobID      string    `json:"job_id"`
	BusinessID string    `json:"business_id"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Pending        int64    `json:"pending"`
	CompletedTotal uint64   `json:"completed_total"`
	FailedTotal    uint64   `json:"failed_total"`
	Completed      []Record `json:"completed"`
	Failed         []Record `json:"failed"`
}

// PoolConfig sizes the worker pool and its retry policy.
type PoolConfig struct {
	Workers          int
	MaxAttempts      int
	Backoff          time.Duration
	CompletedHistory int
	FailedHistory    int
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	if c.CompletedHistory <= 0 {
		c.CompletedHistory = 100
	}
	if c.FailedHistory <= 0 {
		c.FailedHistory = 50
	}
	return c
}

// Pool runs a fixed number of workers over a queue. A job that fails
// is redelivered with exponential backoff until MaxAttempts is
// reached, then recorded as failed.
type Pool struct {
	queue     Queue
	processor Processor
	cfg       PoolConfig
	logger    *slog.Logger

	mu             sync.Mutex
	completed      []Record
	failed         []Record
	completedTotal uint64
	failedTotal    uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(q Queue, proc Processor, cfg PoolConfig) *Pool {
	return &Pool{
		queue:     q,
		processor: proc,
		cfg:       cfg.withDefaults(),
		logger:    logger.L.With(slog.String("service", "worker-pool")),
	}
}

// Start launches the workers. It returns immediately.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Info("workers started", slog.Int("count", p.cfg.Workers))
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With(slog.Int("worker", id))
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
				return
			}
			log.Error("dequeue", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.handle(ctx, log, job)
	}
}

func (p *Pool) handle(ctx context.Context, log *slog.Logger, job Job) {
	job.Attempts++
	err := p.process(ctx, job)
	if err == nil {
		p.record(job, nil)
		return
	}
	if job.Attempts >= p.cfg.MaxAttempts {
		log.Error("job failed permanently",
			slog.String("job_id", job.ID),
			slog.String("business_id", job.BusinessID),
			slog.Int("attempts", job.Attempts),
			slog.Any("error", err))
		p.record(job, err)
		return
	}
	delay := p.cfg.Backoff << (job.Attempts - 1)
	log.Warn("job failed, retrying",
		slog.String("job_id", job.ID),
		slog.Int("attempts", job.Attempts),
		slog.Duration("delay", delay),
		slog.Any("error", err))
	if nackErr := p.queue.Nack(ctx, job, delay); nackErr != nil {
		log.Error("nack", slog.String("job_id", job.ID), slog.Any("error", nackErr))
		p.record(job, err)
	}
}

func (p *Pool) process(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return p.processor.Process(ctx, job)
}

func (p *Pool) record(job Job, err error) {
	rec := Record{
		JobID:      job.ID,
		BusinessID: job.BusinessID,
		Attempts:   job.Attempts,
		FinishedAt: time.Now().UTC(),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		rec.Error = err.Error()
		p.failedTotal++
		p.failed = appendBounded(p.failed, rec, p.cfg.FailedHistory)
		return
	}
	p.completedTotal++
	p.completed = appendBounded(p.completed, rec, p.cfg.CompletedHistory)
}

// Stats reports pending depth and the most recent job outcomes.
func (p *Pool) Stats(ctx context.Context) Stats {
	pending, err := p.queue.Size(ctx)
	if err != nil {
		p.logger.Warn("queue size", slog.Any("error", err))
		pending = -1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := Stats{
		Pending:        pending,
		CompletedTotal: p.completedTotal,
		FailedTotal:    p.failedTotal,
		Completed:      make([]Record, len(p.completed)),
		Failed:         make([]Record, len(p.failed)),
	}
	copy(stats.Completed, p.completed)
	copy(stats.Failed, p.failed)
	return stats
}

func appendBounded(records []Record, rec Record, max int) []Record {
	records = append(records, rec)
	if len(records) > max {
		records = records[len(records)-max:]
	}
	return records
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic during processing: %v", e.value)
}
