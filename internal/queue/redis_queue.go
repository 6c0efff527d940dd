package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/repliahq/replia/internal/logger"
)

const (
	readyKey   = "replia:queue:ready"
	delayedKey = "replia:queue:delayed"

	dequeueBlock = 2 * time.Second
	drainEvery   = 500 * time.Millisecond
	drainBatch   = 100
)

// RedisQueue keeps ready jobs in a list and delayed jobs in a sorted
// set scored by their due time. A background drainer moves due jobs
// back onto the ready list.
type RedisQueue struct {
	client *redis.Client
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &RedisQueue{
		client: client,
		logger: logger.L.With(slog.String("service", "queue")),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.drainLoop(ctx)
	return q
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, readyKey, raw).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		res, err := q.client.BRPop(ctx, dequeueBlock, readyKey).Result()
		if errors.Is(err, redis.Nil) {
			select {
			case <-ctx.Done():
				return Job{}, ctx.Err()
			default:
				continue
			}
		}
		if err != nil {
			return Job{}, fmt.Errorf("pop job: %w", err)
		}
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.logger.Error("dropping malformed job payload", slog.Any("error", err))
			continue
		}
		return job, nil
	}
}

func (q *RedisQueue) Nack(ctx context.Context, job Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if delay <= 0 {
		return q.client.LPush(ctx, readyKey, raw).Err()
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, delayedKey, redis.Z{Score: due, Member: raw}).Err(); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Size(ctx context.Context) (int64, error) {
	ready, err := q.client.LLen(ctx, readyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("ready size: %w", err)
	}
	delayed, err := q.client.ZCard(ctx, delayedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("delayed size: %w", err)
	}
	return ready + delayed, nil
}

func (q *RedisQueue) Close() error {
	q.cancel()
	<-q.done
	return nil
}

func (q *RedisQueue) drainLoop(ctx context.Context) {
	defer close(q.done)
	ticker := time.NewTicker(drainEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.drainDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Error("draining delayed jobs", slog.Any("error", err))
			}
		}
	}
}

// drainDue moves every job whose due time has passed from the delayed
// set to the ready list.
func (q *RedisQueue) drainDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: drainBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("range delayed: %w", err)
	}
	if len(members) == 0 {
		return nil
	}
	pipe := q.client.TxPipeline()
	for _, m := range members {
		pipe.LPush(ctx, readyKey, m)
		pipe.ZRem(ctx, delayedKey, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("promote delayed: %w", err)
	}
	return nil
}

var _ Queue = (*RedisQueue)(nil)
