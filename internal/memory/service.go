package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "memory:"

// Service stores conversation history in Redis lists. Appends are
// per-key; concurrent appends for the same key are accepted as
// eventually ordered, not strictly serialized.
type Service struct {
	client  *redis.Client
	cap     int
	idleTTL time.Duration
	logger  *slog.Logger
}

// NewService creates the memory store. cap bounds each conversation to
// the most recent entries; idleTTL is how long an idle conversation
// survives the periodic prune.
func NewService(log *slog.Logger, client *redis.Client, cap int, idleTTL time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cap <= 0 {
		cap = 200
	}
	if idleTTL <= 0 {
		idleTTL = 30 * 24 * time.Hour
	}
	return &Service{
		client:  client,
		cap:     cap,
		idleTTL: idleTTL,
		logger:  log.With(slog.String("service", "memory")),
	}
}

func key(businessID, externalUser string) string {
	return keyPrefix + businessID + ":" + externalUser
}

// Add appends one turn and trims the list to the capacity bound.
// Without a Redis client the turn is dropped; conversations are then
// stateless but processing continues.
func (s *Service) Add(ctx context.Context, businessID, externalUser string, entry Entry) error {
	if s.client == nil {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	k := key(businessID, externalUser)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, k, encoded)
	pipe.LTrim(ctx, k, int64(-s.cap), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	return nil
}

// Get returns the full stored history for one conversation. Callers
// window it with Window before prompt use.
func (s *Service) Get(ctx context.Context, businessID, externalUser string) ([]Entry, error) {
	if s.client == nil {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, key(businessID, externalUser), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			s.logger.Warn("skipping malformed memory entry",
				slog.String("business_id", businessID),
				slog.Any("error", err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Prune deletes conversations whose last turn is older than the idle
// TTL. Run periodically; memory otherwise has no automatic expiry.
func (s *Service) Prune(ctx context.Context) (int, error) {
	if s.client == nil {
		return 0, nil
	}
	var pruned int
	cutoff := time.Now().Add(-s.idleTTL)
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		last, err := s.client.LIndex(ctx, k, -1).Result()
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(last), &entry); err != nil {
			continue
		}
		if entry.Timestamp.Before(cutoff) {
			if err := s.client.Del(ctx, k).Err(); err != nil {
				s.logger.Warn("prune delete failed", slog.String("key", k), slog.Any("error", err))
				continue
			}
			pruned++
		}
	}
	if err := iter.Err(); err != nil {
		return pruned, fmt.Errorf("scan memory keys: %w", err)
	}
	if pruned > 0 {
		s.logger.Info("pruned idle conversations", slog.Int("count", pruned))
	}
	return pruned, nil
}
