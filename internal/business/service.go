package business

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repliahq/replia/internal/provider"
)

// ErrNotFound is returned when the business itself does not exist.
var ErrNotFound = errors.New("business not found")

// Service loads configuration snapshots. Every job loads a fresh
// snapshot; nothing here is cached or mutated.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "business")),
	}
}

// Load assembles the snapshot from its three sources. Missing AI or
// channel settings are not errors; the pipeline degrades instead.
func (s *Service) Load(ctx context.Context, businessID string) (*Config, error) {
	if strings.TrimSpace(businessID) == "" {
		return nil, fmt.Errorf("business id is required")
	}
	cfg := &Config{ID: businessID}

	var profile Profile
	var profileUpdated time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT name, description, industry, tone, updated_at
		FROM businesses WHERE id = $1`, businessID).
		Scan(&profile.Name, &profile.Description, &profile.Industry, &profile.Tone, &profileUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	cfg.Profile = &profile
	cfg.Version = profileUpdated

	var ai AISettings
	var clientType string
	var aiUpdated time.Time
	err = s.pool.QueryRow(ctx, `
		SELECT client_type, api_key, model, base_url, updated_at
		FROM ai_settings WHERE business_id = $1`, businessID).
		Scan(&clientType, &ai.APIKey, &ai.Model, &ai.BaseURL, &aiUpdated)
	switch {
	case err == nil:
		ai.ClientType = provider.ClientType(clientType)
		cfg.AI = &ai
		if aiUpdated.After(cfg.Version) {
			cfg.Version = aiUpdated
		}
	case errors.Is(err, pgx.ErrNoRows):
		s.logger.Debug("business has no ai settings", slog.String("business_id", businessID))
	default:
		return nil, fmt.Errorf("load ai settings: %w", err)
	}

	var channel ChannelSettings
	var channelUpdated time.Time
	err = s.pool.QueryRow(ctx, `
		SELECT send_url, token, media_url, updated_at
		FROM channel_settings WHERE business_id = $1`, businessID).
		Scan(&channel.SendURL, &channel.Token, &channel.MediaURL, &channelUpdated)
	switch {
	case err == nil:
		cfg.Channel = &channel
		if channelUpdated.After(cfg.Version) {
			cfg.Version = channelUpdated
		}
	case errors.Is(err, pgx.ErrNoRows):
		s.logger.Debug("business has no channel settings", slog.String("business_id", businessID))
	default:
		return nil, fmt.Errorf("load channel settings: %w", err)
	}

	return cfg, nil
}
