package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a business has no published flow.
var ErrNotFound = errors.New("flow not published")

// ValidationError aggregates the problems that block a publish.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "flow validation failed: " + strings.Join(e.Problems, "; ")
}

// Store persists published flow definitions. A flow failing validation
// is never written, so everything the engine loads is executable.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("service", "flow_store")),
	}
}

// Publish validates and stores the definition for a business,
// replacing any previous version.
func (s *Store) Publish(ctx context.Context, businessID string, def *Definition) error {
	if strings.TrimSpace(businessID) == "" {
		return fmt.Errorf("business id is required")
	}
	if problems := Validate(def); len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	encoded, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO flows (business_id, definition, published_at)
		VALUES ($1, $2, now())
		ON CONFLICT (business_id)
		DO UPDATE SET definition = EXCLUDED.definition, published_at = now()`,
		businessID, encoded)
	if err != nil {
		return fmt.Errorf("store flow: %w", err)
	}
	s.logger.Info("flow published",
		slog.String("business_id", businessID),
		slog.Int("nodes", len(def.Nodes)))
	return nil
}

// Get loads the published flow for a business.
func (s *Store) Get(ctx context.Context, businessID string) (*Definition, error) {
	var encoded []byte
	err := s.pool.QueryRow(ctx,
		`SELECT definition FROM flows WHERE business_id = $1`,
		businessID).Scan(&encoded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load flow: %w", err)
	}
	var def Definition
	if err := json.Unmarshal(encoded, &def); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	return &def, nil
}
