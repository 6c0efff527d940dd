// Package knowledge retrieves business documents relevant to a message
// and composes the system prompt that carries them into the model.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repliahq/replia/internal/business"
)

const (
	minKeywordLen   = 4
	snippetMaxChars = 600
)

// Snippet is one matched document fragment.
type Snippet struct {
	Title   string
	Content string
}

// Service performs keyword lookup over the business's documents.
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
		logger: log.With(slog.String("service", "knowledge")),
	}
}

// Search returns up to limit snippets whose title or content matches a
// keyword of the query. An empty result is normal, not an error.
func (s *Service) Search(ctx context.Context, businessID, query string, limit int) ([]Snippet, error) {
	if limit <= 0 {
		limit = 3
	}
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}
	patterns := make([]string, len(keywords))
	for i, kw := range keywords {
		patterns[i] = "%" + escapeLike(kw) + "%"
	}

	rows, err := s.pool.Query(ctx, `
		SELECT title, content
		FROM knowledge_documents
		WHERE business_id = $1
		  AND (title ILIKE ANY($2) OR content ILIKE ANY($2))
		ORDER BY created_at DESC
		LIMIT $3`, businessID, patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var snippets []Snippet
	for rows.Next() {
		var snip Snippet
		if err := rows.Scan(&snip.Title, &snip.Content); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		snip.Content = truncate(snip.Content, snippetMaxChars)
		snippets = append(snippets, snip)
	}
	return snippets, rows.Err()
}

// ComposeSystemPrompt builds the system prompt from the business
// profile plus whatever knowledge matched.
func ComposeSystemPrompt(profile *business.Profile, snippets []Snippet) string {
	var b strings.Builder
	if profile != nil && profile.Name != "" {
		fmt.Fprintf(&b, "Sos el asistente virtual de %s.", profile.Name)
		if profile.Description != "" {
			fmt.Fprintf(&b, " %s.", strings.TrimSuffix(profile.Description, "."))
		}
		if profile.Tone != "" {
			fmt.Fprintf(&b, " Respondé con un tono %s.", profile.Tone)
		}
	} else {
		b.WriteString("Sos un asistente virtual de atención al cliente.")
	}
	if len(snippets) > 0 {
		b.WriteString("\n\nInformación del negocio que podés usar para responder:")
		for _, snip := range snippets {
			b.WriteString("\n- ")
			if snip.Title != "" {
				b.WriteString(snip.Title + ": ")
			}
			b.WriteString(snip.Content)
		}
	}
	return b.String()
}

func extractKeywords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	var keywords []string
	for _, field := range fields {
		cleaned := strings.Trim(field, ".,;:¿?¡!\"'()")
		if len([]rune(cleaned)) >= minKeywordLen {
			keywords = append(keywords, cleaned)
		}
	}
	return keywords
}

// escapeLike neutralizes ILIKE metacharacters so user input only ever
// matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(keyword string) string {
	return likeEscaper.Replace(keyword)
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
