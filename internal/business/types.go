// Package business loads the per-business configuration snapshot used
// by one job: profile, AI provider settings, channel settings.
package business

import (
	"time"

	"github.com/repliahq/replia/internal/provider"
)

// Profile describes the business to the model.
type Profile struct {
	Name        string
	Description string
	Industry    string
	Tone        string
}

// AISettings holds the provider credentials and model choice.
type AISettings struct {
	ClientType provider.ClientType
	APIKey     string
	Model      string
	BaseURL    string
}

// ChannelSettings holds the outbound delivery endpoint.
type ChannelSettings struct {
	SendURL  string
	Token    string
	MediaURL string
}

// Config aggregates the three logically independent sources. Any
// subset may be absent: partial configuration is a valid, degraded
// state (no channel settings means replies are computed but not
// delivered; no AI settings means llm nodes cannot run).
type Config struct {
	ID      string
	Profile *Profile
	AI      *AISettings
	Channel *ChannelSettings
	// Version stamps the snapshot (max updated_at across sources).
	// Concurrent jobs may observe different versions; config reload is
	// eventually consistent, not transactional.
	Version time.Time
}

// HasAI reports whether provider calls are possible.
func (c *Config) HasAI() bool {
	return c.AI != nil && c.AI.APIKey != ""
}

// HasChannel reports whether outbound delivery is configured.
func (c *Config) HasChannel() bool {
	return c.Channel != nil && c.Channel.SendURL != ""
}
