// Package normalize converts multi-modal inbound payloads into the
// canonical text message the flow engine consumes.
package normalize

import (
	"context"

	"github.com/repliahq/replia/internal/business"
)

// MessageType is the modality of an inbound message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeAudio    MessageType = "audio"
	TypeImage    MessageType = "image"
	TypeDocument MessageType = "document"
)

// InboundMessage is one message as produced by a channel adapter.
// Content holds the text for text messages and the channel media
// reference for everything else. Immutable.
type InboundMessage struct {
	ID       string         `json:"id"`
	From     string         `json:"from"`
	Type     MessageType    `json:"type"`
	Content  string         `json:"content"`
	Filename string         `json:"filename,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is the outcome of normalization. When Degraded is true, Text
// is the apology to deliver directly; the message never reaches the
// flow engine.
type Result struct {
	Text     string
	Degraded bool
}

// MediaFetcher downloads media binaries and resolves public media URLs
// through the business's channel. Fetch returns the binary along with
// the content type reported by the channel.
type MediaFetcher interface {
	Fetch(ctx context.Context, cfg *business.Config, mediaRef string) ([]byte, string, error)
	ResolveURL(ctx context.Context, cfg *business.Config, mediaRef string) (string, error)
}

// Transcriber is the speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// VisionDescriber is the image-description collaborator.
type VisionDescriber interface {
	Describe(ctx context.Context, imageURL, prompt string) (string, error)
}

// DocumentExtractor is the PDF text-extraction collaborator.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, filename string) (string, error)
}
