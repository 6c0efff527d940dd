// Package provider defines the canonical chat-completion contract and
// the concrete vendor clients behind it. Engine and pipeline code only
// ever sees the Provider interface; vendor wire formats stay in here.
package provider

import "context"

// ClientType identifies a vendor wire format.
type ClientType string

const (
	ClientTypeOpenAI    ClientType = "openai"
	ClientTypeGemini    ClientType = "gemini"
	ClientTypeAnthropic ClientType = "anthropic"
)

// Message is one canonical chat message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Options carries per-call overrides. Zero values mean "provider default".
type Options struct {
	Model       string
	Temperature *float32
	MaxTokens   *int
}

// Provider is the uniform chat-completion contract.
type Provider interface {
	// Chat issues one synchronous completion call and returns the
	// assistant text. Non-2xx responses and malformed payloads surface
	// as a *provider.Error.
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
	// Test is a liveness probe: it sends a canned prompt and reports
	// whether the reply contains the expected token. It never panics
	// and converts every failure into false.
	Test(ctx context.Context) bool
}

const (
	testPrompt = "Respondé únicamente con la palabra OK."
	testToken  = "OK"
)
