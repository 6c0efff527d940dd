package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider speaks the Anthropic messages wire format.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewAnthropicProvider(apiKey, model, baseURL string, timeout time.Duration) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AnthropicProvider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float32  `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	maxTokens := 1024
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	// The messages endpoint takes the system prompt out of band.
	payload := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	}
	for _, msg := range messages {
		if msg.Role == "system" {
			if payload.System != "" {
				payload.System += "\n\n"
			}
			payload.System += msg.Content
			continue
		}
		payload.Messages = append(payload.Messages, msg)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", newError(ClientTypeAnthropic, 0, "encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", newError(ClientTypeAnthropic, 0, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", newError(ClientTypeAnthropic, 0, "request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", newError(ClientTypeAnthropic, resp.StatusCode, "read response: %v", err)
	}

	var parsed anthropicResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		vendorMsg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
			vendorMsg = parsed.Error.Message
		}
		return "", newError(ClientTypeAnthropic, resp.StatusCode, "%s", vendorMsg)
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", newError(ClientTypeAnthropic, resp.StatusCode, "decode response: %v", err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", newError(ClientTypeAnthropic, resp.StatusCode, "response has no text content")
}

func (p *AnthropicProvider) Test(ctx context.Context) bool {
	return runTest(ctx, p)
}

var _ Provider = (*AnthropicProvider)(nil)
