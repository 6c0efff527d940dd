package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider speaks the OpenAI chat-completions wire format. It
// also covers every OpenAI-compatible vendor via a custom base URL.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOpenAIProvider(apiKey, model, baseURL string, timeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float32  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	payload := openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", newError(ClientTypeOpenAI, 0, "encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", newError(ClientTypeOpenAI, 0, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", newError(ClientTypeOpenAI, 0, "request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", newError(ClientTypeOpenAI, resp.StatusCode, "read response: %v", err)
	}

	var parsed openAIResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		vendorMsg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
			vendorMsg = parsed.Error.Message
		}
		return "", newError(ClientTypeOpenAI, resp.StatusCode, "%s", vendorMsg)
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", newError(ClientTypeOpenAI, resp.StatusCode, "decode response: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return "", newError(ClientTypeOpenAI, resp.StatusCode, "response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Test(ctx context.Context) bool {
	return runTest(ctx, p)
}

// runTest is the shared Test implementation: canned prompt, token check,
// all failures collapse to false.
func runTest(ctx context.Context, p Provider) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	reply, err := p.Chat(ctx, []Message{{Role: "user", Content: testPrompt}}, Options{})
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToUpper(reply), testToken)
}

var _ Provider = (*OpenAIProvider)(nil)

// String implements fmt.Stringer for log fields.
func (p *OpenAIProvider) String() string {
	return fmt.Sprintf("openai(%s)", p.model)
}
