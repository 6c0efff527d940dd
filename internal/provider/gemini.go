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

// GeminiProvider speaks the Google generateContent wire format.
type GeminiProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewGeminiProvider(apiKey, model, baseURL string, timeout time.Duration) *GeminiProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeminiProvider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  *struct {
		Temperature     *float32 `json:"temperature,omitempty"`
		MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	payload := geminiRequest{}
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: msg.Content}}}
		case "assistant":
			payload.Contents = append(payload.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		default:
			payload.Contents = append(payload.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}
	if opts.Temperature != nil || opts.MaxTokens != nil {
		payload.GenerationConfig = &struct {
			Temperature     *float32 `json:"temperature,omitempty"`
			MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
		}{Temperature: opts.Temperature, MaxOutputTokens: opts.MaxTokens}
	}

	model := opts.Model
	if model == "" {
		model = p.model
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", newError(ClientTypeGemini, 0, "encode request: %v", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", newError(ClientTypeGemini, 0, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", newError(ClientTypeGemini, 0, "request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", newError(ClientTypeGemini, resp.StatusCode, "read response: %v", err)
	}

	var parsed geminiResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		vendorMsg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil {
			vendorMsg = parsed.Error.Message
		}
		return "", newError(ClientTypeGemini, resp.StatusCode, "%s", vendorMsg)
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", newError(ClientTypeGemini, resp.StatusCode, "decode response: %v", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", newError(ClientTypeGemini, resp.StatusCode, "response has no candidates")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

func (p *GeminiProvider) Test(ctx context.Context) bool {
	return runTest(ctx, p)
}

var _ Provider = (*GeminiProvider)(nil)
