package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/repliahq/replia/internal/provider"
)

// executeNode dispatches one node. It returns the node's output (with
// a flag distinguishing "no output" from an empty string), the id of
// the next node, and any execution error for the engine to recover.
func (e *Engine) executeNode(ctx context.Context, node Node, fc *Context) (string, bool, string, error) {
	switch cfg := node.Config.(type) {
	case InputConfig:
		return "", false, node.Next, nil
	case LLMConfig:
		return e.executeLLM(ctx, node, cfg, fc)
	case RegexRouterConfig:
		return e.executeRegexRouter(node, cfg, fc)
	case MenuOptionsConfig:
		return e.executeMenuOptions(node, cfg, fc)
	case HTTPRequestConfig:
		return e.executeHTTPRequest(ctx, node, cfg, fc)
	case DelayConfig:
		return e.executeDelay(ctx, node, cfg)
	case EndConfig:
		output := cfg.FinalMessage
		if output == "" {
			output = DefaultClosing
		}
		return output, true, "", nil
	default:
		return "", false, "", fmt.Errorf("node %q: unsupported config %T", node.ID, node.Config)
	}
}

func (e *Engine) executeLLM(ctx context.Context, node Node, cfg LLMConfig, fc *Context) (string, bool, string, error) {
	p, ok := e.registry.Get(cfg.Provider)
	if !ok {
		p, ok = e.registry.Get(e.defaultProvider)
	}
	if !ok {
		return "", false, "", fmt.Errorf("node %q: provider %q not registered and no default available", node.ID, cfg.Provider)
	}

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = fc.System
	}
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	messages := make([]provider.Message, 0, llmContextWindow+1)
	messages = append(messages, provider.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, lastN(fc.Messages, llmContextWindow)...)

	reply, err := p.Chat(ctx, messages, provider.Options{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return "", false, "", fmt.Errorf("node %q: %w", node.ID, err)
	}
	fc.Messages = append(fc.Messages, provider.Message{Role: "assistant", Content: reply})
	return reply, true, node.Next, nil
}

func (e *Engine) executeRegexRouter(node Node, cfg RegexRouterConfig, fc *Context) (string, bool, string, error) {
	input := fc.LastUserMessage()
	for i, pattern := range cfg.Patterns {
		re, err := compilePattern(pattern)
		if err != nil {
			return "", false, "", fmt.Errorf("node %q: pattern %d: %w", node.ID, i, err)
		}
		if re.MatchString(input) {
			return "", false, pattern.NextNodeID, nil
		}
	}
	next := cfg.DefaultNext
	if next == "" {
		next = node.Next
	}
	return "", false, next, nil
}

func (e *Engine) executeMenuOptions(node Node, cfg MenuOptionsConfig, fc *Context) (string, bool, string, error) {
	input := fc.LastUserMessage()
	lowered := strings.ToLower(input)
	for _, option := range cfg.Options {
		if option.Text != "" && strings.Contains(lowered, strings.ToLower(option.Text)) {
			return "", false, option.NextNodeID, nil
		}
		if option.Value != "" && input == option.Value {
			return "", false, option.NextNodeID, nil
		}
	}
	next := cfg.DefaultNext
	if next == "" {
		next = node.Next
	}
	return "", false, next, nil
}

func (e *Engine) executeHTTPRequest(ctx context.Context, node Node, cfg HTTPRequestConfig, fc *Context) (string, bool, string, error) {
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}
	var body *bytes.Reader
	if cfg.Body != nil {
		encoded, err := json.Marshal(cfg.Body)
		if err != nil {
			return "", false, "", fmt.Errorf("node %q: encode body: %w", node.ID, err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return "", false, "", fmt.Errorf("node %q: build request: %w", node.ID, err)
	}
	if cfg.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", false, "", fmt.Errorf("node %q: %w", node.ID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, "", fmt.Errorf("node %q: http status %d", node.ID, resp.StatusCode)
	}

	var parsed any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, "", fmt.Errorf("node %q: decode response: %w", node.ID, err)
	}
	fc.Variables["http_response_"+node.ID] = parsed
	return "", false, node.Next, nil
}

// executeDelay suspends only this execution; concurrent jobs keep
// running because the pause is a timer select, not a pool-wide sleep.
func (e *Engine) executeDelay(ctx context.Context, node Node, cfg DelayConfig) (string, bool, string, error) {
	pause := time.Duration(cfg.DelayMs) * time.Millisecond
	if pause <= 0 {
		pause = defaultDelay
	}
	timer := time.NewTimer(pause)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return "", false, "", fmt.Errorf("node %q: %w", node.ID, ctx.Err())
	}
	return "", false, node.Next, nil
}

func lastN(messages []provider.Message, n int) []provider.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
