package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIChat(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		var payload openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.Model != "gpt-4o-mini" {
			t.Errorf("unexpected model: %s", payload.Model)
		}
		if len(payload.Messages) != 2 || payload.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", payload.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "¡Hola!"}},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "", srv.URL, time.Second)
	reply, err := p.Chat(context.Background(), []Message{
		{Role: "system", Content: "Sos un asistente."},
		{Role: "user", Content: "hola"},
	}, Options{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "¡Hola!" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestOpenAIChatSurfacesVendorError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limit exceeded"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "", srv.URL, time.Second)
	_, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hola"}}, Options{})
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if perr.StatusCode != http.StatusTooManyRequests || perr.Provider != ClientTypeOpenAI {
		t.Fatalf("unexpected error: %+v", perr)
	}
	if perr.Message != "rate limit exceeded" {
		t.Fatalf("expected vendor message, got %q", perr.Message)
	}
}

func TestGeminiChatSplitsSystemInstruction(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "g-key" {
			t.Errorf("unexpected api key header: %q", got)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if _, ok := payload["systemInstruction"]; !ok {
			t.Error("expected systemInstruction in payload")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "OK"}}}},
			},
		})
	}))
	defer srv.Close()

	p := NewGeminiProvider("g-key", "", srv.URL, time.Second)
	reply, err := p.Chat(context.Background(), []Message{
		{Role: "system", Content: "Sos un asistente."},
		{Role: "user", Content: "hola"},
	}, Options{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "OK" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestAnthropicChat(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "a-key" {
			t.Errorf("unexpected api key header: %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("expected anthropic-version header")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "Buenas"}},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider("a-key", "", srv.URL, time.Second)
	reply, err := p.Chat(context.Background(), []Message{
		{Role: "system", Content: "Sos un asistente."},
		{Role: "user", Content: "hola"},
	}, Options{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "Buenas" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestProviderTestProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
		code  int
		want  bool
	}{
		{name: "token present", reply: "OK", code: http.StatusOK, want: true},
		{name: "token embedded", reply: "ok, entendido", code: http.StatusOK, want: true},
		{name: "wrong reply", reply: "no sé", code: http.StatusOK, want: false},
		{name: "vendor failure", reply: "", code: http.StatusInternalServerError, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"choices": []map[string]any{
						{"message": map[string]string{"content": tt.reply}},
					},
				})
			}))
			defer srv.Close()
			p := NewOpenAIProvider("sk", "", srv.URL, time.Second)
			if got := p.Test(context.Background()); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFactory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		clientType ClientType
		wantErr    bool
	}{
		{name: "openai", clientType: ClientTypeOpenAI},
		{name: "gemini", clientType: ClientTypeGemini},
		{name: "anthropic", clientType: ClientTypeAnthropic},
		{name: "unknown", clientType: ClientType("mistral"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := New(tt.clientType, "key", "", "", time.Second)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error for unknown client type")
				}
				return
			}
			if err != nil {
				t.Fatalf("factory: %v", err)
			}
			if p == nil {
				t.Fatal("expected a provider")
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	p := NewOpenAIProvider("sk", "", "", time.Second)
	if err := registry.Register("openai", p); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register("openai", p); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := registry.Register("", p); err == nil {
		t.Fatal("expected empty name to fail")
	}
	if err := registry.Register("nil", nil); err == nil {
		t.Fatal("expected nil provider to fail")
	}
	if _, ok := registry.Get("openai"); !ok {
		t.Fatal("expected registered provider")
	}
	if registry.Has("gemini") {
		t.Fatal("unexpected provider")
	}
	if names := registry.Names(); len(names) != 1 || names[0] != "openai" {
		t.Fatalf("unexpected names: %v", names)
	}
}
