package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/repliahq/replia/internal/provider"
)

type stubProvider struct {
	reply    string
	err      error
	lastSeen []provider.Message
}

func (p *stubProvider) Chat(ctx context.Context, messages []provider.Message, opts provider.Options) (string, error) {
	p.lastSeen = messages
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func (p *stubProvider) Test(ctx context.Context) bool { return p.err == nil }

func newTestEngine(t *testing.T, p provider.Provider) *Engine {
	t.Helper()
	registry := provider.NewRegistry()
	if p != nil {
		if err := registry.Register("openai", p); err != nil {
			t.Fatalf("register provider: %v", err)
		}
	}
	return NewEngine(slog.Default(), registry, "openai", nil)
}

func TestExecuteLinearFlow(t *testing.T) {
	t.Parallel()

	def := &Definition{
		Entry: "in",
		Nodes: map[string]Node{
			"in":  {ID: "in", Type: NodeInput, Next: "end", Config: InputConfig{}},
			"end": {ID: "end", Type: NodeEnd, Config: EndConfig{FinalMessage: "Listo"}},
		},
	}
	engine := newTestEngine(t, nil)
	result := engine.Execute(context.Background(), def, "hola", Seed{})
	if result.Output != "Listo" {
		t.Fatalf("expected final message, got %q", result.Output)
	}
}

func TestExecuteEndNodeDefaultClosing(t *testing.T) {
	t.Parallel()

	def := &Definition{
		Entry: "end",
		Nodes: map[string]Node{
			"end": {ID: "end", Type: NodeEnd, Config: EndConfig{}},
		},
	}
	engine := newTestEngine(t, nil)
	result := engine.Execute(context.Background(), def, "hola", Seed{})
	if result.Output != DefaultClosing {
		t.Fatalf("expected default closing, got %q", result.Output)
	}
}

func TestExecuteRegexRouterFirstMatchWins(t *testing.T) {
	t.Parallel()

	def := &Definition{
		Entry: "router",
		Nodes: map[string]Node{
			"router": {ID: "router", Type: NodeRegexRouter, Config: RegexRouterConfig{
				Patterns: []RegexPattern{
					{Regex: "hola", Flags: "i", NextNodeID: "a"},
					{Regex: "tal", NextNodeID: "b"},
				},
				DefaultNext: "c",
			}},
			"a": {ID: "a", Type: NodeEnd, Config: EndConfig{FinalMessage: "A"}},
			"b": {ID: "b", Type: NodeEnd, Config: EndConfig{FinalMessage: "B"}},
			"c": {ID: "c", Type: NodeEnd, Config: EndConfig{FinalMessage: "C"}},
		},
	}
	engine := newTestEngine(t, nil)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "both patterns match, first wins", input: "Hola que tal", want: "A"},
		{name: "second pattern only", input: "que tal", want: "B"},
		{name: "no match falls to default", input: "buen día", want: "C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := engine.Execute(context.Background(), def, tt.input, Seed{})
			if result.Output != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, result.Output)
			}
		})
	}
}

func TestExecuteMenuOptions(t *testing.T) {
	t.Parallel()

	def := &Definition{
		Entry: "menu",
		Nodes: map[string]Node{
			"menu": {ID: "menu", Type: NodeMenuOptions, Config: MenuOptionsConfig{
				Options: []MenuOption{
					{Text: "precio", Value: "1", NextNodeID: "x"},
					{Text: "horario", Value: "2", NextNodeID: "y"},
				},
				DefaultNext: "fallback",
			}},
			"x":        {ID: "x", Type: NodeEnd, Config: EndConfig{FinalMessage: "X"}},
			"y":        {ID: "y", Type: NodeEnd, Config: EndConfig{FinalMessage: "Y"}},
			"fallback": {ID: "fallback", Type: NodeEnd, Config: EndConfig{FinalMessage: "F"}},
		},
	}
	engine := newTestEngine(t, nil)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "case-insensitive text containment", input: "cuál es el Precio?", want: "X"},
		{name: "exact value match", input: "1", want: "X"},
		{name: "second option by value", input: "2", want: "Y"},
		{name: "no match uses default", input: "otra cosa", want: "F"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := engine.Execute(context.Background(), def, tt.input, Seed{})
			if result.Output != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, result.Output)
			}
		})
	}
}

func TestExecuteLLMUsesBoundedWindow(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{reply: "claro"}
	def := &Definition{
		Entry: "llm",
		Nodes: map[string]Node{
			"llm": {ID: "llm", Type: NodeLLM, Next: "", Config: LLMConfig{Provider: "openai"}},
		},
	}
	engine := newTestEngine(t, stub)

	seed := Seed{SystemPrompt: "sos un asistente"}
	for i := 0; i < 7; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		seed.Messages = append(seed.Messages, provider.Message{Role: role, Content: fmt.Sprintf("turno %d", i)})
	}

	result := engine.Execute(context.Background(), def, "consulta final", seed)
	if result.Output != "claro" {
		t.Fatalf("expected provider reply, got %q", result.Output)
	}
	// 1 system prompt + the 5 most recent conversation messages.
	if len(stub.lastSeen) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(stub.lastSeen))
	}
	if stub.lastSeen[0].Role != "system" || stub.lastSeen[0].Content != "sos un asistente" {
		t.Fatalf("expected seeded system prompt, got %+v", stub.lastSeen[0])
	}
	last := stub.lastSeen[len(stub.lastSeen)-1]
	if last.Content != "consulta final" {
		t.Fatalf("expected current input last, got %q", last.Content)
	}
	if stub.lastSeen[1].Content != "turno 4" {
		t.Fatalf("expected window to start at turno 4, got %q", stub.lastSeen[1].Content)
	}
}

func TestExecuteLLMFailureProducesApology(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{err: errors.New("rate limited")}
	def := &Definition{
		Entry: "in",
		Nodes: map[string]Node{
			"in":  {ID: "in", Type: NodeInput, Next: "llm", Config: InputConfig{}},
			"llm": {ID: "llm", Type: NodeLLM, Next: "end", Config: LLMConfig{Provider: "openai"}},
			"end": {ID: "end", Type: NodeEnd, Config: EndConfig{}},
		},
	}
	engine := newTestEngine(t, stub)
	result := engine.Execute(context.Background(), def, "hola", Seed{})
	if result.Output != DefaultApology {
		t.Fatalf("expected apology, got %q", result.Output)
	}
	if result.Context.Visited["llm"] != 1 {
		t.Fatalf("expected llm node to be visited, got %v", result.Context.Visited)
	}
}

func TestExecuteCycleStopsAtRevisitBudget(t *testing.T) {
	t.Parallel()

	// a -> b -> a, with no budget: each node runs once, the second
	// entry of a is refused and the loop halts.
	def := &Definition{
		Entry: "a",
		Nodes: map[string]Node{
			"a": {ID: "a", Type: NodeInput, Next: "b", Config: InputConfig{}},
			"b": {ID: "b", Type: NodeInput, Next: "a", Config: InputConfig{}},
		},
	}
	engine := newTestEngine(t, nil)
	result := engine.Execute(context.Background(), def, "hola", Seed{})
	if result.Context.Visited["a"] != 1 || result.Context.Visited["b"] != 1 {
		t.Fatalf("unexpected visit counts: %v", result.Context.Visited)
	}
}

func TestExecuteCycleHonorsConfiguredBudget(t *testing.T) {
	t.Parallel()

	def := &Definition{
		Entry: "a",
		Nodes: map[string]Node{
			"a": {ID: "a", Type: NodeInput, Next: "b", MaxRevisits: 2, Config: InputConfig{}},
			"b": {ID: "b", Type: NodeInput, Next: "a", MaxRevisits: 2, Config: InputConfig{}},
		},
	}
	engine := newTestEngine(t, nil)
	result := engine.Execute(context.Background(), def, "hola", Seed{})
	// Budget 2 allows the first entry plus two revisits.
	if result.Context.Visited["a"] != 3 || result.Context.Visited["b"] != 3 {
		t.Fatalf("expected three entries per node, got %v", result.Context.Visited)
	}
}

func TestExecuteTerminatesOnRandomGraphs(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(20250831))
	engine := newTestEngine(t, nil)
	for i := 0; i < 100; i++ {
		size := 1 + rng.Intn(8)
		def := &Definition{
			Entry: "n0",
			Nodes: make(map[string]Node, size),
		}
		bound := 0
		for j := 0; j < size; j++ {
			id := fmt.Sprintf("n%d", j)
			next := fmt.Sprintf("n%d", rng.Intn(size))
			if rng.Intn(4) == 0 {
				next = ""
			}
			budget := rng.Intn(4)
			bound += budget + 1
			def.Nodes[id] = Node{ID: id, Type: NodeInput, Next: next, MaxRevisits: budget, Config: InputConfig{}}
		}

		result := engine.Execute(context.Background(), def, "hola", Seed{})
		steps := 0
		for id, visits := range result.Context.Visited {
			node := def.Nodes[id]
			if visits > node.MaxRevisits+1 {
				t.Fatalf("graph %d: node %s ran %d times with budget %d", i, id, visits, node.MaxRevisits)
			}
			steps += visits
		}
		if steps > bound {
			t.Fatalf("graph %d: %d steps exceed bound %d", i, steps, bound)
		}
	}
}

func TestExecuteHTTPRequestNodeStoresResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"stock": 3}`))
	}))
	defer srv.Close()

	def := &Definition{
		Entry: "fetch",
		Nodes: map[string]Node{
			"fetch": {ID: "fetch", Type: NodeHTTPRequest, Next: "end", Config: HTTPRequestConfig{URL: srv.URL}},
			"end":   {ID: "end", Type: NodeEnd, Config: EndConfig{FinalMessage: "ok"}},
		},
	}
	engine := newTestEngine(t, nil)
	result := engine.Execute(context.Background(), def, "hola", Seed{})
	if result.Output != "ok" {
		t.Fatalf("expected flow to finish, got %q", result.Output)
	}
	stored, ok := result.Context.Variables["http_response_fetch"].(map[string]any)
	if !ok {
		t.Fatalf("expected decoded response in variables, got %T", result.Context.Variables["http_response_fetch"])
	}
	if stored["stock"] != float64(3) {
		t.Fatalf("unexpected response payload: %v", stored)
	}
}

func TestExecuteEndToEnd(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{reply: "OK"}
	def := &Definition{
		Entry: "in",
		Nodes: map[string]Node{
			"in": {ID: "in", Type: NodeInput, Next: "router", Config: InputConfig{}},
			"router": {ID: "router", Type: NodeRegexRouter, Config: RegexRouterConfig{
				Patterns:    []RegexPattern{{Regex: "ayuda", Flags: "i", NextNodeID: "llm"}},
				DefaultNext: "end",
			}},
			"llm": {ID: "llm", Type: NodeLLM, Next: "end", Config: LLMConfig{Provider: "openai"}},
			"end": {ID: "end", Type: NodeEnd, Config: EndConfig{FinalMessage: "¡Gracias!"}},
		},
	}
	engine := newTestEngine(t, stub)
	result := engine.Execute(context.Background(), def, "necesito AYUDA", Seed{})
	// The llm reply is the delivered output; the end node's final
	// message is only a fallback closing.
	if result.Output != "OK" {
		t.Fatalf("expected provider reply, got %q", result.Output)
	}
	if !strings.Contains(stub.lastSeen[len(stub.lastSeen)-1].Content, "AYUDA") {
		t.Fatalf("expected user input to reach the provider")
	}
	for _, id := range []string{"in", "router", "llm", "end"} {
		if result.Context.Visited[id] != 1 {
			t.Fatalf("expected %s to run exactly once, got %v", id, result.Context.Visited)
		}
	}
}

func TestExecuteEndNodeKeepsEarlierReply(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{reply: "Tenemos stock."}
	def := &Definition{
		Entry: "llm",
		Nodes: map[string]Node{
			"llm": {ID: "llm", Type: NodeLLM, Next: "end", Config: LLMConfig{Provider: "openai"}},
			"end": {ID: "end", Type: NodeEnd, Config: EndConfig{FinalMessage: "¡Gracias por tu consulta!"}},
		},
	}
	engine := newTestEngine(t, stub)
	result := engine.Execute(context.Background(), def, "¿tienen stock?", Seed{})
	if result.Output != "Tenemos stock." {
		t.Fatalf("expected llm reply to survive the end node, got %q", result.Output)
	}
}
