package flow

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/repliahq/replia/internal/provider"
)

const (
	// DefaultApology is returned whenever a node fails; the engine
	// never surfaces internal errors to the end user.
	DefaultApology = "Lo siento, ocurrió un error al procesar tu mensaje. Por favor, intentá de nuevo en unos minutos."
	// DefaultClosing is the fallback output of an end node.
	DefaultClosing = "¡Gracias por tu consulta!"

	defaultSystemPrompt = "Sos un asistente virtual de atención al cliente. Respondé de forma breve, clara y amable."
	llmContextWindow    = 5
	defaultDelay        = time.Second
)

// Engine executes published flow definitions. Providers are injected
// at construction; the engine itself holds no mutable state, so one
// engine value may serve concurrent executions.
type Engine struct {
	registry        *provider.Registry
	defaultProvider string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewEngine(log *slog.Logger, registry *provider.Registry, defaultProvider string, httpClient *http.Client) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = provider.NewRegistry()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Engine{
		registry:        registry,
		defaultProvider: defaultProvider,
		httpClient:      httpClient,
		logger:          log.With(slog.String("service", "flow_engine")),
	}
}

// Seed carries caller-supplied execution state: the conversation
// memory window, a composed system prompt for llm nodes without one,
// and any variables to merge over the flow's own.
type Seed struct {
	Messages     []provider.Message
	SystemPrompt string
	Variables    map[string]any
}

// Result is the outcome of one execution. Output is best effort and
// never empty for flows that reach an end node or fail a node.
type Result struct {
	Output  string
	Context *Context
}

// Execute runs the flow against one inbound message. It never returns
// an error: node failures are logged, converted into an apology, and
// the loop halts. Termination is guaranteed by the per-node visit
// budget; a node is skipped once its budget is spent, which bounds the
// execution to Σ(maxRevisits+1) steps.
func (e *Engine) Execute(ctx context.Context, def *Definition, rawInput string, seed Seed) Result {
	fc := &Context{
		Variables: make(map[string]any),
		Visited:   make(map[string]int),
		System:    seed.SystemPrompt,
		Current:   def.Entry,
	}
	fc.Messages = append(fc.Messages, seed.Messages...)
	fc.Messages = append(fc.Messages, provider.Message{Role: "user", Content: rawInput})
	for k, v := range def.Variables {
		fc.Variables[k] = v
	}
	for k, v := range seed.Variables {
		fc.Variables[k] = v
	}

	var output string
	for {
		node, ok := def.Nodes[fc.Current]
		if !ok {
			break
		}
		if fc.Visited[node.ID] > node.MaxRevisits {
			e.logger.Debug("revisit budget spent, stopping",
				slog.String("node", node.ID),
				slog.Int("visits", fc.Visited[node.ID]))
			break
		}
		fc.Visited[node.ID]++

		out, hasOutput, next, err := e.executeNode(ctx, node, fc)
		if err != nil {
			e.logger.Error("node execution failed",
				slog.String("node", node.ID),
				slog.String("type", string(node.Type)),
				slog.Any("error", err))
			output = DefaultApology
			break
		}
		if hasOutput {
			// An end node's message is a fallback closing: a reply
			// produced earlier in the walk is the one delivered.
			if node.Type != NodeEnd || output == "" {
				output = out
			}
		}
		if next == "" || node.Type == NodeEnd {
			break
		}
		fc.Current = next
	}
	return Result{Output: output, Context: fc}
}
