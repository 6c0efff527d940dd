// Package pipeline ties the stages of message processing together:
// business lookup, normalization, knowledge retrieval, memory, flow
// execution and outbound delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/repliahq/replia/internal/business"
	"github.com/repliahq/replia/internal/channel"
	"github.com/repliahq/replia/internal/flow"
	"github.com/repliahq/replia/internal/knowledge"
	"github.com/repliahq/replia/internal/logger"
	"github.com/repliahq/replia/internal/memory"
	"github.com/repliahq/replia/internal/normalize"
	"github.com/repliahq/replia/internal/provider"
	"github.com/repliahq/replia/internal/queue"
)

const knowledgeLimit = 5

// Options tunes per-request behavior of the processor.
type Options struct {
	// MemoryWindow is how many recent exchanges seed the flow engine.
	MemoryWindow int
	// ProviderTimeout bounds each LLM call.
	ProviderTimeout time.Duration
	// EngineHTTPTimeout bounds http_request flow nodes.
	EngineHTTPTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MemoryWindow <= 0 {
		o.MemoryWindow = 10
	}
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = 60 * time.Second
	}
	if o.EngineHTTPTimeout <= 0 {
		o.EngineHTTPTimeout = 15 * time.Second
	}
	return o
}

// Processor runs the full pipeline for one inbound message. It serves
// both the async worker pool and the synchronous webhook path.
type Processor struct {
	businesses *business.Service
	normalizer *normalize.Normalizer
	knowledge  *knowledge.Service
	memories   *memory.Service
	flows      *flow.Store
	sender     channel.Sender
	httpClient *http.Client
	opts       Options
	logger     *slog.Logger
}

func NewProcessor(
	businesses *business.Service,
	normalizer *normalize.Normalizer,
	know *knowledge.Service,
	memories *memory.Service,
	flows *flow.Store,
	sender channel.Sender,
	opts Options,
) *Processor {
	opts = opts.withDefaults()
	return &Processor{
		businesses: businesses,
		normalizer: normalizer,
		knowledge:  know,
		memories:   memories,
		flows:      flows,
		sender:     sender,
		httpClient: &http.Client{Timeout: opts.EngineHTTPTimeout},
		opts:       opts,
		logger:     logger.L.With(slog.String("service", "pipeline")),
	}
}

// Process handles one queued job: it computes the reply and delivers
// it through the business's channel. Each attempt loads a fresh
// business snapshot so settings changes apply without redeploys.
func (p *Processor) Process(ctx context.Context, job queue.Job) error {
	reply, cfg, err := p.respond(ctx, job.BusinessID, job.Message)
	if err != nil {
		return err
	}
	if !cfg.HasChannel() {
		p.logger.Warn("no channel configured, dropping reply",
			slog.String("business_id", job.BusinessID),
			slog.String("job_id", job.ID))
		return nil
	}
	if err := p.sender.Send(ctx, cfg.Channel, channel.OutboundMessage{
		To:   job.Message.From,
		Text: reply,
	}); err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}
	return nil
}

// Respond runs the pipeline synchronously and returns the reply text
// instead of delivering it. The webhook path uses this; any internal
// failure is converted into the standard apology so the caller always
// has something to show the user.
func (p *Processor) Respond(ctx context.Context, businessID string, msg normalize.InboundMessage) string {
	reply, _, err := p.respond(ctx, businessID, msg)
	if err != nil {
		p.logger.Error("synchronous pipeline",
			slog.String("business_id", businessID),
			slog.String("message_id", msg.ID),
			slog.Any("error", err))
		return flow.DefaultApology
	}
	return reply
}

func (p *Processor) respond(ctx context.Context, businessID string, msg normalize.InboundMessage) (string, *business.Config, error) {
	cfg, err := p.businesses.Load(ctx, businessID)
	if err != nil {
		return "", nil, fmt.Errorf("load business: %w", err)
	}

	norm := p.normalizer.Normalize(ctx, cfg, msg)
	if norm.Degraded {
		return norm.Text, cfg, nil
	}
	text := norm.Text

	snippets, err := p.knowledge.Search(ctx, businessID, text, knowledgeLimit)
	if err != nil {
		p.logger.Warn("knowledge search",
			slog.String("business_id", businessID),
			slog.Any("error", err))
		snippets = nil
	}
	systemPrompt := knowledge.ComposeSystemPrompt(cfg.Profile, snippets)

	entries, err := p.memories.Get(ctx, businessID, msg.From)
	if err != nil {
		p.logger.Warn("memory fetch",
			slog.String("business_id", businessID),
			slog.Any("error", err))
		entries = nil
	}
	window := memory.ToMessages(memory.Window(entries, p.opts.MemoryWindow))

	reply, err := p.reply(ctx, cfg, businessID, text, systemPrompt, window)
	if err != nil {
		return "", nil, err
	}

	if err := p.memories.Add(ctx, businessID, msg.From, memory.Entry{
		User:      text,
		Bot:       reply,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		p.logger.Warn("memory append",
			slog.String("business_id", businessID),
			slog.Any("error", err))
	}
	return reply, cfg, nil
}

// reply executes the published flow, or falls back to a direct
// provider chat when the business has no flow.
func (p *Processor) reply(ctx context.Context, cfg *business.Config, businessID, text, systemPrompt string, window []provider.Message) (string, error) {
	registry, defaultName := p.buildRegistry(cfg)

	def, err := p.flows.Get(ctx, businessID)
	if err != nil {
		if !errors.Is(err, flow.ErrNotFound) {
			return "", fmt.Errorf("load flow: %w", err)
		}
		return p.directChat(ctx, registry, defaultName, text, systemPrompt, window)
	}

	engine := flow.NewEngine(p.logger, registry, defaultName, p.httpClient)
	result := engine.Execute(ctx, def, text, flow.Seed{
		Messages:     window,
		SystemPrompt: systemPrompt,
	})
	if result.Output == "" {
		return flow.DefaultApology, nil
	}
	return result.Output, nil
}

// buildRegistry creates the per-job provider registry from the
// business's AI settings.
func (p *Processor) buildRegistry(cfg *business.Config) (*provider.Registry, string) {
	registry := provider.NewRegistry()
	if !cfg.HasAI() {
		return registry, ""
	}
	prov, err := provider.New(cfg.AI.ClientType, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL, p.opts.ProviderTimeout)
	if err != nil {
		p.logger.Error("provider setup",
			slog.String("business_id", cfg.ID),
			slog.String("client_type", string(cfg.AI.ClientType)),
			slog.Any("error", err))
		return registry, ""
	}
	name := string(cfg.AI.ClientType)
	if err := registry.Register(name, prov); err != nil {
		p.logger.Error("provider registration", slog.Any("error", err))
		return registry, ""
	}
	return registry, name
}

func (p *Processor) directChat(ctx context.Context, registry *provider.Registry, defaultName, text, systemPrompt string, window []provider.Message) (string, error) {
	prov, ok := registry.Get(defaultName)
	if !ok {
		return "", fmt.Errorf("business has neither a published flow nor AI settings")
	}
	messages := make([]provider.Message, 0, len(window)+2)
	messages = append(messages, provider.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, window...)
	messages = append(messages, provider.Message{Role: "user", Content: text})
	reply, err := prov.Chat(ctx, messages, provider.Options{})
	if err != nil {
		return "", fmt.Errorf("direct chat: %w", err)
	}
	return reply, nil
}
