package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/repliahq/replia/internal/business"
	"github.com/repliahq/replia/internal/channel"
	"github.com/repliahq/replia/internal/config"
	"github.com/repliahq/replia/internal/db"
	"github.com/repliahq/replia/internal/flow"
	"github.com/repliahq/replia/internal/handlers"
	"github.com/repliahq/replia/internal/knowledge"
	"github.com/repliahq/replia/internal/logger"
	"github.com/repliahq/replia/internal/memory"
	"github.com/repliahq/replia/internal/normalize"
	"github.com/repliahq/replia/internal/pipeline"
	"github.com/repliahq/replia/internal/queue"
	"github.com/repliahq/replia/internal/server"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideRedis,
			provideQueue,
			provideMemoryService,
			business.NewService,
			knowledge.NewService,
			flow.NewStore,
			provideNormalizer,
			provideSender,
			provideProcessor,
			providePool,
			provideDispatcher,
			handlers.NewPingHandler,
			handlers.NewWebhookHandler,
			handlers.NewFlowsHandler,
			handlers.NewStatsHandler,
			provideServer,
		),
		fx.Invoke(
			startWorkerPool,
			startMemoryPrune,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

// provideRedis returns nil when Redis is unreachable: memory then
// degrades to stateless conversations and the queue falls back to
// synchronous processing.
func provideRedis(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, running degraded",
			slog.String("addr", cfg.Redis.Addr),
			slog.Any("error", err))
		_ = client.Close()
		return nil
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return client.Close() }})
	return client
}

func provideQueue(lc fx.Lifecycle, client *redis.Client) queue.Queue {
	if client == nil {
		return nil
	}
	q := queue.NewRedisQueue(client)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return q.Close() }})
	return q
}

func provideMemoryService(log *slog.Logger, client *redis.Client, cfg config.Config) *memory.Service {
	idleTTL, err := time.ParseDuration(cfg.Memory.IdleTTL)
	if err != nil {
		log.Warn("invalid memory idle_ttl, using default", slog.String("value", cfg.Memory.IdleTTL))
		idleTTL = 0
	}
	return memory.NewService(log, client, cfg.Memory.Cap, idleTTL)
}

func provideNormalizer(log *slog.Logger, cfg config.Config) *normalize.Normalizer {
	fetcher := channel.NewMediaClient(30 * time.Second)
	transcriber := normalize.NewWhisperClient(cfg.Speech.APIKey, cfg.Speech.Model, cfg.Speech.BaseURL, 60*time.Second)
	vision := normalize.NewVisionClient(cfg.Vision.APIKey, cfg.Vision.Model, cfg.Vision.BaseURL, 60*time.Second)
	extractor := normalize.NewExtractorClient(cfg.Extractor.BaseURL, 60*time.Second)
	return normalize.NewNormalizer(log, fetcher, transcriber, vision, extractor)
}

func provideSender(cfg config.Config) channel.Sender {
	return channel.NewHTTPSender(15*time.Second, cfg.Outbound.TextChunkLimit)
}

func provideProcessor(
	businesses *business.Service,
	normalizer *normalize.Normalizer,
	know *knowledge.Service,
	memories *memory.Service,
	flows *flow.Store,
	sender channel.Sender,
	cfg config.Config,
) *pipeline.Processor {
	return pipeline.NewProcessor(businesses, normalizer, know, memories, flows, sender, pipeline.Options{
		MemoryWindow:      cfg.Memory.Window,
		EngineHTTPTimeout: time.Duration(cfg.Engine.HTTPTimeoutSeconds) * time.Second,
	})
}

func providePool(q queue.Queue, processor *pipeline.Processor, cfg config.Config) *queue.Pool {
	if q == nil {
		return nil
	}
	return queue.NewPool(q, processor, queue.PoolConfig{
		Workers:          cfg.Queue.Workers,
		MaxAttempts:      cfg.Queue.MaxAttempts,
		Backoff:          time.Duration(cfg.Queue.BackoffMs) * time.Millisecond,
		CompletedHistory: cfg.Queue.CompletedHistory,
		FailedHistory:    cfg.Queue.FailedHistory,
	})
}

func provideDispatcher(q queue.Queue, processor *pipeline.Processor) *queue.Dispatcher {
	return queue.NewDispatcher(q, processor, 60*time.Second)
}

func provideServer(cfg config.Config, pingHandler *handlers.PingHandler, webhookHandler *handlers.WebhookHandler, flowsHandler *handlers.FlowsHandler, statsHandler *handlers.StatsHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, pingHandler, webhookHandler, flowsHandler, statsHandler)
}

func startWorkerPool(lc fx.Lifecycle, pool *queue.Pool) {
	if pool == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { pool.Start(); return nil },
		OnStop:  func(ctx context.Context) error { pool.Stop(); return nil },
	})
}

func startMemoryPrune(lc fx.Lifecycle, log *slog.Logger, memories *memory.Service, cfg config.Config) {
	c := cron.New()
	spec := cfg.Memory.PruneSpec
	if spec == "" {
		spec = config.DefaultPruneSpec
	}
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := memories.Prune(ctx); err != nil {
			log.Error("memory prune", slog.Any("error", err))
		}
	}); err != nil {
		log.Error("invalid prune schedule", slog.String("spec", spec), slog.Any("error", err))
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { c.Start(); return nil },
		OnStop: func(ctx context.Context) error {
			<-c.Stop().Done()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
