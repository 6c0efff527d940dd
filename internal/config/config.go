package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "replia"
	DefaultPGSSLMode    = "disable"
	DefaultRedisAddr    = "127.0.0.1:6379"
	DefaultWorkerCount  = 5
	DefaultMaxAttempts  = 3
	DefaultBackoffMs    = 2000
	DefaultMemoryWindow = 10
	DefaultMemoryCap    = 200
	DefaultIdleTTL      = "720h"
	DefaultPruneSpec    = "0 3 * * *"
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Queue     QueueConfig     `toml:"queue"`
	Engine    EngineConfig    `toml:"engine"`
	Speech    SpeechConfig    `toml:"speech"`
	Vision    VisionConfig    `toml:"vision"`
	Extractor ExtractorConfig `toml:"extractor"`
	Memory    MemoryConfig    `toml:"memory"`
	Outbound  OutboundConfig  `toml:"outbound"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// QueueConfig controls the durable job queue and its worker pool.
type QueueConfig struct {
	Workers     int `toml:"workers"`
	MaxAttempts int `toml:"max_attempts"`
	// BackoffMs is the first retry delay; each further retry doubles it.
	BackoffMs        int `toml:"backoff_ms"`
	CompletedHistory int `toml:"completed_history"`
	FailedHistory    int `toml:"failed_history"`
}

// EngineConfig holds flow-engine wide settings. Per-business provider
// credentials live in the business configuration, not here.
type EngineConfig struct {
	HTTPTimeoutSeconds int `toml:"http_timeout_seconds"`
}

// SpeechConfig points at the speech-to-text collaborator
// (an OpenAI-style /v1/audio/transcriptions endpoint).
type SpeechConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// VisionConfig points at the image-description collaborator
// (an OpenAI-style multimodal chat endpoint).
type VisionConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// ExtractorConfig points at the document text-extraction collaborator.
type ExtractorConfig struct {
	BaseURL string `toml:"base_url"`
}

type MemoryConfig struct {
	Window    int    `toml:"window"`
	Cap       int    `toml:"cap"`
	IdleTTL   string `toml:"idle_ttl"`
	PruneSpec string `toml:"prune_spec"`
}

type OutboundConfig struct {
	TextChunkLimit int `toml:"text_chunk_limit"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			Addr: DefaultRedisAddr,
		},
		Queue: QueueConfig{
			Workers:          DefaultWorkerCount,
			MaxAttempts:      DefaultMaxAttempts,
			BackoffMs:        DefaultBackoffMs,
			CompletedHistory: 100,
			FailedHistory:    50,
		},
		Engine: EngineConfig{
			HTTPTimeoutSeconds: 15,
		},
		Speech: SpeechConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "whisper-1",
		},
		Vision: VisionConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Memory: MemoryConfig{
			Window:    DefaultMemoryWindow,
			Cap:       DefaultMemoryCap,
			IdleTTL:   DefaultIdleTTL,
			PruneSpec: DefaultPruneSpec,
		},
		Outbound: OutboundConfig{
			TextChunkLimit: 2000,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
