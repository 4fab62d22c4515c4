// Package config loads drugbot settings: built-in defaults, then an optional
// YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bull/drugbot/internal/answer"
	"github.com/bull/drugbot/internal/retry"
)

// EnvConfigPath names the environment variable holding the YAML file path.
const EnvConfigPath = "DRUGBOT_CONFIG"

// Index backends.
const (
	BackendFile   = "file"
	BackendQdrant = "qdrant"
)

// Server modes.
const (
	ModeStdio = "stdio"
	ModeHTTP  = "http"
)

// EmbeddingConfig configures the OpenAI embedding capability.
type EmbeddingConfig struct {
	APIKey    string        `yaml:"-"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batch_size"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// GenerationConfig configures answer synthesis.
type GenerationConfig struct {
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	MaxPromptChars int     `yaml:"max_prompt_chars"`
}

// RetrievalConfig configures chunk retrieval.
type RetrievalConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// RetryConfig bounds every retry loop against remote capabilities.
type RetryConfig struct {
	MaxRetries      uint64        `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout"`
}

// Policy converts the settings to a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:      r.MaxRetries,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		AttemptTimeout:  r.AttemptTimeout,
	}
}

// QdrantConfig locates the Qdrant server.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"-"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

// IndexConfig selects where index snapshots are persisted.
type IndexConfig struct {
	Backend   string       `yaml:"backend"`
	Path      string       `yaml:"path"`
	ChunkSize int          `yaml:"chunk_size"`
	Qdrant    QdrantConfig `yaml:"qdrant"`
}

// SessionConfig locates the SQLite session database. Empty keeps sessions in memory.
type SessionConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the MCP server binary.
type ServerConfig struct {
	Mode      string `yaml:"mode"`
	Port      string `yaml:"port"`
	Stateless bool   `yaml:"stateless"`
}

// GitHubConfig locates a remote corpus.
type GitHubConfig struct {
	Token string `yaml:"-"`
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	Ref   string `yaml:"ref"`
	Path  string `yaml:"path"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration.
type Config struct {
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Retry      RetryConfig      `yaml:"retry"`
	Index      IndexConfig      `yaml:"index"`
	Sessions   SessionConfig    `yaml:"sessions"`
	Server     ServerConfig     `yaml:"server"`
	GitHub     GitHubConfig     `yaml:"github"`
	Log        LogConfig        `yaml:"log"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			BatchSize: 500,
			CacheSize: 1024,
			CacheTTL:  time.Hour,
		},
		Generation: GenerationConfig{
			Model:          "gpt-4o-mini",
			Temperature:    0.1,
			MaxTokens:      700,
			MaxPromptChars: 6000,
		},
		Retrieval: RetrievalConfig{
			TopK:     3,
			MinScore: 0.3,
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			AttemptTimeout:  30 * time.Second,
		},
		Index: IndexConfig{
			Backend:   BackendFile,
			Path:      "data/index.json",
			ChunkSize: 1000,
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "drug_chunks",
			},
		},
		Sessions: SessionConfig{Path: "data/sessions.db"},
		Server: ServerConfig{
			Mode: ModeStdio,
			Port: "8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. path may be empty; a missing file at path
// is not an error, matching a fresh checkout with no config file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by DRUGBOT_CONFIG, if any.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(EnvConfigPath))
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Index.Backend {
	case BackendFile:
		if c.Index.Path == "" {
			return fmt.Errorf("config: index.path is required for the file backend")
		}
	case BackendQdrant:
		if c.Index.Qdrant.Host == "" || c.Index.Qdrant.Port <= 0 {
			return fmt.Errorf("config: index.qdrant host and port are required")
		}
	default:
		return fmt.Errorf("config: unknown index backend %q", c.Index.Backend)
	}

	switch c.Server.Mode {
	case ModeStdio, ModeHTTP:
	default:
		return fmt.Errorf("config: unknown server mode %q", c.Server.Mode)
	}

	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("config: retrieval.top_k must be positive")
	}
	if c.Retrieval.MinScore < -1 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("config: retrieval.min_score must be within [-1, 1]")
	}
	if c.Generation.MaxTokens <= 0 || c.Generation.MaxPromptChars <= 0 {
		return fmt.Errorf("config: generation limits must be positive")
	}
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("config: index.chunk_size must be positive")
	}
	if need := c.Index.ChunkSize + answer.PromptOverhead(""); need >= c.Generation.MaxPromptChars {
		return fmt.Errorf("config: generation.max_prompt_chars (%d) leaves no room for a chunk of index.chunk_size (%d); need more than %d",
			c.Generation.MaxPromptChars, c.Index.ChunkSize, need)
	}
	return nil
}
