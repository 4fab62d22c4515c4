package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnv overrides settings from the environment. Unset or unparsable
// variables leave the current value alone.
func applyEnv(c *Config) {
	c.Embedding.APIKey = getEnv("OPENAI_API_KEY", c.Embedding.APIKey)
	c.Embedding.BaseURL = getEnv("OPENAI_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.Model = getEnv("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimension = getEnvInt("EMBEDDING_DIMENSION", c.Embedding.Dimension)
	c.Embedding.CacheSize = getEnvInt("EMBEDDING_CACHE_SIZE", c.Embedding.CacheSize)

	c.Generation.Model = getEnv("CHAT_MODEL", c.Generation.Model)
	c.Generation.Temperature = getEnvFloat("CHAT_TEMPERATURE", c.Generation.Temperature)
	c.Generation.MaxTokens = getEnvInt("CHAT_MAX_TOKENS", c.Generation.MaxTokens)

	c.Retrieval.TopK = getEnvInt("TOP_K", c.Retrieval.TopK)
	c.Retrieval.MinScore = getEnvFloat("MIN_SCORE", c.Retrieval.MinScore)

	c.Retry.AttemptTimeout = getEnvDuration("REMOTE_TIMEOUT", c.Retry.AttemptTimeout)

	c.Index.Backend = getEnv("INDEX_BACKEND", c.Index.Backend)
	c.Index.Path = getEnv("INDEX_PATH", c.Index.Path)
	c.Index.Qdrant.Host = getEnv("QDRANT_HOST", c.Index.Qdrant.Host)
	c.Index.Qdrant.Port = getEnvInt("QDRANT_PORT", c.Index.Qdrant.Port)
	c.Index.Qdrant.APIKey = getEnv("QDRANT_API_KEY", c.Index.Qdrant.APIKey)
	c.Index.Qdrant.UseTLS = getEnvBool("QDRANT_USE_TLS", c.Index.Qdrant.UseTLS)
	c.Index.Qdrant.Collection = getEnv("QDRANT_COLLECTION", c.Index.Qdrant.Collection)

	c.Sessions.Path = getEnv("SESSION_DB", c.Sessions.Path)

	// SERVER_MODE=true selects HTTP, as the deployment manifests expect.
	switch mode := os.Getenv("SERVER_MODE"); mode {
	case "":
	case "true":
		c.Server.Mode = ModeHTTP
	case "false":
		c.Server.Mode = ModeStdio
	default:
		c.Server.Mode = mode
	}
	c.Server.Port = getEnv("PORT", c.Server.Port)

	c.GitHub.Token = getEnv("GITHUB_TOKEN", c.GitHub.Token)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
