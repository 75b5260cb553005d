// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.kbase/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: chat model, temperature, max tokens, generation timeout
//   - Embedding: embedder model, request rate
//   - RAG: similarity threshold, top-K, chunking, snippet length
//   - Storage: PostgreSQL connection and pool (see storage.go)
//
// All retrieval policy knobs (threshold, top-K, chunk sizes, startup
// retry budget) are configuration with sensible defaults rather than
// hidden constants.
//
// Error handling uses sentinel errors so callers can check with
// errors.Is() and wrap with fmt.Errorf("%w: details", ErrXxx).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the chat model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidChunking indicates the chunk size/overlap pair is invalid.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidPool indicates the connection pool bounds are invalid.
	ErrInvalidPool = errors.New("invalid connection pool configuration")

	// ErrInvalidRetry indicates the startup retry budget is invalid.
	ErrInvalidRetry = errors.New("invalid startup retry configuration")
)

// Reference defaults for the retrieval policy. Kept as named constants
// so tests and docs reference a single source of truth; every one of
// them can be overridden in config.
const (
	DefaultChatModel     = "gpt-4o-mini"
	DefaultEmbedderModel = "text-embedding-ada-002"

	// EmbeddingDimension is the vector width of the embedder model and
	// of the chunks table vector column. Changing the embedder model to
	// one with a different width requires a schema migration.
	EmbeddingDimension = 1536

	DefaultSimilarityThreshold = 0.7
	DefaultTopK                = 4
	DefaultChunkSize           = 1000
	DefaultChunkOverlap        = 200
	DefaultSnippetMaxChars     = 500
	DefaultHistoryPairs        = 3
)

// RAGConfig groups the retrieval policy knobs.
type RAGConfig struct {
	// Enabled toggles retrieval augmentation. When false every query is
	// answered without knowledge-base context.
	Enabled bool `mapstructure:"enabled"`

	// SimilarityThreshold is the minimum cosine similarity a chunk must
	// reach to be included in the context block.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`

	// TopK is the number of nearest chunks fetched per query.
	TopK int `mapstructure:"top_k"`

	// ChunkSize and ChunkOverlap configure the document splitter
	// (characters).
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`

	// SnippetMaxChars caps how much of a chunk is quoted in the
	// assembled context block.
	SnippetMaxChars int `mapstructure:"snippet_max_chars"`

	// HistoryPairs bounds how many prior user/assistant turn pairs are
	// forwarded to the model.
	HistoryPairs int `mapstructure:"history_pairs"`
}

// Config stores application configuration.
// SECURITY: sensitive fields must never be logged; see maskSecret.
type Config struct {
	// AI model configuration
	OpenAIAPIKey    string        `mapstructure:"openai_api_key"` // SENSITIVE
	ModelName       string        `mapstructure:"model_name"`
	Temperature     float32       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`

	// Embedding configuration
	EmbedderModel string  `mapstructure:"embedder_model"`
	EmbedderRPS   float64 `mapstructure:"embedder_rps"` // 0 = unlimited

	// Retrieval policy
	RAG RAGConfig `mapstructure:"rag"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	PoolMinConns int32 `mapstructure:"pool_min_conns"`
	PoolMaxConns int32 `mapstructure:"pool_max_conns"`

	// Startup connect retry: attempts with base delay doubling per
	// attempt. Exhausting the budget is a fatal startup error.
	ConnectAttempts  int           `mapstructure:"connect_attempts"`
	ConnectBaseDelay time.Duration `mapstructure:"connect_base_delay"`

	// Logging
	LogLevel string `mapstructure:"log_level"` // debug, info, warn, error
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".kbase")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("model_name", DefaultChatModel)
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 1024)
	v.SetDefault("generate_timeout", "15s")

	// Embedding defaults
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_rps", 0)

	// Retrieval defaults
	v.SetDefault("rag.enabled", true)
	v.SetDefault("rag.similarity_threshold", DefaultSimilarityThreshold)
	v.SetDefault("rag.top_k", DefaultTopK)
	v.SetDefault("rag.chunk_size", DefaultChunkSize)
	v.SetDefault("rag.chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("rag.snippet_max_chars", DefaultSnippetMaxChars)
	v.SetDefault("rag.history_pairs", DefaultHistoryPairs)

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "kbase")
	v.SetDefault("postgres_password", "kbase_dev_password")
	v.SetDefault("postgres_db_name", "kbase")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("pool_min_conns", 2)
	v.SetDefault("pool_max_conns", 10)
	v.SetDefault("connect_attempts", 5)
	v.SetDefault("connect_base_delay", "2s")

	// Logging defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("model_name", "KBASE_MODEL_NAME")
	mustBind("embedder_model", "KBASE_EMBEDDER_MODEL")
	mustBind("rag.enabled", "KBASE_RAG_ENABLED")
	mustBind("log_level", "KBASE_LOG_LEVEL")
	mustBind("postgres_password", "KBASE_POSTGRES_PASSWORD")
	// NOTE: DATABASE_URL is handled separately in parseDatabaseURL
	// because it expands into several postgres_* fields.
}

// LogLevelSlog maps the configured level string to a slog.Level.
// Unknown values fall back to info.
func (c *Config) LogLevelSlog() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "********"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// Describe returns a loggable one-line summary with secrets masked.
func (c *Config) Describe() string {
	return fmt.Sprintf("model=%s embedder=%s rag_enabled=%t threshold=%.2f top_k=%d db=%s@%s:%d/%s key=%s",
		c.ModelName, c.EmbedderModel,
		c.RAG.Enabled, c.RAG.SimilarityThreshold, c.RAG.TopK,
		c.PostgresUser, c.PostgresHost, c.PostgresPort, c.PostgresDBName,
		maskSecret(c.OpenAIAPIKey))
}
