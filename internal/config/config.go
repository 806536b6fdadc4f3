package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrMissingSetting marks a required setting that is absent from both the
// config file and the environment. Checked at startup, never at query time.
var ErrMissingSetting = errors.New("missing required setting")

// Store drivers.
const (
	DriverChromem  = "chromem"
	DriverPostgres = "postgres"
)

// Embedding providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	// LogLevel is a zerolog level name. Default "info", env LOG_LEVEL.
	LogLevel string `yaml:"log_level"`
}

type StoreConfig struct {
	// Driver selects the vector store backend, "chromem" (embedded,
	// default) or "postgres" (pgvector). Env VECTOR_DB_DRIVER.
	Driver string `yaml:"driver"`
	// Path is the on-disk location of the embedded store. Default
	// "./knowledge_base", env VECTOR_DB_PATH.
	Path string `yaml:"path"`
	// Table names the collection (chromem) or table (postgres) holding
	// the documents. Default "documents", env VECTOR_DB_TABLE.
	Table string `yaml:"table"`
	// DSN is the postgres connection string, required when Driver is
	// "postgres". Env DATABASE_URL.
	DSN string `yaml:"dsn"`
	// Debug enables query logging on the postgres backend.
	// Env VECTOR_DB_DEBUG.
	Debug bool `yaml:"debug"`
	// EncryptionKey encrypts collection exports when set. Must be 32
	// bytes. Env VECTOR_DB_ENCRYPTION_KEY.
	EncryptionKey string `yaml:"encryption_key"`
}

type EmbeddingConfig struct {
	// Provider is "ollama" (default) or "openai" for any OpenAI-compatible
	// embeddings endpoint. Env EMBEDDING_PROVIDER.
	Provider string `yaml:"provider"`
	// BaseURL of the embedding server. Default "http://localhost:11434",
	// env EMBEDDING_BASE_URL.
	BaseURL string `yaml:"base_url"`
	// Key authenticates against the provider, required for "openai".
	// Env EMBEDDING_API_KEY.
	Key string `yaml:"key"`
	// Model is the embedding model identifier. Default "nomic-embed-text",
	// env EMBEDDING_MODEL.
	Model string `yaml:"model"`
	// Dimension is the fixed vector size produced by Model. Default 768,
	// env EMBEDDING_DIMENSION.
	Dimension int `yaml:"dimension"`
}

type LLMConfig struct {
	// BaseURL of the chat completion endpoint. Default
	// "https://openrouter.ai/api", env LLM_BASE_URL.
	BaseURL string `yaml:"base_url"`
	// Key authenticates chat completion calls. Env LLM_API_KEY.
	Key string `yaml:"key"`
	// Model is the inference model identifier. Default
	// "openai/gpt-4o-mini", env LLM_MODEL.
	Model string `yaml:"model"`
}

type RetrievalConfig struct {
	// Enabled turns context retrieval on for the conversation pipeline.
	// Default true, env RAG_ENABLED.
	Enabled bool `yaml:"enabled"`
	// MatchCount is the number of nearest neighbors requested per query.
	// Default 3, env RAG_MATCH_COUNT.
	MatchCount int `yaml:"match_count"`
	// MatchThreshold is the minimum normalized similarity for a hit to be
	// used, inclusive. Default 0.5, env RAG_MATCH_THRESHOLD.
	MatchThreshold float64 `yaml:"match_threshold"`
	// MinQueryLength is the minimum utterance length, in characters, that
	// triggers retrieval. Default 8, env RAG_MIN_QUERY_LENGTH.
	MinQueryLength int `yaml:"min_query_length"`
	// Strategy is the context merge strategy, "augment_system" (default)
	// or "inject_context". Env RAG_STRATEGY.
	Strategy string `yaml:"strategy"`
	// MaxChunkChars bounds chunk size at ingestion. Default 2000,
	// env RAG_MAX_CHUNK_CHARS.
	MaxChunkChars int `yaml:"max_chunk_chars"`
}

// DefaultConfig returns the documented defaults. Every field can be
// overridden by the config file and again by the environment.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: DriverChromem,
			Path:   "./knowledge_base",
			Table:  "documents",
		},
		Embedding: EmbeddingConfig{
			Provider:  ProviderOllama,
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dimension: 768,
		},
		LLM: LLMConfig{
			BaseURL: "https://openrouter.ai/api",
			Model:   "openai/gpt-4o-mini",
		},
		Retrieval: RetrievalConfig{
			Enabled:        true,
			MatchCount:     3,
			MatchThreshold: 0.5,
			MinQueryLength: 8,
			Strategy:       "augment_system",
			MaxChunkChars:  2000,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads the YAML file at path, falls back to defaults when the
// file does not exist, applies environment overrides and validates the
// result. A malformed file or environment value is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("VECTOR_DB_DRIVER", &c.Store.Driver)
	envString("VECTOR_DB_PATH", &c.Store.Path)
	envString("VECTOR_DB_TABLE", &c.Store.Table)
	envString("DATABASE_URL", &c.Store.DSN)
	envString("VECTOR_DB_ENCRYPTION_KEY", &c.Store.EncryptionKey)
	envString("EMBEDDING_PROVIDER", &c.Embedding.Provider)
	envString("EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	envString("EMBEDDING_API_KEY", &c.Embedding.Key)
	envString("EMBEDDING_MODEL", &c.Embedding.Model)
	envString("LLM_BASE_URL", &c.LLM.BaseURL)
	envString("LLM_API_KEY", &c.LLM.Key)
	envString("LLM_MODEL", &c.LLM.Model)
	envString("RAG_STRATEGY", &c.Retrieval.Strategy)
	envString("LOG_LEVEL", &c.LogLevel)
	if err := envInt("EMBEDDING_DIMENSION", &c.Embedding.Dimension); err != nil {
		return err
	}
	if err := envBool("VECTOR_DB_DEBUG", &c.Store.Debug); err != nil {
		return err
	}
	if err := envBool("RAG_ENABLED", &c.Retrieval.Enabled); err != nil {
		return err
	}
	if err := envInt("RAG_MATCH_COUNT", &c.Retrieval.MatchCount); err != nil {
		return err
	}
	if err := envFloat("RAG_MATCH_THRESHOLD", &c.Retrieval.MatchThreshold); err != nil {
		return err
	}
	if err := envInt("RAG_MIN_QUERY_LENGTH", &c.Retrieval.MinQueryLength); err != nil {
		return err
	}
	return envInt("RAG_MAX_CHUNK_CHARS", &c.Retrieval.MaxChunkChars)
}

// Validate rejects configurations that cannot work. Failures here are fatal
// at startup; retrieval-time degradation is handled elsewhere.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverChromem:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn (set DATABASE_URL)", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Embedding.Provider {
	case ProviderOllama:
	case ProviderOpenAI:
		if c.Embedding.Key == "" {
			return fmt.Errorf("%w: embedding.key (set EMBEDDING_API_KEY)", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Store.Table == "" {
		return fmt.Errorf("%w: store.table (set VECTOR_DB_TABLE)", ErrMissingSetting)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Retrieval.MatchCount <= 0 {
		return fmt.Errorf("retrieval.match_count must be positive, got %d", c.Retrieval.MatchCount)
	}
	if c.Retrieval.MatchThreshold < 0 || c.Retrieval.MatchThreshold > 1 {
		return fmt.Errorf("retrieval.match_threshold must be in [0,1], got %g", c.Retrieval.MatchThreshold)
	}
	if c.Retrieval.MinQueryLength < 0 {
		return fmt.Errorf("retrieval.min_query_length must not be negative, got %d", c.Retrieval.MinQueryLength)
	}
	return nil
}

// RequireLLM reports whether chat completion is usable; modes that talk to
// the LLM call this before starting.
func (c *Config) RequireLLM() error {
	if c.LLM.Key == "" {
		return fmt.Errorf("%w: llm.key (set LLM_API_KEY)", ErrMissingSetting)
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	*dst = b
	return nil
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	*dst = f
	return nil
}
