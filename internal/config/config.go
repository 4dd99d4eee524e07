// Package config provides layered configuration for rfpai.
// Precedence, lowest to highest: defaults → YAML file → .env file → process env.
// Environment variables always win; YAML and .env only fill gaps.
//
// YAML search order:
//  1. --config CLI flag (explicit path)
//  2. RFPAI_CONFIG environment variable
//  3. ~/.rfpai/config.yaml
//  4. ./rfpai.yaml
//
// The .env file is read from RFPAI_ENV_FILE, or ./.env when unset.
// If neither file exists the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/54b3r/rfpai-go/internal/audit"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the chat model used for extraction and answering.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Index selects the vector index backend.
	Index IndexConfig `yaml:"index"`

	// Qdrant configures the Qdrant vector index connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Database configures the SQLite store.
	Database DatabaseConfig `yaml:"database"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`

	// Pipeline tunes chunking, retrieval and batch concurrency.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Confidence overrides the similarity tier table.
	Confidence ConfidenceConfig `yaml:"confidence"`
}

// ModelConfig holds chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`
	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`
	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`
	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`
	// Ark holds Volcengine Ark settings.
	Ark ArkConfig `yaml:"ark"`
	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcengine Ark settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, gemini).
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	// Backend is "memory" or "qdrant".
	Backend string `yaml:"backend"`
}

// QdrantConfig holds Qdrant vector index settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var RFPAI_API_KEY.
	APIKey    string  `yaml:"api_key"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// DatabaseConfig holds the SQLite store settings.
type DatabaseConfig struct {
	// Path is the SQLite database path. ":memory:" keeps everything in process.
	Path string `yaml:"path"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// PipelineConfig tunes the processing pipeline.
type PipelineConfig struct {
	ChunkSize            int           `yaml:"chunk_size"`
	ChunkOverlap         int           `yaml:"chunk_overlap"`
	TopK                 int           `yaml:"top_k"`
	Concurrency          int           `yaml:"concurrency"`
	GlobalConcurrency    int           `yaml:"global_concurrency"`
	Workers              int           `yaml:"workers"`
	QueueSize            int           `yaml:"queue_size"`
	EmbedTimeout         time.Duration `yaml:"embed_timeout"`
	GenerateTimeout      time.Duration `yaml:"generate_timeout"`
	TaskTTL              time.Duration `yaml:"task_ttl"`
	RequireKnowledgeBase bool          `yaml:"require_knowledge_base"`
}

// ConfidenceConfig carries a tier table in the compact
// "min:low:high,min:low:high" form understood by confidence.ParsePolicy.
type ConfidenceConfig struct {
	Tiers string `yaml:"tiers"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"RFPAI_INDEX", func(c *Config) string { return c.Index.Backend }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"RFPAI_HOST", func(c *Config) string { return c.Server.Host }},
	{"RFPAI_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"RFPAI_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"RFPAI_RATE_LIMIT", func(c *Config) string { return floatStr(c.Server.RateLimit) }},
	{"RFPAI_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"RFPAI_DB", func(c *Config) string { return c.Database.Path }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
	{"RFPAI_CHUNK_SIZE", func(c *Config) string { return intStr(c.Pipeline.ChunkSize) }},
	{"RFPAI_CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Pipeline.ChunkOverlap) }},
	{"RFPAI_TOP_K", func(c *Config) string { return intStr(c.Pipeline.TopK) }},
	{"RFPAI_CONCURRENCY", func(c *Config) string { return intStr(c.Pipeline.Concurrency) }},
	{"RFPAI_GLOBAL_CONCURRENCY", func(c *Config) string { return intStr(c.Pipeline.GlobalConcurrency) }},
	{"RFPAI_WORKERS", func(c *Config) string { return intStr(c.Pipeline.Workers) }},
	{"RFPAI_QUEUE_SIZE", func(c *Config) string { return intStr(c.Pipeline.QueueSize) }},
	{"RFPAI_EMBED_TIMEOUT", func(c *Config) string { return durationStr(c.Pipeline.EmbedTimeout) }},
	{"RFPAI_GENERATE_TIMEOUT", func(c *Config) string { return durationStr(c.Pipeline.GenerateTimeout) }},
	{"RFPAI_TASK_TTL", func(c *Config) string { return durationStr(c.Pipeline.TaskTTL) }},
	{"RFPAI_REQUIRE_KB", func(c *Config) string { return boolStr(c.Pipeline.RequireKnowledgeBase) }},
	{"RFPAI_CONFIDENCE_TIERS", func(c *Config) string { return c.Confidence.Tiers }},
}

// Load applies the .env file and then the YAML config file to the process
// environment. Existing env vars are never overwritten (env always wins).
// Returns the YAML path that was loaded, or empty string if none was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	if err := loadDotEnv(log); err != nil {
		return "", err
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		log.Debug("config: applied YAML value",
			slog.String("env", m.envKey),
			slog.String("value", audit.SanitiseKey(m.envKey, yamlVal)),
		)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// loadDotEnv reads the .env file if present. godotenv.Load never overrides
// variables that are already set.
func loadDotEnv(log *slog.Logger) error {
	path := os.Getenv("RFPAI_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Debug("config: loaded .env file", slog.String("path", path))
	return nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("RFPAI_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".rfpai", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("rfpai.yaml"); err == nil {
		return "rfpai.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// floatStr converts a float64 to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(v, 'f', 4, 64), "0"), ".")
}

// durationStr renders a duration in time.ParseDuration form, "" for zero.
func durationStr(v time.Duration) string {
	if v == 0 {
		return ""
	}
	return v.String()
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
