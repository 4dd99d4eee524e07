package embedder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/54b3r/rfpai-go/internal/config"
	"github.com/54b3r/rfpai-go/internal/rag"
)

// DefaultTimeout bounds a single embedding HTTP call when no timeout is set.
const DefaultTimeout = 60 * time.Second

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultGeminiDimensions is the output dimension of text-embedding-004.
	defaultGeminiDimensions = 768
)

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

// Backend resolves the effective embedding backend: EMBEDDING_PROVIDER, then
// MODEL_PROVIDER, then ollama.
func Backend() string {
	if b := config.Env("EMBEDDING_PROVIDER", ""); b != "" {
		return b
	}
	if b := config.Env("MODEL_PROVIDER", ""); b != "" {
		return b
	}
	return "ollama"
}

// DefaultDimensions returns the embedding vector size for the given backend.
// Callers that pre-create a vector collection use this rather than a literal.
// EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := config.EnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama", "gemini":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// NewFromEnv constructs a rag.Embedder using cascading defaults that inherit
// from the chat provider configuration when embedding-specific overrides are
// not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, else MODEL_PROVIDER (default: ollama)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS overrides the default dimensions
//  7. EMBEDDING_MAX_RETRIES and EMBEDDING_BATCH_SIZE tune the HTTP backends
func NewFromEnv(ctx context.Context) (rag.Embedder, error) {
	backend := Backend()
	timeout := config.EnvDuration("RFPAI_EMBED_TIMEOUT", DefaultTimeout)
	retries := config.EnvInt("EMBEDDING_MAX_RETRIES", 0)
	batch := config.EnvInt("EMBEDDING_BATCH_SIZE", 0)

	switch backend {
	case "ollama":
		host := config.Env("EMBEDDING_ENDPOINT", config.Env("OLLAMA_HOST", "http://localhost:11434"))
		return NewOllamaEmbedder(&OllamaConfig{
			Host:       host,
			Model:      config.Env("EMBEDDING_MODEL", defaultOllamaModel),
			Timeout:    timeout,
			MaxRetries: retries,
			BatchSize:  batch,
		}), nil

	case "openai":
		apiKey := firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    config.Env("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      config.Env("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: config.EnvInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions),
			Timeout:    timeout,
			MaxRetries: retries,
			BatchSize:  batch,
		}), nil

	case "azure":
		apiKey := firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimRight(endpoint, "/") + "/openai",
			APIKey:     apiKey,
			Model:      config.Env("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: config.EnvInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions),
			Azure:      true,
			APIVersion: config.Env("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
			Timeout:    timeout,
			MaxRetries: retries,
			BatchSize:  batch,
		}), nil

	case "gemini":
		apiKey := firstEnv("EMBEDDING_API_KEY", "GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     apiKey,
			Model:      config.Env("EMBEDDING_MODEL", defaultGeminiModel),
			Dimensions: config.EnvInt("EMBEDDING_DIMENSIONS", defaultGeminiDimensions),
		})

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, azure, gemini)", backend)
	}
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := config.Env(k, ""); v != "" {
			return v
		}
	}
	return ""
}
