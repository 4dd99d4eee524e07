package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the server base URL, e.g. "http://localhost:11434".
	Host    string
	Model   string
	Timeout time.Duration
	// MaxRetries bounds retries of transient failures. Zero selects
	// DefaultMaxRetries; negative disables retrying.
	MaxRetries int
	// BatchSize splits large inputs; zero sends everything at once.
	BatchSize int
}

// OllamaEmbedder calls the Ollama /api/embed endpoint. No credentials are
// needed.
type OllamaEmbedder struct {
	endpoint  *jsonEndpoint
	model     string
	batchSize int
}

// NewOllamaEmbedder builds an embedder from cfg.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	ep := newJSONEndpoint(strings.TrimRight(cfg.Host, "/")+"/api/embed", cfg.Timeout, cfg.MaxRetries)
	ep.errorMessage = func(body []byte) string {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) != nil {
			return ""
		}
		return e.Error
	}
	return &OllamaEmbedder{endpoint: ep, model: cfg.Model, batchSize: cfg.BatchSize}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector per text, in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := embedInBatches(ctx, texts, e.batchSize, func(ctx context.Context, batch []string) ([][]float32, error) {
		var resp ollamaEmbedResponse
		if err := e.endpoint.post(ctx, ollamaEmbedRequest{Model: e.model, Input: batch}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Embeddings))
		}
		return resp.Embeddings, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	return out, nil
}
