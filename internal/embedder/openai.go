// Package embedder provides rag.Embedder implementations. Ollama, OpenAI and
// Azure OpenAI are reached over their JSON HTTP APIs; Gemini goes through the
// genai SDK.
package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultOpenAIBatchSize caps the inputs sent in one embeddings request.
const DefaultOpenAIBatchSize = 256

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is "https://api.openai.com/v1" for OpenAI or
	// "https://<resource>.openai.azure.com/openai" for Azure.
	BaseURL string
	APIKey  string
	// Model is the model name, or the deployment name on Azure.
	Model string
	// Dimensions requests shortened vectors when > 0.
	Dimensions int
	// Azure switches to the api-key header and deployment-scoped URL.
	Azure      bool
	APIVersion string
	Timeout    time.Duration
	// MaxRetries bounds retries of transient failures. Zero selects
	// DefaultMaxRetries; negative disables retrying.
	MaxRetries int
	BatchSize  int
}

// OpenAIEmbedder calls the OpenAI or Azure OpenAI embeddings endpoint. It is
// safe for concurrent use.
type OpenAIEmbedder struct {
	endpoint   *jsonEndpoint
	model      string
	dimensions int
	batchSize  int
}

// NewOpenAIEmbedder builds an embedder from cfg.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	base := strings.TrimRight(cfg.BaseURL, "/")
	target := base + "/embeddings"
	if cfg.Azure {
		target = fmt.Sprintf("%s/deployments/%s/embeddings?api-version=%s",
			base, url.PathEscape(cfg.Model), url.QueryEscape(cfg.APIVersion))
	}

	ep := newJSONEndpoint(target, cfg.Timeout, cfg.MaxRetries)
	if cfg.Azure {
		ep.header.Set("api-key", cfg.APIKey)
	} else {
		ep.header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	ep.errorMessage = openaiErrorMessage

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultOpenAIBatchSize
	}
	return &OpenAIEmbedder{endpoint: ep, model: cfg.Model, dimensions: cfg.Dimensions, batchSize: batch}
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func openaiErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	return e.Error.Message
}

// Embed returns one vector per text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := embedInBatches(ctx, texts, e.batchSize, e.embedBatch)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp openaiEmbedResponse
	req := openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions}
	if err := e.endpoint.post(ctx, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// The API does not promise data in input order.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		switch {
		case d.Index < 0 || d.Index >= len(texts):
			return nil, fmt.Errorf("index %d out of range", d.Index)
		case vecs[d.Index] != nil:
			return nil, fmt.Errorf("duplicate index %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
