package rag

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultTopK is the number of chunks returned when the caller passes k <= 0.
	DefaultTopK = 5
	// DefaultEmbedTimeout bounds each query embedding call.
	DefaultEmbedTimeout = 30 * time.Second
)

// ErrRetrieval marks failures of the embed or search step so callers can tell
// them apart from generation failures.
var ErrRetrieval = errors.New("retrieval failed")

// Retriever embeds a question and searches the index restricted to a set of
// knowledge-base documents.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// index performs the filtered similarity search.
	index VectorIndex

	// defaultTopK is used when Retrieve is called with k <= 0.
	defaultTopK int

	// embedTimeout bounds the embedding call.
	embedTimeout time.Duration
}

// RetrieverConfig tunes a Retriever. Zero values select the defaults.
type RetrieverConfig struct {
	TopK         int
	EmbedTimeout time.Duration
}

// NewRetriever constructs a Retriever from the given Embedder and VectorIndex.
func NewRetriever(embedder Embedder, index VectorIndex, cfg *RetrieverConfig) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if cfg == nil {
		cfg = &RetrieverConfig{}
	}
	r := &Retriever{
		embedder:     embedder,
		index:        index,
		defaultTopK:  cfg.TopK,
		embedTimeout: cfg.EmbedTimeout,
	}
	if r.defaultTopK <= 0 {
		r.defaultTopK = DefaultTopK
	}
	if r.embedTimeout <= 0 {
		r.embedTimeout = DefaultEmbedTimeout
	}
	return r, nil
}

// Retrieve returns up to k chunks of documentIDs ordered by ascending
// distance. An empty documentIDs set, or documents with nothing indexed,
// yield an empty result rather than an error; embedding and search failures
// are returned wrapped in ErrRetrieval.
func (r *Retriever) Retrieve(ctx context.Context, question string, documentIDs []int64, k int) ([]Match, error) {
	if k <= 0 {
		k = r.defaultTopK
	}
	if len(documentIDs) == 0 {
		return nil, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.embedTimeout)
	vectors, err := r.embedder.Embed(embedCtx, []string{question})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: embedding question: %w", ErrRetrieval, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: embedder returned no vector for question", ErrRetrieval)
	}

	matches, err := r.index.Query(ctx, vectors[0], k, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	return matches, nil
}
