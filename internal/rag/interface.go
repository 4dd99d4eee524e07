// Package rag defines the retrieval side of the pipeline: chunk records, the
// VectorIndex contract with its in-memory and Qdrant backends, and the
// Retriever that ties an Embedder to an index.
package rag

import (
	"context"
	"fmt"
	"strconv"
)

// Chunk is one indexed span of a source document.
type Chunk struct {
	// ID is the stable identity of the chunk, see ChunkID.
	ID string

	// DocumentID is the owning document.
	DocumentID int64

	// Index is the zero-based sequence number within the document.
	Index int

	// Total is the number of chunks the document was split into.
	Total int

	// Text is the raw span.
	Text string
}

// Match is a retrieval hit: a chunk and its cosine distance to the query.
type Match struct {
	Chunk Chunk

	// Distance is the cosine distance in [0, 2]; 0 means identical direction.
	Distance float64
}

// Similarity converts Distance into [0, 1], 1 being identical.
func (m Match) Similarity() float64 {
	return SimilarityFromDistance(m.Distance)
}

// SimilarityFromDistance maps a cosine distance to 1 - d/2 clamped to [0, 1].
func SimilarityFromDistance(d float64) float64 {
	s := 1 - d/2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// ChunkID returns the canonical identity of chunk index i of a document.
func ChunkID(documentID int64, i int) string {
	return "doc_" + strconv.FormatInt(documentID, 10) + "_chunk_" + strconv.Itoa(i)
}

// VectorIndex stores chunk vectors and answers filtered nearest-neighbour
// queries under cosine distance. Implementations must be safe to call from
// multiple goroutines.
type VectorIndex interface {
	// Upsert stores or replaces chunks with their vectors. vectors must be
	// parallel to chunks. Re-upserting a chunk ID replaces it in place and
	// keeps its original insertion position.
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error

	// Query returns up to k entries belonging to documentIDs, ordered by
	// ascending distance with ties broken by insertion order. An empty
	// documentIDs set yields no results.
	Query(ctx context.Context, vector []float32, k int, documentIDs []int64) ([]Match, error)

	// DeleteDocument removes every chunk of the document.
	DeleteDocument(ctx context.Context, documentID int64) error

	// TrimDocument removes the document's chunks whose Index is keep or
	// higher, leaving the first keep chunks in place.
	TrimDocument(ctx context.Context, documentID int64, keep int) error

	// CountDocument reports how many chunks of the document are stored.
	CountDocument(ctx context.Context, documentID int64) (int, error)

	// Close releases any resources held by the index.
	Close() error
}

// Embedder converts text into dense vectors of a fixed dimension.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into embeddings parallel to texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// checkParallel validates the chunks/vectors pairing shared by all backends.
func checkParallel(chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("rag: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("rag: empty vector for chunk %q", chunks[i].ID)
		}
	}
	return nil
}
