// Package ingestion turns uploaded documents into text and indexes
// knowledge-base documents into the vector index: chunk, embed, upsert, then
// mark the document processed.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/54b3r/rfpai-go/internal/chunker"
	"github.com/54b3r/rfpai-go/internal/logging"
	"github.com/54b3r/rfpai-go/internal/rag"
	"github.com/54b3r/rfpai-go/internal/store"
)

const (
	// DefaultEmbedBatch is the number of chunks sent per embedding call.
	DefaultEmbedBatch = 32
	// DefaultEmbedTimeout bounds one embedding call.
	DefaultEmbedTimeout = 60 * time.Second
)

// ErrNotKnowledgeBase is returned when indexing is requested for an RFP.
var ErrNotKnowledgeBase = errors.New("ingestion: only knowledge-base documents are indexed")

// DocumentStore is the slice of the document store the Indexer needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, id int64) (*store.Document, error)
	MarkProcessed(ctx context.Context, id int64, chunkCount int) error
}

// Config holds the Indexer tuning knobs.
type Config struct {
	// EmbedBatch is the number of chunks per embedding call. Defaults to 32.
	EmbedBatch int

	// EmbedTimeout bounds each embedding call. Defaults to 60s.
	EmbedTimeout time.Duration
}

// Indexer orchestrates the chunk → embed → upsert flow for one document.
type Indexer struct {
	// docs supplies document text and records completion.
	docs DocumentStore

	// chunker splits text into overlapping spans.
	chunker *chunker.Chunker

	// embedder converts chunk text into vectors.
	embedder rag.Embedder

	// index persists the embedded chunks.
	index rag.VectorIndex

	// flight collapses concurrent runs for the same document ID.
	flight singleflight.Group

	cfg Config
}

// NewIndexer constructs an Indexer from its dependencies.
func NewIndexer(docs DocumentStore, ch *chunker.Chunker, emb rag.Embedder, idx rag.VectorIndex, cfg *Config) (*Indexer, error) {
	if docs == nil || ch == nil || emb == nil || idx == nil {
		return nil, fmt.Errorf("ingestion: store, chunker, embedder and index must not be nil")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.EmbedBatch <= 0 {
		c.EmbedBatch = DefaultEmbedBatch
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = DefaultEmbedTimeout
	}
	return &Indexer{docs: docs, chunker: ch, embedder: emb, index: idx, cfg: c}, nil
}

// Index chunks, embeds and stores the knowledge-base document id and returns
// the number of chunks written. Chunks are upserted before any chunk left over
// from a longer earlier run is trimmed, so concurrent readers never see the
// document empty. The document is marked processed only after every chunk is
// stored; on error it stays unprocessed. Concurrent calls for the same
// document share one run.
func (ix *Indexer) Index(ctx context.Context, id int64) (int, error) {
	return ix.do(ctx, id, true)
}

// Ensure indexes the document unless the index already holds the chunks the
// store recorded for it. A document marked processed whose chunks are missing
// from the index, as with an in-memory index after a restart, is indexed
// again. It returns the document's chunk count.
func (ix *Indexer) Ensure(ctx context.Context, id int64) (int, error) {
	return ix.do(ctx, id, false)
}

func (ix *Indexer) do(ctx context.Context, id int64, force bool) (int, error) {
	v, err, _ := ix.flight.Do(strconv.FormatInt(id, 10), func() (any, error) {
		return ix.run(ctx, id, force)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (ix *Indexer) run(ctx context.Context, id int64, force bool) (int, error) {
	ctx = logging.WithDocument(ctx, id)
	log := logging.FromContext(ctx)
	start := time.Now()

	doc, err := ix.docs.GetDocument(ctx, id)
	if err != nil {
		return 0, err
	}
	if doc.Type != store.DocTypeKnowledgeBase {
		return 0, fmt.Errorf("%w: document %d is %s", ErrNotKnowledgeBase, id, doc.Type)
	}
	if !force && doc.Processed && doc.ChunkCount > 0 {
		stored, err := ix.index.CountDocument(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("ingestion: counting chunks of document %d: %w", id, err)
		}
		if stored >= doc.ChunkCount {
			return doc.ChunkCount, nil
		}
		log.Warn("ingestion: processed document missing from index, re-indexing",
			slog.Int("stored_chunks", stored),
			slog.Int("chunk_count", doc.ChunkCount),
		)
	}
	if strings.TrimSpace(doc.Text) == "" {
		return 0, fmt.Errorf("%w: document %d", ErrNoText, id)
	}

	spans := ix.chunker.Split(doc.Text)
	chunks := make([]rag.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = rag.Chunk{
			ID:         rag.ChunkID(id, i),
			DocumentID: id,
			Index:      i,
			Total:      len(spans),
			Text:       s,
		}
	}

	vectors, err := ix.embed(ctx, spans)
	if err != nil {
		return 0, fmt.Errorf("ingestion: embedding document %d: %w", id, err)
	}

	if err := ix.index.Upsert(ctx, chunks, vectors); err != nil {
		return 0, fmt.Errorf("ingestion: upsert document %d: %w", id, err)
	}
	if err := ix.index.TrimDocument(ctx, id, len(chunks)); err != nil {
		return 0, fmt.Errorf("ingestion: trimming stale chunks of document %d: %w", id, err)
	}
	if err := ix.docs.MarkProcessed(ctx, id, len(chunks)); err != nil {
		return 0, err
	}

	log.Info("ingestion: document indexed",
		slog.Int("chunks", len(chunks)),
		slog.Duration("duration", time.Since(start)),
	)
	return len(chunks), nil
}

// embed sends texts to the embedder in batches, each under its own timeout.
func (ix *Indexer) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for lo := 0; lo < len(texts); lo += ix.cfg.EmbedBatch {
		hi := min(lo+ix.cfg.EmbedBatch, len(texts))

		callCtx, cancel := context.WithTimeout(ctx, ix.cfg.EmbedTimeout)
		vecs, err := ix.embedder.Embed(callCtx, texts[lo:hi])
		cancel()
		if err != nil {
			return nil, err
		}
		logging.FromContext(ctx).Debug("ingestion: embedded batch", slog.Int("from", lo), slog.Int("to", hi))
		if len(vecs) != hi-lo {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), hi-lo)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
