package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"golang.org/x/sync/semaphore"

	"github.com/54b3r/rfpai-go/internal/answer"
	"github.com/54b3r/rfpai-go/internal/batch"
	"github.com/54b3r/rfpai-go/internal/chunker"
	"github.com/54b3r/rfpai-go/internal/confidence"
	"github.com/54b3r/rfpai-go/internal/config"
	"github.com/54b3r/rfpai-go/internal/embedder"
	"github.com/54b3r/rfpai-go/internal/extract"
	"github.com/54b3r/rfpai-go/internal/ingestion"
	"github.com/54b3r/rfpai-go/internal/pipeline"
	"github.com/54b3r/rfpai-go/internal/provider"
	"github.com/54b3r/rfpai-go/internal/rag"
	"github.com/54b3r/rfpai-go/internal/store"
	"github.com/54b3r/rfpai-go/internal/task"
)

// defaultGlobalConcurrency caps concurrent completion calls across all tasks.
const defaultGlobalConcurrency = 10

// app holds the components shared by serve, ingest and process.
type app struct {
	store     *store.SQLiteStore
	index     rag.VectorIndex
	indexer   *ingestion.Indexer
	chatModel model.BaseChatModel
	provider  *provider.Config
	processor *pipeline.Processor
	tasks     task.Store
}

// appOptions selects which parts of the app are built.
type appOptions struct {
	// withModel builds the chat model, extractor and processor.
	withModel bool
	// observe receives every finished answer.
	observe batch.Observer
}

// openStore opens the SQLite database named by RFPAI_DB, defaulting to
// ~/.rfpai/rfpai.db.
func openStore(log *slog.Logger) (*store.SQLiteStore, error) {
	path := config.Env("RFPAI_DB", "")
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	log.Info("store opened", slog.String("path", path))
	return st, nil
}

// newApp wires the store, vector index, embedder and (optionally) the model
// side of the pipeline from the environment. The caller must call close.
func newApp(ctx context.Context, log *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close(log)
		}
	}()

	if a.store, err = openStore(log); err != nil {
		return nil, err
	}
	a.tasks = a.store.Tasks()

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("backend", embedder.Backend()))

	if a.index, err = buildIndex(ctx, log); err != nil {
		return nil, err
	}

	ch, err := chunker.New(&chunker.Config{
		Size:    config.EnvInt("RFPAI_CHUNK_SIZE", chunker.DefaultSize),
		Overlap: config.EnvInt("RFPAI_CHUNK_OVERLAP", chunker.DefaultOverlap),
	})
	if err != nil {
		return nil, err
	}
	embedTimeout := config.EnvDuration("RFPAI_EMBED_TIMEOUT", 0)
	a.indexer, err = ingestion.NewIndexer(a.store, ch, emb, a.index, &ingestion.Config{EmbedTimeout: embedTimeout})
	if err != nil {
		return nil, err
	}

	if _, ok := a.index.(*rag.MemoryIndex); ok {
		warmMemoryIndex(ctx, log, a.store, a.indexer)
	}

	if !opts.withModel {
		return a, nil
	}

	a.provider = provider.ConfigFromEnv()
	if a.chatModel, err = provider.New(ctx, a.provider); err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised", slog.String("provider", string(a.provider.Backend)))

	omitSampling := !a.provider.SupportsSampling()
	generateTimeout := config.EnvDuration("RFPAI_GENERATE_TIMEOUT", 0)

	exOpts := []extract.Option{extract.WithTimeout(generateTimeout)}
	if omitSampling {
		exOpts = append(exOpts, extract.WithoutSampling())
	}
	extractor := extract.New(a.chatModel, exOpts...)

	gen, err := answer.NewGenerator(a.chatModel, &answer.Config{
		Timeout:      generateTimeout,
		OmitSampling: omitSampling,
	})
	if err != nil {
		return nil, err
	}
	retriever, err := rag.NewRetriever(emb, a.index, &rag.RetrieverConfig{EmbedTimeout: embedTimeout})
	if err != nil {
		return nil, err
	}
	policy, err := confidence.ParsePolicy(config.Env("RFPAI_CONFIDENCE_TIERS", ""))
	if err != nil {
		return nil, err
	}
	coordinator, err := batch.New(retriever, gen, &batch.Config{
		Concurrency: config.EnvInt("RFPAI_CONCURRENCY", batch.DefaultConcurrency),
		TopK:        config.EnvInt("RFPAI_TOP_K", rag.DefaultTopK),
		Policy:      policy,
		Global:      semaphore.NewWeighted(int64(max(1, config.EnvInt("RFPAI_GLOBAL_CONCURRENCY", defaultGlobalConcurrency)))),
		Observe:     opts.observe,
	})
	if err != nil {
		return nil, err
	}

	a.processor, err = pipeline.New(a.store, a.indexer, extractor, coordinator, a.tasks, &pipeline.Config{
		RequireKnowledgeBase: config.EnvBool("RFPAI_REQUIRE_KB"),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// buildIndex selects the vector index from RFPAI_INDEX (memory or qdrant).
func buildIndex(ctx context.Context, log *slog.Logger) (rag.VectorIndex, error) {
	backend := config.Env("RFPAI_INDEX", "memory")
	switch backend {
	case "memory":
		log.Info("vector index: in-memory")
		return rag.NewMemoryIndex(), nil
	case "qdrant":
		host := config.Env("QDRANT_HOST", "localhost")
		port := config.EnvInt("QDRANT_PORT", 6334)
		collection := config.Env("QDRANT_COLLECTION", "rfpai-chunks")
		idx, err := rag.NewQdrantIndex(ctx, &rag.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: collection,
			VectorSize: uint64(embedder.DefaultDimensions(embedder.Backend())), //nolint:gosec // dimensions are bounded
			APIKey:     config.Env("QDRANT_API_KEY", ""),
			UseTLS:     config.EnvBool("QDRANT_TLS"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
		}
		log.Info("vector index: qdrant", slog.String("host", host), slog.Int("port", port), slog.String("collection", collection))
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown RFPAI_INDEX %q (want memory or qdrant)", backend)
	}
}

// warmMemoryIndex re-indexes knowledge-base documents already marked
// processed, since an in-memory index starts empty on every run. A document
// that fails here keeps its chunks out of the index; the next task that names
// it sees the missing chunks and indexes it again.
func warmMemoryIndex(ctx context.Context, log *slog.Logger, st *store.SQLiteStore, ix *ingestion.Indexer) (warmed, failed int) {
	docs, err := st.ListDocuments(ctx, store.DocTypeKnowledgeBase)
	if err != nil {
		log.Warn("vector index: listing knowledge base failed", slog.String("error", err.Error()))
		return 0, 0
	}
	start := time.Now()
	for _, d := range docs {
		if !d.Processed {
			continue
		}
		if _, err := ix.Ensure(ctx, d.ID); err != nil {
			log.Warn("vector index: re-indexing failed, deferred to next task", slog.Int64("document_id", d.ID), slog.String("error", err.Error()))
			failed++
			continue
		}
		warmed++
	}
	if warmed > 0 || failed > 0 {
		log.Info("vector index: warmed",
			slog.Int("documents", warmed),
			slog.Int("failed", failed),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return warmed, failed
}

// close releases the index and the store.
func (a *app) close(log *slog.Logger) {
	var errs []error
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn("shutdown: closing resources", slog.String("error", err.Error()))
	}
}
