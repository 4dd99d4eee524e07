package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/rfpai-go/internal/audit"
	"github.com/54b3r/rfpai-go/internal/ingestion"
	"github.com/54b3r/rfpai-go/internal/logging"
	"github.com/54b3r/rfpai-go/internal/store"
)

// NewIngestCmd constructs the `rfpai ingest` command, which stores local
// files as documents and indexes knowledge-base documents.
func NewIngestCmd() *cobra.Command {
	var docType string
	var title string
	var noIndex bool

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Store documents and index knowledge-base material",
		Long: `Read local files (.txt, .md, .pdf), store their text as documents, and,
for knowledge-base documents, chunk and embed them into the vector index.

Required environment variables:
  RFPAI_DB             SQLite database path (default: ~/.rfpai/rfpai.db)
  RFPAI_INDEX          Vector index: memory or qdrant (default: memory)
  QDRANT_*             Qdrant connection settings when RFPAI_INDEX=qdrant
  EMBEDDING_*          Embedding provider overrides (see README)

Examples:
  rfpai ingest --type knowledge_base docs/security.md docs/sla.pdf
  rfpai ingest --type rfp --title "Acme RFP 2026" acme_rfp.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			typ := store.DocType(docType)
			if !typ.Valid() {
				return fmt.Errorf("ingest: --type must be knowledge_base or rfp, got %q", docType)
			}
			if title != "" && len(args) > 1 {
				return fmt.Errorf("ingest: --title applies to a single file")
			}

			a, err := newApp(ctx, log, appOptions{})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer a.close(log)

			out := cmd.OutOrStdout()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				text, format, err := ingestion.Read(path, "", data)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", path, err)
				}

				doc := &store.Document{
					Title:    title,
					Filename: filepath.Base(path),
					Type:     typ,
					Text:     text,
				}
				if doc.Title == "" {
					doc.Title = ingestion.TitleFromFilename(path)
				}
				if err := a.store.CreateDocument(ctx, doc); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				audit.LogMutation(ctx, log, audit.ActionDocumentCreate, fmt.Sprint(doc.ID),
					slog.String("doc_type", string(typ)),
					slog.String("format", string(format)),
				)

				chunks := 0
				if typ == store.DocTypeKnowledgeBase && !noIndex {
					if chunks, err = a.indexer.Index(ctx, doc.ID); err != nil {
						return fmt.Errorf("ingest: index %s: %w", path, err)
					}
					audit.LogMutation(ctx, log, audit.ActionDocumentIndex, fmt.Sprint(doc.ID), slog.Int("chunks", chunks))
				}
				fmt.Fprintf(out, "%d\t%s\t%s\t%d chunks\n", doc.ID, typ, doc.Title, chunks)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&docType, "type", "t", string(store.DocTypeKnowledgeBase), "Document type: knowledge_base or rfp")
	cmd.Flags().StringVar(&title, "title", "", "Document title (default: derived from the filename)")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "Store knowledge-base documents without indexing them")

	return cmd
}
