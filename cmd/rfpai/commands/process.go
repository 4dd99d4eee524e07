package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/rfpai-go/internal/logging"
	"github.com/54b3r/rfpai-go/internal/store"
	"github.com/54b3r/rfpai-go/internal/task"
	"github.com/54b3r/rfpai-go/internal/tracing"
)

// NewProcessCmd constructs the `rfpai process` command, which runs the
// pipeline for one RFP in-process and prints the finished task.
func NewProcessCmd() *cobra.Command {
	var rfpID int64
	var kbIDs []int64
	var noAnswers bool

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Extract and answer the questions of one RFP",
		Long: `Run the full pipeline for an RFP document without the HTTP server and
print the resulting task as JSON. When --kb is omitted every stored
knowledge-base document is used.

Examples:
  rfpai process --rfp 4 --kb 1 --kb 2
  rfpai process --rfp 4 --no-answers`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if rfpID <= 0 {
				return fmt.Errorf("process: --rfp is required")
			}

			flush, _ := tracing.Setup()
			defer flush()

			a, err := newApp(ctx, log, appOptions{withModel: true})
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			defer a.close(log)

			if !cmd.Flags().Changed("kb") {
				if kbIDs, err = a.store.ListDocumentIDs(ctx, store.DocTypeKnowledgeBase); err != nil {
					return fmt.Errorf("process: %w", err)
				}
				log.Info("using every knowledge base document", slog.Int("count", len(kbIDs)))
			}

			t, err := a.tasks.Create(ctx, task.Input{
				RFPDocumentID:    rfpID,
				KnowledgeBaseIDs: kbIDs,
				GenerateAnswers:  !noAnswers,
			})
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}

			// The task records the failure; it is still printed below.
			procErr := a.processor.Process(ctx, t.ID)

			final, err := a.tasks.Get(ctx, t.ID)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(final); err != nil {
				return fmt.Errorf("process: %w", err)
			}
			if procErr != nil {
				return fmt.Errorf("process: task %s failed: %w", t.ID, procErr)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&rfpID, "rfp", 0, "RFP document id")
	cmd.Flags().Int64SliceVar(&kbIDs, "kb", nil, "Knowledge-base document id (repeatable)")
	cmd.Flags().BoolVar(&noAnswers, "no-answers", false, "Extract questions only")

	return cmd
}
