package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/rfpai-go/internal/logging"
)

// NewCleanupCmd constructs the `rfpai cleanup` command, which deletes
// finished tasks older than a cutoff.
func NewCleanupCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete completed and failed tasks older than a cutoff",
		Long: `Delete completed and failed tasks last updated before now minus
--older-than. Pending and processing tasks are never removed.

Examples:
  rfpai cleanup
  rfpai cleanup --older-than 24h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if olderThan <= 0 {
				return fmt.Errorf("cleanup: --older-than must be positive")
			}
			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			defer func() { _ = st.Close() }()

			n, err := st.Tasks().DeleteExpired(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			log.Info("cleanup: expired tasks deleted", slog.Int("count", n), slog.Duration("older_than", olderThan))
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d tasks\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", defaultTaskTTL, "Age after which finished tasks are deleted")

	return cmd
}
