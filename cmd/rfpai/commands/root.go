// Package commands defines all Cobra CLI commands for the rfpai binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/rfpai-go/internal/audit"
	"github.com/54b3r/rfpai-go/internal/config"
	"github.com/54b3r/rfpai-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rfpai",
		Short: "rfpai answers RFP questions from your knowledge base",
		Long: `rfpai extracts the questions from a Request for Proposal and drafts an
answer for each one from your company's knowledge-base documents, with a
confidence score and the supporting sources.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.rfpai/config.yaml).
See 'rfpai --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			// The logger is rebuilt so LOG_LEVEL and LOG_FORMAT from the
			// config file take effect.
			log = logging.New()
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.rfpai/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewProcessCmd(),
		NewCleanupCmd(),
		NewVersionCmd(),
	)

	return root
}
