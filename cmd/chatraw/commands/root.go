// Package commands defines all Cobra CLI commands for the chatraw binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chatraw/chatraw/internal/audit"
	"github.com/chatraw/chatraw/internal/config"
	"github.com/chatraw/chatraw/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chatraw",
		Short: "Retrieval-augmented chat over your own documents",
		Long: `chatraw is a local-first retrieval-augmented chat backend.

It stores documents in SQLite, embeds them through any OpenAI-compatible
embeddings endpoint, and answers questions with a chat model, streaming
tokens and retrieved references to the caller. An optional rerank endpoint
refines retrieval when configured.

Provider endpoints are configured at runtime via the /api/models endpoints,
or seeded from env vars / a YAML config file (~/.chatraw/config.yaml).
See 'chatraw --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Local .env is a convenience for development; absence is fine.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.chatraw/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
