package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatraw/chatraw/internal/logging"
	"github.com/chatraw/chatraw/internal/provider"
	"github.com/chatraw/chatraw/internal/server"
)

// NewServeCmd constructs the `chatraw serve` command, which starts the HTTP
// server exposing the chat, settings, model, and document APIs.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chatraw HTTP server",
		Long: `Start the chatraw HTTP server on localhost.

The server exposes the chat streaming API, settings and model configuration
endpoints, chat history, and document upload with streamed ingestion
progress.

Examples:
  chatraw serve
  chatraw serve --port 9090
  CHAT_API_URL=https://api.openai.com/v1 CHAT_MODEL=gpt-4o chatraw serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("serve: failed to open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			if err := seedModelsFromEnv(ctx, st, log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pool := provider.NewPool()
			defer pool.Close()

			srv, err := server.New(st, pool, &server.Config{
				Host:      getEnvOrDefault("HOST", host),
				Port:      getEnvInt("PORT", port),
				Logger:    log,
				Pingers:   buildPingers(ctx, st, pool),
				RateLimit: getEnvFloat("RATE_LIMIT", 0),
				RateBurst: getEnvInt("RATE_BURST", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
