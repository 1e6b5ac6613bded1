package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chatraw/chatraw/internal/ingest"
	"github.com/chatraw/chatraw/internal/logging"
	"github.com/chatraw/chatraw/internal/provider"
	"github.com/chatraw/chatraw/internal/store"
)

// NewIngestCmd constructs the `chatraw ingest` command, which chunks and
// embeds local text files into the retrieval store without going through the
// HTTP upload endpoint.
func NewIngestCmd() *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest local text files into the retrieval store",
		Long: `Chunk, embed, and store local text files for retrieval.

The embedding endpoint must be configured first, either through the running
server's /api/models endpoint or via env vars:
  EMBEDDING_API_URL    OpenAI-compatible base URL
  EMBEDDING_API_KEY    Optional Bearer token
  EMBEDDING_MODEL      Embedding model name

Chunking parameters come from the stored retrieval settings.

Examples:
  chatraw ingest --file notes.md
  chatraw ingest --file a.txt --file b.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(files) == 0 {
				return fmt.Errorf("ingest: at least one --file is required")
			}

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("ingest: failed to open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			if err := seedModelsFromEnv(ctx, st, log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			embedCfg, err := st.ModelByType(ctx, store.ModelEmbedding)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if !embedCfg.Configured() {
				return fmt.Errorf("ingest: embedding model not configured (set EMBEDDING_API_URL and EMBEDDING_MODEL)")
			}

			pool := provider.NewPool()
			defer pool.Close()
			embedder := provider.NewEmbeddingClient(provider.Endpoint{
				BaseURL: embedCfg.APIURL,
				APIKey:  embedCfg.APIKey,
				Model:   embedCfg.ModelID,
			}, pool)

			settings, err := st.Settings(ctx)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			pipeline, err := ingest.NewPipeline(embedder, st, &ingest.Config{
				ChunkSize:    settings.RAG.ChunkSize,
				ChunkOverlap: settings.RAG.ChunkOverlap,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			for _, path := range files {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: read %s: %w", path, err)
				}

				name := filepath.Base(path)
				docID, err := pipeline.Ingest(ctx, name, string(content), func(p ingest.Progress) {
					log.Info("ingest progress",
						slog.String("file", name),
						slog.String("stage", string(p.Stage)),
						slog.Int("done", p.Done),
						slog.Int("total", p.Total),
					)
				})
				if err != nil {
					return fmt.Errorf("ingest: pipeline failed for %s: %w", path, err)
				}
				log.Info("ingested", slog.String("file", name), slog.String("document_id", docID))
			}

			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Text file to ingest (repeatable)")

	return cmd
}
