package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/chatraw/chatraw/internal/provider"
	"github.com/chatraw/chatraw/internal/server"
	"github.com/chatraw/chatraw/internal/store"
)

// openStore opens the SQLite store at the configured path: CHATRAW_DB when
// set, otherwise $DATA_DIR/chatraw.db.
func openStore() (*store.Store, error) {
	path := os.Getenv("CHATRAW_DB")
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// envSeed describes the env vars that can seed one model row.
type envSeed struct {
	modelType store.ModelType
	urlKey    string
	keyKey    string
	modelKey  string
}

// envSeeds lists the seedable model rows and their env var names.
var envSeeds = []envSeed{
	{store.ModelChat, "CHAT_API_URL", "CHAT_API_KEY", "CHAT_MODEL"},
	{store.ModelEmbedding, "EMBEDDING_API_URL", "EMBEDDING_API_KEY", "EMBEDDING_MODEL"},
	{store.ModelRerank, "RERANK_API_URL", "RERANK_API_KEY", "RERANK_MODEL"},
}

// seedModelsFromEnv fills in unconfigured model rows from env vars. Rows an
// operator already configured through the API are never overwritten; env
// seeding is a bootstrap, not a source of truth.
func seedModelsFromEnv(ctx context.Context, st *store.Store, log *slog.Logger) error {
	for _, seed := range envSeeds {
		url := os.Getenv(seed.urlKey)
		model := os.Getenv(seed.modelKey)
		if url == "" || model == "" {
			continue
		}

		existing, err := st.ModelByType(ctx, seed.modelType)
		if err != nil {
			return fmt.Errorf("seed %s model: %w", seed.modelType, err)
		}
		if existing.Configured() {
			continue
		}

		cfg := store.ModelConfig{
			Type:    seed.modelType,
			APIURL:  url,
			APIKey:  os.Getenv(seed.keyKey),
			ModelID: model,
		}
		if existing != nil {
			cfg.ID = existing.ID
			cfg.Name = existing.Name
			cfg.ContextLength = existing.ContextLength
			cfg.MaxOutput = existing.MaxOutput
			cfg.Capability = existing.Capability
		}
		if _, err := st.SaveModelConfig(ctx, cfg); err != nil {
			return fmt.Errorf("seed %s model: %w", seed.modelType, err)
		}
		log.Info("model seeded from env",
			slog.String("type", string(seed.modelType)),
			slog.String("model", model),
		)
	}
	return nil
}

// buildPingers assembles the readiness probes for GET /api/ready: the SQLite
// store always, plus the embedding endpoint when one is configured at
// startup. The chat endpoint is not probed: its only probe is a billed
// completion call.
func buildPingers(ctx context.Context, st *store.Store, pool *provider.Pool) []server.Pinger {
	pingers := []server.Pinger{server.NewStorePinger(st)}

	embedCfg, err := st.ModelByType(ctx, store.ModelEmbedding)
	if err == nil && embedCfg.Configured() {
		endpoint := provider.Endpoint{
			BaseURL: embedCfg.APIURL,
			APIKey:  embedCfg.APIKey,
			Model:   embedCfg.ModelID,
		}
		pingers = append(pingers, provider.NewEmbeddingClient(endpoint, pool))
	}
	return pingers
}

// getEnvOrDefault returns the env var value or a fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as int, or a fallback when unset or
// unparseable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat returns the env var parsed as float64, or a fallback when
// unset or unparseable.
func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
