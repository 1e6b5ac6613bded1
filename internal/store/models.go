package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ModelType identifies the role a configured model plays in the pipeline.
type ModelType string

const (
	// ModelChat is the conversational completion model.
	ModelChat ModelType = "chat"
	// ModelEmbedding is the text-to-vector embedding model.
	ModelEmbedding ModelType = "embedding"
	// ModelRerank is the optional second-pass relevance model.
	ModelRerank ModelType = "rerank"
)

// Capability flags what a configured chat model supports.
type Capability struct {
	// Vision enables image attachments on chat requests.
	Vision bool `json:"vision"`
	// Reasoning enables the thinking token channel.
	Reasoning bool `json:"reasoning"`
	// Tools enables function calling (unused by the core pipeline).
	Tools bool `json:"tools"`
}

// ModelConfig is one provider endpoint configuration row.
type ModelConfig struct {
	// ID is the row identifier.
	ID string `json:"id"`
	// Name is the operator-facing display name.
	Name string `json:"name"`
	// APIKey is the Bearer token sent to the provider. May be empty.
	APIKey string `json:"api_key"`
	// APIURL is the OpenAI-compatible base URL (e.g. "https://host/v1").
	APIURL string `json:"api_url"`
	// ModelID is the provider-side model name.
	ModelID string `json:"model_id"`
	// ContextLength is the model's input context window in tokens.
	ContextLength int `json:"context_length"`
	// MaxOutput is the max_tokens value sent with each request.
	MaxOutput int `json:"max_output"`
	// Type is the pipeline role: chat, embedding, or rerank.
	Type ModelType `json:"type"`
	// Capability flags provider features (vision, reasoning, tools).
	Capability Capability `json:"capability"`
	// CreatedAt is when the row was first persisted.
	CreatedAt time.Time `json:"created_at"`
}

// Configured reports whether the row carries enough information to issue a
// provider call. Unconfigured models fail fast without any network traffic.
func (m *ModelConfig) Configured() bool {
	return m != nil && m.APIURL != "" && m.ModelID != ""
}

// seedDefaults inserts the default settings row and one placeholder model
// per type so the UI always has rows to edit. Existing rows are never touched.
func (s *Store) seedDefaults() error {
	ctx := context.Background()

	var haveSettings int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM settings WHERE key = ?`, settingsKey).Scan(&haveSettings); err != nil {
		return fmt.Errorf("store: seed settings check: %w", err)
	}
	if haveSettings == 0 {
		if err := s.SaveSettings(ctx, DefaultSettings()); err != nil {
			return err
		}
	}

	for _, mt := range []ModelType{ModelChat, ModelEmbedding, ModelRerank} {
		id := "default-" + string(mt)
		var n int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM model_configs WHERE id = ?`, id).Scan(&n); err != nil {
			return fmt.Errorf("store: seed model check: %w", err)
		}
		if n > 0 {
			continue
		}
		cfg := ModelConfig{
			ID:            id,
			Name:          string(mt) + " model",
			Type:          mt,
			ContextLength: 8192,
			MaxOutput:     4096,
		}
		if _, err := s.SaveModelConfig(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

// ModelConfigs returns every configured model row.
func (s *Store) ModelConfigs(ctx context.Context) ([]ModelConfig, error) {
	const q = `SELECT id, name, api_key, api_url, model_id, context_length,
		max_output, type, capability, created_at FROM model_configs`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: model configs: %w", err)
	}
	defer rows.Close()

	var out []ModelConfig
	for rows.Next() {
		m, err := scanModelConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: model configs rows: %w", err)
	}
	return out, nil
}

// ModelByType returns the first model configured for the given role, or nil
// when no row of that type exists.
func (s *Store) ModelByType(ctx context.Context, mt ModelType) (*ModelConfig, error) {
	const q = `SELECT id, name, api_key, api_url, model_id, context_length,
		max_output, type, capability, created_at
		FROM model_configs WHERE type = ? LIMIT 1`
	row := s.db.QueryRowContext(ctx, q, string(mt))
	m, err := scanModelConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveModelConfig inserts or replaces a model configuration row, assigning
// an ID when the caller did not provide one.
func (s *Store) SaveModelConfig(ctx context.Context, cfg ModelConfig) (ModelConfig, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ModelID
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}
	cap, err := json.Marshal(cfg.Capability)
	if err != nil {
		return ModelConfig{}, fmt.Errorf("store: marshal capability: %w", err)
	}

	const q = `INSERT OR REPLACE INTO model_configs
		(id, name, api_key, api_url, model_id, context_length, max_output, type, capability, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		cfg.ID, cfg.Name, cfg.APIKey, cfg.APIURL, cfg.ModelID,
		cfg.ContextLength, cfg.MaxOutput, string(cfg.Type), string(cap),
		cfg.CreatedAt.Unix())
	if err != nil {
		return ModelConfig{}, fmt.Errorf("store: save model config: %w", err)
	}
	return cfg, nil
}

// DeleteModelConfig removes a model configuration row by ID.
func (s *Store) DeleteModelConfig(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM model_configs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete model config: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanModelConfig.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanModelConfig reads one model_configs row.
func scanModelConfig(row rowScanner) (ModelConfig, error) {
	var (
		m       ModelConfig
		mt      string
		capRaw  sql.NullString
		keyRaw  sql.NullString
		created int64
	)
	err := row.Scan(&m.ID, &m.Name, &keyRaw, &m.APIURL, &m.ModelID,
		&m.ContextLength, &m.MaxOutput, &mt, &capRaw, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ModelConfig{}, err
		}
		return ModelConfig{}, fmt.Errorf("store: scan model config: %w", err)
	}
	m.Type = ModelType(mt)
	m.APIKey = keyRaw.String
	m.CreatedAt = time.Unix(created, 0)
	if capRaw.Valid && capRaw.String != "" {
		// Malformed capability JSON degrades to all-false flags.
		_ = json.Unmarshal([]byte(capRaw.String), &m.Capability)
	}
	return m, nil
}
