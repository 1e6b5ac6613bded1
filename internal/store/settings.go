package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// settingsKey is the single row key under which global settings are stored.
const settingsKey = "global"

// ChatSettings holds the generation parameters applied to every chat call.
type ChatSettings struct {
	// Temperature controls response randomness (0.0–2.0).
	Temperature float64 `json:"temperature"`
	// TopP is the nucleus sampling cutoff.
	TopP float64 `json:"top_p"`
	// Stream selects streaming (NDJSON) vs blocking responses on /api/chat.
	Stream bool `json:"stream"`
	// Thinking requests the provider's reasoning token channel when the
	// model supports it.
	Thinking bool `json:"thinking"`
}

// RAGSettings holds the retrieval parameters supplied to the pipeline per call.
type RAGSettings struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int `json:"chunk_size"`
	// ChunkOverlap is the character overlap carried between adjacent chunks.
	ChunkOverlap int `json:"chunk_overlap"`
	// TopK is the number of references injected into the prompt.
	TopK int `json:"top_k"`
	// ScoreThreshold is the minimum cosine similarity for a candidate.
	ScoreThreshold float64 `json:"score_threshold"`
}

// UISettings holds presentation-only settings passed through to the frontend.
type UISettings struct {
	LogoText  string `json:"logo_text"`
	Subtitle  string `json:"subtitle"`
	ThemeMode string `json:"theme_mode"`
}

// Settings is the global settings blob persisted as one JSON row.
type Settings struct {
	Chat ChatSettings `json:"chat_settings"`
	RAG  RAGSettings  `json:"rag_settings"`
	UI   UISettings   `json:"ui_settings"`
}

// DefaultSettings returns the settings seeded into a fresh database.
func DefaultSettings() Settings {
	return Settings{
		Chat: ChatSettings{Temperature: 0.7, TopP: 0.9, Stream: true},
		RAG:  RAGSettings{ChunkSize: 500, ChunkOverlap: 50, TopK: 3, ScoreThreshold: 0.5},
		UI:   UISettings{LogoText: "chatraw", ThemeMode: "dark"},
	}
}

// Settings returns the global settings, falling back to defaults when the
// row is missing or unparseable.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	const q = `SELECT value FROM settings WHERE key = ?`
	var raw string
	err := s.db.QueryRowContext(ctx, q, settingsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("store: settings: %w", err)
	}

	out := DefaultSettings()
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return DefaultSettings(), nil
	}
	return out, nil
}

// SaveSettings replaces the global settings row.
func (s *Store) SaveSettings(ctx context.Context, settings Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("store: marshal settings: %w", err)
	}
	const q = `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, q, settingsKey, string(raw)); err != nil {
		return fmt.Errorf("store: save settings: %w", err)
	}
	return nil
}
