package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Document is an ingested source document. The raw content is retained so
// documents can be re-chunked when retrieval settings change.
type Document struct {
	// ID is the document identifier.
	ID string `json:"id"`
	// Filename is the original upload filename.
	Filename string `json:"filename"`
	// CreatedAt is when the document was ingested.
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is one bounded slice of a document, immutable after ingestion except
// for embedding backfill. Embedding is nil until the provider call succeeds.
type Chunk struct {
	// ID is the chunk identifier.
	ID string `json:"id"`
	// DocumentID is the owning document.
	DocumentID string `json:"document_id"`
	// Content is the chunk text.
	Content string `json:"content"`
	// Embedding is the fixed-dimension vector, or nil when the embedding
	// call failed and the chunk awaits backfill.
	Embedding []float32 `json:"embedding,omitempty"`
	// CreatedAt is when the chunk was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// Documents lists ingested documents, newest first.
func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	const q = `SELECT id, filename, created_at FROM documents ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			d       Document
			created int64
		)
		if err := rows.Scan(&d.ID, &d.Filename, &created); err != nil {
			return nil, fmt.Errorf("store: documents scan: %w", err)
		}
		d.CreatedAt = time.Unix(created, 0)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: documents rows: %w", err)
	}
	return out, nil
}

// SaveDocument persists a document and returns its assigned ID.
func (s *Store) SaveDocument(ctx context.Context, filename, content string) (string, error) {
	id := uuid.NewString()
	const q = `INSERT INTO documents (id, filename, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, id, filename, content, time.Now().Unix()); err != nil {
		return "", fmt.Errorf("store: save document: %w", err)
	}
	return id, nil
}

// DeleteDocument removes a document and every chunk derived from it.
func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE document_id = ?`, docID); err != nil {
		return fmt.Errorf("store: delete chunks: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = ?`, docID); err != nil {
		return fmt.Errorf("store: delete document: %w", err)
	}
	return nil
}

// SaveChunk persists one chunk. A nil embedding is stored as NULL and the
// chunk is excluded from retrieval until backfilled.
func (s *Store) SaveChunk(ctx context.Context, docID, content string, embedding []float32) error {
	var emb any
	if len(embedding) > 0 {
		raw, err := json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("store: marshal embedding: %w", err)
		}
		emb = string(raw)
	}
	const q = `INSERT INTO document_chunks (id, document_id, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, uuid.NewString(), docID, content, emb, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: save chunk: %w", err)
	}
	return nil
}

// ChunkPage returns one fixed-size page of chunks that have an embedding,
// ordered by insertion. The ranker scans pages rather than loading the whole
// corpus so memory stays bounded regardless of document count.
func (s *Store) ChunkPage(ctx context.Context, offset, limit int) ([]Chunk, error) {
	const q = `SELECT id, document_id, content, embedding, created_at
		FROM document_chunks WHERE embedding IS NOT NULL
		ORDER BY rowid ASC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: chunk page: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var (
			c       Chunk
			raw     sql.NullString
			created int64
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &raw, &created); err != nil {
			return nil, fmt.Errorf("store: chunk page scan: %w", err)
		}
		c.CreatedAt = time.Unix(created, 0)
		if raw.Valid && raw.String != "" {
			// A chunk whose stored vector no longer parses is treated the
			// same as one with no embedding: skipped by the ranker.
			_ = json.Unmarshal([]byte(raw.String), &c.Embedding)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chunk page rows: %w", err)
	}
	return out, nil
}
