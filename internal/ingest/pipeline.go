// Package ingest implements the document ingestion pipeline: split uploaded
// text into bounded chunks, embed each chunk in batches, and persist the
// results so retrieval can scan them. The pipeline is invoked by the document
// upload endpoint and the `chatraw ingest` CLI command.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chatraw/chatraw/internal/logging"
	"github.com/chatraw/chatraw/internal/rag"
)

// Stage labels one phase of the pipeline in progress events.
type Stage string

const (
	// StageChunking is emitted after the document has been split.
	StageChunking Stage = "chunking"
	// StageEmbedding is emitted as chunk batches are embedded.
	StageEmbedding Stage = "embedding"
	// StageDone is emitted once every chunk has been persisted.
	StageDone Stage = "done"
)

// Progress is one pipeline progress event, streamed to the uploader as NDJSON.
type Progress struct {
	// Stage is the current pipeline phase.
	Stage Stage `json:"stage"`
	// Total is the number of chunks produced from the document.
	Total int `json:"total"`
	// Done is the number of chunks embedded and persisted so far.
	Done int `json:"done"`
}

// ChunkWriter is the store surface the pipeline writes to. *store.Store
// satisfies it.
type ChunkWriter interface {
	// SaveDocument persists the raw document and returns its ID.
	SaveDocument(ctx context.Context, filename, content string) (string, error)
	// SaveChunk persists one chunk; a nil embedding is stored for backfill.
	SaveChunk(ctx context.Context, docID, content string, embedding []float32) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 500 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters carried between consecutive
	// chunks. Clamped to ChunkSize/10 when it would reach ChunkSize.
	ChunkOverlap int

	// EmbedBatchSize is the number of chunks per embedding request.
	// Defaults to the provider client's batch size if zero.
	EmbedBatchSize int
}

// Pipeline orchestrates the split → embed → persist flow for one document.
type Pipeline struct {
	// embedder converts chunk text into dense vector embeddings.
	embedder rag.Embedder

	// writer persists the document and its chunks.
	writer ChunkWriter

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, writer ChunkWriter, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingest: embedder must not be nil")
	}
	if writer == nil {
		return nil, fmt.Errorf("ingest: writer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}

	return &Pipeline{embedder: embedder, writer: writer, cfg: cfg}, nil
}

// Ingest splits, embeds, and persists one document, returning its document ID.
// Chunks whose embedding call failed are persisted with a nil vector so the
// upload never loses text; they stay out of retrieval until backfilled.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, filename, content string, progress func(Progress)) (string, error) {
	if progress == nil {
		progress = func(Progress) {}
	}
	log := logging.FromContext(ctx)

	docID, err := p.writer.SaveDocument(ctx, filename, content)
	if err != nil {
		return "", fmt.Errorf("ingest: save document %s: %w", filename, err)
	}

	chunks := rag.SplitChunks(content, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	progress(Progress{Stage: StageChunking, Total: len(chunks)})

	if len(chunks) == 0 {
		progress(Progress{Stage: StageDone})
		return docID, nil
	}

	vectors, err := p.embedder.EmbedBatch(ctx, chunks, p.cfg.EmbedBatchSize)
	if err != nil {
		return "", fmt.Errorf("ingest: embed chunks for %s: %w", filename, err)
	}

	missing := 0
	for i, chunk := range chunks {
		if len(vectors[i]) == 0 {
			missing++
		}
		if err := p.writer.SaveChunk(ctx, docID, chunk, vectors[i]); err != nil {
			return "", fmt.Errorf("ingest: save chunk %d of %s: %w", i, filename, err)
		}
		progress(Progress{Stage: StageEmbedding, Total: len(chunks), Done: i + 1})
	}

	if missing > 0 {
		log.Warn("ingest: some chunks saved without embeddings",
			slog.String("document", filename),
			slog.Int("missing", missing),
			slog.Int("total", len(chunks)))
	}

	progress(Progress{Stage: StageDone, Total: len(chunks), Done: len(chunks)})
	return docID, nil
}
