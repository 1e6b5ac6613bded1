// Package rag implements the retrieval half of the chatraw pipeline:
// splitting documents into bounded chunks, ranking stored chunks against a
// query vector by cosine similarity, and optionally re-scoring the top
// candidates through a rerank provider. The provider clients and the chunk
// store are injected through small interfaces so the pipeline never depends
// on a specific backend.
package rag

import (
	"context"
)

// Candidate is one retrieval result carried through both ranking stages.
// Score starts as a cosine similarity in the ranker; when a reranker runs,
// the rerank relevance score replaces it (the two scales are never mixed in
// one sorted list).
type Candidate struct {
	// Content is the chunk text.
	Content string `json:"content"`
	// Score is the cosine similarity or, after fusion, the rerank score.
	Score float64 `json:"score"`
}

// Embedder converts text into dense vectors via the embedding provider.
// A nil vector in the batch result means "no embedding available" for that
// input; callers skip such entries rather than failing.
type Embedder interface {
	// EmbedOne embeds a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds texts in groups of batchSize. The returned slice is
	// parallel to texts.
	EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// Reranker re-scores a candidate document list against a query.
// Implementations return (index, score) pairs referencing positions in the
// documents slice they were given.
type Reranker interface {
	// Rerank scores documents against query.
	Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error)
	// Configured reports whether a rerank endpoint is actually set up.
	// When false, fusion passes candidates through untouched.
	Configured() bool
}

// RerankResult is one (index, score) pair from the rerank provider.
type RerankResult struct {
	// Index refers to a position in the submitted documents slice.
	Index int
	// Score is the provider-defined relevance score (unbounded scale).
	Score float64
}

// ChunkSource is the paginated read interface over previously embedded
// chunks. *store.Store satisfies it.
type ChunkSource interface {
	// ChunkPage returns one page of chunks that carry an embedding.
	// An empty page signals the end of the corpus.
	ChunkPage(ctx context.Context, offset, limit int) ([]StoredChunk, error)
}

// StoredChunk is the minimal view of a persisted chunk the ranker needs.
type StoredChunk struct {
	// Content is the chunk text.
	Content string
	// Embedding is the stored vector. Nil or mismatched vectors score 0
	// and are filtered by the threshold.
	Embedding []float32
}
