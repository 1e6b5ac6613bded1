package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatraw/chatraw/internal/logging"
)

// Retriever drives the full two-stage retrieval flow for one query: embed
// the query, rank stored chunks by cosine similarity, refine through fusion,
// and render the prompt context block.
type Retriever struct {
	// embedder converts the query text to a vector.
	embedder Embedder
	// ranker performs the paginated similarity scan.
	ranker *Ranker
	// fusion applies the optional rerank stage.
	fusion *Fusion
}

// NewRetriever constructs a Retriever from its three stages.
func NewRetriever(embedder Embedder, ranker *Ranker, fusion *Fusion) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if ranker == nil {
		return nil, fmt.Errorf("rag: ranker must not be nil")
	}
	if fusion == nil {
		fusion = NewFusion(nil)
	}
	return &Retriever{embedder: embedder, ranker: ranker, fusion: fusion}, nil
}

// Retrieve returns the final topK candidates for query. A failed or
// unconfigured query embedding yields no candidates rather than an error:
// retrieval degrades, the chat itself proceeds.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, threshold float64) ([]Candidate, error) {
	queryVec, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		logging.FromContext(ctx).Warn("rag: query embedding failed, skipping retrieval",
			slog.Any("error", err))
		return nil, nil
	}
	if len(queryVec) == 0 {
		return nil, nil
	}

	pool, err := r.ranker.Search(ctx, queryVec, threshold, PoolSize(topK))
	if err != nil {
		return nil, fmt.Errorf("rag: similarity search: %w", err)
	}
	if len(pool) == 0 {
		return nil, nil
	}

	return r.fusion.Fuse(ctx, query, pool, topK), nil
}

// RenderContext renders candidates as the reference block prepended to the
// user's question. Returns "" for an empty candidate list.
func RenderContext(candidates []Candidate) string {
	if len(candidates) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Here are relevant references:\n\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "[Reference %d] (Relevance: %.2f)\n%s\n\n", i+1, c.Score, c.Content)
	}
	b.WriteString("Please answer based on the above references. If there's no relevant information, answer based on your knowledge.\n\n")
	return b.String()
}
