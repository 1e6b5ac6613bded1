package rag

import (
	"context"
	"log/slog"
	"sort"

	"github.com/chatraw/chatraw/internal/logging"
)

// Fusion refines an embedding-ranked candidate pool through an optional
// rerank provider. Rerank scores replace cosine scores outright; the two
// scales are never merged. Every failure mode falls back to the embedding
// ranking so the output shape is identical whether or not a reranker exists.
type Fusion struct {
	// reranker is the optional second-stage scorer. May be nil.
	reranker Reranker
}

// NewFusion constructs a Fusion stage. A nil reranker is valid and turns
// Fuse into a pure truncation.
func NewFusion(reranker Reranker) *Fusion {
	return &Fusion{reranker: reranker}
}

// Fuse returns the final topK candidates. With no configured reranker the
// first topK of the already-sorted pool are returned unchanged. Otherwise
// the pool contents are re-scored by the rerank provider, indices mapped
// back onto candidates, out-of-bounds indices dropped, and the result
// re-sorted by the new score. Rerank failure or an empty result falls back
// silently to the embedding ranking.
func (f *Fusion) Fuse(ctx context.Context, query string, candidates []Candidate, topK int) []Candidate {
	if topK <= 0 || len(candidates) == 0 {
		return nil
	}

	truncate := func(cands []Candidate) []Candidate {
		if len(cands) > topK {
			return cands[:topK]
		}
		return cands
	}

	if f.reranker == nil || !f.reranker.Configured() {
		return truncate(candidates)
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Content
	}

	results, err := f.reranker.Rerank(ctx, query, documents)
	if err != nil || len(results) == 0 {
		// Rerank is an enhancement, never a dependency: the fallback must
		// be indistinguishable from the no-reranker path.
		if err != nil {
			logging.FromContext(ctx).Warn("rag: rerank failed, falling back to embedding scores",
				slog.Any("error", err))
		}
		return truncate(candidates)
	}

	reranked := make([]Candidate, 0, len(results))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(candidates) {
			continue
		}
		reranked = append(reranked, Candidate{
			Content: candidates[res.Index].Content,
			Score:   res.Score,
		})
	}
	if len(reranked) == 0 {
		return truncate(candidates)
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})
	return truncate(reranked)
}
