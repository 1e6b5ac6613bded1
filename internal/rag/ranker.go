package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
)

const (
	// scanPageSize is the fixed page size used when scanning the chunk
	// store. Independent of the caller's pool size so memory stays bounded.
	scanPageSize = 200

	// maxQualifying stops the scan once this many candidates have passed
	// the threshold. This trades recall for bounded latency: the scan is a
	// deliberate approximation, not an exhaustive top-k. Results can depend
	// on store page order when the corpus holds more qualifying chunks.
	maxQualifying = 50

	// minPoolSize is the smallest candidate pool handed to fusion, so the
	// reranker always has material to work with even for tiny top-k values.
	minPoolSize = 10
)

// Ranker scores stored chunks against a query vector by cosine similarity.
type Ranker struct {
	// source is the paginated chunk reader.
	source ChunkSource
}

// NewRanker constructs a Ranker over the given chunk source.
func NewRanker(source ChunkSource) (*Ranker, error) {
	if source == nil {
		return nil, fmt.Errorf("rag: chunk source must not be nil")
	}
	return &Ranker{source: source}, nil
}

// PoolSize returns the candidate pool bound for a final topK:
// max(topK*2, 10). The pool is larger than topK so reranking has headroom.
func PoolSize(topK int) int {
	if p := topK * 2; p > minPoolSize {
		return p
	}
	return minPoolSize
}

// Search scans the chunk store page by page, keeps candidates whose cosine
// similarity against queryVec meets threshold, and returns them sorted by
// descending score, truncated to poolSize. Chunks with nil or mismatched
// embeddings score 0 and are filtered by any positive threshold.
func (r *Ranker) Search(ctx context.Context, queryVec []float32, threshold float64, poolSize int) ([]Candidate, error) {
	if len(queryVec) == 0 {
		return nil, nil
	}
	if poolSize <= 0 {
		poolSize = minPoolSize
	}

	var candidates []Candidate

scan:
	for offset := 0; ; offset += scanPageSize {
		page, err := r.source.ChunkPage(ctx, offset, scanPageSize)
		if err != nil {
			return nil, fmt.Errorf("rag: chunk page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}

		for _, chunk := range page {
			if len(chunk.Embedding) == 0 {
				continue
			}
			score := CosineSimilarity(queryVec, chunk.Embedding)
			if score < threshold {
				continue
			}
			candidates = append(candidates, Candidate{Content: chunk.Content, Score: score})
			if len(candidates) >= maxQualifying {
				break scan
			}
		}

		if len(page) < scanPageSize {
			break
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > poolSize {
		candidates = candidates[:poolSize]
	}
	return candidates, nil
}

// CosineSimilarity returns dot(a,b) / (‖a‖·‖b‖). It returns 0 when the
// vectors differ in dimension or either has zero norm; mismatches must
// never abort a scan.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
