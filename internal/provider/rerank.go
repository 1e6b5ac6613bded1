package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/chatraw/chatraw/internal/rag"
)

// RerankClient re-scores candidate documents against a query via the rerank
// endpoint. It implements rag.Reranker and is safe for concurrent use.
type RerankClient struct {
	// endpoint is the rerank API target.
	endpoint Endpoint
	// pool is the shared outbound connection handle.
	pool *Pool
}

// NewRerankClient constructs a RerankClient over the shared pool.
func NewRerankClient(endpoint Endpoint, pool *Pool) *RerankClient {
	return &RerankClient{endpoint: endpoint, pool: pool}
}

// Configured reports whether the rerank endpoint is set up. When false,
// fusion skips reranking entirely.
func (c *RerankClient) Configured() bool {
	return c.endpoint.Configured()
}

// rerankRequest is the JSON body sent to the rerank endpoint. Documents are
// never echoed back; results reference them by index.
type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	ReturnDocuments bool     `json:"return_documents"`
}

// rerankEntry is one scored result. Providers disagree on the score field
// name, so both spellings are decoded and the set one wins.
type rerankEntry struct {
	Index          int      `json:"index"`
	Score          *float64 `json:"score"`
	RelevanceScore *float64 `json:"relevance_score"`
}

// rerankResponse is the JSON body returned from the rerank endpoint.
// Providers disagree on the list field name (results vs data).
type rerankResponse struct {
	Results []rerankEntry `json:"results"`
	Data    []rerankEntry `json:"data"`
}

// Rerank scores documents against query and returns (index, score) pairs in
// provider order. Indices reference positions in the submitted documents
// slice; callers drop out-of-bounds entries.
func (c *RerankClient) Rerank(ctx context.Context, query string, documents []string) ([]rag.RerankResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if len(documents) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(rerankRequest{
		Model:     c.endpoint.Model,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: marshal rerank request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, RerankTimeout)
	defer cancel()

	req, err := c.endpoint.newRequest(callCtx, "/rerank", payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.pool.Client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, newHTTPError(resp.StatusCode, body)
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("provider: decode rerank response: %w", err)
	}

	entries := result.Results
	if len(entries) == 0 {
		entries = result.Data
	}

	out := make([]rag.RerankResult, 0, len(entries))
	for _, e := range entries {
		score := 0.0
		switch {
		case e.Score != nil:
			score = *e.Score
		case e.RelevanceScore != nil:
			score = *e.RelevanceScore
		}
		out = append(out, rag.RerankResult{Index: e.Index, Score: score})
	}
	return out, nil
}

// Verify issues a two-document probe to confirm the endpoint really speaks
// the rerank protocol. A 2xx response without a results/data list counts as
// a failure: some gateways accept unknown paths with an empty 200.
func (c *RerankClient) Verify(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, VerifyTimeout)
	defer cancel()

	results, err := c.Rerank(ctx, "test query", []string{"test document 1", "test document 2"})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("provider: rerank endpoint returned no results; endpoint may not support /rerank")
	}
	return nil
}
