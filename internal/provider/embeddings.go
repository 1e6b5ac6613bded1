package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/chatraw/chatraw/internal/logging"
)

// DefaultEmbedBatchSize is the batch size used when a caller passes 0.
const DefaultEmbedBatchSize = 16

// EmbeddingClient converts text into dense vectors via the embeddings
// endpoint. It implements rag.Embedder and is safe for concurrent use.
type EmbeddingClient struct {
	// endpoint is the embeddings API target.
	endpoint Endpoint
	// pool is the shared outbound connection handle.
	pool *Pool
}

// NewEmbeddingClient constructs an EmbeddingClient over the shared pool.
func NewEmbeddingClient(endpoint Endpoint, pool *Pool) *EmbeddingClient {
	return &EmbeddingClient{endpoint: endpoint, pool: pool}
}

// Configured reports whether the embeddings endpoint is set up.
func (c *EmbeddingClient) Configured() bool {
	return c.endpoint.Configured()
}

// embedRequest is the JSON body sent to the embeddings endpoint.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the JSON body returned from the embeddings endpoint.
// The data list may arrive out of order and must be re-sorted by index.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// EmbedBatch converts texts into vectors, preserving input order: result[i]
// is the vector for texts[i]. Texts are partitioned into groups of
// batchSize, one request per group, issued sequentially. A failing group
// maps every one of its items to a nil vector instead of aborting the call;
// callers treat nil as "no embedding available" and skip it during ranking.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}

	log := logging.FromContext(ctx)
	vectors := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		group := texts[start:end]

		groupVecs, err := c.embedGroup(ctx, group)
		if err != nil {
			// Partial failure: this group's items stay nil, the rest of
			// the batch proceeds.
			log.Warn("provider: embedding group failed",
				slog.Int("offset", start),
				slog.Int("size", len(group)),
				slog.Any("error", err))
			continue
		}
		copy(vectors[start:end], groupVecs)
	}

	return vectors, nil
}

// EmbedOne embeds a single text. A nil result with nil error means the
// provider call failed and no embedding is available.
func (c *EmbeddingClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// embedGroup issues one embeddings request and reassembles the response
// into input order by the provider-reported index.
func (c *EmbeddingClient) embedGroup(ctx context.Context, group []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: c.endpoint.Model, Input: group})
	if err != nil {
		return nil, fmt.Errorf("provider: marshal embed request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	req, err := c.endpoint.newRequest(callCtx, "/embeddings", payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.pool.Client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: embeddings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, newHTTPError(resp.StatusCode, body)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("provider: decode embeddings response: %w", err)
	}

	vectors := make([][]float32, len(group))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(group) {
			return nil, fmt.Errorf("provider: embedding index %d out of range [0, %d)", d.Index, len(group))
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Verify issues a one-item probe request to confirm the endpoint accepts
// embedding calls. Used by POST /api/models/verify.
func (c *EmbeddingClient) Verify(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, VerifyTimeout)
	defer cancel()
	if _, err := c.embedGroup(ctx, []string{"test"}); err != nil {
		return err
	}
	return nil
}

// Ping probes the embeddings endpoint for readiness checks. It reuses the
// verify probe; the endpoint name labels the result.
func (c *EmbeddingClient) Ping(ctx context.Context) error { return c.Verify(ctx) }

// Name returns the label used in readiness responses.
func (c *EmbeddingClient) Name() string { return "embeddings" }
