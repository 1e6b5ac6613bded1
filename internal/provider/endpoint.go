package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Endpoint identifies one OpenAI-compatible API target.
type Endpoint struct {
	// BaseURL is the API base, e.g. "https://api.openai.com/v1".
	// A trailing slash is tolerated.
	BaseURL string
	// APIKey is the Bearer token. Empty means no Authorization header.
	APIKey string
	// Model is the provider-side model name.
	Model string
}

// Configured reports whether the endpoint carries enough information to
// issue a request. Unconfigured endpoints fail fast with ErrNotConfigured.
func (e Endpoint) Configured() bool {
	return e.BaseURL != "" && e.Model != ""
}

// url joins the base URL with an API path ("/embeddings", "/rerank", ...).
func (e Endpoint) url(path string) string {
	return strings.TrimRight(e.BaseURL, "/") + path
}

// newRequest builds a POST request with the JSON payload and auth headers
// common to every provider call.
func (e Endpoint) newRequest(ctx context.Context, path string, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url(path), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("provider: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}
	return req, nil
}
