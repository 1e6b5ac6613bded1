// Package provider implements the outbound OpenAI-compatible API clients:
// chat completions (streaming and blocking), embeddings, and rerank. All
// clients share one pooled HTTP connection handle with an explicit
// init/shutdown lifecycle, and speak plain HTTP without provider SDKs.
package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Per-call total timeouts. Connect timeout is separate (dialTimeout) so a
// dead endpoint fails fast while a slow stream may still run to completion.
const (
	// dialTimeout bounds TCP connection establishment.
	dialTimeout = 10 * time.Second
	// ChatTimeout bounds one full chat completion call, streaming included.
	ChatTimeout = 300 * time.Second
	// EmbedTimeout bounds one embeddings batch request.
	EmbedTimeout = 60 * time.Second
	// RerankTimeout bounds one rerank request.
	RerankTimeout = 30 * time.Second
	// VerifyTimeout bounds one configuration verification probe.
	VerifyTimeout = 30 * time.Second
)

// Pool owns the single long-lived HTTP client shared by every outbound
// provider call. It is lazily initialised on first use, safe for concurrent
// use, and must be closed on process shutdown to release idle connections.
//
// The client deliberately has no overall Timeout: streaming responses are
// open-ended, so each caller bounds its own call with a context deadline.
type Pool struct {
	// mu guards lazy initialisation of client.
	mu sync.Mutex
	// client is the shared HTTP client, nil until first use.
	client *http.Client
}

// NewPool constructs an uninitialised Pool. The underlying client is built
// on the first Client call.
func NewPool() *Pool {
	return &Pool{}
}

// Client returns the shared HTTP client, building it on first call.
func (p *Pool) Client() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		p.client = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   dialTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return p.client
}

// Close releases the pool's idle connections. Safe to call on an unused pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		p.client.CloseIdleConnections()
		p.client = nil
	}
}
