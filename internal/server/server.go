// Package server implements the HTTP server that exposes the chatraw
// retrieval-and-relay API: chat streaming, settings, model configuration,
// chat history, and document ingestion.
// The server is started by the `chatraw serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatraw/chatraw/internal/logging"
	"github.com/chatraw/chatraw/internal/provider"
	"github.com/chatraw/chatraw/internal/store"
)

// New constructs a Server from the provided store, provider pool, and config.
func New(st *store.Store, pool *provider.Pool, cfg *Config) (*Server, error) {
	return newWithRegistry(st, pool, cfg, prometheus.NewRegistry())
}

// newWithRegistry is the test seam that lets each test own a fresh registry.
func newWithRegistry(st *store.Store, pool *provider.Pool, cfg *Config, reg *prometheus.Registry) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if pool == nil {
		return nil, fmt.Errorf("server: pool must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = provider.ChatTimeout + time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}

	s := &Server{
		store:   st,
		pool:    pool,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(reg),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", rl.middleware(http.HandlerFunc(s.handleChat)))
	mux.HandleFunc("GET /api/settings", s.handleSettingsGet)
	mux.HandleFunc("POST /api/settings", s.handleSettingsSave)
	mux.HandleFunc("GET /api/models", s.handleModelsList)
	mux.HandleFunc("POST /api/models", s.handleModelSave)
	mux.HandleFunc("DELETE /api/models/{id}", s.handleModelDelete)
	mux.HandleFunc("POST /api/models/verify", s.handleModelVerify)
	mux.HandleFunc("GET /api/chats", s.handleChatsList)
	mux.HandleFunc("POST /api/chats", s.handleChatCreate)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleChatDelete)
	mux.HandleFunc("GET /api/chats/{id}/messages", s.handleMessagesList)
	mux.HandleFunc("GET /api/documents", s.handleDocumentsList)
	mux.Handle("POST /api/documents", rl.middleware(http.HandlerFunc(s.handleDocumentUpload)))
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDocumentDelete)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, s.metrics.instrument(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully wired HTTP handler. Exposed for httptest use.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// modelClients builds the provider clients for the currently configured
// model rows. Any of the three may be unconfigured; the returned client then
// fails fast with provider.ErrNotConfigured when actually invoked.
func (s *Server) modelClients(ctx context.Context) (*provider.ChatClient, *provider.EmbeddingClient, *provider.RerankClient, *store.ModelConfig, error) {
	chatCfg, err := s.store.ModelByType(ctx, store.ModelChat)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	embedCfg, err := s.store.ModelByType(ctx, store.ModelEmbedding)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	rerankCfg, err := s.store.ModelByType(ctx, store.ModelRerank)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	chat := provider.NewChatClient(endpointFor(chatCfg), s.pool)
	embed := provider.NewEmbeddingClient(endpointFor(embedCfg), s.pool)
	rerank := provider.NewRerankClient(endpointFor(rerankCfg), s.pool)
	return chat, embed, rerank, chatCfg, nil
}

// endpointFor maps a model row (possibly nil) onto a provider endpoint.
func endpointFor(cfg *store.ModelConfig) provider.Endpoint {
	if cfg == nil {
		return provider.Endpoint{}
	}
	return provider.Endpoint{BaseURL: cfg.APIURL, APIKey: cfg.APIKey, Model: cfg.ModelID}
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
