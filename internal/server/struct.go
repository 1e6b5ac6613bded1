package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/chatraw/chatraw/internal/provider"
	"github.com/chatraw/chatraw/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
}

// Server is the HTTP server exposing the chatraw API.
type Server struct {
	// store is the SQLite persistence layer behind every handler.
	store *store.Store
	// pool is the shared outbound connection handle for provider calls.
	pool *provider.Pool
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// ChatID is the conversation to extend. Empty creates a new chat.
	ChatID string `json:"chat_id"`
	// Message is the user's question.
	Message string `json:"message"`
	// ImageBase64 is an optional base64 JPEG attached to the message.
	// Only honoured when the chat model's capability includes vision.
	ImageBase64 string `json:"image_base64,omitempty"`
	// WebContent is optional page text prepended to the question as context.
	WebContent string `json:"web_content,omitempty"`
	// WebURL labels WebContent in the prompt.
	WebURL string `json:"web_url,omitempty"`
}

// verifyRequest is the JSON body for POST /api/models/verify. It carries a
// candidate endpoint configuration to probe without persisting it.
type verifyRequest struct {
	// Type selects which protocol to probe: chat, embedding, or rerank.
	Type store.ModelType `json:"type"`
	// APIURL is the OpenAI-compatible base URL.
	APIURL string `json:"api_url"`
	// APIKey is the Bearer token. May be empty.
	APIKey string `json:"api_key"`
	// ModelID is the provider-side model name.
	ModelID string `json:"model_id"`
}

// verifyResponse is the JSON response for POST /api/models/verify.
type verifyResponse struct {
	// Success is true when the probe round-tripped.
	Success bool `json:"success"`
	// Error carries the failure reason when Success is false.
	Error string `json:"error,omitempty"`
}

// errorResponse is the JSON body for non-streaming handler failures.
type errorResponse struct {
	// Error is the human-readable failure reason.
	Error string `json:"error"`
}
