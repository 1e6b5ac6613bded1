package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chatraw/chatraw/internal/budget"
	"github.com/chatraw/chatraw/internal/logging"
	"github.com/chatraw/chatraw/internal/provider"
	"github.com/chatraw/chatraw/internal/rag"
	"github.com/chatraw/chatraw/internal/relay"
	"github.com/chatraw/chatraw/internal/store"
)

// handleChat handles POST /api/chat. Depending on the stored chat settings
// the response is either a newline-delimited JSON event stream or one
// blocking JSON body. Either way the flow is the same: persist the user
// turn, retrieve references, assemble the provider conversation, and hand
// it to the relay.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	settings, err := s.store.Settings(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	chatClient, embedClient, rerankClient, chatCfg, err := s.modelClients(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Fail fast before any persistence or streaming starts.
	if !chatClient.Configured() {
		writeError(w, http.StatusBadRequest, "chat model not configured")
		return
	}

	chatID := req.ChatID
	if chatID == "" {
		chat, err := s.store.CreateChat(ctx, "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		chatID = chat.ID
	}

	if _, err := s.store.AddMessage(ctx, chatID, store.RoleUser, req.Message); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	references := s.retrieve(ctx, embedClient, rerankClient, req.Message, settings.RAG)

	history, err := s.store.Messages(ctx, chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	relayReq := relay.Request{
		ChatID:      chatID,
		UserMessage: req.Message,
		Messages:    buildMessages(history, req, references, chatCfg),
		Temperature: settings.Chat.Temperature,
		TopP:        settings.Chat.TopP,
		MaxTokens:   chatCfg.MaxOutput,
		Thinking:    settings.Chat.Thinking && chatCfg.Capability.Reasoning,
		References:  references,
	}

	rly, err := relay.New(chatClient, s.store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	start := time.Now()
	if settings.Chat.Stream {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		s.metrics.chatActiveStreams.Inc()
		err = rly.Stream(ctx, &flushWriter{w: w, flusher: flusher}, relayReq)
		s.metrics.chatActiveStreams.Dec()

		outcome := chatOutcome(err)
		s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		if err != nil {
			// The terminal event already went to the client; this is for operators.
			log.Warn("chat stream ended abnormally", slog.Any("error", err))
		}
		return
	}

	result, err := rly.Complete(ctx, relayReq)
	outcome := chatOutcome(err)
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		writeError(w, upstreamStatus(err), provider.Reason(err))
		return
	}

	writeJSON(w, http.StatusOK, struct {
		ChatID string `json:"chat_id"`
		relay.Result
	}{ChatID: chatID, Result: result})
}

// retrieve runs the two-stage retrieval pipeline for one query. Retrieval is
// best-effort: an unconfigured embedding model or any pipeline failure yields
// no references and the chat proceeds without them.
func (s *Server) retrieve(ctx context.Context, embedClient *provider.EmbeddingClient, rerankClient *provider.RerankClient, query string, cfg store.RAGSettings) []rag.Candidate {
	if !embedClient.Configured() {
		return nil
	}
	log := logging.FromContext(ctx)

	ranker, err := rag.NewRanker(chunkSource{s.store})
	if err != nil {
		log.Warn("retrieval unavailable", slog.Any("error", err))
		return nil
	}
	retriever, err := rag.NewRetriever(embedClient, ranker, rag.NewFusion(rerankClient))
	if err != nil {
		log.Warn("retrieval unavailable", slog.Any("error", err))
		return nil
	}

	start := time.Now()
	references, err := retriever.Retrieve(ctx, query, cfg.TopK, cfg.ScoreThreshold)
	s.metrics.retrievalDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn("retrieval failed, continuing without references", slog.Any("error", err))
		return nil
	}
	return references
}

// chunkSource adapts the store's chunk pagination to the ranker's view.
type chunkSource struct {
	store *store.Store
}

// ChunkPage returns one page of embedded chunks.
func (c chunkSource) ChunkPage(ctx context.Context, offset, limit int) ([]rag.StoredChunk, error) {
	page, err := c.store.ChunkPage(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]rag.StoredChunk, len(page))
	for i, ch := range page {
		out[i] = rag.StoredChunk{Content: ch.Content, Embedding: ch.Embedding}
	}
	return out, nil
}

// buildMessages assembles the provider conversation: prior turns (reasoning
// blocks stripped, trimmed to the model's context budget) followed by the
// final user message carrying web context, retrieved references, and the
// question itself.
func buildMessages(history []store.Message, req chatRequest, references []rag.Candidate, chatCfg *store.ModelConfig) []provider.ChatMessage {
	// The just-persisted user turn is the last history entry; everything
	// before it is prior conversation.
	prior := history
	if n := len(prior); n > 0 && prior[n-1].Role == store.RoleUser {
		prior = prior[:n-1]
	}

	var past []provider.ChatMessage
	for _, m := range prior {
		content := m.Content
		if m.Role == store.RoleAssistant {
			content = stripThinking(content)
		}
		past = append(past, provider.TextMessage(string(m.Role), content))
	}

	var b strings.Builder
	if req.WebContent != "" {
		label := req.WebURL
		if label == "" {
			label = "the web page"
		}
		fmt.Fprintf(&b, "Content from %s:\n\n%s\n\n", label, req.WebContent)
	}
	b.WriteString(rag.RenderContext(references))
	b.WriteString(req.Message)
	finalText := b.String()

	final := provider.TextMessage("user", finalText)
	if req.ImageBase64 != "" && chatCfg.Capability.Vision {
		final = provider.VisionMessage(finalText, req.ImageBase64)
	}

	maxTokens := budget.DefaultMaxContextTokens
	if chatCfg.ContextLength > 0 {
		maxTokens = chatCfg.ContextLength
	}
	fixed := []provider.ChatMessage{final}
	past = budget.TrimHistory(fixed, past, maxTokens)

	return append(past, final)
}

// stripThinking removes the leading <think> block from a persisted assistant
// message so reasoning text never re-enters the provider conversation.
func stripThinking(content string) string {
	if !strings.HasPrefix(content, "<think>") {
		return content
	}
	end := strings.Index(content, "</think>")
	if end < 0 {
		return content
	}
	rest := content[end+len("</think>"):]
	return strings.TrimLeft(rest, "\n")
}

// chatOutcome maps a relay error onto the metric outcome label.
func chatOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case provider.Reason(err) == "request timeout":
		return "timeout"
	default:
		return "error"
	}
}

// upstreamStatus maps a provider failure onto the status code returned for
// blocking chat requests. Provider-reported errors pass 502 upward; a local
// configuration problem stays 400.
func upstreamStatus(err error) int {
	if errors.Is(err, provider.ErrNotConfigured) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

// flushWriter flushes after every write so stream events reach the client as
// they are produced rather than on buffer boundaries.
type flushWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter
	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write delegates to the response writer and flushes.
func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		return n, err
	}
	fw.flusher.Flush()
	return n, nil
}
