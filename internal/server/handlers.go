package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/chatraw/chatraw/internal/ingest"
	"github.com/chatraw/chatraw/internal/logging"
	"github.com/chatraw/chatraw/internal/provider"
	"github.com/chatraw/chatraw/internal/store"
)

// maxUploadBytes bounds the size of one uploaded document.
const maxUploadBytes = 10 << 20

// handleSettingsGet handles GET /api/settings.
func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.Settings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleSettingsSave handles POST /api/settings. The body replaces the whole
// settings blob; partial updates are the client's responsibility.
func (s *Server) handleSettingsSave(w http.ResponseWriter, r *http.Request) {
	var settings store.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.SaveSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleModelsList handles GET /api/models.
func (s *Server) handleModelsList(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.ModelConfigs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if models == nil {
		models = []store.ModelConfig{}
	}
	writeJSON(w, http.StatusOK, models)
}

// handleModelSave handles POST /api/models, inserting or replacing one row.
func (s *Server) handleModelSave(w http.ResponseWriter, r *http.Request) {
	var cfg store.ModelConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch cfg.Type {
	case store.ModelChat, store.ModelEmbedding, store.ModelRerank:
	default:
		writeError(w, http.StatusBadRequest, "type must be chat, embedding, or rerank")
		return
	}

	saved, err := s.store.SaveModelConfig(r.Context(), cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// handleModelDelete handles DELETE /api/models/{id}.
func (s *Server) handleModelDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteModelConfig(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleModelVerify handles POST /api/models/verify. It probes the submitted
// endpoint with a minimal protocol-specific request without persisting
// anything, so operators can test credentials before saving.
func (s *Server) handleModelVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	endpoint := provider.Endpoint{BaseURL: req.APIURL, APIKey: req.APIKey, Model: req.ModelID}

	var err error
	switch req.Type {
	case store.ModelChat:
		err = provider.NewChatClient(endpoint, s.pool).Verify(r.Context())
	case store.ModelEmbedding:
		err = provider.NewEmbeddingClient(endpoint, s.pool).Verify(r.Context())
	case store.ModelRerank:
		err = provider.NewRerankClient(endpoint, s.pool).Verify(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "type must be chat, embedding, or rerank")
		return
	}

	if err != nil {
		writeJSON(w, http.StatusOK, verifyResponse{Success: false, Error: provider.Reason(err)})
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Success: true})
}

// handleChatsList handles GET /api/chats.
func (s *Server) handleChatsList(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.Chats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chats == nil {
		chats = []store.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

// handleChatCreate handles POST /api/chats.
func (s *Server) handleChatCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	// An empty body is fine; the store falls back to a default title.
	_ = json.NewDecoder(r.Body).Decode(&req)

	chat, err := s.store.CreateChat(r.Context(), req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// handleChatDelete handles DELETE /api/chats/{id}.
func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteChat(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleMessagesList handles GET /api/chats/{id}/messages.
func (s *Server) handleMessagesList(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.Messages(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// handleDocumentsList handles GET /api/documents.
func (s *Server) handleDocumentsList(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.Documents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleDocumentUpload handles POST /api/documents. The uploaded file is
// chunked, embedded, and persisted while pipeline progress streams back to
// the client as NDJSON events.
func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}

	settings, err := s.store.Settings(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_, embedClient, _, _, err := s.modelClients(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !embedClient.Configured() {
		writeError(w, http.StatusBadRequest, "embedding model not configured")
		return
	}

	pipeline, err := ingest.NewPipeline(embedClient, s.store, &ingest.Config{
		ChunkSize:    settings.RAG.ChunkSize,
		ChunkOverlap: settings.RAG.ChunkOverlap,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")

	enc := json.NewEncoder(w)
	docID, err := pipeline.Ingest(ctx, header.Filename, string(content), func(p ingest.Progress) {
		_ = enc.Encode(p)
		flusher.Flush()
	})
	if err != nil {
		log.Warn("document ingestion failed", slog.Any("error", err))
		_ = enc.Encode(map[string]string{"error": provider.Reason(err)})
		flusher.Flush()
		return
	}

	_ = enc.Encode(map[string]string{"document_id": docID})
	flusher.Flush()
}

// handleDocumentDelete handles DELETE /api/documents/{id}, removing the
// document and every chunk derived from it.
func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
