package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/docchat-ai/rag-chat/internal/hub"
	"github.com/docchat-ai/rag-chat/internal/middleware"
	"github.com/docchat-ai/rag-chat/internal/model"
	"github.com/docchat-ai/rag-chat/pkg/logger"
)

// SessionHandler handles REST session endpoints.
type SessionHandler struct {
	hub    *hub.Hub
	logger *logger.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(h *hub.Hub, log *logger.Logger) *SessionHandler {
	return &SessionHandler{hub: h, logger: log}
}

// Get handles GET /api/v1/sessions/{sessionID}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, ok := h.hub.Session(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, model.SessionInfo{
		SessionID:    sess.ID,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
		MessageCount: len(sess.Messages),
		Title:        sess.Title,
	})
}

// Export handles GET /api/v1/sessions/{sessionID}/export, returning the full
// session document in the shape the client's session store imports.
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, ok := h.hub.Session(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// UpdateTitle handles PATCH /api/v1/sessions/{sessionID}
func (h *SessionHandler) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body.Title = strings.TrimSpace(body.Title)
	if err := middleware.ValidateTitle(body.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.hub.SetTitle(sessionID, body.Title) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Delete handles DELETE /api/v1/sessions/{sessionID}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if !h.hub.DeleteSession(sessionID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Stats handles GET /api/v1/sessions/stats
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Stats())
}
