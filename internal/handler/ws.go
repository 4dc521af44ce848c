// Package handler provides HTTP and websocket handlers for the chat gateway.
package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/docchat-ai/rag-chat/internal/hub"
	"github.com/docchat-ai/rag-chat/internal/middleware"
	"github.com/docchat-ai/rag-chat/internal/model"
	"github.com/docchat-ai/rag-chat/internal/service"
	"github.com/docchat-ai/rag-chat/pkg/logger"
	"github.com/docchat-ai/rag-chat/pkg/metrics"
)

// ChatHandler handles the websocket chat endpoint.
type ChatHandler struct {
	hub            *hub.Hub
	chatService    *service.ChatService
	upgrader       websocket.Upgrader
	maxMessageSize int64
	logger         *logger.Logger
}

// NewChatHandler creates a websocket chat handler.
func NewChatHandler(h *hub.Hub, chatSvc *service.ChatService, maxMessageSize int64, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		hub:         h,
		chatService: chatSvc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The widget is embedded on arbitrary customer pages.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		maxMessageSize: maxMessageSize,
		logger:         log,
	}
}

// Serve handles GET /ws/{sessionID}: upgrades the connection, attaches it to
// the session, and runs the frame loop until the peer goes away.
func (h *ChatHandler) Serve(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	if h.maxMessageSize > 0 {
		ws.SetReadLimit(h.maxMessageSize)
	}

	conn := h.hub.Attach(ws, sessionID)
	if err := h.chatService.RestoreSession(r.Context(), sessionID); err != nil {
		h.logger.Warn("session restore failed", "session_id", sessionID, "error", err)
	}
	defer func() {
		h.hub.Detach(conn)
		conn.Close()
	}()

	// One in-flight chat turn per connection.
	var processing atomic.Bool

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read error", "session_id", sessionID, "error", err)
			}
			return
		}

		var frame model.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(conn, sessionID, "invalid JSON format", "BAD_FRAME")
			continue
		}
		metrics.RecordFrame(string(frame.Type), "in")

		switch frame.Type {
		case model.FrameChatMessage:
			h.handleChat(r, conn, sessionID, frame, &processing)

		case model.FramePing:
			h.sendFrame(conn, sessionID, model.FrameConnectionStatus,
				model.StatusPayload{Status: "pong"})

		default:
			h.sendError(conn, sessionID,
				"unknown message type: "+string(frame.Type), "UNKNOWN_TYPE")
		}
	}
}

func (h *ChatHandler) handleChat(r *http.Request, conn *hub.Conn, sessionID string, frame model.Frame, processing *atomic.Bool) {
	var req model.ChatRequest
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			h.sendError(conn, sessionID, "invalid chat payload", "BAD_PAYLOAD")
			return
		}
	}

	req.Message = strings.TrimSpace(req.Message)
	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		h.sendError(conn, sessionID, err.Error(), "INVALID_MESSAGE")
		return
	}

	// A client may pin the id of its user message via the frame envelope.
	if req.MessageID == "" {
		req.MessageID = frame.MessageID
	}
	if req.MessageID != "" {
		if err := middleware.ValidateMessageID(req.MessageID); err != nil {
			h.sendError(conn, sessionID, err.Error(), "INVALID_MESSAGE")
			return
		}
	}

	if !processing.CompareAndSwap(false, true) {
		h.sendError(conn, sessionID,
			"please wait for the current response to complete", "BUSY")
		return
	}
	defer processing.Store(false)

	if err := h.chatService.ProcessChat(r.Context(), sessionID, &req); err != nil {
		h.logger.Error("chat processing failed", "session_id", sessionID, "error", err)
		h.sendError(conn, sessionID, err.Error(), "CHAT_FAILED")
	}
}

func (h *ChatHandler) sendFrame(conn *hub.Conn, sessionID string, t model.FrameType, data any) {
	frame, err := model.NewFrame(t, data)
	if err != nil {
		h.logger.Error("failed to encode frame", "type", string(t), "error", err)
		return
	}
	frame.SessionID = sessionID
	if err := conn.SendFrame(frame); err != nil {
		h.logger.Warn("failed to send frame", "session_id", sessionID, "error", err)
	}
}

func (h *ChatHandler) sendError(conn *hub.Conn, sessionID, message, code string) {
	h.sendFrame(conn, sessionID, model.FrameError, model.ErrorPayload{
		Error: message,
		Code:  code,
	})
}
