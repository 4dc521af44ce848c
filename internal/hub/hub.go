// Package hub manages gateway-side chat sessions and the websocket
// connections attached to them.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docchat-ai/rag-chat/internal/model"
	"github.com/docchat-ai/rag-chat/pkg/logger"
	"github.com/docchat-ai/rag-chat/pkg/metrics"
)

// Conn is one attached websocket connection. Writes are serialized; gorilla
// permits a single concurrent writer per socket.
type Conn struct {
	sessionID string

	mu sync.Mutex
	ws *websocket.Conn
}

// SessionID returns the session this connection is attached to.
func (c *Conn) SessionID() string {
	return c.sessionID
}

// SendFrame writes one frame to the socket.
func (c *Conn) SendFrame(frame model.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(frame); err != nil {
		return err
	}
	metrics.RecordFrame(string(frame.Type), "out")
	return nil
}

// ReadMessage reads the next raw message from the socket.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// Hub is the registry of live sessions and their connections. A session may
// have more than one connection attached (the same conversation open in two
// tabs); frames addressed to a session fan out to all of them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	conns    map[string]map[*Conn]struct{}

	log *logger.Logger
}

// New creates an empty hub.
func New(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		sessions: make(map[string]*model.Session),
		conns:    make(map[string]map[*Conn]struct{}),
		log:      log,
	}
}

// Attach registers a websocket under a session, creating the session on
// first attach, and announces session_start to the caller.
func (h *Hub) Attach(ws *websocket.Conn, sessionID string) *Conn {
	conn := &Conn{sessionID: sessionID, ws: ws}

	h.mu.Lock()
	if _, ok := h.sessions[sessionID]; !ok {
		now := time.Now()
		h.sessions[sessionID] = &model.Session{
			ID:        sessionID,
			Messages:  []model.Message{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		metrics.SessionsActive.Set(float64(len(h.sessions)))
	}
	if h.conns[sessionID] == nil {
		h.conns[sessionID] = make(map[*Conn]struct{})
	}
	h.conns[sessionID][conn] = struct{}{}
	h.mu.Unlock()

	metrics.WSConnectionsActive.Inc()
	h.log.Info("websocket attached", "session_id", sessionID)

	if frame, err := model.NewFrame(model.FrameSessionStart, map[string]string{
		"session_id": sessionID,
	}); err == nil {
		frame.SessionID = sessionID
		conn.SendFrame(frame)
	}

	return conn
}

// Detach removes a connection. The session itself survives detachment; it is
// only removed by DeleteSession or inactivity cleanup. Detaching a connection
// that is already gone is a no-op, so the handler's deferred Detach cannot
// double-count a connection that DeleteSession or a failed send already
// removed.
func (h *Hub) Detach(conn *Conn) {
	h.mu.Lock()
	set, ok := h.conns[conn.sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, present := set[conn]; !present {
		h.mu.Unlock()
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.conns, conn.sessionID)
	}
	h.mu.Unlock()

	metrics.WSConnectionsActive.Dec()
	h.log.Info("websocket detached", "session_id", conn.sessionID)
}

// Session returns a copy of the session with the given id.
func (h *Hub) Session(sessionID string) (model.Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		return model.Session{}, false
	}
	out := *sess
	out.Messages = append([]model.Message(nil), sess.Messages...)
	return out, true
}

// AppendMessage appends a message to a session's history.
func (h *Hub) AppendMessage(sessionID string, msg model.Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = time.Now()
	return true
}

// SetTitle renames a session.
func (h *Hub) SetTitle(sessionID, title string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	sess.Title = title
	sess.UpdatedAt = time.Now()
	return true
}

// History returns up to limit most recent messages of a session, oldest
// first. limit <= 0 returns the full history.
func (h *Hub) History(sessionID string, limit int) []model.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	msgs := sess.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]model.Message(nil), msgs...)
}

// SendToSession fans a frame out to every connection of a session. Failed
// connections are detached.
func (h *Hub) SendToSession(sessionID string, frame model.Frame) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns[sessionID]))
	for c := range h.conns[sessionID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.SendFrame(frame); err != nil {
			h.log.Warn("failed to send frame, detaching connection",
				"session_id", sessionID, "error", err)
			c.Close()
			h.Detach(c)
		}
	}
}

// Broadcast sends a frame to every session except the excluded one.
func (h *Hub) Broadcast(frame model.Frame, excludeSession string) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		if id != excludeSession {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.SendToSession(id, frame)
	}
}

// DeleteSession removes a session, notifying and closing its connections.
func (h *Hub) DeleteSession(sessionID string) bool {
	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	messageCount := len(sess.Messages)
	conns := make([]*Conn, 0, len(h.conns[sessionID]))
	for c := range h.conns[sessionID] {
		conns = append(conns, c)
	}
	delete(h.sessions, sessionID)
	delete(h.conns, sessionID)
	metrics.SessionsActive.Set(float64(len(h.sessions)))
	h.mu.Unlock()

	endFrame, err := model.NewFrame(model.FrameSessionEnd, map[string]any{
		"session_id":    sessionID,
		"message_count": messageCount,
	})
	for _, c := range conns {
		if err == nil {
			endFrame.SessionID = sessionID
			c.SendFrame(endFrame)
		}
		c.Close()
		metrics.WSConnectionsActive.Dec()
	}

	h.log.Info("session deleted", "session_id", sessionID, "message_count", messageCount)
	return true
}

// Stats summarizes the registry.
func (h *Hub) Stats() model.SessionStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, set := range h.conns {
		total += len(set)
	}
	return model.SessionStats{
		ActiveSessions:   len(h.conns),
		TotalConnections: total,
		TotalSessions:    len(h.sessions),
	}
}

// CleanupInactive removes sessions with no attached connections that have
// been idle longer than maxAge. Returns the number removed.
func (h *Hub) CleanupInactive(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	h.mu.Lock()
	var removed int
	for id, sess := range h.sessions {
		if _, active := h.conns[id]; active {
			continue
		}
		if sess.UpdatedAt.Before(cutoff) {
			delete(h.sessions, id)
			removed++
		}
	}
	metrics.SessionsActive.Set(float64(len(h.sessions)))
	h.mu.Unlock()

	if removed > 0 {
		h.log.Info("cleaned up inactive sessions", "removed", removed)
	}
	return removed
}

// Run periodically cleans up inactive sessions until the context is done.
func (h *Hub) Run(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CleanupInactive(maxAge)
		}
	}
}
