package client

import (
	"encoding/json"
	"time"

	"github.com/docchat-ai/rag-chat/internal/model"
	"github.com/docchat-ai/rag-chat/internal/session"
	"github.com/docchat-ai/rag-chat/pkg/metrics"
)

// Send serializes {type, data} and writes it to the socket. Returns false
// without error when the socket is not open or the write fails; the caller
// decides fallback behavior.
func (c *Client) Send(t model.FrameType, data any) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	frame, err := model.NewFrame(t, data)
	if err != nil {
		c.log.Error("failed to encode frame", "type", string(t), "error", err)
		return false
	}
	frame.SessionID = c.store.SessionID()

	c.writeMu.Lock()
	err = conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warn("websocket write failed", "type", string(t), "error", err)
		return false
	}

	metrics.RecordFrame(string(t), "out")
	return true
}

// SendChatMessage submits a user chat message. When sessionID is empty the
// store's active session id is used. Returns false when the socket is not
// open; the session store is left untouched in that case.
func (c *Client) SendChatMessage(text, sessionID string) bool {
	if sessionID == "" {
		sessionID = c.store.SessionID()
	}
	return c.Send(model.FrameChatMessage, &model.ChatRequest{
		Message:          text,
		SessionID:        sessionID,
		Stream:           true,
		IncludeCitations: true,
		Timestamp:        time.Now().UTC(),
	})
}

// handleRaw parses one inbound message. Malformed payloads are logged and
// dropped; they never crash the client or desynchronize the store.
func (c *Client) handleRaw(data []byte) {
	var frame model.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.log.Warn("dropping malformed frame", "error", err)
		return
	}
	metrics.RecordFrame(string(frame.Type), "in")
	c.handleFrame(frame)
}

func (c *Client) handleFrame(frame model.Frame) {
	switch frame.Type {
	case model.FrameSessionStart:
		c.log.Debug("session started", "session_id", frame.SessionID)

	case model.FrameTypingStart:
		c.startStreamingMessage()

	case model.FrameMessageDelta:
		c.applyDelta(frame)

	case model.FrameMessageComplete:
		c.completeMessage(frame)

	case model.FrameCitations:
		c.attachCitations(frame)

	case model.FrameError:
		var payload model.ErrorPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			c.log.Warn("dropping malformed error frame", "error", err)
			return
		}
		c.log.Warn("server reported error", "code", payload.Code, "message", payload.Error)
		if c.cb.OnServerError != nil {
			c.cb.OnServerError(payload.Code, payload.Error)
		}

	case model.FrameConnectionStatus, model.FrameTypingStop, model.FrameSessionEnd:
		// Protocol-level chatter, no store effect.

	default:
		c.log.Warn("ignoring unrecognized frame", "type", string(frame.Type))
	}
}

// startStreamingMessage creates the streaming placeholder the following
// deltas will append into.
func (c *Client) startStreamingMessage() {
	if c.store.StreamTarget() != nil {
		// One streaming message per session; a second typing_start before
		// completion is protocol noise.
		c.log.Warn("typing_start while a message is already streaming")
		return
	}
	_, err := c.store.AddMessage(model.Message{
		Role:    model.RoleAssistant,
		Content: "",
		Status:  model.StatusStreaming,
	})
	if err != nil {
		c.log.Error("failed to create streaming placeholder", "error", err)
		return
	}
	c.resetIdleTimer()
}

func (c *Client) applyDelta(frame model.Frame) {
	var payload model.DeltaPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		c.log.Warn("dropping malformed delta frame", "error", err)
		return
	}

	id := c.resolveStreamTarget(frame.MessageID, payload.ID)
	if id == "" {
		c.log.Warn("delta with no streaming target, dropping")
		return
	}
	c.store.AppendContent(id, payload.Content)
	c.resetIdleTimer()
}

func (c *Client) completeMessage(frame model.Frame) {
	var payload model.DeltaPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		c.log.Warn("dropping malformed completion frame", "error", err)
		return
	}

	id := c.resolveStreamTarget(frame.MessageID, payload.ID)
	if id == "" {
		c.log.Warn("completion with no streaming target, dropping")
		return
	}

	upd := session.Update{Status: ptr(model.StatusCompleted)}
	if payload.Content != "" {
		// Final authoritative content from the gateway wins over the
		// accumulated deltas.
		upd.Content = &payload.Content
	}
	c.store.UpdateMessage(id, upd)
	if len(payload.Citations) > 0 {
		c.store.AddCitationsToMessage(id, payload.Citations)
	}
	c.stopIdleTimer()
}

func (c *Client) attachCitations(frame model.Frame) {
	var payload model.CitationsPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		c.log.Warn("dropping malformed citations frame", "error", err)
		return
	}

	id := c.resolveStreamTarget(frame.MessageID, "")
	if id == "" {
		c.log.Warn("citations with no target message, dropping")
		return
	}
	if !c.store.AddCitationsToMessage(id, payload.Citations) {
		c.log.Warn("citations target message not found", "message_id", id)
	}
}

// resolveStreamTarget picks the message a delta, completion, or citations
// frame applies to: the explicit message id when the frame carries one and
// the store knows it, otherwise the most recent assistant message in
// streaming status.
func (c *Client) resolveStreamTarget(frameID, payloadID string) string {
	for _, id := range []string{frameID, payloadID} {
		if id == "" {
			continue
		}
		if _, ok := c.store.GetMessage(id); ok {
			return id
		}
	}
	if target := c.store.StreamTarget(); target != nil {
		return target.ID
	}
	return ""
}

// Idle watchdog: a send that never receives a delta or completion would
// otherwise leave its message in streaming status forever.

func (c *Client) resetIdleTimer() {
	if c.cfg.StreamIdleTimeout <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.cfg.StreamIdleTimeout, c.expireStreamTarget)
}

func (c *Client) stopIdleTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

func (c *Client) expireStreamTarget() {
	target := c.store.StreamTarget()
	if target == nil {
		return
	}
	c.log.Warn("streaming message timed out", "message_id", target.ID)
	c.store.UpdateMessage(target.ID, session.Update{Status: ptr(model.StatusError)})
}

func ptr[T any](v T) *T { return &v }
