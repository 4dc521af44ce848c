package model

import (
	"encoding/json"
	"time"
)

// FrameType identifies one discrete typed message exchanged over the socket.
type FrameType string

// Frame types sent by the gateway.
const (
	FrameSessionStart     FrameType = "session_start"
	FrameSessionEnd       FrameType = "session_end"
	FrameTypingStart      FrameType = "typing_start"
	FrameTypingStop       FrameType = "typing_stop"
	FrameMessageDelta     FrameType = "message_delta"
	FrameMessageComplete  FrameType = "message_complete"
	FrameCitations        FrameType = "citations"
	FrameError            FrameType = "error"
	FrameConnectionStatus FrameType = "connection_status"
)

// Frame types sent by the client.
const (
	FrameChatMessage FrameType = "chat_message"
	FramePing        FrameType = "ping"
)

// Frame is the wire envelope for both directions. Data is kept raw on the
// receive path so a malformed payload for one frame type cannot poison the
// envelope decode.
type Frame struct {
	Type      FrameType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// NewFrame builds an outbound frame with a marshaled payload.
func NewFrame(t FrameType, data any) (Frame, error) {
	f := Frame{Type: t, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Frame{}, err
		}
		f.Data = raw
	}
	return f, nil
}

// DeltaPayload is the data payload of message_delta and message_complete
// frames. On completion the gateway may include a final authoritative
// content value, the citations, and token usage.
type DeltaPayload struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	IsComplete bool           `json:"is_complete"`
	Citations  []Citation     `json:"citations,omitempty"`
	Error      string         `json:"error,omitempty"`
	Usage      map[string]any `json:"usage,omitempty"`
}

// CitationsPayload is the data payload of a citations frame.
type CitationsPayload struct {
	Citations []Citation `json:"citations"`
}

// ErrorPayload is the data payload of an error frame.
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// StatusPayload is the data payload of a connection_status frame.
type StatusPayload struct {
	Status string `json:"status"`
}

// TypingPayload is the data payload of typing_start and typing_stop frames.
type TypingPayload struct {
	IsTyping bool `json:"is_typing"`
}

// ChatRequest is the client-to-gateway chat submission. It rides inside the
// data payload of a chat_message frame.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`

	// MessageID, when supplied by the client, becomes the id of the stored
	// user message so the two sides agree on it. Must be a UUID.
	MessageID        string    `json:"message_id,omitempty"`
	Model            string    `json:"model,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	MaxTokens        int       `json:"max_tokens,omitempty"`
	Temperature      float64   `json:"temperature,omitempty"`
	Stream           bool      `json:"stream"`
	IncludeCitations bool      `json:"include_citations"`
	Timestamp        time.Time `json:"timestamp,omitempty"`
}
