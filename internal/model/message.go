// Package model defines data structures shared by the chat client and gateway.
package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status represents the delivery state of a message.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Message represents one entry in a chat session. Assistant messages under
// streaming have append-only content until they reach StatusCompleted.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Status    Status         `json:"status"`
	Citations []Citation     `json:"citations,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// JetStream metadata, populated when the message is read back from the
	// persistence stream.
	Sequence uint64 `json:"sequence,omitempty"`
}

// IsStreamTarget reports whether this message can receive delta appends.
func (m *Message) IsStreamTarget() bool {
	return m.Role == RoleAssistant && m.Status == StatusStreaming
}
