package model

import (
	"time"
)

// Session is one logical conversation: an ordered message list plus
// bookkeeping timestamps. Insertion order is significant; it defines both
// render order and "last message" for stream-target resolution.
type Session struct {
	ID        string         `json:"id"`
	Messages  []Message      `json:"messages"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ConnState represents the state of the socket connection driving a session.
type ConnState string

const (
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
)

// SessionInfo is the REST representation of a session's bookkeeping data.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Title        string    `json:"title,omitempty"`
}

// SessionStats summarizes the gateway-side session registry.
type SessionStats struct {
	ActiveSessions   int `json:"active_sessions"`
	TotalConnections int `json:"total_connections"`
	TotalSessions    int `json:"total_sessions"`
}
