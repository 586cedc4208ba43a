package domain

import "time"

// Envelope is the canonical message record exchanged between channels and
// the agent kernel. The same shape is used inbound and outbound; direction
// is determined by which queue carries it.
type Envelope struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Media     []string
	Metadata  map[string]any
	Timestamp time.Time
}

// SessionKey derives the conversation key used for session lookup and locking.
func (e Envelope) SessionKey() string {
	return e.Channel + ":" + e.ChatID
}

// Routable reports whether the envelope carries enough addressing to be
// delivered. Envelopes without a channel or chat ID are never enqueued.
func (e Envelope) Routable() bool {
	return e.Channel != "" && e.ChatID != ""
}

// Message is a role-tagged record in a conversation history. JSON tags match
// the durable session format; unknown extra fields are ignored on read.
type Message struct {
	Role       string     `json:"role"` // system | user | assistant | tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitempty"`
}
