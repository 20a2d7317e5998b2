package models

import (
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one persisted conversation entry. Content is immutable once
// persisted; the single exception is the orchestrator's trailing-assistant
// merge, which goes through the store's dedicated merge operation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           Role        `json:"role"`
	Content        string      `json:"content"`
	Usage          *TokenUsage `json:"usage,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// TokenUsage records the token accounting of one LLM turn. It is back-filled
// onto the turn's assistant message exactly once, keyed by message id.
type TokenUsage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	CacheReadTokens int `json:"cache_read_tokens,omitempty"`
}

// Total returns the combined token count of the turn.
func (u *TokenUsage) Total() int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens
}

// ToolResult is the outcome of dispatching a single tool call.
type ToolResult struct {
	CallID   string        `json:"call_id"`
	Name     string        `json:"name"`
	Content  string        `json:"content"`
	IsError  bool          `json:"is_error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Conversation groups the messages of one agent run.
type Conversation struct {
	ID        string            `json:"id"`
	Title     string            `json:"title,omitempty"`
	Bookmarks map[string]string `json:"bookmarks,omitempty"` // name -> comma-joined message ids
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
