// Package conversations persists conversation transcripts and their
// bookmarks. The store owns two transcript invariants: an assistant message
// appended directly after another assistant message is merged into it rather
// than stored, and token usage is back-filled onto a message exactly once.
package conversations

import (
	"context"
	"errors"
	"strings"

	"github.com/adze-dev/adze/pkg/models"
)

var (
	// ErrNotFound is returned when a conversation or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUsageAlreadySet is returned when usage back-fill targets a message
	// that already carries usage.
	ErrUsageAlreadySet = errors.New("usage already set")
)

// BookmarkPinnedIDs is the bookmark key holding the message ids the agent has
// pinned against pruning, comma separated.
const BookmarkPinnedIDs = "pinned_message_ids"

// ParsePinnedIDs decodes the BookmarkPinnedIDs bookmark value into a set.
func ParsePinnedIDs(value string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, id := range strings.Split(value, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}

// FormatPinnedIDs encodes message ids into the BookmarkPinnedIDs value.
func FormatPinnedIDs(ids []string) string {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	return strings.Join(cleaned, ",")
}

// Store is the interface for conversation persistence.
type Store interface {
	// Conversation CRUD
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context) ([]*models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	SetTitle(ctx context.Context, id, title string) error

	// Transcript. AppendMessage merges a consecutive assistant append into
	// the previous assistant message and reflects the surviving message ID
	// back through msg.
	AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error
	Messages(ctx context.Context, conversationID string) ([]*models.Message, error)
	LastMessage(ctx context.Context, conversationID string) (*models.Message, error)
	UpdateUsage(ctx context.Context, conversationID, messageID string, usage *models.TokenUsage) error

	// Bookmarks are named values scoped to a conversation.
	SetBookmark(ctx context.Context, conversationID, key, value string) error
	Bookmarks(ctx context.Context, conversationID string) (map[string]string, error)
}

// mergeContent joins two assistant message bodies. It is the only place
// stored content is ever rewritten.
func mergeContent(existing, incoming string) string {
	switch {
	case existing == "":
		return incoming
	case incoming == "":
		return existing
	default:
		return existing + "\n\n" + incoming
	}
}
