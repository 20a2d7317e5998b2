package conversations

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adze-dev/adze/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and
// local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	order         []string
	messages      map[string][]*models.Message
	bookmarks     map[string]map[string]string
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*models.Conversation{},
		messages:      map[string][]*models.Message{},
		bookmarks:     map[string]map[string]string{},
	}
}

func (m *MemoryStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneConversation(conv)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if _, exists := m.conversations[clone.ID]; exists {
		return errors.New("conversation already exists")
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	// Reflect generated fields back to caller.
	conv.ID = clone.ID
	conv.CreatedAt = clone.CreatedAt
	conv.UpdatedAt = clone.UpdatedAt

	m.conversations[clone.ID] = clone
	m.order = append(m.order, clone.ID)
	if len(clone.Bookmarks) > 0 {
		bm := make(map[string]string, len(clone.Bookmarks))
		for k, v := range clone.Bookmarks {
			bm[k] = v
		}
		m.bookmarks[clone.ID] = bm
	}
	return nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneConversation(conv)
	out.Bookmarks = cloneBookmarks(m.bookmarks[id])
	return out, nil
}

func (m *MemoryStore) ListConversations(ctx context.Context) ([]*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Conversation, 0, len(m.order))
	for _, id := range m.order {
		if conv, ok := m.conversations[id]; ok {
			out = append(out, cloneConversation(conv))
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	delete(m.bookmarks, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) SetTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}

	history := m.messages[conversationID]
	if msg.Role == models.RoleAssistant && len(history) > 0 {
		if last := history[len(history)-1]; last.Role == models.RoleAssistant {
			last.Content = mergeContent(last.Content, msg.Content)
			msg.ID = last.ID
			msg.ConversationID = conversationID
			msg.Content = last.Content
			msg.CreatedAt = last.CreatedAt
			conv.UpdatedAt = time.Now()
			return nil
		}
	}

	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	clone.ConversationID = conversationID
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	msg.ID = clone.ID
	msg.ConversationID = clone.ConversationID
	msg.CreatedAt = clone.CreatedAt

	m.messages[conversationID] = append(history, clone)
	conv.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Messages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	history := m.messages[conversationID]
	out := make([]*models.Message, 0, len(history))
	for _, msg := range history {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (m *MemoryStore) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	history := m.messages[conversationID]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return cloneMessage(history[len(history)-1]), nil
}

func (m *MemoryStore) UpdateUsage(ctx context.Context, conversationID, messageID string, usage *models.TokenUsage) error {
	if usage == nil {
		return errors.New("usage is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages[conversationID] {
		if msg.ID != messageID {
			continue
		}
		if msg.Usage != nil {
			return ErrUsageAlreadySet
		}
		u := *usage
		msg.Usage = &u
		return nil
	}
	return ErrNotFound
}

func (m *MemoryStore) SetBookmark(ctx context.Context, conversationID, key, value string) error {
	if key == "" {
		return errors.New("bookmark key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return ErrNotFound
	}
	bm := m.bookmarks[conversationID]
	if bm == nil {
		bm = map[string]string{}
		m.bookmarks[conversationID] = bm
	}
	bm[key] = value
	return nil
}

func (m *MemoryStore) Bookmarks(ctx context.Context, conversationID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	return cloneBookmarks(m.bookmarks[conversationID]), nil
}

// SortedBookmarkKeys returns the bookmark keys of a conversation in stable
// order, for rendering.
func SortedBookmarkKeys(bm map[string]string) []string {
	keys := make([]string, 0, len(bm))
	for k := range bm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneConversation(conv *models.Conversation) *models.Conversation {
	if conv == nil {
		return nil
	}
	clone := *conv
	clone.Bookmarks = cloneBookmarks(conv.Bookmarks)
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	if msg == nil {
		return nil
	}
	clone := *msg
	if msg.Usage != nil {
		u := *msg.Usage
		clone.Usage = &u
	}
	return &clone
}

func cloneBookmarks(bm map[string]string) map[string]string {
	if len(bm) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(bm))
	for k, v := range bm {
		out[k] = v
	}
	return out
}
