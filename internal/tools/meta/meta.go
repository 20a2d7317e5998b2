// Package meta implements the introspection tools: token counting, message-id
// bookmarks that shield messages from pruning, and the user-question boundary.
package meta

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/adze-dev/adze/internal/conversations"
	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/internal/workspace"
	"github.com/adze-dev/adze/pkg/models"
)

// maxCountBytes caps how much of a file count_tokens will read.
const maxCountBytes = 1 << 20

// Asker prompts the user and returns their answer. The CLI provides a
// terminal implementation; headless runs leave it nil.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Service resolves the meta tool calls.
type Service struct {
	store conversations.Store
	ws    *workspace.Workspace
	asker Asker

	encMu   sync.Mutex
	encInit func() (Encoder, error)
	enc     Encoder
	encErr  error
	encDone bool
}

// Option customizes the service.
type Option func(*Service)

// WithAsker wires the user-question boundary.
func WithAsker(a Asker) Option {
	return func(s *Service) { s.asker = a }
}

// WithEncoder overrides the token encoder construction (used in tests).
func WithEncoder(fn func() (Encoder, error)) Option {
	return func(s *Service) { s.encInit = fn }
}

// New creates the meta service.
func New(store conversations.Store, ws *workspace.Workspace, opts ...Option) *Service {
	s := &Service{
		store:   store,
		ws:      ws,
		encInit: loadBPEEncoder,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds the meta tools.
func (s *Service) Register(reg *tools.Registry) {
	reg.BindFunc("count_tokens", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.countTokens(ctx, call.(*models.CountTokens))
	})
	reg.BindFunc("conversation_ids_read", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.conversationIdsRead(ctx, call.(*models.ConversationIdsRead))
	})
	reg.BindFunc("conversation_ids_write", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.conversationIdsWrite(ctx, call.(*models.ConversationIdsWrite))
	})
	reg.BindFunc("ask_followup_question", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.askFollowupQuestion(ctx, call.(*models.AskFollowupQuestion))
	})
}

func (s *Service) countTokens(_ context.Context, call *models.CountTokens) (*models.ToolResult, error) {
	var text, source string
	switch {
	case call.Path != "" && call.Text != "":
		return nil, fmt.Errorf("provide either path or text, not both")
	case call.Path != "":
		resolved, err := s.ws.Resolve(call.Path)
		if err != nil {
			return nil, err
		}
		file, err := os.Open(resolved)
		if err != nil {
			return nil, fmt.Errorf("open file: %w", err)
		}
		defer file.Close()
		raw, err := io.ReadAll(io.LimitReader(file, maxCountBytes))
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		text, source = string(raw), s.ws.Rel(resolved)
	case call.Text != "":
		text, source = call.Text, "text"
	default:
		return nil, fmt.Errorf("path or text is required")
	}

	enc, err := s.encoder()
	if err != nil {
		return &models.ToolResult{
			Content: fmt.Sprintf("~%d tokens in %s (estimated; %s vocabulary unavailable)", estimateTokens(text), source, tokenEncoding),
		}, nil
	}
	n, err := enc.Count(text)
	if err != nil {
		return nil, fmt.Errorf("count tokens: %w", err)
	}
	return &models.ToolResult{Content: fmt.Sprintf("%d tokens in %s (%s)", n, source, tokenEncoding)}, nil
}

func (s *Service) encoder() (Encoder, error) {
	s.encMu.Lock()
	defer s.encMu.Unlock()
	if !s.encDone {
		s.enc, s.encErr = s.encInit()
		s.encDone = true
	}
	return s.enc, s.encErr
}

func (s *Service) conversationIdsRead(ctx context.Context, call *models.ConversationIdsRead) (*models.ToolResult, error) {
	_ = call
	convID := tools.ConversationIDFrom(ctx)
	if convID == "" {
		return nil, fmt.Errorf("no conversation in scope")
	}

	msgs, err := s.store.Messages(ctx, convID)
	if err != nil {
		return nil, err
	}
	pinned := map[string]struct{}{}
	if bookmarks, err := s.store.Bookmarks(ctx, convID); err == nil {
		pinned = conversations.ParsePinnedIDs(bookmarks[conversations.BookmarkPinnedIDs])
	}

	if len(msgs) == 0 {
		return &models.ToolResult{Content: "(no messages persisted yet)"}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d message(s):\n", len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s [%s] %s", m.ID, m.Role, preview(m.Content, 60))
		if _, ok := pinned[m.ID]; ok {
			b.WriteString(" (pinned)")
		}
		b.WriteString("\n")
	}
	return &models.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

func (s *Service) conversationIdsWrite(ctx context.Context, call *models.ConversationIdsWrite) (*models.ToolResult, error) {
	convID := tools.ConversationIDFrom(ctx)
	if convID == "" {
		return nil, fmt.Errorf("no conversation in scope")
	}

	msgs, err := s.store.Messages(ctx, convID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		known[m.ID] = true
	}

	var kept, unknown []string
	for _, id := range call.IDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if known[id] {
			kept = append(kept, id)
		} else {
			unknown = append(unknown, id)
		}
	}

	if err := s.store.SetBookmark(ctx, convID, conversations.BookmarkPinnedIDs, conversations.FormatPinnedIDs(kept)); err != nil {
		return nil, err
	}

	content := fmt.Sprintf("pinned %d message id(s)", len(kept))
	if len(kept) == 0 {
		content = "cleared pinned message ids"
	}
	if len(unknown) > 0 {
		content += fmt.Sprintf("; ignored unknown id(s): %s", strings.Join(unknown, ", "))
	}
	return &models.ToolResult{Content: content}, nil
}

func (s *Service) askFollowupQuestion(ctx context.Context, call *models.AskFollowupQuestion) (*models.ToolResult, error) {
	question := strings.TrimSpace(call.Question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}
	if s.asker == nil {
		return nil, fmt.Errorf("interactive prompts are not available in this run mode")
	}
	answer, err := s.asker.Ask(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("prompt user: %w", err)
	}
	return &models.ToolResult{Content: answer}, nil
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
