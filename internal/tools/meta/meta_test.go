package meta

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adze-dev/adze/internal/conversations"
	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/internal/workspace"
	"github.com/adze-dev/adze/pkg/models"
)

type wordEncoder struct{}

func (wordEncoder) Count(text string) (int, error) {
	return len(strings.Fields(text)), nil
}

type scriptedAsker struct {
	question string
	answer   string
	err      error
}

func (a *scriptedAsker) Ask(_ context.Context, question string) (string, error) {
	a.question = question
	return a.answer, a.err
}

func newTestService(t *testing.T, opts ...Option) (*Service, *tools.Registry, *conversations.MemoryStore) {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	store := conversations.NewMemoryStore()
	base := []Option{WithEncoder(func() (Encoder, error) { return wordEncoder{}, nil })}
	svc := New(store, ws, append(base, opts...)...)
	reg := tools.NewRegistry()
	svc.Register(reg)
	return svc, reg, store
}

func resolve(t *testing.T, ctx context.Context, reg *tools.Registry, call models.ToolCall) (*models.ToolResult, error) {
	t.Helper()
	res, ok := reg.Lookup(call)
	if !ok {
		t.Fatalf("no resolver bound for %s", call.Name())
	}
	return res.Resolve(ctx, call)
}

func seedConversation(t *testing.T, store *conversations.MemoryStore, id string, contents ...string) []string {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateConversation(ctx, &models.Conversation{ID: id}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	ids := make([]string, 0, len(contents))
	role := models.RoleUser
	for _, content := range contents {
		msg := &models.Message{Role: role, Content: content}
		if err := store.AppendMessage(ctx, id, msg); err != nil {
			t.Fatalf("append message: %v", err)
		}
		ids = append(ids, msg.ID)
		if role == models.RoleUser {
			role = models.RoleAssistant
		} else {
			role = models.RoleUser
		}
	}
	return ids
}

func TestCountTokensText(t *testing.T) {
	_, reg, _ := newTestService(t)

	res, err := resolve(t, context.Background(), reg, &models.CountTokens{Text: "one two three four"})
	if err != nil {
		t.Fatalf("count_tokens: %v", err)
	}
	want := fmt.Sprintf("4 tokens in text (%s)", tokenEncoding)
	if res.Content != want {
		t.Fatalf("content = %q, want %q", res.Content, want)
	}
}

func TestCountTokensFile(t *testing.T) {
	svc, reg, _ := newTestService(t)
	path := filepath.Join(svc.ws.Root(), "doc.txt")
	if err := os.WriteFile(path, []byte("alpha beta gamma"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	res, err := resolve(t, context.Background(), reg, &models.CountTokens{Path: "doc.txt"})
	if err != nil {
		t.Fatalf("count_tokens: %v", err)
	}
	if !strings.HasPrefix(res.Content, "3 tokens in doc.txt") {
		t.Fatalf("content = %q, want file token count", res.Content)
	}
}

func TestCountTokensFallsBackToEstimate(t *testing.T) {
	_, reg, _ := newTestService(t, WithEncoder(func() (Encoder, error) {
		return nil, errors.New("no vocabulary")
	}))

	text := strings.Repeat("x", 40)
	res, err := resolve(t, context.Background(), reg, &models.CountTokens{Text: text})
	if err != nil {
		t.Fatalf("count_tokens: %v", err)
	}
	if !strings.HasPrefix(res.Content, "~10 tokens in text (estimated") {
		t.Fatalf("content = %q, want estimated count", res.Content)
	}
}

func TestCountTokensValidation(t *testing.T) {
	_, reg, _ := newTestService(t)
	ctx := context.Background()

	if _, err := resolve(t, ctx, reg, &models.CountTokens{}); err == nil {
		t.Fatal("expected error when both path and text are empty")
	}
	if _, err := resolve(t, ctx, reg, &models.CountTokens{Path: "a.txt", Text: "hi"}); err == nil {
		t.Fatal("expected error when both path and text are set")
	}
	if _, err := resolve(t, ctx, reg, &models.CountTokens{Path: "missing.txt"}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConversationIdsReadListsMessagesWithPins(t *testing.T) {
	_, reg, store := newTestService(t)
	ids := seedConversation(t, store, "conv-1", "look at the build failure", "I will inspect the logs now")
	ctx := context.Background()
	if err := store.SetBookmark(ctx, "conv-1", conversations.BookmarkPinnedIDs, conversations.FormatPinnedIDs(ids[:1])); err != nil {
		t.Fatalf("set bookmark: %v", err)
	}

	res, err := resolve(t, tools.WithConversationID(ctx, "conv-1"), reg, &models.ConversationIdsRead{})
	if err != nil {
		t.Fatalf("conversation_ids_read: %v", err)
	}
	if !strings.HasPrefix(res.Content, "2 message(s):") {
		t.Fatalf("content = %q, want message count header", res.Content)
	}
	lines := strings.Split(res.Content, "\n")[1:]
	if len(lines) != 2 {
		t.Fatalf("got %d listing lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], ids[0]) || !strings.HasSuffix(lines[0], "(pinned)") {
		t.Fatalf("first line = %q, want pinned marker on %s", lines[0], ids[0])
	}
	if !strings.Contains(lines[1], ids[1]) || strings.Contains(lines[1], "(pinned)") {
		t.Fatalf("second line = %q, want unpinned %s", lines[1], ids[1])
	}
	if !strings.Contains(lines[0], "[user]") || !strings.Contains(lines[1], "[assistant]") {
		t.Fatalf("listing lacks roles: %q", res.Content)
	}
}

func TestConversationIdsReadEmptyConversation(t *testing.T) {
	_, reg, store := newTestService(t)
	seedConversation(t, store, "conv-1")

	res, err := resolve(t, tools.WithConversationID(context.Background(), "conv-1"), reg, &models.ConversationIdsRead{})
	if err != nil {
		t.Fatalf("conversation_ids_read: %v", err)
	}
	if res.Content != "(no messages persisted yet)" {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestConversationIdsWritePinsKnownAndIgnoresUnknown(t *testing.T) {
	_, reg, store := newTestService(t)
	ids := seedConversation(t, store, "conv-1", "first", "second")
	ctx := tools.WithConversationID(context.Background(), "conv-1")

	res, err := resolve(t, ctx, reg, &models.ConversationIdsWrite{IDs: []string{ids[1], "no-such-id"}})
	if err != nil {
		t.Fatalf("conversation_ids_write: %v", err)
	}
	if !strings.Contains(res.Content, "pinned 1 message id(s)") {
		t.Fatalf("content = %q, want pin count", res.Content)
	}
	if !strings.Contains(res.Content, "no-such-id") {
		t.Fatalf("content = %q, want ignored id named", res.Content)
	}

	bookmarks, err := store.Bookmarks(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("bookmarks: %v", err)
	}
	pinned := conversations.ParsePinnedIDs(bookmarks[conversations.BookmarkPinnedIDs])
	if _, ok := pinned[ids[1]]; !ok {
		t.Fatalf("pinned set %v missing %s", pinned, ids[1])
	}
	if _, ok := pinned["no-such-id"]; ok {
		t.Fatal("unknown id must not be pinned")
	}
}

func TestConversationIdsWriteEmptyClears(t *testing.T) {
	_, reg, store := newTestService(t)
	ids := seedConversation(t, store, "conv-1", "first")
	ctx := tools.WithConversationID(context.Background(), "conv-1")

	if _, err := resolve(t, ctx, reg, &models.ConversationIdsWrite{IDs: ids}); err != nil {
		t.Fatalf("pin: %v", err)
	}
	res, err := resolve(t, ctx, reg, &models.ConversationIdsWrite{})
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(res.Content, "cleared") {
		t.Fatalf("content = %q, want cleared", res.Content)
	}

	bookmarks, _ := store.Bookmarks(context.Background(), "conv-1")
	if got := conversations.ParsePinnedIDs(bookmarks[conversations.BookmarkPinnedIDs]); len(got) != 0 {
		t.Fatalf("pinned set = %v, want empty", got)
	}
}

func TestConversationIdsRequireConversation(t *testing.T) {
	_, reg, _ := newTestService(t)
	ctx := context.Background()

	if _, err := resolve(t, ctx, reg, &models.ConversationIdsRead{}); err == nil {
		t.Fatal("read without conversation must fail")
	}
	if _, err := resolve(t, ctx, reg, &models.ConversationIdsWrite{IDs: []string{"x"}}); err == nil {
		t.Fatal("write without conversation must fail")
	}
}

func TestAskFollowupQuestion(t *testing.T) {
	asker := &scriptedAsker{answer: "use the staging database"}
	_, reg, _ := newTestService(t, WithAsker(asker))

	res, err := resolve(t, context.Background(), reg, &models.AskFollowupQuestion{Question: "which database?"})
	if err != nil {
		t.Fatalf("ask_followup_question: %v", err)
	}
	if res.Content != "use the staging database" {
		t.Fatalf("content = %q", res.Content)
	}
	if asker.question != "which database?" {
		t.Fatalf("asker saw %q", asker.question)
	}
}

func TestAskFollowupQuestionWithoutAsker(t *testing.T) {
	_, reg, _ := newTestService(t)

	if _, err := resolve(t, context.Background(), reg, &models.AskFollowupQuestion{Question: "hm?"}); err == nil {
		t.Fatal("expected error without an asker")
	}
	if _, err := resolve(t, context.Background(), reg, &models.AskFollowupQuestion{Question: "  "}); err == nil {
		t.Fatal("expected error for blank question")
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := map[string]int{
		"":     0,
		"a":    1,
		"abcd": 1,
	}
	cases[strings.Repeat("x", 9)] = 3
	for text, want := range cases {
		if got := estimateTokens(text); got != want {
			t.Errorf("estimateTokens(%q) = %d, want %d", text, got, want)
		}
	}
}
