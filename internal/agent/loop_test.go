package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adze-dev/adze/internal/conversations"
	"github.com/adze-dev/adze/internal/llm"
	"github.com/adze-dev/adze/internal/plugins"
	"github.com/adze-dev/adze/internal/pruner"
	"github.com/adze-dev/adze/internal/retry"
	"github.com/adze-dev/adze/internal/signals"
	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/pkg/models"
)

// scriptedProvider replays one canned chunk sequence per Stream call.
type scriptedProvider struct {
	mu       sync.Mutex
	scripts  [][]llm.Chunk
	requests []llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	idx := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if idx >= len(p.scripts) {
		return nil, errors.New("scripted provider: no script for call")
	}
	script := p.scripts[idx]
	ch := make(chan llm.Chunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// turnOf splits text into a few chunks and terminates the stream.
func turnOf(text string, usage *models.TokenUsage) []llm.Chunk {
	var chunks []llm.Chunk
	for len(text) > 0 {
		n := 17
		if n > len(text) {
			n = len(text)
		}
		chunks = append(chunks, llm.Chunk{Text: text[:n]})
		text = text[n:]
	}
	return append(chunks, llm.Chunk{Done: true, Usage: usage})
}

func brokenTurn() []llm.Chunk {
	return []llm.Chunk{
		{Text: "partial "},
		{Err: &llm.ConnectionError{Provider: "scripted", Err: errors.New("connection reset")}},
	}
}

const completionTurn = "<attempt_completion>\n<result>all done</result>\n</attempt_completion>"

type loopHarness struct {
	loop     *Loop
	provider *scriptedProvider
	store    *conversations.MemoryStore
	mailbox  *signals.Mailbox
	registry *tools.Registry
	slept    []time.Duration
}

func newHarness(t *testing.T, cfg Config, scripts ...[]llm.Chunk) *loopHarness {
	t.Helper()
	h := &loopHarness{
		provider: &scriptedProvider{scripts: scripts},
		store:    conversations.NewMemoryStore(),
		mailbox:  signals.NewMailbox(0),
		registry: tools.NewRegistry(),
	}
	h.registry.BindFunc("read_file", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		rf := call.(*models.ReadFile)
		return &models.ToolResult{Content: "contents of " + rf.Path}, nil
	})
	dispatcher := tools.NewDispatcher(h.registry, plugins.NewChain(), nil)

	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry = retry.Policy{MaxRetries: 2, InitialDelay: 10 * time.Second, MaxDelay: 10 * time.Second, Factor: 1.0}
	}
	loop, err := New(h.provider, h.store, dispatcher, h.mailbox, nil, nil, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	loop.sleep = func(ctx context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return ctx.Err()
	}
	h.loop = loop
	return h
}

func collect(t *testing.T, ch <-chan models.Event) []models.Event {
	t.Helper()
	var out []models.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event stream did not close; got %d events", len(out))
		}
	}
}

func eventsOfKind(events []models.Event, kind models.EventKind) []models.Event {
	var out []models.Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// checkPairing asserts the transcript invariants: every non-terminal
// assistant tool call is followed by a tool-result user message, and no two
// assistant messages are adjacent.
func checkPairing(t *testing.T, msgs []*models.Message) {
	t.Helper()
	for i, m := range msgs {
		if m.Role != models.RoleAssistant {
			continue
		}
		if i > 0 && msgs[i-1].Role == models.RoleAssistant {
			t.Errorf("messages %d and %d are both assistant", i-1, i)
		}
		terminal := strings.Contains(m.Content, "<attempt_completion>") ||
			strings.Contains(m.Content, "<plan_mode_respond>")
		hasCall := strings.Contains(m.Content, "</read_file>")
		if !hasCall || terminal {
			continue
		}
		if i+1 >= len(msgs) || msgs[i+1].Role != models.RoleUser ||
			!strings.Contains(msgs[i+1].Content, "<tool_result") {
			t.Errorf("assistant tool call at %d has no tool_result follower", i)
		}
	}
}

func TestRunToolCallThenCompletion(t *testing.T) {
	usage := &models.TokenUsage{InputTokens: 120, OutputTokens: 40}
	h := newHarness(t, Config{},
		turnOf("Reading the file first.\n<read_file>\n<path>a.txt</path>\n</read_file>", usage),
		turnOf(completionTurn, &models.TokenUsage{InputTokens: 150, OutputTokens: 20}),
	)

	ch, err := h.loop.Run(context.Background(), "", "summarize a.txt")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := collect(t, ch)

	if got := eventsOfKind(events, models.EventConversationID); len(got) != 1 || got[0].Text == "" {
		t.Fatalf("conversation id events = %+v", got)
	}
	convID := eventsOfKind(events, models.EventConversationID)[0].Text

	calls := eventsOfKind(events, models.EventToolCall)
	if len(calls) != 2 {
		t.Fatalf("tool call events = %d, want 2", len(calls))
	}
	if _, ok := calls[0].Call.(*models.ReadFile); !ok {
		t.Errorf("first call = %T, want *models.ReadFile", calls[0].Call)
	}

	results := eventsOfKind(events, models.EventToolResult)
	if len(results) != 1 || results[0].Result.Content != "contents of a.txt" {
		t.Fatalf("tool result events = %+v", results)
	}

	completions := eventsOfKind(events, models.EventCompletion)
	if len(completions) != 1 || completions[0].Text != "all done" {
		t.Fatalf("completion events = %+v", completions)
	}

	msgs, err := h.store.Messages(context.Background(), convID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	checkPairing(t, msgs)
	if len(msgs) != 4 {
		t.Fatalf("transcript length = %d, want 4", len(msgs))
	}
	if !strings.Contains(msgs[1].Content, "<read_file>\n<path>a.txt</path>\n</read_file>") {
		t.Errorf("assistant message lacks canonical call: %q", msgs[1].Content)
	}
	if !strings.Contains(msgs[2].Content, `<tool_result tool="read_file" status="success">`) {
		t.Errorf("tool result message = %q", msgs[2].Content)
	}
	if msgs[1].Usage == nil || msgs[1].Usage.InputTokens != 120 {
		t.Errorf("usage not back-filled: %+v", msgs[1].Usage)
	}
}

func TestRunTextOnlyTurnGetsReminder(t *testing.T) {
	h := newHarness(t, Config{},
		turnOf("I think the answer is probably fine.", nil),
		turnOf(completionTurn, nil),
	)

	ch, err := h.loop.Run(context.Background(), "", "do the thing")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := collect(t, ch)

	if got := eventsOfKind(events, models.EventCompletion); len(got) != 1 {
		t.Fatalf("completion events = %d, want 1", len(got))
	}
	convID := eventsOfKind(events, models.EventConversationID)[0].Text
	msgs, _ := h.store.Messages(context.Background(), convID)
	checkPairing(t, msgs)

	var reminded bool
	for _, m := range msgs {
		if m.Role == models.RoleUser && strings.Contains(m.Content, "without using a tool") {
			reminded = true
		}
	}
	if !reminded {
		t.Errorf("no corrective reminder in transcript: %d messages", len(msgs))
	}
	if h.provider.calls() != 2 {
		t.Errorf("provider calls = %d, want 2", h.provider.calls())
	}
}

func TestRunMaxRoundsSyntheticCompletion(t *testing.T) {
	toolTurn := turnOf("<read_file>\n<path>a.txt</path>\n</read_file>", nil)
	h := newHarness(t, Config{MaxRounds: 2}, toolTurn, toolTurn)

	ch, err := h.loop.Run(context.Background(), "", "loop forever")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := collect(t, ch)

	completions := eventsOfKind(events, models.EventCompletion)
	if len(completions) != 1 || !strings.Contains(completions[0].Text, "limit of 2 rounds") {
		t.Fatalf("completion events = %+v", completions)
	}
	if h.provider.calls() != 2 {
		t.Errorf("provider calls = %d, want exactly MaxRounds", h.provider.calls())
	}

	convID := eventsOfKind(events, models.EventConversationID)[0].Text
	last, err := h.store.LastMessage(context.Background(), convID)
	if err != nil {
		t.Fatalf("LastMessage() error = %v", err)
	}
	if last.Role != models.RoleAssistant || !strings.Contains(last.Content, "<attempt_completion>") {
		t.Errorf("synthetic completion not persisted: %q", last.Content)
	}
}

func TestRunMailboxPreemptsToolCall(t *testing.T) {
	h := newHarness(t, Config{},
		turnOf("<read_file>\n<path>a.txt</path>\n</read_file>", nil),
		turnOf(completionTurn, nil),
	)
	conv := &models.Conversation{ID: "conv-bg"}
	if err := h.store.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	h.mailbox.Post(signals.Signal{
		ConversationID: "conv-bg",
		Kind:           signals.KindTask,
		Source:         "task-1",
		Status:         signals.StatusSucceeded,
		Duration:       42 * time.Second,
	})

	ch, err := h.loop.Run(context.Background(), "conv-bg", "build it")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := collect(t, ch)

	if got := eventsOfKind(events, models.EventToolResult); len(got) != 0 {
		t.Fatalf("tool result events = %d, want 0 (call discarded)", len(got))
	}
	if got := eventsOfKind(events, models.EventCompletion); len(got) != 1 {
		t.Fatalf("completion events = %d, want 1", len(got))
	}

	msgs, _ := h.store.Messages(context.Background(), "conv-bg")
	var summary *models.Message
	for _, m := range msgs {
		if m.Role == models.RoleUser && strings.Contains(m.Content, "Background updates:") {
			summary = m
		}
		if strings.Contains(m.Content, "</read_file>") {
			t.Errorf("discarded tool turn was persisted: %q", m.Content)
		}
	}
	if summary == nil || !strings.Contains(summary.Content, "task-1") {
		t.Fatalf("no background summary persisted")
	}
	if h.mailbox.Pending("conv-bg") != 0 {
		t.Errorf("mailbox not drained")
	}
}

func TestRunRetriesBrokenStream(t *testing.T) {
	h := newHarness(t, Config{},
		brokenTurn(),
		turnOf(completionTurn, nil),
	)

	ch, err := h.loop.Run(context.Background(), "", "try hard")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := collect(t, ch)

	retries := eventsOfKind(events, models.EventRetry)
	if len(retries) != 1 || !strings.Contains(retries[0].Text, "connection reset") {
		t.Fatalf("retry events = %+v", retries)
	}
	if got := eventsOfKind(events, models.EventCompletion); len(got) != 1 {
		t.Fatalf("completion events = %d, want 1", len(got))
	}
	if len(h.slept) != 1 || h.slept[0] != 10*time.Second {
		t.Errorf("slept = %v, want one fixed 10s backoff", h.slept)
	}

	// The retried stream parses from scratch: the partial text from the
	// broken attempt must not leak into the persisted completion turn.
	convID := eventsOfKind(events, models.EventConversationID)[0].Text
	last, _ := h.store.LastMessage(context.Background(), convID)
	if strings.Contains(last.Content, "partial") {
		t.Errorf("broken-stream fragment persisted: %q", last.Content)
	}
}

func TestRunRetriesExhaustedFatal(t *testing.T) {
	h := newHarness(t, Config{},
		brokenTurn(), brokenTurn(), brokenTurn(),
	)

	ch, err := h.loop.Run(context.Background(), "", "doomed")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := collect(t, ch)

	if got := eventsOfKind(events, models.EventRetry); len(got) != 2 {
		t.Fatalf("retry events = %d, want exactly MaxRetries", len(got))
	}
	if got := eventsOfKind(events, models.EventCompletion); len(got) != 0 {
		t.Fatalf("completion events = %d, want 0", len(got))
	}
	errs := eventsOfKind(events, models.EventError)
	var fatal bool
	for _, ev := range errs {
		if strings.Contains(ev.Text, "retries exhausted") {
			fatal = true
		}
	}
	if !fatal {
		t.Fatalf("no fatal error event, errors = %+v", errs)
	}
}

func TestRunCancelledEmitsNoCompletion(t *testing.T) {
	h := newHarness(t, Config{}, turnOf(completionTurn, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := h.loop.Run(ctx, "", "never mind")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := collect(t, ch)

	if got := eventsOfKind(events, models.EventCompletion); len(got) != 0 {
		t.Errorf("completion events after cancel = %d, want 0", len(got))
	}
	if got := eventsOfKind(events, models.EventError); len(got) != 0 {
		t.Errorf("error events after cancel = %+v", got)
	}
	if h.provider.calls() != 0 {
		t.Errorf("provider called %d times after cancel", h.provider.calls())
	}
}

func TestRunResumeReEmitsCompletion(t *testing.T) {
	h := newHarness(t, Config{}, turnOf(completionTurn, nil))

	first := collect(t, mustRun(t, h, "", "finish quickly"))
	convID := eventsOfKind(first, models.EventConversationID)[0].Text

	second := collect(t, mustRun(t, h, convID, ""))
	completions := eventsOfKind(second, models.EventCompletion)
	if len(completions) != 1 || completions[0].Text != "all done" {
		t.Fatalf("re-emitted completion = %+v", completions)
	}
	if h.provider.calls() != 1 {
		t.Errorf("provider calls = %d, want 1 (resume must not re-prompt)", h.provider.calls())
	}
}

func TestRunPrunesOversizedWindow(t *testing.T) {
	h := newHarness(t, Config{TokenBudget: 200}, turnOf(completionTurn, nil))
	h.loop.pruner = pruner.New(pruner.DefaultConfig())

	conv := &models.Conversation{ID: "conv-big"}
	if err := h.store.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	filler := strings.Repeat("x", 400)
	for i := 0; i < 6; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msg := &models.Message{Role: role, Content: filler}
		if err := h.store.AppendMessage(context.Background(), "conv-big", msg); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	events := collect(t, mustRun(t, h, "conv-big", "wrap up"))
	windows := eventsOfKind(events, models.EventWindowChange)
	if len(windows) == 0 {
		t.Fatalf("no window change event emitted")
	}
	w := windows[0].Window
	if w.ToMessages >= w.FromMessages || w.ToTokens >= w.FromTokens {
		t.Errorf("window did not shrink: %+v", w)
	}
	if got := eventsOfKind(events, models.EventCompletion); len(got) != 1 {
		t.Fatalf("completion events = %d, want 1", len(got))
	}
}

func TestPreambleSeededOnce(t *testing.T) {
	h := newHarness(t, Config{Preamble: Preamble("/work", []string{"read_file"})},
		turnOf(completionTurn, nil),
	)

	events := collect(t, mustRun(t, h, "", "hello"))
	convID := eventsOfKind(events, models.EventConversationID)[0].Text
	msgs, _ := h.store.Messages(context.Background(), convID)
	if len(msgs) == 0 || msgs[0].Role != models.RoleSystem {
		t.Fatalf("first message role = %v, want system", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Content, "read_file") {
		t.Errorf("preamble lacks tool listing")
	}
	// The preamble travels out of band on the request, not as a turn.
	if req := h.provider.requests[0]; req.System == "" || len(req.Messages) == 0 ||
		req.Messages[0].Role != models.RoleUser {
		t.Errorf("request shape = system %d bytes, %d messages", len(req.System), len(req.Messages))
	}
}

func mustRun(t *testing.T, h *loopHarness, convID, text string) <-chan models.Event {
	t.Helper()
	ch, err := h.loop.Run(context.Background(), convID, text)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return ch
}
