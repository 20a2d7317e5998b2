// Package agent drives the conversation loop: prompt the model, parse the
// streamed reply, dispatch the tool call it contains, persist both sides,
// and go again until an explicit completion, the round limit, cancellation,
// or a fatal error.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adze-dev/adze/internal/conversations"
	"github.com/adze-dev/adze/internal/llm"
	"github.com/adze-dev/adze/internal/observability"
	"github.com/adze-dev/adze/internal/plugins"
	"github.com/adze-dev/adze/internal/protocol"
	"github.com/adze-dev/adze/internal/pruner"
	"github.com/adze-dev/adze/internal/retry"
	"github.com/adze-dev/adze/internal/signals"
	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/pkg/models"
)

const (
	// eventBufferSize keeps the loop from stalling on a slow event consumer.
	eventBufferSize = 64

	// diagnosticLimit caps the failure text carried on retry/error events.
	diagnosticLimit = 300
)

// toolUseReminder is appended as a user turn when the model replies with
// prose only. The loop never lets a turn end without a tool call or an
// explicit completion.
const toolUseReminder = "You responded without using a tool. Every reply must " +
	"either invoke exactly one tool or finish the task with attempt_completion " +
	"(or plan_mode_respond when planning). Continue with the next step now."

// Config tunes one conversation loop.
type Config struct {
	// MaxRounds bounds the number of LLM turns before the loop forces a
	// synthetic completion. The loop never opens more than MaxRounds+1
	// streams.
	MaxRounds int

	// TokenBudget is the estimated-token ceiling handed to the pruner
	// before each turn.
	TokenBudget int

	// MaxTokens bounds each model generation; zero keeps the provider
	// default.
	MaxTokens int

	// Retry governs recovery of broken model streams. MaxRetries of -1
	// retries without limit.
	Retry retry.Policy

	// Preamble is the system prompt seeded into a fresh conversation.
	Preamble string
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		MaxRounds:   25,
		TokenBudget: 64000,
		Retry:       retry.StreamDefaults(),
	}
}

// Loop owns one conversation at a time. A single goroutine drives each run;
// everything concurrent lives behind the mailbox and the tool services.
type Loop struct {
	provider   llm.Provider
	store      conversations.Store
	dispatcher *tools.Dispatcher
	mailbox    *signals.Mailbox
	pruner     pruner.Pruner
	metrics    *observability.Metrics
	config     Config
	logger     *slog.Logger

	// sleep is retry.Wait unless a test injects its own clock.
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires a conversation loop. mailbox, pruner and metrics may be nil;
// provider, store and dispatcher are required.
func New(provider llm.Provider, store conversations.Store, dispatcher *tools.Dispatcher, mailbox *signals.Mailbox, prn pruner.Pruner, metrics *observability.Metrics, cfg Config) (*Loop, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("tool dispatcher is required")
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultConfig().MaxRounds
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultConfig().TokenBudget
	}
	return &Loop{
		provider:   provider,
		store:      store,
		dispatcher: dispatcher,
		mailbox:    mailbox,
		pruner:     prn,
		metrics:    metrics,
		config:     cfg,
		logger:     slog.Default().With("component", "agent"),
		sleep:      retry.Wait,
	}, nil
}

// Run starts (or resumes) a conversation and streams its events. The channel
// closes when the loop terminates. A cancelled context unwinds without a
// completion event; the transcript stays resumable.
func (l *Loop) Run(ctx context.Context, conversationID, userText string) (<-chan models.Event, error) {
	conv, err := l.ensureConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	events := make(chan models.Event, eventBufferSize)
	go func() {
		defer close(events)
		events <- models.ConversationIDEvent(conv.ID)
		if err := l.run(ctx, conv.ID, userText, events); err != nil {
			if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
				l.logger.Info("conversation cancelled", "conversation_id", conv.ID)
				l.metrics.RecordConversationEnd(string(ReasonCancelled))
				return
			}
			l.logger.Error("conversation failed", "conversation_id", conv.ID, "error", err)
			l.metrics.RecordConversationEnd(string(ReasonError))
			events <- models.ErrorEvent(truncate(err.Error(), diagnosticLimit))
		}
	}()
	return events, nil
}

func (l *Loop) ensureConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if id != "" {
		conv, err := l.store.GetConversation(ctx, id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, conversations.ErrNotFound) {
			return nil, err
		}
	}
	conv := &models.Conversation{ID: id}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if err := l.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (l *Loop) run(ctx context.Context, convID, userText string, events chan<- models.Event) error {
	if err := l.seed(ctx, convID, userText); err != nil {
		return err
	}

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return &LoopError{State: StateAwaitingTurn, Round: round, Err: ErrCancelled}
		}

		// A trailing assistant message means the conversation already
		// ended; re-emit its completion instead of prompting again.
		last, err := l.store.LastMessage(ctx, convID)
		if err != nil && !errors.Is(err, conversations.ErrNotFound) {
			return &LoopError{State: StateAwaitingTurn, Round: round, Err: err}
		}
		if last != nil && last.Role == models.RoleAssistant {
			events <- completionOf(last)
			l.metrics.RecordConversationEnd(string(ReasonCompleted))
			return nil
		}

		window, err := l.window(ctx, convID, events)
		if err != nil {
			return &LoopError{State: StateAwaitingTurn, Round: round, Err: err}
		}

		if round > l.config.MaxRounds {
			return l.finishMaxRounds(ctx, convID, events)
		}

		turn, err := l.streamTurn(ctx, window, events)
		if err != nil {
			if ctx.Err() != nil {
				return &LoopError{State: StateStreaming, Round: round, Err: ErrCancelled}
			}
			return &LoopError{State: StateStreaming, Round: round, Err: err}
		}

		if turn.call == nil {
			if err := l.finishTextOnlyTurn(ctx, convID, turn); err != nil {
				return &LoopError{State: StateStreaming, Round: round, Err: err}
			}
			continue
		}

		// Background work that finished during the turn preempts the
		// call: the summary becomes a user turn and the model replans
		// with it next round.
		if l.mailbox != nil && l.mailbox.HasSignals(convID) {
			sigs := l.mailbox.Drain(convID)
			l.logger.Debug("turn preempted by background signals",
				"conversation_id", convID, "signals", len(sigs))
			if err := l.append(ctx, convID, models.RoleUser, signals.FormatUserMessage(sigs)); err != nil {
				return &LoopError{State: StateStreaming, Round: round, Err: err}
			}
			continue
		}

		msgID, err := l.persistAssistantTurn(ctx, convID, turn)
		if err != nil {
			return &LoopError{State: StateStreaming, Round: round, Err: err}
		}
		l.recordUsage(convID, msgID, turn.usage)

		if models.Terminal(turn.call) {
			return l.finishTerminal(turn.call, events)
		}

		if err := ctx.Err(); err != nil {
			return &LoopError{State: StateExecutingTool, Round: round, Err: ErrCancelled}
		}
		pctx := plugins.NewContext(convID, uuid.NewString(), round)
		result, err := l.dispatcher.Dispatch(ctx, turn.call, pctx)
		if err != nil {
			return &LoopError{State: StateExecutingTool, Round: round, Err: ErrCancelled}
		}
		events <- models.ToolResultEvent(result)
		if err := l.append(ctx, convID, models.RoleUser, renderToolResult(result)); err != nil {
			return &LoopError{State: StateExecutingTool, Round: round, Err: err}
		}
	}
}

// seed persists the system preamble on a fresh conversation and the user's
// opening (or follow-up) message.
func (l *Loop) seed(ctx context.Context, convID, userText string) error {
	msgs, err := l.store.Messages(ctx, convID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 && l.config.Preamble != "" {
		if err := l.append(ctx, convID, models.RoleSystem, l.config.Preamble); err != nil {
			return err
		}
	}
	if strings.TrimSpace(userText) != "" {
		return l.append(ctx, convID, models.RoleUser, userText)
	}
	return nil
}

// window prunes the transcript to the token budget, reporting shrinkage.
func (l *Loop) window(ctx context.Context, convID string, events chan<- models.Event) ([]*models.Message, error) {
	msgs, err := l.store.Messages(ctx, convID)
	if err != nil {
		return nil, err
	}
	if l.pruner == nil {
		return msgs, nil
	}
	pruned, change := l.pruner.Prune(msgs, l.config.TokenBudget, l.pinned(ctx, convID))
	if change != nil {
		events <- models.WindowEvent(change)
		l.metrics.RecordPruned(change.FromMessages - change.ToMessages)
		l.logger.Info("history pruned",
			"conversation_id", convID,
			"from_messages", change.FromMessages,
			"to_messages", change.ToMessages,
		)
	}
	return pruned, nil
}

// pinned returns the message ids the agent bookmarked against pruning.
func (l *Loop) pinned(ctx context.Context, convID string) map[string]struct{} {
	marks, err := l.store.Bookmarks(ctx, convID)
	if err != nil {
		return nil
	}
	value, ok := marks[conversations.BookmarkPinnedIDs]
	if !ok {
		return nil
	}
	return conversations.ParsePinnedIDs(value)
}

func (l *Loop) finishMaxRounds(ctx context.Context, convID string, events chan<- models.Event) error {
	text := fmt.Sprintf("Stopping: reached the limit of %d rounds without an explicit completion.", l.config.MaxRounds)
	call := &models.AttemptCompletion{Result: text}
	if err := l.append(ctx, convID, models.RoleAssistant, protocol.Canonical(call)); err != nil {
		return err
	}
	events <- models.CompletionEvent(text)
	l.metrics.RecordConversationEnd(string(ReasonMaxRounds))
	return nil
}

// finishTextOnlyTurn persists a prose-only reply and nudges the model back
// toward tool use.
func (l *Loop) finishTextOnlyTurn(ctx context.Context, convID string, turn *turnResult) error {
	if strings.TrimSpace(turn.text) != "" {
		msg := &models.Message{Role: models.RoleAssistant, Content: turn.text}
		if err := l.store.AppendMessage(ctx, convID, msg); err != nil {
			return err
		}
		l.recordUsage(convID, msg.ID, turn.usage)
	}
	return l.append(ctx, convID, models.RoleUser, toolUseReminder)
}

func (l *Loop) finishTerminal(call models.ToolCall, events chan<- models.Event) error {
	switch c := call.(type) {
	case *models.AttemptCompletion:
		events <- models.CompletionEvent(c.Result)
		l.metrics.RecordConversationEnd(string(ReasonCompleted))
	case *models.PlanModeRespond:
		events <- models.PlanResponseEvent(c.Response)
		l.metrics.RecordConversationEnd(string(ReasonPlanned))
	}
	return nil
}

func (l *Loop) persistAssistantTurn(ctx context.Context, convID string, turn *turnResult) (string, error) {
	msg := &models.Message{
		Role:    models.RoleAssistant,
		Content: joinAssistant(turn.text, turn.callXML),
	}
	if err := l.store.AppendMessage(ctx, convID, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// recordUsage back-fills turn usage onto the persisted assistant message.
// The store enforces the once-only contract; a duplicate back-fill after an
// assistant merge is logged and dropped.
func (l *Loop) recordUsage(convID, msgID string, usage *models.TokenUsage) {
	if usage == nil || usage.Total() == 0 || msgID == "" {
		return
	}
	l.metrics.RecordLLMRequest(l.provider.Name(), "success",
		usage.InputTokens, usage.OutputTokens, usage.CacheReadTokens)
	if err := l.store.UpdateUsage(context.Background(), convID, msgID, usage); err != nil {
		l.logger.Warn("usage back-fill skipped",
			"conversation_id", convID, "message_id", msgID, "error", err)
	}
}

func (l *Loop) append(ctx context.Context, convID string, role models.Role, content string) error {
	return l.store.AppendMessage(ctx, convID, &models.Message{Role: role, Content: content})
}

// joinAssistant combines buffered prose with the canonical tool-call XML
// into one assistant message body.
func joinAssistant(text, callXML string) string {
	text = strings.TrimSpace(text)
	callXML = strings.TrimSpace(callXML)
	switch {
	case text == "":
		return callXML
	case callXML == "":
		return text
	default:
		return text + "\n\n" + callXML
	}
}

// renderToolResult wraps a dispatched result for the user turn that carries
// it back to the model.
func renderToolResult(res *models.ToolResult) string {
	status := "success"
	if res.IsError {
		status = "error"
	}
	content := strings.TrimRight(res.Content, "\n")
	if content == "" {
		content = "(no output)"
	}
	return fmt.Sprintf("<tool_result tool=%q status=%q>\n%s\n</tool_result>", res.Name, status, content)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
