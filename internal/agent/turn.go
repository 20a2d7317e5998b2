package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/adze-dev/adze/internal/llm"
	"github.com/adze-dev/adze/internal/protocol"
	"github.com/adze-dev/adze/pkg/models"
)

// turnResult is what one successfully streamed LLM turn produced: the prose
// buffer, the first tool call (nil for text-only turns) with its canonical
// form, and the turn's token usage when the upstream reported it.
type turnResult struct {
	text    string
	call    models.ToolCall
	callXML string
	usage   *models.TokenUsage
}

// streamTurn opens the model stream and parses it to completion, retrying
// connection-class failures under the configured policy. Parser state is
// discarded before every retry so a replayed stream parses from scratch.
func (l *Loop) streamTurn(ctx context.Context, window []*models.Message, events chan<- models.Event) (*turnResult, error) {
	req := l.buildRequest(window)
	parser := protocol.NewParser()

	for attempt := 0; ; {
		turn, err := l.consumeStream(ctx, parser, req, events)
		if err == nil {
			return turn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !llm.IsConnectionError(err) {
			return nil, err
		}

		parser.Reset()
		attempt++
		l.metrics.RecordRetry()
		if !l.config.Retry.Allows(attempt) {
			events <- models.ErrorEvent("stream retries exhausted: " + truncate(err.Error(), diagnosticLimit))
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, err)
		}
		events <- models.RetryEvent(truncate(err.Error(), diagnosticLimit))
		l.logger.Warn("model stream broken, retrying",
			"attempt", attempt, "error", truncate(err.Error(), diagnosticLimit))
		if werr := l.sleep(ctx, l.config.Retry.Delay(attempt)); werr != nil {
			return nil, werr
		}
	}
}

// buildRequest projects the pruned window onto a provider request. Leading
// system messages travel out of band as the request's system prompt.
func (l *Loop) buildRequest(window []*models.Message) llm.Request {
	var system []string
	i := 0
	for ; i < len(window) && window[i].Role == models.RoleSystem; i++ {
		system = append(system, window[i].Content)
	}
	return llm.Request{
		System:    strings.Join(system, "\n\n"),
		Messages:  llm.MergeTurns(llm.TurnsFromMessages(window[i:])),
		MaxTokens: l.config.MaxTokens,
	}
}

// consumeStream pulls chunks until the terminal one, feeding the parser and
// forwarding its events. The first tool call wins; anything the model emits
// after it stays in the transcript as text.
func (l *Loop) consumeStream(ctx context.Context, parser *protocol.Parser, req llm.Request, events chan<- models.Event) (*turnResult, error) {
	stream, err := l.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	turn := &turnResult{}
	var text strings.Builder
	forward := func(evs []models.Event) {
		for _, ev := range evs {
			switch ev.Kind {
			case models.EventText:
				text.WriteString(ev.Text)
			case models.EventToolCall:
				if turn.call == nil {
					turn.call = ev.Call
					turn.callXML = ev.CallXML
				}
			case models.EventTokenUsage:
				turn.usage = ev.Usage
			}
			events <- ev
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				// Upstream closed without a terminal chunk; flush what
				// we have rather than lose the turn.
				forward(parser.Finish(nil))
				turn.text = text.String()
				return turn, nil
			}
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			if chunk.Text != "" {
				forward(parser.Feed(chunk.Text))
			}
			if chunk.Done {
				forward(parser.Finish(chunk.Usage))
				turn.text = text.String()
				return turn, nil
			}
		}
	}
}

// completionOf re-derives the terminal event of an already-finished
// conversation from its trailing assistant message.
func completionOf(last *models.Message) models.Event {
	p := protocol.NewParser()
	for _, ev := range p.Feed(last.Content) {
		if ev.Kind != models.EventToolCall {
			continue
		}
		switch c := ev.Call.(type) {
		case *models.AttemptCompletion:
			return models.CompletionEvent(c.Result)
		case *models.PlanModeRespond:
			return models.PlanResponseEvent(c.Response)
		}
	}
	return models.CompletionEvent(last.Content)
}
