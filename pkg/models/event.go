package models

// EventKind discriminates the events flowing out of a conversation run.
type EventKind string

const (
	// EventText is a chunk of plain assistant text.
	EventText EventKind = "text"

	// EventThinking is a chunk of reasoning text; never shown as answer text
	// and never a source of tool calls.
	EventThinking EventKind = "thinking"

	// EventToolCall is a fully parsed tool invocation.
	EventToolCall EventKind = "tool_call"

	// EventToolResult is the outcome of a dispatched tool call.
	EventToolResult EventKind = "tool_result"

	// EventCompletion is the final result of the conversation.
	EventCompletion EventKind = "completion"

	// EventPlanResponse is a planning-mode answer that ends the conversation.
	EventPlanResponse EventKind = "plan_response"

	// EventRetry reports a recoverable stream failure about to be retried.
	EventRetry EventKind = "retry"

	// EventError reports a diagnostic that did not stop the stream.
	EventError EventKind = "error"

	// EventTokenUsage carries the token accounting of one LLM turn. Exactly
	// one is emitted per stream, even after malformed output.
	EventTokenUsage EventKind = "token_usage"

	// EventWindowChange reports that pruning shrank the context window.
	EventWindowChange EventKind = "window_change"

	// EventConversationID announces the id of the conversation being run.
	EventConversationID EventKind = "conversation_id"
)

// WindowChange describes one pruning pass.
type WindowChange struct {
	FromMessages int `json:"from_messages"`
	ToMessages   int `json:"to_messages"`
	FromTokens   int `json:"from_tokens"`
	ToTokens     int `json:"to_tokens"`
}

// Event is one entry of a conversation's output stream. Exactly the fields
// implied by Kind are set.
type Event struct {
	Kind    EventKind     `json:"kind"`
	Text    string        `json:"text,omitempty"`
	Call    ToolCall      `json:"-"`
	CallXML string        `json:"call_xml,omitempty"`
	Result  *ToolResult   `json:"result,omitempty"`
	Usage   *TokenUsage   `json:"usage,omitempty"`
	Window  *WindowChange `json:"window,omitempty"`
}

// TextEvent wraps plain assistant text.
func TextEvent(text string) Event {
	return Event{Kind: EventText, Text: text}
}

// ThinkingEvent wraps reasoning text.
func ThinkingEvent(text string) Event {
	return Event{Kind: EventThinking, Text: text}
}

// ToolCallEvent wraps a parsed call together with its canonical wire form.
func ToolCallEvent(call ToolCall, canonical string) Event {
	return Event{Kind: EventToolCall, Call: call, CallXML: canonical}
}

// ToolResultEvent wraps a dispatched result.
func ToolResultEvent(res *ToolResult) Event {
	return Event{Kind: EventToolResult, Result: res}
}

// RetryEvent wraps a truncated diagnostic of a failure about to be retried.
func RetryEvent(diag string) Event {
	return Event{Kind: EventRetry, Text: diag}
}

// ErrorEvent wraps a non-fatal diagnostic.
func ErrorEvent(diag string) Event {
	return Event{Kind: EventError, Text: diag}
}

// UsageEvent wraps the turn's token accounting.
func UsageEvent(u *TokenUsage) Event {
	if u == nil {
		u = &TokenUsage{}
	}
	return Event{Kind: EventTokenUsage, Usage: u}
}

// CompletionEvent wraps the conversation's final result text.
func CompletionEvent(text string) Event {
	return Event{Kind: EventCompletion, Text: text}
}

// PlanResponseEvent wraps a planning-mode answer.
func PlanResponseEvent(text string) Event {
	return Event{Kind: EventPlanResponse, Text: text}
}

// WindowEvent wraps a pruning pass description.
func WindowEvent(w *WindowChange) Event {
	return Event{Kind: EventWindowChange, Window: w}
}

// ConversationIDEvent announces the conversation being run.
func ConversationIDEvent(id string) Event {
	return Event{Kind: EventConversationID, Text: id}
}
