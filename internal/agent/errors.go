package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled reports that the conversation was aborted by its context.
	// It unwinds without a completion event; the transcript stays resumable.
	ErrCancelled = errors.New("conversation cancelled")

	// ErrRetriesExhausted reports that a broken model stream stayed broken
	// through the whole retry budget.
	ErrRetriesExhausted = errors.New("stream retries exhausted")

	// ErrNoProvider reports a loop constructed without a model provider.
	ErrNoProvider = errors.New("no provider configured")
)

// State names the phase a conversation loop is in.
type State string

const (
	StateAwaitingTurn  State = "awaiting_llm_turn"
	StateStreaming     State = "streaming"
	StateExecutingTool State = "executing_tool"
	StateTerminated    State = "terminated"
)

// TerminationReason says why a loop reached StateTerminated.
type TerminationReason string

const (
	ReasonCompleted  TerminationReason = "attempt_completion"
	ReasonPlanned    TerminationReason = "plan_respond"
	ReasonMaxRounds  TerminationReason = "max_rounds_exceeded"
	ReasonCancelled  TerminationReason = "cancelled"
	ReasonError      TerminationReason = "error"
)

// LoopError wraps a failure with the loop position it happened at.
type LoopError struct {
	State State
	Round int
	Err   error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("round %d (%s): %v", e.Round, e.State, e.Err)
}

func (e *LoopError) Unwrap() error { return e.Err }
