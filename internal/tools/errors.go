// Package tools binds the closed tool-call set to resolver implementations
// and dispatches calls through the plugin interception chain. Every failure
// mode of a dispatch ends as a ToolResult; only caller cancellation unwinds.
package tools

import (
	"errors"
	"fmt"
)

// ToolErrorKind classifies a dispatch failure.
type ToolErrorKind string

const (
	// ToolErrorResolution means no resolver is bound for the call's kind.
	ToolErrorResolution ToolErrorKind = "resolution"

	// ToolErrorExecution means the resolver returned an error.
	ToolErrorExecution ToolErrorKind = "execution"

	// ToolErrorTimeout means the resolver ran out of time.
	ToolErrorTimeout ToolErrorKind = "timeout"

	// ToolErrorPanic means the resolver panicked and was recovered.
	ToolErrorPanic ToolErrorKind = "panic"

	// ToolErrorVeto means a plugin refused the call in the before phase.
	ToolErrorVeto ToolErrorKind = "veto"
)

// ToolError describes a failed dispatch.
type ToolError struct {
	Kind    ToolErrorKind
	Tool    string
	CallID  string
	Message string
	Cause   error
}

// NewToolError builds a dispatch error.
func NewToolError(kind ToolErrorKind, tool, message string) *ToolError {
	return &ToolError{Kind: kind, Tool: tool, Message: message}
}

// WithCallID attaches the dispatch call id.
func (e *ToolError) WithCallID(id string) *ToolError {
	e.CallID = id
	return e
}

// WithCause attaches the underlying error.
func (e *ToolError) WithCause(err error) *ToolError {
	e.Cause = err
	return e
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("[tool:%s] %s %s", e.Kind, e.Tool, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Cause }

// AsToolError unwraps err to a ToolError if one is in the chain.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
