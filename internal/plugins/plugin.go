// Package plugins implements the tool-call interception chain. Plugins see
// every dispatch in three phases: before (rewrite or veto), after (rewrite
// the result), and on_error (substitute a result for a failed execution).
package plugins

import (
	"sync/atomic"

	"github.com/adze-dev/adze/pkg/models"
)

// Context carries per-dispatch information to plugin hooks. Values is shared
// scratch space across the phases of a single dispatch.
type Context struct {
	ConversationID string
	CallID         string
	Round          int
	Values         map[string]any
}

// NewContext returns a context for one dispatch.
func NewContext(conversationID, callID string, round int) *Context {
	return &Context{
		ConversationID: conversationID,
		CallID:         callID,
		Round:          round,
		Values:         make(map[string]any),
	}
}

// Plugin intercepts tool dispatch. Hooks run on the conversation goroutine;
// implementations shared across conversations must be safe for concurrent
// use. Returning the call unchanged from Before, or nil from After/OnError,
// means "no opinion".
type Plugin interface {
	Name() string
	Priority() int
	Enabled() bool

	// ShouldProcess gates the whole plugin for this dispatch.
	ShouldProcess(call models.ToolCall, pctx *Context) bool

	// Before may rewrite the call or veto it with an error.
	Before(call models.ToolCall, pctx *Context) (models.ToolCall, error)

	// After may replace the result; nil keeps the current one.
	After(call models.ToolCall, result *models.ToolResult, pctx *Context) *models.ToolResult

	// OnError may substitute a result for a failed execution; the first
	// non-nil answer in chain order wins.
	OnError(call models.ToolCall, err error, pctx *Context) *models.ToolResult
}

// Base supplies no-op hook defaults and the name/priority/enabled plumbing
// so concrete plugins only implement the phases they care about.
type Base struct {
	name     string
	priority int
	disabled int32
}

// NewBase names a plugin and fixes its chain priority.
func NewBase(name string, priority int) Base {
	return Base{name: name, priority: priority}
}

func (b *Base) Name() string  { return b.name }
func (b *Base) Priority() int { return b.priority }

func (b *Base) Enabled() bool { return atomic.LoadInt32(&b.disabled) == 0 }

func (b *Base) SetEnabled(v bool) {
	if v {
		atomic.StoreInt32(&b.disabled, 0)
	} else {
		atomic.StoreInt32(&b.disabled, 1)
	}
}

func (b *Base) ShouldProcess(models.ToolCall, *Context) bool { return true }

func (b *Base) Before(call models.ToolCall, _ *Context) (models.ToolCall, error) {
	return call, nil
}

func (b *Base) After(models.ToolCall, *models.ToolResult, *Context) *models.ToolResult {
	return nil
}

func (b *Base) OnError(models.ToolCall, error, *Context) *models.ToolResult {
	return nil
}
