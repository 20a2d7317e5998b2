package plugins

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/adze-dev/adze/pkg/models"
)

// Chain holds the registered plugins sorted ascending by priority. Both the
// before and the after phase walk the chain in that same ascending order;
// the ordering is part of the contract plugins are written against, so the
// after phase is deliberately not reversed. OnError also walks ascending and
// stops at the first plugin that supplies a result.
type Chain struct {
	mu      sync.RWMutex
	plugins []Plugin

	disabled    atomic.Bool
	intercepted atomic.Int64

	logger *slog.Logger
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{logger: slog.Default().With("component", "plugins")}
}

// Register adds a plugin and re-sorts the chain. Equal priorities keep
// registration order.
func (c *Chain) Register(p Plugin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plugins = append(c.plugins, p)
	sort.SliceStable(c.plugins, func(i, j int) bool {
		return c.plugins[i].Priority() < c.plugins[j].Priority()
	})
}

// Unregister removes the named plugin. It reports whether one was removed.
func (c *Chain) Unregister(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.plugins {
		if p.Name() == name {
			c.plugins = append(c.plugins[:i], c.plugins[i+1:]...)
			return true
		}
	}
	return false
}

// Plugins returns a snapshot of the chain in execution order.
func (c *Chain) Plugins() []Plugin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Plugin, len(c.plugins))
	copy(out, c.plugins)
	return out
}

// SetDisabled toggles the global bypass. A disabled chain passes every
// dispatch through untouched.
func (c *Chain) SetDisabled(v bool) { c.disabled.Store(v) }

// Disabled reports the global bypass flag.
func (c *Chain) Disabled() bool { return c.disabled.Load() }

// Intercepted returns how many hook invocations have touched a dispatch
// (rewrote a call, replaced a result, or answered an error).
func (c *Chain) Intercepted() int64 { return c.intercepted.Load() }

func (c *Chain) active(call models.ToolCall, pctx *Context) []Plugin {
	if c.disabled.Load() {
		return nil
	}
	all := c.Plugins()
	out := all[:0]
	for _, p := range all {
		if p.Enabled() && p.ShouldProcess(call, pctx) {
			out = append(out, p)
		}
	}
	return out
}

// RunBefore walks the before phase. Each plugin sees the call as rewritten
// by its predecessors. A veto error aborts the dispatch.
func (c *Chain) RunBefore(call models.ToolCall, pctx *Context) (models.ToolCall, error) {
	for _, p := range c.active(call, pctx) {
		rewritten, err := c.safeBefore(p, call, pctx)
		if err != nil {
			c.intercepted.Add(1)
			return nil, err
		}
		if rewritten != nil && rewritten != call {
			c.intercepted.Add(1)
			call = rewritten
		}
	}
	return call, nil
}

// RunAfter walks the after phase in the same ascending order as RunBefore.
// A non-nil return replaces the result handed to the next plugin.
func (c *Chain) RunAfter(call models.ToolCall, result *models.ToolResult, pctx *Context) *models.ToolResult {
	for _, p := range c.active(call, pctx) {
		if replaced := c.safeAfter(p, call, result, pctx); replaced != nil {
			c.intercepted.Add(1)
			result = replaced
		}
	}
	return result
}

// RunOnError offers a failed execution to the chain; the first non-nil
// result wins.
func (c *Chain) RunOnError(call models.ToolCall, err error, pctx *Context) *models.ToolResult {
	for _, p := range c.active(call, pctx) {
		if res := c.safeOnError(p, call, err, pctx); res != nil {
			c.intercepted.Add(1)
			return res
		}
	}
	return nil
}

func (c *Chain) safeBefore(p Plugin, call models.ToolCall, pctx *Context) (out models.ToolCall, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("plugin before hook panicked", "plugin", p.Name(), "panic", r)
			out, err = call, nil
		}
	}()
	return p.Before(call, pctx)
}

func (c *Chain) safeAfter(p Plugin, call models.ToolCall, result *models.ToolResult, pctx *Context) (out *models.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("plugin after hook panicked", "plugin", p.Name(), "panic", r)
			out = nil
		}
	}()
	return p.After(call, result, pctx)
}

func (c *Chain) safeOnError(p Plugin, call models.ToolCall, err error, pctx *Context) (out *models.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("plugin on_error hook panicked", "plugin", p.Name(), "panic", r)
			out = nil
		}
	}()
	return p.OnError(call, err, pctx)
}
