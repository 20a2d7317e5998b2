package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/adze-dev/adze/internal/observability"
	"github.com/adze-dev/adze/internal/plugins"
	"github.com/adze-dev/adze/pkg/models"
)

// Stats is a point-in-time snapshot of the dispatcher counters. Counters are
// observability only and never feed back into control flow.
type Stats struct {
	Total            int64
	Succeeded        int64
	Failed           int64
	Vetoed           int64
	PluginIntercepts int64
	TotalDuration    time.Duration
}

// Dispatcher runs tool calls: before hooks, resolver lookup, execution with
// panic recovery, then after hooks. Execution failures are offered to the
// chain's on_error phase; whatever remains unhandled becomes a synthesized
// failed result. Only caller cancellation escapes as an error.
type Dispatcher struct {
	registry *Registry
	chain    *plugins.Chain
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewDispatcher wires the dispatcher. metrics may be nil.
func NewDispatcher(registry *Registry, chain *plugins.Chain, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		chain:    chain,
		metrics:  metrics,
		logger:   slog.Default().With("component", "dispatcher"),
	}
}

// Dispatch runs one call end to end. The returned error is non-nil only
// when ctx was cancelled; every other failure mode is folded into the
// result so the loop can persist it.
func (d *Dispatcher) Dispatch(ctx context.Context, call models.ToolCall, pctx *plugins.Context) (*models.ToolResult, error) {
	start := time.Now()
	name := call.Name()
	if pctx.ConversationID != "" {
		ctx = WithConversationID(ctx, pctx.ConversationID)
	}

	result, vetoed := d.run(ctx, call, pctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	result.Duration = elapsed
	result.CallID = pctx.CallID
	if result.Name == "" {
		result.Name = name
	}

	status := "success"
	switch {
	case vetoed:
		status = "vetoed"
	case result.IsError:
		status = "error"
	}

	d.mu.Lock()
	d.stats.Total++
	switch status {
	case "success":
		d.stats.Succeeded++
	case "vetoed":
		d.stats.Vetoed++
	default:
		d.stats.Failed++
	}
	d.stats.TotalDuration += elapsed
	d.stats.PluginIntercepts = d.chain.Intercepted()
	d.mu.Unlock()

	d.metrics.RecordToolDispatch(name, status, elapsed.Seconds())
	d.logger.Debug("tool dispatched",
		"tool", name,
		"call_id", pctx.CallID,
		"status", status,
		"duration_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

func (d *Dispatcher) run(ctx context.Context, call models.ToolCall, pctx *plugins.Context) (*models.ToolResult, bool) {
	name := call.Name()

	rewritten, err := d.chain.RunBefore(call, pctx)
	if err != nil {
		te := NewToolError(ToolErrorVeto, name, "call vetoed").WithCallID(pctx.CallID).WithCause(err)
		return d.chain.RunAfter(call, failedResult(pctx, name, te), pctx), true
	}
	call = rewritten

	var result *models.ToolResult
	resolver, ok := d.registry.Lookup(call)
	if !ok {
		te := NewToolError(ToolErrorResolution, call.Name(), "no resolver bound").WithCallID(pctx.CallID)
		result = failedResult(pctx, call.Name(), te)
	} else {
		execRes, execErr := d.execute(ctx, resolver, call)
		if ctx.Err() != nil {
			return &models.ToolResult{}, false
		}
		switch {
		case execErr != nil:
			if handled := d.chain.RunOnError(call, execErr, pctx); handled != nil {
				result = handled
			} else {
				te := classifyExecError(call.Name(), execErr).WithCallID(pctx.CallID)
				result = failedResult(pctx, call.Name(), te)
			}
		case execRes == nil:
			te := NewToolError(ToolErrorExecution, call.Name(), "resolver returned no result").WithCallID(pctx.CallID)
			result = failedResult(pctx, call.Name(), te)
		default:
			result = execRes
		}
	}

	return d.chain.RunAfter(call, result, pctx), false
}

func (d *Dispatcher) execute(ctx context.Context, r Resolver, call models.ToolCall) (res *models.ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("tool resolver panicked",
				"tool", call.Name(),
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			res = nil
			err = NewToolError(ToolErrorPanic, call.Name(), fmt.Sprintf("resolver panicked: %v", rec))
		}
	}()
	return r.Resolve(ctx, call)
}

// Stats returns a copy of the counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.PluginIntercepts = d.chain.Intercepted()
	return d.stats
}

func classifyExecError(tool string, err error) *ToolError {
	if te, ok := AsToolError(err); ok {
		return te
	}
	kind := ToolErrorExecution
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ToolErrorTimeout
	}
	return NewToolError(kind, tool, "execution failed").WithCause(err)
}

func failedResult(pctx *plugins.Context, name string, err error) *models.ToolResult {
	return &models.ToolResult{
		CallID:  pctx.CallID,
		Name:    name,
		Content: err.Error(),
		IsError: true,
	}
}
