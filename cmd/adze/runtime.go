package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adze-dev/adze/internal/agent"
	"github.com/adze-dev/adze/internal/config"
	"github.com/adze-dev/adze/internal/conversations"
	"github.com/adze-dev/adze/internal/llm"
	"github.com/adze-dev/adze/internal/mcp"
	"github.com/adze-dev/adze/internal/observability"
	"github.com/adze-dev/adze/internal/plugins"
	"github.com/adze-dev/adze/internal/pruner"
	"github.com/adze-dev/adze/internal/rag"
	"github.com/adze-dev/adze/internal/retry"
	"github.com/adze-dev/adze/internal/signals"
	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/internal/tools/agents"
	"github.com/adze-dev/adze/internal/tools/files"
	"github.com/adze-dev/adze/internal/tools/meta"
	"github.com/adze-dev/adze/internal/tools/notes"
	"github.com/adze-dev/adze/internal/tools/shell"
	"github.com/adze-dev/adze/internal/tools/todo"
	"github.com/adze-dev/adze/internal/tools/web"
	"github.com/adze-dev/adze/internal/workspace"
	"github.com/adze-dev/adze/pkg/models"
)

// runtime is everything one agent process wires together.
type runtime struct {
	cfg      *config.Config
	store    conversations.Store
	mailbox  *signals.Mailbox
	registry *tools.Registry
	loop     *agent.Loop
	tracer   *observability.Tracer
	logger   *slog.Logger

	closers []func()
}

// buildRuntime assembles the agent from configuration. The returned runtime
// must be closed to stop the shell manager, MCP subprocesses, and watchers.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		mailbox:  signals.NewMailbox(0),
		registry: tools.NewRegistry(),
		logger:   slog.Default().With("component", "runtime"),
	}

	ws, err := workspace.New(cfg.Workspace.Root, cfg.Workspace.Ignore)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	stateDir := cfg.Workspace.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(ws.Root(), ".adze")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}

	if err := rt.buildStore(stateDir); err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		rt.serveMetrics(cfg.MetricsAddr)
	}

	tracer, shutdownTracer, err := observability.NewTracer(context.Background(), observability.TraceConfig{
		ServiceName:    "adze",
		ServiceVersion: version,
		Endpoint:       cfg.TraceEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	rt.tracer = tracer
	rt.closers = append(rt.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	})

	chain := plugins.NewChain()
	if !cfg.Plugins.DisableShellguard {
		chain.Register(plugins.NewShellGuard(10))
	}
	if !cfg.Plugins.DisableRedact {
		chain.Register(plugins.NewRedact(90, cfg.Plugins.RedactPatterns))
	}
	chain.SetDisabled(cfg.Plugins.Disabled)

	dispatcher := tools.NewDispatcher(rt.registry, chain, metrics)

	provider, err := llm.New(llm.Config{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.Model,
		APIKey:    os.Getenv(cfg.LLM.APIKeyEnv),
		BaseURL:   cfg.LLM.BaseURL,
		MaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	if err := rt.bindTools(ws, stateDir); err != nil {
		return nil, err
	}

	backoff := time.Duration(cfg.Agent.RetryBackoffSeconds) * time.Second
	loop, err := agent.New(provider, rt.store, dispatcher, rt.mailbox,
		pruner.New(pruner.DefaultConfig()), metrics, agent.Config{
			MaxRounds:   cfg.Agent.MaxRounds,
			TokenBudget: cfg.Agent.TokenBudget,
			MaxTokens:   cfg.LLM.MaxTokens,
			Retry: retry.Policy{
				MaxRetries:   cfg.Agent.RetryBudget,
				InitialDelay: backoff,
				MaxDelay:     backoff,
				Factor:       1.0,
			},
			Preamble: agent.Preamble(ws.Root(), rt.registry.Names()),
		})
	if err != nil {
		return nil, err
	}
	rt.loop = loop

	// run_subagents binds last: its runner is the loop itself, driving a
	// restricted child conversation per task.
	spawner := agents.NewSpawner(agents.RunnerFunc(rt.runSubtask), rt.mailbox, agents.Config{
		MaxWorkers: cfg.Agent.SubagentWorkers,
	}, slog.Default())
	rt.closers = append(rt.closers, spawner.Close)
	agents.New(spawner).Register(rt.registry)

	return rt, nil
}

func (rt *runtime) buildStore(stateDir string) error {
	switch strings.ToLower(rt.cfg.Store.Driver) {
	case "sqlite":
		path := rt.cfg.Store.Path
		if path == "" {
			path = filepath.Join(stateDir, "conversations.db")
		}
		store, err := conversations.NewSQLiteStore(&conversations.SQLiteConfig{
			Path:        path,
			BusyTimeout: 5 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("sqlite store: %w", err)
		}
		rt.store = store
		rt.closers = append(rt.closers, func() { _ = store.Close() })
	default:
		rt.store = conversations.NewMemoryStore()
	}
	return nil
}

func (rt *runtime) bindTools(ws *workspace.Workspace, stateDir string) error {
	cfg := rt.cfg

	files.New(ws, files.DefaultConfig()).Register(rt.registry)

	shellCfg := shell.DefaultConfig()
	if cfg.Workspace.CommandTimeoutSeconds > 0 {
		shellCfg.DefaultTimeout = time.Duration(cfg.Workspace.CommandTimeoutSeconds) * time.Second
	}
	shellMgr := shell.NewManager(ws, rt.mailbox, shellCfg)
	rt.closers = append(rt.closers, shellMgr.Close)
	shell.New(shellMgr).Register(rt.registry)

	web.New(web.Config{
		Search: web.SearchConfig{
			DefaultBackend: web.Backend(cfg.Web.SearchBackend),
			SearXNGURL:     cfg.Web.SearXNGURL,
			BraveAPIKey:    os.Getenv(cfg.Web.BraveAPIKeyEnv),
			MaxResults:     cfg.Web.MaxResults,
		},
		Crawl: web.CrawlConfig{Providers: crawlProviders(cfg.Web.CrawlProviders)},
	}).Register(rt.registry)

	noteStore, err := notes.NewStore(filepath.Join(stateDir, "notes"))
	if err != nil {
		return fmt.Errorf("notes: %w", err)
	}
	if err := noteStore.Watch(context.Background()); err != nil {
		rt.logger.Warn("notes watcher unavailable", "error", err)
	}
	rt.closers = append(rt.closers, func() { _ = noteStore.Close() })
	notes.New(noteStore).Register(rt.registry)

	todoStore, err := todo.NewStore(filepath.Join(stateDir, "todo.json"))
	if err != nil {
		return fmt.Errorf("todo: %w", err)
	}
	todo.New(todoStore).Register(rt.registry)

	meta.New(rt.store, ws, meta.WithAsker(newTerminalAsker())).Register(rt.registry)

	mcpMgr, err := mcp.NewManager(mcpServers(cfg.MCP.Servers), slog.Default())
	if err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	rt.closers = append(rt.closers, mcpMgr.Close)
	mcp.NewService(mcpMgr).Register(rt.registry)

	rag.NewService(rag.NewClient(rag.Config{
		BaseURL:    cfg.RAG.BaseURL,
		APIKey:     os.Getenv(cfg.RAG.APIKeyEnv),
		MaxResults: cfg.RAG.MaxResults,
	})).Register(rt.registry)

	return nil
}

// runSubtask drives one run_subagents child to completion and returns its
// final result text.
func (rt *runtime) runSubtask(ctx context.Context, name, task string) (string, error) {
	events, err := rt.loop.Run(ctx, "", task)
	if err != nil {
		return "", err
	}
	var result, lastErr string
	for ev := range events {
		switch ev.Kind {
		case models.EventCompletion, models.EventPlanResponse:
			result = ev.Text
		case models.EventError:
			lastErr = ev.Text
		}
	}
	if result == "" && lastErr != "" {
		return "", fmt.Errorf("subagent %s: %s", name, lastErr)
	}
	return result, nil
}

func (rt *runtime) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rt.logger.Error("metrics server failed", "error", err)
		}
	}()
	rt.closers = append(rt.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

// Close tears down background machinery in reverse wiring order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func crawlProviders(entries []config.CrawlProviderConfig) []web.Provider {
	out := make([]web.Provider, 0, len(entries))
	for _, e := range entries {
		out = append(out, web.Provider{
			Name:    e.Name,
			BaseURL: e.Endpoint,
			APIKey:  os.Getenv(e.APIKeyEnv),
		})
	}
	return out
}

func mcpServers(entries []config.MCPServerConfig) []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(entries))
	for _, e := range entries {
		out = append(out, mcp.ServerConfig{
			Name:    e.Name,
			Command: e.Command,
			Args:    e.Args,
			Env:     e.Env,
			WorkDir: e.WorkDir,
			Timeout: time.Duration(e.TimeoutSeconds) * time.Second,
		})
	}
	return out
}
