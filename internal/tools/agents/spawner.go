// Package agents implements the run_subagents tool: a batch of named child
// tasks dispatched onto a bounded worker pool. The batch call returns
// immediately; each child's outcome arrives later through the signal mailbox.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adze-dev/adze/internal/signals"
	"github.com/adze-dev/adze/pkg/models"
)

// Runner drives one child task to completion and returns its final result
// text. The conversation loop provides the real implementation.
type Runner interface {
	RunTask(ctx context.Context, name, task string) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, name, task string) (string, error)

// RunTask calls the function.
func (f RunnerFunc) RunTask(ctx context.Context, name, task string) (string, error) {
	return f(ctx, name, task)
}

// Config tunes the spawner.
type Config struct {
	// MaxWorkers bounds how many children run at once. Batches larger than
	// this queue behind the pool.
	MaxWorkers int
	// TaskTimeout caps each child's runtime.
	TaskTimeout time.Duration
	// ResultTailBytes bounds how much of a child's result is carried in its
	// completion signal.
	ResultTailBytes int
}

const (
	defaultMaxWorkers      = 5
	defaultTaskTimeout     = 10 * time.Minute
	defaultResultTailBytes = 2000
)

type child struct {
	id             string
	name           string
	conversationID string
	cancel         context.CancelFunc
}

// Spawner runs sub-agent batches. Children run on background-derived
// contexts so they survive the dispatch that started them; teardown is
// explicit via CloseConversation and Close.
type Spawner struct {
	runner  Runner
	mailbox *signals.Mailbox
	cfg     Config
	logger  *slog.Logger
	sem     chan struct{}

	mu       sync.Mutex
	children map[string]*child
	wg       sync.WaitGroup
}

// NewSpawner creates a spawner over the given runner and mailbox.
func NewSpawner(runner Runner, mailbox *signals.Mailbox, cfg Config, logger *slog.Logger) *Spawner {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.ResultTailBytes <= 0 {
		cfg.ResultTailBytes = defaultResultTailBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Spawner{
		runner:   runner,
		mailbox:  mailbox,
		cfg:      cfg,
		logger:   logger.With("component", "agents"),
		sem:      make(chan struct{}, cfg.MaxWorkers),
		children: make(map[string]*child),
	}
}

// Dispatch queues every entry of the batch and returns the assigned child ids
// in batch order. Entries with no name get a positional one.
func (s *Spawner) Dispatch(conversationID string, specs []models.SubagentSpec) ([]string, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}
	for i, spec := range specs {
		if spec.Task == "" {
			return nil, fmt.Errorf("agent %d has no task", i)
		}
	}

	ids := make([]string, 0, len(specs))
	for i, spec := range specs {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("agent-%d", i+1)
		}
		ctx, cancel := context.WithCancel(context.Background())
		c := &child{
			id:             uuid.NewString(),
			name:           name,
			conversationID: conversationID,
			cancel:         cancel,
		}
		s.mu.Lock()
		s.children[c.id] = c
		s.mu.Unlock()
		ids = append(ids, c.id)

		s.wg.Add(1)
		go s.run(ctx, c, spec.Task)
	}
	return ids, nil
}

func (s *Spawner) run(ctx context.Context, c *child, task string) {
	defer s.wg.Done()
	defer s.remove(c.id)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.report(c, "", ctx.Err(), 0)
		return
	}
	defer func() { <-s.sem }()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()

	started := time.Now()
	result, err := s.runner.RunTask(runCtx, c.name, task)
	s.report(c, result, err, time.Since(started))
}

func (s *Spawner) report(c *child, result string, err error, took time.Duration) {
	status := signals.StatusSucceeded
	var detail string
	if err != nil {
		status = signals.StatusFailed
		detail = tailOf(err.Error(), s.cfg.ResultTailBytes)
		s.logger.Warn("sub-agent failed", "id", c.id, "name", c.name, "error", err)
	} else {
		detail = tailOf(result, s.cfg.ResultTailBytes)
		s.logger.Info("sub-agent completed", "id", c.id, "name", c.name, "took", took)
	}
	s.mailbox.Post(signals.Signal{
		ConversationID: c.conversationID,
		Kind:           signals.KindSubagent,
		Source:         c.name,
		TaskID:         c.id,
		Status:         status,
		Duration:       took,
		Detail:         detail,
	})
}

func (s *Spawner) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.children, id)
}

// Active returns how many children have been dispatched and not yet finished.
func (s *Spawner) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// CloseConversation cancels every child still running for the conversation.
func (s *Spawner) CloseConversation(conversationID string) {
	s.mu.Lock()
	var doomed []*child
	for _, c := range s.children {
		if c.conversationID == conversationID {
			doomed = append(doomed, c)
		}
	}
	s.mu.Unlock()
	for _, c := range doomed {
		c.cancel()
	}
}

// Close cancels all children and waits for them to finish reporting.
func (s *Spawner) Close() {
	s.mu.Lock()
	for _, c := range s.children {
		c.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
