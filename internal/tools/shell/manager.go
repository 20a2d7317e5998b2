// Package shell implements the command tools: synchronous execution,
// interactive sessions and background tasks whose completion flows into the
// conversation through the signal mailbox.
package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/adze-dev/adze/internal/signals"
	"github.com/adze-dev/adze/internal/workspace"
)

// Config controls shell tool defaults.
type Config struct {
	DefaultTimeout time.Duration
	MaxOutputBytes int
	// SettleDelay is how long session reads wait for output to land.
	SettleDelay time.Duration
	// StopGrace is how long a stopped session gets between SIGTERM and kill.
	StopGrace time.Duration
	// Retention is how long finished processes stay visible to the janitor.
	Retention time.Duration
	// JanitorSpec is the cron schedule for sweeping finished processes.
	JanitorSpec string
}

// DefaultConfig returns the default shell configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 60 * time.Second,
		MaxOutputBytes: 64000,
		SettleDelay:    500 * time.Millisecond,
		StopGrace:      2 * time.Second,
		Retention:      30 * time.Minute,
		JanitorSpec:    "@every 5m",
	}
}

const (
	kindSession = "session"
	kindTask    = "task"
)

// Manager tracks interactive sessions and background tasks.
type Manager struct {
	mu    sync.Mutex
	procs map[string]*proc

	ws      *workspace.Workspace
	mailbox *signals.Mailbox
	cfg     Config
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewManager creates a process manager scoped to the workspace. Finished
// processes are swept on the configured janitor schedule.
func NewManager(ws *workspace.Workspace, mailbox *signals.Mailbox, cfg Config) *Manager {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 64000
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 2 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * time.Minute
	}

	m := &Manager{
		procs:   map[string]*proc{},
		ws:      ws,
		mailbox: mailbox,
		cfg:     cfg,
		logger:  slog.Default().With("component", "shell"),
	}
	if cfg.JanitorSpec != "" {
		m.cron = cron.New()
		if _, err := m.cron.AddFunc(cfg.JanitorSpec, m.sweep); err != nil {
			m.logger.Warn("invalid janitor schedule, sweeping disabled", "spec", cfg.JanitorSpec, "error", err)
			m.cron = nil
		} else {
			m.cron.Start()
		}
	}
	return m
}

type proc struct {
	id             string
	kind           string
	label          string
	command        string
	conversationID string

	cmd    *exec.Cmd
	output *limitedBuffer
	stdin  io.WriteCloser
	cancel context.CancelFunc

	started  time.Time
	done     chan struct{}
	exitCode int
	err      error

	// cursor marks how much output session reads have consumed. Guarded
	// by Manager.mu.
	cursor int
	// finished is set when done closes. Guarded by Manager.mu.
	finished time.Time
}

func (p *proc) running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExecResult summarizes a synchronous command run.
type ExecResult struct {
	Command  string
	Output   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// RunCommand executes a command synchronously in the workspace root.
func (m *Manager) RunCommand(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	if strings.TrimSpace(command) == "" {
		return ExecResult{}, fmt.Errorf("command is required")
	}
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output := newLimitedBuffer(m.cfg.MaxOutputBytes)
	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = m.ws.Root()
	cmd.Env = os.Environ()
	cmd.Stdout = output
	cmd.Stderr = output

	start := time.Now()
	err := cmd.Run()
	result := ExecResult{
		Command:  command,
		Output:   output.String(),
		ExitCode: exitCode(err),
		Duration: time.Since(start),
		TimedOut: runCtx.Err() == context.DeadlineExceeded,
	}
	if err != nil && ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// StartSession launches an interactive command with an open stdin pipe and
// returns its id with whatever output arrived during the settle window.
func (m *Manager) StartSession(ctx context.Context, conversationID, command string) (string, string, error) {
	p, err := m.start(kindSession, conversationID, command, "")
	if err != nil {
		return "", "", err
	}
	m.settle(ctx)
	out, _ := m.consume(p)
	return p.id, out, nil
}

// Interact writes a line to the session's stdin and returns output produced
// since the previous read.
func (m *Manager) Interact(ctx context.Context, sessionID, input string) (string, bool, error) {
	p, ok := m.get(sessionID)
	if !ok || p.kind != kindSession {
		return "", false, fmt.Errorf("no session %s", sessionID)
	}
	if p.running() && input != "" {
		if !strings.HasSuffix(input, "\n") {
			input += "\n"
		}
		if _, err := io.WriteString(p.stdin, input); err != nil {
			return "", false, fmt.Errorf("write to session: %w", err)
		}
	}
	m.settle(ctx)
	out, _ := m.consume(p)
	return out, p.running(), nil
}

// StopSession terminates a session, waiting StopGrace between SIGTERM and a
// hard kill, and returns the unread output with the exit code.
func (m *Manager) StopSession(sessionID string) (string, int, error) {
	p, ok := m.get(sessionID)
	if !ok || p.kind != kindSession {
		return "", 0, fmt.Errorf("no session %s", sessionID)
	}

	if p.running() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(os.Interrupt)
		}
		select {
		case <-p.done:
		case <-time.After(m.cfg.StopGrace):
			p.cancel()
			<-p.done
		}
	}

	out, _ := m.consume(p)
	m.remove(sessionID)
	return out, p.exitCode, nil
}

// StartTask launches a detached command. Completion is posted to the
// conversation's mailbox instead of being returned.
func (m *Manager) StartTask(conversationID, command, label string) (string, error) {
	p, err := m.start(kindTask, conversationID, command, label)
	if err != nil {
		return "", err
	}

	go func() {
		<-p.done
		source := p.label
		if source == "" {
			source = p.command
		}
		m.mu.Lock()
		exit := p.exitCode
		took := p.finished.Sub(p.started)
		m.mu.Unlock()
		status := signals.StatusSucceeded
		if exit != 0 {
			status = signals.StatusFailed
		}
		m.mailbox.Post(signals.Signal{
			ConversationID: p.conversationID,
			Kind:           signals.KindTask,
			Source:         source,
			TaskID:         p.id,
			Status:         status,
			ExitCode:       &exit,
			Duration:       took,
			Detail:         tailOf(p.output.String(), 2000),
		})
	}()
	return p.id, nil
}

// Sessions returns the ids of live sessions for a conversation.
func (m *Manager) Sessions(conversationID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, p := range m.procs {
		if p.kind == kindSession && p.conversationID == conversationID {
			out = append(out, id)
		}
	}
	return out
}

// CloseConversation kills every process belonging to the conversation.
func (m *Manager) CloseConversation(conversationID string) {
	m.mu.Lock()
	var doomed []*proc
	for _, p := range m.procs {
		if p.conversationID == conversationID {
			doomed = append(doomed, p)
		}
	}
	m.mu.Unlock()

	for _, p := range doomed {
		p.cancel()
		<-p.done
		m.remove(p.id)
	}
}

// Close stops the janitor and kills everything still running.
func (m *Manager) Close() {
	if m.cron != nil {
		m.cron.Stop()
	}
	m.mu.Lock()
	all := make([]*proc, 0, len(m.procs))
	for _, p := range m.procs {
		all = append(all, p)
	}
	m.procs = map[string]*proc{}
	m.mu.Unlock()

	for _, p := range all {
		p.cancel()
		<-p.done
	}
}

func (m *Manager) start(kind, conversationID, command, label string) (*proc, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command is required")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	output := newLimitedBuffer(m.cfg.MaxOutputBytes)
	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = m.ws.Root()
	cmd.Env = os.Environ()
	cmd.Stdout = output
	cmd.Stderr = output

	var stdin io.WriteCloser
	if kind == kindSession {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		stdin = pipe
	}

	p := &proc{
		id:             uuid.NewString(),
		kind:           kind,
		label:          label,
		command:        command,
		conversationID: conversationID,
		cmd:            cmd,
		output:         output,
		stdin:          stdin,
		cancel:         cancel,
		started:        time.Now(),
		done:           make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		cancel()
		if stdin != nil {
			_ = stdin.Close()
		}
		return nil, fmt.Errorf("start command: %w", err)
	}

	go func() {
		err := cmd.Wait()
		m.mu.Lock()
		p.exitCode = exitCode(err)
		p.err = err
		p.finished = time.Now()
		m.mu.Unlock()
		close(p.done)
		cancel()
		if stdin != nil {
			_ = stdin.Close()
		}
	}()

	m.mu.Lock()
	m.procs[p.id] = p
	m.mu.Unlock()
	return p, nil
}

func (m *Manager) get(id string) (*proc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[id]
	return p, ok
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, id)
}

// consume returns output past the session cursor and advances it.
func (m *Manager) consume(p *proc) (string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, next := p.output.Since(p.cursor)
	p.cursor = next
	return out, next
}

func (m *Manager) settle(ctx context.Context) {
	timer := time.NewTimer(m.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// sweep removes finished processes past the retention window.
func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.cfg.Retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.procs {
		if !p.running() && !p.finished.IsZero() && p.finished.Before(cutoff) {
			delete(m.procs, id)
		}
	}
}

func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Since returns bytes after offset and the new end position.
func (b *limitedBuffer) Since(offset int) (string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset > len(b.buf) {
		offset = len(b.buf)
	}
	return string(b.buf[offset:]), len(b.buf)
}
