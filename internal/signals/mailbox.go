// Package signals carries asynchronous updates from background work into a
// running conversation. Producers post; the conversation loop drains once per
// tool-call event and turns whatever arrived into a synthetic user turn.
package signals

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what produced a signal.
type Kind string

const (
	// KindTask is a background command finishing or reporting progress.
	KindTask Kind = "task"
	// KindSubagent is a spawned agent delivering its outcome.
	KindSubagent Kind = "subagent"
	// KindSession is an interactive session emitting output after a detach.
	KindSession Kind = "session"
)

// Status is the outcome a signal reports.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Signal is one update for one conversation.
type Signal struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Kind           Kind   `json:"kind"`
	// Source names what ran: the task label, command, or sub-agent name.
	Source string `json:"source"`
	// TaskID is the producer's handle for the work (process id, child id).
	TaskID string `json:"task_id,omitempty"`
	Status Status `json:"status,omitempty"`
	// ExitCode is set for process-backed work only.
	ExitCode *int          `json:"exit_code,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	// Detail carries truncated output or error tails.
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultCapacity bounds pending signals per conversation.
const DefaultCapacity = 64

// Mailbox holds pending signals keyed by conversation. Posting past capacity
// drops the oldest pending signal so producers never block.
type Mailbox struct {
	mu       sync.Mutex
	capacity int
	pending  map[string][]Signal
	dropped  int64
}

// NewMailbox returns a mailbox with the given per-conversation capacity.
// Non-positive values fall back to DefaultCapacity.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Mailbox{
		capacity: capacity,
		pending:  make(map[string][]Signal),
	}
}

// Post appends a signal to its conversation's queue. A zero CreatedAt is
// stamped with the current time and an empty ID is assigned.
func (m *Mailbox) Post(sig Signal) {
	if sig.ConversationID == "" {
		return
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := append(m.pending[sig.ConversationID], sig)
	if over := len(queue) - m.capacity; over > 0 {
		queue = queue[over:]
		m.dropped += int64(over)
	}
	m.pending[sig.ConversationID] = queue
}

// HasSignals reports whether the conversation has anything pending.
func (m *Mailbox) HasSignals(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[conversationID]) > 0
}

// Drain returns all pending signals for the conversation in post order and
// clears the queue.
func (m *Mailbox) Drain(conversationID string) []Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.pending[conversationID]
	if len(queue) == 0 {
		return nil
	}
	delete(m.pending, conversationID)
	return queue
}

// Pending returns the queue length without draining it.
func (m *Mailbox) Pending(conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[conversationID])
}

// Clear discards everything queued for the conversation.
func (m *Mailbox) Clear(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, conversationID)
}

// Dropped returns how many signals capacity pressure has discarded.
func (m *Mailbox) Dropped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// FormatUserMessage renders drained signals as the synthetic user turn the
// conversation loop appends before yielding back to the model. Each line
// carries the structured outcome; detail tails follow indented.
func FormatUserMessage(sigs []Signal) string {
	if len(sigs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Background updates:\n")
	for _, s := range sigs {
		fmt.Fprintf(&b, "- [%s %s]", s.Kind, s.Source)
		if s.TaskID != "" {
			fmt.Fprintf(&b, " (%s)", s.TaskID)
		}
		if s.Status != "" {
			fmt.Fprintf(&b, " %s", s.Status)
		}
		if s.ExitCode != nil {
			fmt.Fprintf(&b, ", exit %d", *s.ExitCode)
		}
		if s.Duration > 0 {
			fmt.Fprintf(&b, ", %s", s.Duration.Round(time.Millisecond))
		}
		if s.Detail != "" {
			b.WriteString(":\n")
			for _, line := range strings.Split(strings.TrimRight(s.Detail, "\n"), "\n") {
				b.WriteString("  " + line + "\n")
			}
			continue
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
