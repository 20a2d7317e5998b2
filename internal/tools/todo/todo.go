// Package todo implements the task-list tools backed by a JSON file. Writes
// either replace the list or merge into it by item id.
package todo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/pkg/models"
)

// Valid item statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Store persists the task list as a JSON file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store writing to path. Parent directories are created on
// first save.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("todo file path is required")
	}
	return &Store{path: path}, nil
}

// Load returns the current items; a missing file is an empty list.
func (s *Store) Load() ([]models.TodoItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() ([]models.TodoItem, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read todo file: %w", err)
	}
	var items []models.TodoItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse todo file: %w", err)
	}
	return items, nil
}

func (s *Store) save(items []models.TodoItem) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create todo directory: %w", err)
	}
	raw, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode todo file: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write todo file: %w", err)
	}
	return nil
}

// Replace overwrites the list with the given items.
func (s *Store) Replace(items []models.TodoItem) ([]models.TodoItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized, err := normalize(items, nil)
	if err != nil {
		return nil, err
	}
	if err := s.save(normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// Merge folds the given items into the existing list: matching ids update in
// place, unmatched ids append in input order.
func (s *Store) Merge(items []models.TodoItem) ([]models.TodoItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return nil, err
	}

	incoming, err := normalize(items, existing)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(existing))
	for i, item := range existing {
		index[item.ID] = i
	}
	merged := append([]models.TodoItem(nil), existing...)
	for _, item := range incoming {
		if i, ok := index[item.ID]; ok {
			merged[i] = item
			continue
		}
		index[item.ID] = len(merged)
		merged = append(merged, item)
	}

	if err := s.save(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// normalize validates statuses and assigns ids to items missing one.
func normalize(items, existing []models.TodoItem) ([]models.TodoItem, error) {
	next := nextID(existing)
	out := make([]models.TodoItem, 0, len(items))
	seen := map[string]bool{}
	for _, item := range items {
		item.Content = strings.TrimSpace(item.Content)
		if item.Content == "" {
			return nil, fmt.Errorf("todo item content is required")
		}
		switch item.Status {
		case "":
			item.Status = StatusPending
		case StatusPending, StatusInProgress, StatusDone:
		default:
			return nil, fmt.Errorf("invalid status %q (valid: %s, %s, %s)",
				item.Status, StatusPending, StatusInProgress, StatusDone)
		}
		if item.ID == "" {
			item.ID = strconv.Itoa(next)
			next++
		}
		if seen[item.ID] {
			return nil, fmt.Errorf("duplicate todo id %q", item.ID)
		}
		seen[item.ID] = true
		out = append(out, item)
	}
	return out, nil
}

func nextID(existing []models.TodoItem) int {
	next := 1
	for _, item := range existing {
		if n, err := strconv.Atoi(item.ID); err == nil && n >= next {
			next = n + 1
		}
	}
	return next
}

// Render formats the list for the conversation.
func Render(items []models.TodoItem) string {
	if len(items) == 0 {
		return "(no todos)"
	}
	var b strings.Builder
	for _, item := range items {
		mark := " "
		switch item.Status {
		case StatusInProgress:
			mark = "~"
		case StatusDone:
			mark = "x"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", mark, item.ID, item.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Service resolves the todo tool calls.
type Service struct {
	store *Store
}

// New creates the todo service.
func New(store *Store) *Service {
	return &Service{store: store}
}

// Register binds the todo tools.
func (s *Service) Register(reg *tools.Registry) {
	reg.BindFunc("todo_read", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.todoRead(ctx, call.(*models.TodoRead))
	})
	reg.BindFunc("todo_write", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.todoWrite(ctx, call.(*models.TodoWrite))
	})
}

func (s *Service) todoRead(_ context.Context, call *models.TodoRead) (*models.ToolResult, error) {
	_ = call
	items, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	return &models.ToolResult{Content: Render(items)}, nil
}

func (s *Service) todoWrite(_ context.Context, call *models.TodoWrite) (*models.ToolResult, error) {
	var (
		items []models.TodoItem
		err   error
	)
	if call.Merge {
		items, err = s.store.Merge(call.Items)
	} else {
		items, err = s.store.Replace(call.Items)
	}
	if err != nil {
		return nil, err
	}
	return &models.ToolResult{Content: Render(items)}, nil
}
