// Package notes implements the module-notes tools: named markdown notes the
// agent reads and writes across turns, cached in memory with file-watch
// invalidation so out-of-band edits are picked up.
package notes

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

var validNoteName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Store keeps named markdown notes in a single directory.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]string

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewStore creates the notes store, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("notes directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create notes directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: slog.Default().With("component", "notes"),
		cache:  make(map[string]string),
	}, nil
}

// Read returns the note's content, serving from cache when warm.
func (s *Store) Read(name string) (string, error) {
	key, err := s.noteKey(name)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	content, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return content, nil
	}

	raw, err := os.ReadFile(s.notePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			names, _ := s.List()
			if len(names) == 0 {
				return "", fmt.Errorf("no note named %q (no notes exist yet)", key)
			}
			return "", fmt.Errorf("no note named %q (available: %s)", key, strings.Join(names, ", "))
		}
		return "", fmt.Errorf("read note: %w", err)
	}

	content = string(raw)
	s.mu.Lock()
	s.cache[key] = content
	s.mu.Unlock()
	return content, nil
}

// Write creates or replaces the note.
func (s *Store) Write(name, content string) error {
	key, err := s.noteKey(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.notePath(key), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write note: %w", err)
	}
	s.mu.Lock()
	s.cache[key] = content
	s.mu.Unlock()
	return nil
}

// List returns the note names in sorted order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".md"))
	}
	sort.Strings(names)
	return names, nil
}

// Title returns the first heading or non-empty line of the note, for listings.
func (s *Store) Title(name string) string {
	content, err := s.Read(name)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line != "" {
			if len(line) > 80 {
				line = line[:80]
			}
			return line
		}
	}
	return ""
}

// Watch starts invalidating cached notes when their files change on disk.
func (s *Store) Watch(ctx context.Context) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch notes directory: %w", err)
	}
	s.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel

	s.watchWg.Add(1)
	go s.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher.
func (s *Store) Close() error {
	s.watchMu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	watcher := s.watcher
	s.watcher = nil
	s.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	s.watchWg.Wait()
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer s.watchWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			base := filepath.Base(event.Name)
			if !strings.HasSuffix(base, ".md") {
				continue
			}
			key := strings.TrimSuffix(base, ".md")
			s.mu.Lock()
			delete(s.cache, key)
			s.mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("notes watch error", "error", err)
		}
	}
}

// noteKey canonicalizes and validates a note name.
func (s *Store) noteKey(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, ".md")
	if name == "" {
		return "", fmt.Errorf("note name is required")
	}
	if !validNoteName.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid note name %q", name)
	}
	return name, nil
}

func (s *Store) notePath(key string) string {
	return filepath.Join(s.dir, key+".md")
}
