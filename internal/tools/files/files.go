// Package files implements the filesystem tools: reading, writing, targeted
// edits, listing, searching and text extraction, all confined to the
// workspace root.
package files

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/internal/workspace"
	"github.com/adze-dev/adze/pkg/models"
)

// Config controls filesystem tool defaults.
type Config struct {
	MaxReadBytes     int
	MaxListEntries   int
	MaxSearchMatches int
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxReadBytes:     200000,
		MaxListEntries:   500,
		MaxSearchMatches: 200,
	}
}

// Service resolves the filesystem tool calls.
type Service struct {
	ws  *workspace.Workspace
	cfg Config
}

// New creates the filesystem service scoped to the workspace.
func New(ws *workspace.Workspace, cfg Config) *Service {
	if cfg.MaxReadBytes <= 0 {
		cfg.MaxReadBytes = 200000
	}
	if cfg.MaxListEntries <= 0 {
		cfg.MaxListEntries = 500
	}
	if cfg.MaxSearchMatches <= 0 {
		cfg.MaxSearchMatches = 200
	}
	return &Service{ws: ws, cfg: cfg}
}

// Register binds the filesystem tools.
func (s *Service) Register(reg *tools.Registry) {
	reg.BindFunc("read_file", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.readFile(ctx, call.(*models.ReadFile))
	})
	reg.BindFunc("write_to_file", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.writeFile(ctx, call.(*models.WriteFile))
	})
	reg.BindFunc("replace_in_file", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.replaceInFile(ctx, call.(*models.ReplaceInFile))
	})
	reg.BindFunc("list_files", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.listFiles(ctx, call.(*models.ListFiles))
	})
	reg.BindFunc("search_files", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.searchFiles(ctx, call.(*models.SearchFiles))
	})
	reg.BindFunc("extract_to_text", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.extractToText(ctx, call.(*models.ExtractToText))
	})
}

func (s *Service) readFile(_ context.Context, call *models.ReadFile) (*models.ToolResult, error) {
	resolved, err := s.ws.Resolve(call.Path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", s.ws.Rel(resolved))
	}

	buf, err := io.ReadAll(io.LimitReader(file, int64(s.cfg.MaxReadBytes)))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	content := string(buf)
	if info.Size() > int64(len(buf)) {
		content += fmt.Sprintf("\n[truncated: showing first %d of %d bytes]", len(buf), info.Size())
	}
	return &models.ToolResult{Content: content}, nil
}

func (s *Service) writeFile(_ context.Context, call *models.WriteFile) (*models.ToolResult, error) {
	resolved, err := s.ws.Resolve(call.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(call.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return &models.ToolResult{
		Content: fmt.Sprintf("wrote %d bytes to %s", len(call.Content), s.ws.Rel(resolved)),
	}, nil
}

func (s *Service) listFiles(_ context.Context, call *models.ListFiles) (*models.ToolResult, error) {
	resolved, err := s.ws.Resolve(call.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", s.ws.Rel(resolved))
	}

	var entries []string
	truncated := false

	if call.Recursive {
		err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if path == resolved {
				return nil
			}
			rel := s.ws.Rel(path)
			if s.ws.Ignored(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if len(entries) >= s.cfg.MaxListEntries {
				truncated = true
				return filepath.SkipAll
			}
			name := rel
			if d.IsDir() {
				name += "/"
			}
			entries = append(entries, name)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk directory: %w", err)
		}
	} else {
		dirEntries, err := os.ReadDir(resolved)
		if err != nil {
			return nil, fmt.Errorf("read directory: %w", err)
		}
		for _, entry := range dirEntries {
			rel := s.ws.Rel(filepath.Join(resolved, entry.Name()))
			if s.ws.Ignored(rel) {
				continue
			}
			if len(entries) >= s.cfg.MaxListEntries {
				truncated = true
				break
			}
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			entries = append(entries, name)
		}
	}

	sort.Strings(entries)
	out := strings.Join(entries, "\n")
	if out == "" {
		out = "(empty)"
	}
	if truncated {
		out += fmt.Sprintf("\n[list truncated at %d entries]", s.cfg.MaxListEntries)
	}
	return &models.ToolResult{Content: out}, nil
}
