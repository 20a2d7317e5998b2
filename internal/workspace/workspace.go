// Package workspace confines file operations to a root directory and applies
// ignore patterns to traversal.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIgnores are the patterns traversal skips unless configured
// otherwise.
var DefaultIgnores = []string{
	".git/**",
	"node_modules/**",
	"vendor/**",
	"dist/**",
	"target/**",
	"__pycache__/**",
	"**/*.pyc",
	".venv/**",
}

// Workspace resolves and validates workspace-relative paths.
type Workspace struct {
	root    string
	ignores []string
}

// New creates a workspace rooted at root. Ignore patterns use doublestar
// syntax; invalid patterns are rejected.
func New(root string, ignores []string) (*Workspace, error) {
	clean := strings.TrimSpace(root)
	if clean == "" {
		clean = "."
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	for _, pattern := range ignores {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}
	return &Workspace{root: abs, ignores: ignores}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve returns an absolute, cleaned path within the workspace root.
func (w *Workspace) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(w.root, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(w.root, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}

// Rel returns the workspace-relative form of an absolute path, for display.
// Paths outside the root come back unchanged.
func (w *Workspace) Rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return abs
	}
	return filepath.ToSlash(rel)
}

// Ignored reports whether the workspace-relative path matches an ignore
// pattern. Directory patterns of the form "dir/**" also match the directory
// itself.
func (w *Workspace) Ignored(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.ignores {
		if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
			if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
				return true
			}
			continue
		}
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
	}
	return false
}
