package files

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/adze-dev/adze/pkg/models"
)

const maxSearchLineBytes = 1 << 20

func (s *Service) searchFiles(ctx context.Context, call *models.SearchFiles) (*models.ToolResult, error) {
	resolved, err := s.ws.Resolve(call.Path)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(call.Regex)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	if call.FilePattern != "" && !doublestar.ValidatePattern(call.FilePattern) {
		return nil, fmt.Errorf("invalid file pattern %q", call.FilePattern)
	}

	var matches []string
	truncated := false

	err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel := s.ws.Rel(path)
		if s.ws.Ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if call.FilePattern != "" {
			ok, _ := doublestar.Match(call.FilePattern, rel)
			if !ok {
				if base, _ := doublestar.Match(call.FilePattern, filepath.Base(path)); !base {
					return nil
				}
			}
		}
		if truncated {
			return filepath.SkipAll
		}

		if err := s.scanFile(path, rel, re, &matches); err != nil {
			return nil
		}
		if len(matches) >= s.cfg.MaxSearchMatches {
			truncated = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return &models.ToolResult{Content: fmt.Sprintf("no matches for %q", call.Regex)}, nil
	}
	out := fmt.Sprintf("%d match(es):\n%s", len(matches), strings.Join(matches, "\n"))
	if truncated {
		out += fmt.Sprintf("\n[results truncated at %d matches]", s.cfg.MaxSearchMatches)
	}
	return &models.ToolResult{Content: out}, nil
}

// scanFile appends "path:line: text" entries for every regex hit. Binary
// files are skipped.
func (s *Service) scanFile(path, rel string, re *regexp.Regexp, matches *[]string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	head := make([]byte, 512)
	n, _ := file.Read(head)
	if bytes.IndexByte(head[:n], 0) >= 0 {
		return nil
	}
	if _, err := file.Seek(0, 0); err != nil {
		return err
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxSearchLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		display := strings.TrimSpace(line)
		if len(display) > 200 {
			display = display[:200] + "..."
		}
		*matches = append(*matches, fmt.Sprintf("%s:%d: %s", rel, lineNo, display))
		if len(*matches) >= s.cfg.MaxSearchMatches {
			break
		}
	}
	return scanner.Err()
}
