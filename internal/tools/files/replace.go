package files

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/adze-dev/adze/pkg/models"
)

const (
	searchMarker  = "<<<<<<< SEARCH"
	divideMarker  = "======="
	replaceMarker = ">>>>>>> REPLACE"
)

// editBlock is one SEARCH/REPLACE pair from a replace_in_file diff.
type editBlock struct {
	search  string
	replace string
}

func (s *Service) replaceInFile(_ context.Context, call *models.ReplaceInFile) (*models.ToolResult, error) {
	resolved, err := s.ws.Resolve(call.Path)
	if err != nil {
		return nil, err
	}
	blocks, err := parseEditBlocks(call.Diff)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	original := string(data)

	content := original
	for i, block := range blocks {
		content, err = applyBlock(content, block)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i+1, err)
		}
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	added, removed := diffStats(original, content)
	return &models.ToolResult{
		Content: fmt.Sprintf("applied %d replacement(s) to %s (+%d -%d lines)",
			len(blocks), s.ws.Rel(resolved), added, removed),
	}, nil
}

// parseEditBlocks reads the marker format:
//
//	<<<<<<< SEARCH
//	old text
//	=======
//	new text
//	>>>>>>> REPLACE
//
// with any number of blocks back to back.
func parseEditBlocks(diff string) ([]editBlock, error) {
	var blocks []editBlock
	lines := strings.Split(diff, "\n")

	const (
		outside = iota
		inSearch
		inReplace
	)
	state := outside
	var search, replace []string

	for _, line := range lines {
		switch strings.TrimRight(line, "\r") {
		case searchMarker:
			if state != outside {
				return nil, fmt.Errorf("unexpected %s inside a block", searchMarker)
			}
			state = inSearch
			search, replace = nil, nil
		case divideMarker:
			if state != inSearch {
				return nil, fmt.Errorf("unexpected %s outside a block", divideMarker)
			}
			state = inReplace
		case replaceMarker:
			if state != inReplace {
				return nil, fmt.Errorf("unexpected %s before %s", replaceMarker, divideMarker)
			}
			blocks = append(blocks, editBlock{
				search:  strings.Join(search, "\n"),
				replace: strings.Join(replace, "\n"),
			})
			state = outside
		default:
			switch state {
			case inSearch:
				search = append(search, line)
			case inReplace:
				replace = append(replace, line)
			default:
				if strings.TrimSpace(line) != "" {
					return nil, fmt.Errorf("stray content outside blocks: %q", strings.TrimSpace(line))
				}
			}
		}
	}
	if state != outside {
		return nil, fmt.Errorf("unterminated block: missing %s", replaceMarker)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("diff contains no %s blocks", searchMarker)
	}
	return blocks, nil
}

// applyBlock replaces the first occurrence of the block's search text. When
// the exact text is not present it retries with trailing whitespace ignored
// on every line.
func applyBlock(content string, block editBlock) (string, error) {
	if block.search == "" {
		if content != "" {
			return "", fmt.Errorf("empty SEARCH is only valid for an empty file")
		}
		return block.replace, nil
	}

	if idx := strings.Index(content, block.search); idx >= 0 {
		return content[:idx] + block.replace + content[idx+len(block.search):], nil
	}

	if start, end, ok := looseMatch(content, block.search); ok {
		return content[:start] + block.replace + content[end:], nil
	}

	return "", fmt.Errorf("search text not found: %q", snippet(block.search))
}

// looseMatch finds the search text comparing lines with trailing whitespace
// stripped. It returns byte offsets into content.
func looseMatch(content, search string) (int, int, bool) {
	contentLines := strings.Split(content, "\n")
	searchLines := strings.Split(search, "\n")
	if len(searchLines) == 0 || len(searchLines) > len(contentLines) {
		return 0, 0, false
	}

	trimmed := make([]string, len(searchLines))
	for i, l := range searchLines {
		trimmed[i] = strings.TrimRight(l, " \t")
	}

	offset := 0
	for i := 0; i+len(searchLines) <= len(contentLines); i++ {
		match := true
		for j := range searchLines {
			if strings.TrimRight(contentLines[i+j], " \t") != trimmed[j] {
				match = false
				break
			}
		}
		if match {
			start := offset
			end := start
			for j := 0; j < len(searchLines); j++ {
				end += len(contentLines[i+j])
				if j < len(searchLines)-1 {
					end++
				}
			}
			return start, end, true
		}
		offset += len(contentLines[i]) + 1
	}
	return 0, 0, false
}

// diffStats counts line additions and removals between two versions.
func diffStats(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	beforeRunes, afterRunes, lines := dmp.DiffLinesToRunes(before, after)
	diffs := dmp.DiffMainRunes(beforeRunes, afterRunes, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if d.Text != "" && !strings.HasSuffix(d.Text, "\n") {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
