package files

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/adze-dev/adze/pkg/models"
)

const maxExtractChars = 20000

func (s *Service) extractToText(_ context.Context, call *models.ExtractToText) (*models.ToolResult, error) {
	resolved, err := s.ws.Resolve(call.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, fmt.Errorf("%s is a binary file", s.ws.Rel(resolved))
	}

	var text string
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".html", ".htm", ".xhtml":
		text = htmlToText(string(data))
	default:
		text = string(data)
	}

	if len(text) > maxExtractChars {
		text = text[:maxExtractChars] + "..."
	}
	if strings.TrimSpace(text) == "" {
		return &models.ToolResult{Content: "(no readable text)"}, nil
	}
	return &models.ToolResult{Content: text}, nil
}

// htmlToText strips markup down to readable text, keeping the title in
// front when one is present.
func htmlToText(html string) string {
	for _, tag := range []string{"script", "style", "noscript", "iframe", "nav", "header", "footer", "aside"} {
		re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		html = re.ReplaceAllString(html, "")
	}

	title := ""
	if m := regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`).FindStringSubmatch(html); len(m) > 1 {
		title = cleanText(m[1])
	}

	body := html
	if m := regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`).FindStringSubmatch(html); len(m) > 1 {
		body = m[1]
	}

	for _, tag := range []string{"p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "br", "tr"} {
		body = regexp.MustCompile(`(?i)</?`+tag+`[^>]*>`).ReplaceAllString(body, "\n")
	}
	body = regexp.MustCompile(`<[^>]*>`).ReplaceAllString(body, "")
	body = cleanText(body)

	if title != "" {
		return "Title: " + title + "\n\n" + body
	}
	return body
}

// cleanText decodes common entities and normalizes whitespace while
// preserving paragraph breaks.
func cleanText(text string) string {
	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
	)
	text = replacer.Replace(text)

	lines := strings.Split(text, "\n")
	spaceRe := regexp.MustCompile(`[^\S\n]+`)
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = regexp.MustCompile(`\n{3,}`).ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
