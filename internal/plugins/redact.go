package plugins

import (
	"regexp"

	"github.com/adze-dev/adze/pkg/models"
)

const redactedMarker = "[REDACTED]"

// Secret-shaped substrings masked from tool results before the model or the
// transcript sees them.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]{16,}`),
	regexp.MustCompile(`(?i)\b(api[_-]?key|secret|password|token)\s*[=:]\s*['"]?[^\s'"]{8,}`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
}

// Redact masks secret-shaped substrings in tool results. Extra patterns from
// configuration are appended to the built-in set.
type Redact struct {
	Base
	patterns []*regexp.Regexp
}

// NewRedact compiles extra patterns on top of the built-ins. Invalid extra
// patterns are skipped.
func NewRedact(priority int, extra []string) *Redact {
	r := &Redact{Base: NewBase("redact", priority)}
	r.patterns = append(r.patterns, secretPatterns...)
	for _, raw := range extra {
		if pat, err := regexp.Compile(raw); err == nil {
			r.patterns = append(r.patterns, pat)
		}
	}
	return r
}

func (r *Redact) After(_ models.ToolCall, result *models.ToolResult, _ *Context) *models.ToolResult {
	if result == nil || result.Content == "" {
		return nil
	}
	masked := result.Content
	for _, pat := range r.patterns {
		masked = pat.ReplaceAllString(masked, redactedMarker)
	}
	if masked == result.Content {
		return nil
	}
	out := *result
	out.Content = masked
	return &out
}
