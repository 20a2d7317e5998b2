package protocol

import (
	"fmt"
	"strings"

	"github.com/adze-dev/adze/pkg/models"
)

const (
	// tailHoldBytes is how much trailing plain text the parser retains
	// instead of emitting, so an opening tag split across chunk boundaries
	// is never leaked as text. Generously larger than the longest tag.
	tailHoldBytes = 100

	// maxToolSpanBytes bounds an unclosed tool block before the parser gives
	// up and degrades it to plain text.
	maxToolSpanBytes = 256 << 10
)

type state int

const (
	statePlain state = iota
	stateThinking
	stateTool
)

// Parser incrementally decodes one model output stream. Feed raw chunks as
// they arrive; events are emitted as soon as they are unambiguous, identical
// for any segmentation of the same stream. A Parser is single-use per stream
// (Reset reclaims it) and not safe for concurrent use.
type Parser struct {
	state   state
	pending string
	tag     string
}

// NewParser returns a parser ready to consume a stream.
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes one chunk and returns the events it completed.
func (p *Parser) Feed(chunk string) []models.Event {
	if chunk == "" {
		return nil
	}
	p.pending += chunk
	var out []models.Event
	for {
		var progressed bool
		switch p.state {
		case statePlain:
			progressed = p.scanPlain(&out)
		case stateThinking:
			progressed = p.scanThinking(&out)
		case stateTool:
			progressed = p.scanTool(&out)
		}
		if !progressed {
			return out
		}
	}
}

// Finish flushes partial state at end of stream and always appends the
// turn's trailing token-usage event, even after malformed output. The parser
// is reset and ready for a fresh stream afterwards.
func (p *Parser) Finish(usage *models.TokenUsage) []models.Event {
	var out []models.Event
	switch p.state {
	case statePlain:
		if p.pending != "" {
			out = append(out, models.TextEvent(p.pending))
		}
	case stateThinking:
		out = append(out, models.RetryEvent("stream ended inside <thinking> block"))
		if p.pending != "" {
			out = append(out, models.ThinkingEvent(p.pending))
		}
	case stateTool:
		out = append(out, models.RetryEvent("stream ended inside <"+p.tag+"> block"))
		if p.pending != "" {
			out = append(out, models.TextEvent(p.pending))
		}
	}
	p.Reset()
	return append(out, models.UsageEvent(usage))
}

// Reset discards buffered state so the parser can consume a fresh stream,
// e.g. after a connection failure triggers a retry.
func (p *Parser) Reset() {
	p.state = statePlain
	p.pending = ""
	p.tag = ""
}

// scanPlain looks for the earliest known opening tag. Text before it is
// emitted; a partial tag at the buffer end is held back. Returns true when a
// state transition happened and scanning should continue.
func (p *Parser) scanPlain(out *[]models.Event) bool {
	for i := 0; i < len(p.pending); i++ {
		if p.pending[i] != '<' {
			continue
		}
		name, partial := matchOpen(p.pending[i:])
		if name != "" {
			if i > 0 {
				*out = append(*out, models.TextEvent(p.pending[:i]))
			}
			if name == thinkingTag {
				p.pending = p.pending[i+len("<"+thinkingTag+">"):]
				p.state = stateThinking
			} else {
				// Keep the raw opening tag so an unclosed block can be
				// flushed verbatim later.
				p.pending = p.pending[i:]
				p.tag = name
				p.state = stateTool
			}
			return true
		}
		if partial {
			if i > 0 {
				*out = append(*out, models.TextEvent(p.pending[:i]))
				p.pending = p.pending[i:]
			}
			return false
		}
	}
	if n := len(p.pending) - tailHoldBytes; n > 0 {
		*out = append(*out, models.TextEvent(p.pending[:n]))
		p.pending = p.pending[n:]
	}
	return false
}

func (p *Parser) scanThinking(out *[]models.Event) bool {
	closeTag := "</" + thinkingTag + ">"
	if i := strings.Index(p.pending, closeTag); i >= 0 {
		if i > 0 {
			*out = append(*out, models.ThinkingEvent(p.pending[:i]))
		}
		p.pending = p.pending[i+len(closeTag):]
		p.state = statePlain
		return true
	}
	if n := len(p.pending) - tailHoldBytes; n > 0 {
		*out = append(*out, models.ThinkingEvent(p.pending[:n]))
		p.pending = p.pending[n:]
	}
	return false
}

func (p *Parser) scanTool(out *[]models.Event) bool {
	closeTag := "</" + p.tag + ">"
	i := strings.Index(p.pending, closeTag)
	if i < 0 {
		if len(p.pending) > maxToolSpanBytes {
			*out = append(*out, models.TextEvent(p.pending))
			*out = append(*out, models.ErrorEvent(fmt.Sprintf(
				"tool block <%s> exceeded %d bytes without closing; treating as text", p.tag, maxToolSpanBytes)))
			p.pending = ""
			p.tag = ""
			p.state = statePlain
			return true
		}
		return false
	}

	raw := p.pending[:i+len(closeTag)]
	p.pending = p.pending[i+len(closeTag):]
	tag := p.tag
	p.tag = ""
	p.state = statePlain

	body := raw[len("<"+tag+">") : len(raw)-len(closeTag)]
	call, err := parseBlock(tag, body)
	if err != nil {
		*out = append(*out, models.TextEvent(raw))
		*out = append(*out, models.ErrorEvent(fmt.Sprintf("malformed <%s> block: %v; treating as text", tag, err)))
		return true
	}
	*out = append(*out, models.ToolCallEvent(call, Canonical(call)))
	return true
}

// parseBlock decodes a complete tool element body into its typed call.
func parseBlock(tag, body string) (models.ToolCall, error) {
	ps, err := parseParams(body)
	if err != nil {
		return nil, err
	}
	return decodeCall(tag, ps)
}

// parseParams extracts <name>value</name> children in any order. Values are
// trimmed of surrounding whitespace, except raw parameters, which only shed
// the single newline pair the canonical form wraps them in; on duplicates the
// last wins.
func parseParams(body string) (params, error) {
	out := params{}
	rest := body
	for {
		rest = strings.TrimLeft(rest, " \t\r\n")
		if rest == "" {
			return out, nil
		}
		if rest[0] != '<' {
			return nil, fmt.Errorf("unexpected text %q between parameters", snippet(rest))
		}
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return nil, fmt.Errorf("unterminated parameter tag %q", snippet(rest))
		}
		name := rest[1:end]
		if !validParamName(name) {
			return nil, fmt.Errorf("invalid parameter tag <%s>", name)
		}
		closeTag := "</" + name + ">"
		rest = rest[end+1:]
		ci := strings.Index(rest, closeTag)
		if ci < 0 {
			return nil, fmt.Errorf("parameter <%s> not closed", name)
		}
		value := rest[:ci]
		if rawParams[name] {
			value = strings.TrimPrefix(value, "\n")
			value = strings.TrimSuffix(value, "\n")
		} else {
			value = strings.TrimSpace(value)
		}
		out[name] = value
		rest = rest[ci+len(closeTag):]
	}
}

func validParamName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && c != '_' {
			return false
		}
	}
	return true
}

func snippet(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
