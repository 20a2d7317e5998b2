// Package llm adapts hosted model APIs to one streaming boundary.
//
// Adapters emit raw text deltas. Tool calls travel inside the text as
// XML islands that the parser extracts downstream, so no adapter turns
// on native function calling. The final chunk carries token usage when
// the upstream reports it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adze-dev/adze/pkg/models"
)

// Turn is one transcript entry of a completion request.
type Turn struct {
	Role    models.Role
	Content string
}

// Request describes a single model turn.
type Request struct {
	// Model overrides the provider's configured default when set.
	Model string

	// System is the system prompt, kept apart from Messages because the
	// upstream APIs take it out of band.
	System string

	// Messages is the transcript, oldest first.
	Messages []Turn

	// MaxTokens bounds the generation; zero means the provider default.
	MaxTokens int
}

// Chunk is one streamed increment of a model response. Text chunks
// arrive in order; the stream ends with either an Err chunk or a Done
// chunk, and Usage rides on the Done chunk when the upstream reported
// token counts.
type Chunk struct {
	Text  string
	Usage *models.TokenUsage
	Err   error
	Done  bool
}

// Provider streams completions from one upstream model API. The
// returned channel is closed after the terminal chunk; a non-nil error
// from Stream means no stream was opened at all.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Config selects and authenticates a provider.
type Config struct {
	// Provider names the adapter: openai, anthropic, or gemini. Empty
	// selects openai, which also fronts any OpenAI-compatible endpoint
	// via BaseURL.
	Provider string `yaml:"provider" json:"provider"`

	Model   string `yaml:"model" json:"model"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	BaseURL string `yaml:"base_url" json:"base_url"`

	// MaxTokens is the default generation bound applied when a request
	// does not set its own.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
}

// New builds the provider cfg names.
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAI(cfg)
	case "anthropic":
		return NewAnthropic(cfg)
	case "gemini", "google":
		return NewGemini(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// ConnectionError marks a transport failure while opening or reading a
// model stream. The orchestrator retries these; everything else is
// fatal for the turn.
type ConnectionError struct {
	Provider string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s stream: %v", e.Provider, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is a stream transport failure.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// emit delivers c unless ctx is cancelled first. A false return means the
// consumer abandoned the channel and the producer must stop; blocking on a
// plain send there would strand the goroutine and its open HTTP stream.
func emit(ctx context.Context, chunks chan<- Chunk, c Chunk) bool {
	select {
	case chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// usageOf builds a TokenUsage from harvested counters, nil when the
// upstream never reported any.
func usageOf(input, output, cacheRead int) *models.TokenUsage {
	if input == 0 && output == 0 && cacheRead == 0 {
		return nil
	}
	return &models.TokenUsage{
		InputTokens:     input,
		OutputTokens:    output,
		CacheReadTokens: cacheRead,
	}
}

// MergeTurns collapses consecutive same-role entries into single turns
// and drops empty ones. Anthropic rejects transcripts that do not
// alternate strictly between user and assistant, and the merged form
// renders identically everywhere else, so every adapter applies it.
func MergeTurns(turns []Turn) []Turn {
	merged := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].Role == t.Role {
			merged[n-1].Content += "\n\n" + t.Content
			continue
		}
		merged = append(merged, t)
	}
	return merged
}

// TurnsFromMessages projects persisted messages onto request turns.
func TurnsFromMessages(msgs []*models.Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}
