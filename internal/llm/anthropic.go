package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/adze-dev/adze/pkg/models"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096

	// maxEmptyEvents bounds consecutive events that produce no output
	// before the stream is treated as malformed.
	maxEmptyEvents = 300
)

// Anthropic streams messages from the Anthropic API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropic builds the adapter.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (p *Anthropic) Name() string { return "anthropic" }

// Stream opens a streaming message request. The SDK defers transport
// errors to the event loop, so they surface as Err chunks rather than
// from Stream itself.
func (p *Anthropic) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *Anthropic) buildParams(req Request) (anthropic.MessageNewParams, error) {
	turns := MergeTurns(req.Messages)
	if len(turns) == 0 {
		return anthropic.MessageNewParams{}, errors.New("anthropic: request has no messages")
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(t.Content)
		if t.Role == models.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	// The API requires max_tokens on every request.
	max := req.MaxTokens
	if max <= 0 {
		max = p.maxTokens
	}
	if max <= 0 {
		max = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(max),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		}
	}
	return params, nil
}

func (p *Anthropic) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- Chunk) {
	defer close(chunks)
	defer stream.Close()

	var input, output, cacheRead int
	empty := 0
	for stream.Next() {
		select {
		case <-ctx.Done():
			emit(ctx, chunks, Chunk{Err: ctx.Err()})
			return
		default:
		}

		event := stream.Current()
		produced := false
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if n := start.Message.Usage.InputTokens; n > 0 {
				input = int(n)
			}
			if n := start.Message.Usage.CacheReadInputTokens; n > 0 {
				cacheRead = int(n)
			}
			produced = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				if !emit(ctx, chunks, Chunk{Text: delta.Text}) {
					return
				}
				produced = true
			}

		case "message_delta":
			if n := event.AsMessageDelta().Usage.OutputTokens; n > 0 {
				output = int(n)
			}
			produced = true

		case "message_stop":
			emit(ctx, chunks, Chunk{Done: true, Usage: usageOf(input, output, cacheRead)})
			return

		case "error":
			emit(ctx, chunks, Chunk{Err: &ConnectionError{
				Provider: p.Name(),
				Err:      errors.New("server reported a stream error"),
			}})
			return
		}

		if produced {
			empty = 0
			continue
		}
		if empty++; empty >= maxEmptyEvents {
			emit(ctx, chunks, Chunk{Err: &ConnectionError{
				Provider: p.Name(),
				Err:      fmt.Errorf("%d consecutive empty events", empty),
			}})
			return
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			emit(ctx, chunks, Chunk{Err: ctx.Err()})
			return
		}
		emit(ctx, chunks, Chunk{Err: &ConnectionError{Provider: p.Name(), Err: err}})
		return
	}
	emit(ctx, chunks, Chunk{Err: &ConnectionError{
		Provider: p.Name(),
		Err:      errors.New("stream ended before message_stop"),
	}})
}
