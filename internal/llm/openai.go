package llm

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/adze-dev/adze/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAI streams chat completions from the OpenAI API or any endpoint
// speaking its protocol, which makes it the adapter for local and
// proxy deployments as well.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAI builds the adapter. BaseURL redirects the client to an
// OpenAI-compatible endpoint; such endpoints often need no key, so the
// key is only required when talking to the default host.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai: api key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (p *OpenAI) Name() string { return "openai" }

// Stream opens a streaming chat completion and feeds its deltas to the
// returned channel. Stream setup failures come back as ConnectionError.
func (p *OpenAI) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, &ConnectionError{Provider: p.Name(), Err: err}
	}
	chunks := make(chan Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAI) buildRequest(req Request) (openai.ChatCompletionRequest, error) {
	turns := MergeTurns(req.Messages)
	if len(turns) == 0 {
		return openai.ChatCompletionRequest{}, errors.New("openai: request has no messages")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: t.Content,
		})
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		// Ask for usage on the final stream payload so the Done chunk
		// can carry real token counts.
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if max := req.MaxTokens; max > 0 {
		chatReq.MaxTokens = max
	} else if p.maxTokens > 0 {
		chatReq.MaxTokens = p.maxTokens
	}
	return chatReq, nil
}

func (p *OpenAI) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- Chunk) {
	defer close(chunks)
	defer stream.Close()

	var usage *models.TokenUsage
	for {
		select {
		case <-ctx.Done():
			emit(ctx, chunks, Chunk{Err: ctx.Err()})
			return
		default:
		}

		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			emit(ctx, chunks, Chunk{Done: true, Usage: usage})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				emit(ctx, chunks, Chunk{Err: ctx.Err()})
				return
			}
			emit(ctx, chunks, Chunk{Err: &ConnectionError{Provider: p.Name(), Err: err}})
			return
		}

		// The usage-bearing payload has no choices; it arrives last.
		if resp.Usage != nil {
			usage = &models.TokenUsage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			}
			if details := resp.Usage.PromptTokensDetails; details != nil {
				usage.CacheReadTokens = details.CachedTokens
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if text := resp.Choices[0].Delta.Content; text != "" {
			if !emit(ctx, chunks, Chunk{Text: text}) {
				return
			}
		}
	}
}
