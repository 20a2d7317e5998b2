package llm

import (
	"context"
	"errors"
	"fmt"
	"math"

	"google.golang.org/genai"

	"github.com/adze-dev/adze/pkg/models"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini streams generations from the Gemini API.
type Gemini struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGemini builds the adapter.
func NewGemini(cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{
		client:    client,
		model:     model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (p *Gemini) Name() string { return "gemini" }

// Stream opens a streaming generation and drains the SDK's response
// iterator into the returned channel.
func (p *Gemini) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	contents, config, model, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		var input, output, cacheRead int
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			select {
			case <-ctx.Done():
				emit(ctx, chunks, Chunk{Err: ctx.Err()})
				return
			default:
			}
			if err != nil {
				if ctx.Err() != nil {
					emit(ctx, chunks, Chunk{Err: ctx.Err()})
					return
				}
				emit(ctx, chunks, Chunk{Err: &ConnectionError{Provider: p.Name(), Err: err}})
				return
			}
			if resp == nil {
				continue
			}

			if meta := resp.UsageMetadata; meta != nil {
				input = int(meta.PromptTokenCount)
				output = int(meta.CandidatesTokenCount)
				cacheRead = int(meta.CachedContentTokenCount)
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part != nil && part.Text != "" {
						if !emit(ctx, chunks, Chunk{Text: part.Text}) {
							return
						}
					}
				}
			}
		}
		emit(ctx, chunks, Chunk{Done: true, Usage: usageOf(input, output, cacheRead)})
	}()
	return chunks, nil
}

func (p *Gemini) buildRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig, string, error) {
	turns := MergeTurns(req.Messages)
	if len(turns) == 0 {
		return nil, nil, "", errors.New("gemini: request has no messages")
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.RoleUser
		if t.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: t.Content}},
		})
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	max := req.MaxTokens
	if max <= 0 {
		max = p.maxTokens
	}
	if max > 0 {
		if max > math.MaxInt32 {
			max = math.MaxInt32
		}
		config.MaxOutputTokens = int32(max)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	return contents, config, model, nil
}
