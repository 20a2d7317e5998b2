package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/pkg/models"
)

// Service resolves use_rag_tool against a Client.
type Service struct {
	client *Client
}

// NewService creates the retrieval tool service.
func NewService(client *Client) *Service {
	return &Service{client: client}
}

// Register binds the retrieval tool.
func (s *Service) Register(reg *tools.Registry) {
	reg.BindFunc("use_rag_tool", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.useRAGTool(ctx, call.(*models.UseRAGTool))
	})
}

func (s *Service) useRAGTool(ctx context.Context, call *models.UseRAGTool) (*models.ToolResult, error) {
	chunks, err := s.client.Retrieve(ctx, call.Query, call.MaxResults)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &models.ToolResult{Content: fmt.Sprintf("no documents matched %q", call.Query)}, nil
	}

	limit := s.client.ContentCap()
	var b strings.Builder
	fmt.Fprintf(&b, "%d chunk(s) for %q:\n", len(chunks), call.Query)
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "%d. %s (score %.2f)", i+1, chunk.Document, chunk.Score)
		if chunk.Source != "" {
			fmt.Fprintf(&b, " [%s]", chunk.Source)
		}
		b.WriteString("\n")
		content := strings.TrimSpace(chunk.Content)
		if len(content) > limit {
			content = content[:limit] + "..."
		}
		if content != "" {
			fmt.Fprintf(&b, "   %s\n", strings.ReplaceAll(content, "\n", "\n   "))
		}
	}
	return &models.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}
