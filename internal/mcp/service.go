package mcp

import (
	"context"
	"fmt"

	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/pkg/models"
)

// Service resolves use_mcp_tool against a Manager.
type Service struct {
	mgr *Manager
}

// NewService creates the MCP tool service.
func NewService(mgr *Manager) *Service {
	return &Service{mgr: mgr}
}

// Register binds the MCP tool.
func (s *Service) Register(reg *tools.Registry) {
	reg.BindFunc("use_mcp_tool", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.useMCPTool(ctx, call.(*models.UseMCPTool))
	})
}

func (s *Service) useMCPTool(ctx context.Context, call *models.UseMCPTool) (*models.ToolResult, error) {
	if call.ServerName == "" {
		return nil, fmt.Errorf("server_name is required")
	}
	if call.ToolName == "" {
		return nil, fmt.Errorf("tool_name is required")
	}
	res, err := s.mgr.CallTool(ctx, call.ServerName, call.ToolName, call.Arguments)
	if err != nil {
		return nil, err
	}
	content := res.Text()
	if content == "" {
		content = "(empty result)"
	}
	return &models.ToolResult{Content: content, IsError: res.IsError}, nil
}
