package notes

import (
	"context"
	"fmt"
	"strings"

	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/pkg/models"
)

// Service resolves the module-notes tool calls.
type Service struct {
	store *Store
}

// New creates the notes service.
func New(store *Store) *Service {
	return &Service{store: store}
}

// Register binds the notes tools.
func (s *Service) Register(reg *tools.Registry) {
	reg.BindFunc("module_read", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.moduleRead(ctx, call.(*models.ModuleRead))
	})
	reg.BindFunc("module_write", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.moduleWrite(ctx, call.(*models.ModuleWrite))
	})
	reg.BindFunc("module_list", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.moduleList(ctx, call.(*models.ModuleList))
	})
}

func (s *Service) moduleRead(_ context.Context, call *models.ModuleRead) (*models.ToolResult, error) {
	content, err := s.store.Read(call.ModuleName)
	if err != nil {
		return nil, err
	}
	return &models.ToolResult{Content: content}, nil
}

func (s *Service) moduleWrite(_ context.Context, call *models.ModuleWrite) (*models.ToolResult, error) {
	if err := s.store.Write(call.ModuleName, call.Content); err != nil {
		return nil, err
	}
	return &models.ToolResult{
		Content: fmt.Sprintf("saved note %q (%d bytes)", strings.TrimSuffix(strings.TrimSpace(call.ModuleName), ".md"), len(call.Content)),
	}, nil
}

func (s *Service) moduleList(_ context.Context, call *models.ModuleList) (*models.ToolResult, error) {
	_ = call
	names, err := s.store.List()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return &models.ToolResult{Content: "(no notes)"}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d note(s):\n", len(names))
	for _, name := range names {
		if title := s.store.Title(name); title != "" && title != name {
			fmt.Fprintf(&b, "- %s: %s\n", name, title)
		} else {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}
	return &models.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}
