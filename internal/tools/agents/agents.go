package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/pkg/models"
)

// Service resolves run_subagents against a Spawner.
type Service struct {
	spawner *Spawner
}

// New creates the agents service.
func New(spawner *Spawner) *Service {
	return &Service{spawner: spawner}
}

// Register binds the sub-agent tool.
func (s *Service) Register(reg *tools.Registry) {
	reg.BindFunc("run_subagents", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.runSubagents(ctx, call.(*models.RunSubagents))
	})
}

func (s *Service) runSubagents(ctx context.Context, call *models.RunSubagents) (*models.ToolResult, error) {
	ids, err := s.spawner.Dispatch(tools.ConversationIDFrom(ctx), call.Agents)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "dispatched %d sub-agent(s); completions will arrive as background updates\n", len(ids))
	for i, spec := range call.Agents {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("agent-%d", i+1)
		}
		fmt.Fprintf(&b, "- %s (id %s)\n", name, ids[i])
	}
	return &models.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}
