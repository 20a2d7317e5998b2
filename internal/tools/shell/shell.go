package shell

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/pkg/models"
)

// Service resolves the command tool calls against a Manager.
type Service struct {
	mgr *Manager
}

// New creates the shell service.
func New(mgr *Manager) *Service {
	return &Service{mgr: mgr}
}

// Register binds the command tools.
func (s *Service) Register(reg *tools.Registry) {
	reg.BindFunc("execute_command", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.executeCommand(ctx, call.(*models.ExecuteCommand))
	})
	reg.BindFunc("session_start", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.sessionStart(ctx, call.(*models.SessionStart))
	})
	reg.BindFunc("session_interact", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.sessionInteract(ctx, call.(*models.SessionInteract))
	})
	reg.BindFunc("session_stop", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.sessionStop(ctx, call.(*models.SessionStop))
	})
	reg.BindFunc("background_task", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.backgroundTask(ctx, call.(*models.BackgroundTask))
	})
}

func (s *Service) executeCommand(ctx context.Context, call *models.ExecuteCommand) (*models.ToolResult, error) {
	timeout := time.Duration(call.TimeoutSeconds) * time.Second
	res, err := s.mgr.RunCommand(ctx, call.Command, timeout)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d", res.ExitCode)
	if res.TimedOut {
		fmt.Fprintf(&b, " (timed out after %s)", res.Duration.Round(time.Millisecond))
	}
	if out := strings.TrimSpace(res.Output); out != "" {
		b.WriteString("\n")
		b.WriteString(out)
	} else {
		b.WriteString("\n(no output)")
	}
	return &models.ToolResult{Content: b.String(), IsError: res.TimedOut}, nil
}

func (s *Service) sessionStart(ctx context.Context, call *models.SessionStart) (*models.ToolResult, error) {
	id, out, err := s.mgr.StartSession(ctx, tools.ConversationIDFrom(ctx), call.Command)
	if err != nil {
		return nil, err
	}
	content := fmt.Sprintf("session %s started", id)
	if out = strings.TrimSpace(out); out != "" {
		content += "\n" + out
	}
	return &models.ToolResult{Content: content}, nil
}

func (s *Service) sessionInteract(ctx context.Context, call *models.SessionInteract) (*models.ToolResult, error) {
	out, running, err := s.mgr.Interact(ctx, call.SessionID, call.Input)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(out)
	if content == "" {
		content = "(no new output)"
	}
	if !running {
		content += "\nsession has exited; use session_stop to collect the exit code"
	}
	return &models.ToolResult{Content: content}, nil
}

func (s *Service) sessionStop(_ context.Context, call *models.SessionStop) (*models.ToolResult, error) {
	out, code, err := s.mgr.StopSession(call.SessionID)
	if err != nil {
		return nil, err
	}
	content := fmt.Sprintf("session stopped with exit code %d", code)
	if out = strings.TrimSpace(out); out != "" {
		content += "\n" + out
	}
	return &models.ToolResult{Content: content}, nil
}

func (s *Service) backgroundTask(ctx context.Context, call *models.BackgroundTask) (*models.ToolResult, error) {
	id, err := s.mgr.StartTask(tools.ConversationIDFrom(ctx), call.Command, call.Label)
	if err != nil {
		return nil, err
	}
	content := fmt.Sprintf("started background task %s", id)
	if call.Label != "" {
		content = fmt.Sprintf("started background task %s (%s)", id, call.Label)
	}
	content += "; completion will arrive as a background update"
	return &models.ToolResult{Content: content}, nil
}
