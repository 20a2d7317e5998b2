package plugins

import (
	"fmt"
	"regexp"

	"github.com/adze-dev/adze/pkg/models"
)

// Destructive command patterns the guard refuses outright.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+(/|~)(\s|$)`),
	regexp.MustCompile(`\bmkfs(\.|$|\s)`),
	regexp.MustCompile(`\bdd\s+[^|;]*of=/dev/(sd|nvme|hd|vd)`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;`),
	regexp.MustCompile(`>\s*/dev/(sd|nvme|hd|vd)`),
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]+\s+)*777\s+/(\s|$)`),
	regexp.MustCompile(`\bshutdown\b|\breboot\b|\bhalt\b`),
}

// ShellGuard vetoes shell commands that match destructive patterns before
// they reach the executor. It inspects every call kind that runs a command.
type ShellGuard struct {
	Base
}

// NewShellGuard returns the guard at the given chain priority.
func NewShellGuard(priority int) *ShellGuard {
	return &ShellGuard{Base: NewBase("shellguard", priority)}
}

func (g *ShellGuard) ShouldProcess(call models.ToolCall, _ *Context) bool {
	switch call.(type) {
	case *models.ExecuteCommand, *models.BackgroundTask, *models.SessionStart:
		return true
	}
	return false
}

func (g *ShellGuard) Before(call models.ToolCall, _ *Context) (models.ToolCall, error) {
	var command string
	switch v := call.(type) {
	case *models.ExecuteCommand:
		command = v.Command
	case *models.BackgroundTask:
		command = v.Command
	case *models.SessionStart:
		command = v.Command
	default:
		return call, nil
	}
	for _, pat := range destructivePatterns {
		if pat.MatchString(command) {
			return nil, fmt.Errorf("command blocked by shellguard: matches %q", pat.String())
		}
	}
	return call, nil
}
