package protocol

import (
	"encoding/json"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/adze-dev/adze/pkg/models"
)

// rawParams are parameters whose value is whitespace-sensitive. Canonical
// wraps them in exactly one newline on each side and the parser strips exactly
// that pair, so leading and trailing whitespace in the value survives a round
// trip.
var rawParams = map[string]bool{
	"content": true,
	"diff":    true,
}

// Canonical renders a tool call in its canonical wire form: the opening tag,
// one parameter per line in the kind's declared order, then the closing tag.
// Optional zero-valued parameters are omitted; raw parameter values are
// wrapped in a newline pair. Parsing the canonical form yields the original
// call.
func Canonical(c models.ToolCall) string {
	type param struct{ name, value string }
	var ps []param
	add := func(name, value string) {
		ps = append(ps, param{name, value})
	}

	switch v := c.(type) {
	case *models.ReadFile:
		add("path", v.Path)
	case *models.WriteFile:
		add("path", v.Path)
		add("content", v.Content)
	case *models.ReplaceInFile:
		add("path", v.Path)
		add("diff", v.Diff)
	case *models.ListFiles:
		add("path", v.Path)
		if v.Recursive {
			add("recursive", "true")
		}
	case *models.SearchFiles:
		add("path", v.Path)
		add("regex", v.Regex)
		if v.FilePattern != "" {
			add("file_pattern", v.FilePattern)
		}
	case *models.ExtractToText:
		add("path", v.Path)
	case *models.ExecuteCommand:
		add("command", v.Command)
		if v.TimeoutSeconds > 0 {
			add("timeout", strconv.Itoa(v.TimeoutSeconds))
		}
	case *models.SessionStart:
		add("command", v.Command)
	case *models.SessionInteract:
		add("session_id", v.SessionID)
		if v.Input != "" {
			add("input", v.Input)
		}
	case *models.SessionStop:
		add("session_id", v.SessionID)
	case *models.BackgroundTask:
		add("command", v.Command)
		if v.Label != "" {
			add("label", v.Label)
		}
	case *models.WebSearch:
		add("query", v.Query)
		if v.MaxResults > 0 {
			add("max_results", strconv.Itoa(v.MaxResults))
		}
	case *models.WebCrawl:
		add("urls", mustJSON(v.URLs))
		if v.Query != "" {
			add("query", v.Query)
		}
	case *models.UseMCPTool:
		add("server_name", v.ServerName)
		add("tool_name", v.ToolName)
		if len(v.Arguments) > 0 {
			add("arguments", string(v.Arguments))
		}
	case *models.UseRAGTool:
		add("query", v.Query)
		if v.MaxResults > 0 {
			add("max_results", strconv.Itoa(v.MaxResults))
		}
	case *models.RunSubagents:
		add("agents", mustYAML(v.Agents))
	case *models.TodoRead:
	case *models.TodoWrite:
		add("items", mustJSON(v.Items))
		if v.Merge {
			add("merge", "true")
		}
	case *models.ModuleRead:
		add("module_name", v.ModuleName)
	case *models.ModuleWrite:
		add("module_name", v.ModuleName)
		add("content", v.Content)
	case *models.ModuleList:
	case *models.CountTokens:
		if v.Path != "" {
			add("path", v.Path)
		}
		if v.Text != "" {
			add("text", v.Text)
		}
	case *models.ConversationIdsRead:
	case *models.ConversationIdsWrite:
		add("ids", mustJSON(v.IDs))
	case *models.AskFollowupQuestion:
		add("question", v.Question)
	case *models.AttemptCompletion:
		add("result", v.Result)
		if v.Command != "" {
			add("command", v.Command)
		}
	case *models.PlanModeRespond:
		add("response", v.Response)
	}

	var b strings.Builder
	b.WriteString("<")
	b.WriteString(c.Name())
	b.WriteString(">\n")
	for _, p := range ps {
		b.WriteString("<")
		b.WriteString(p.name)
		b.WriteString(">")
		if rawParams[p.name] {
			b.WriteString("\n")
			b.WriteString(p.value)
			b.WriteString("\n")
		} else {
			b.WriteString(p.value)
		}
		b.WriteString("</")
		b.WriteString(p.name)
		b.WriteString(">\n")
	}
	b.WriteString("</")
	b.WriteString(c.Name())
	b.WriteString(">")
	return b.String()
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func mustYAML(v any) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(b), "\n")
}
