package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/adze-dev/adze/pkg/models"
)

// params holds the child elements of one tool block, values trimmed.
type params map[string]string

func (p params) str(key string) string { return p[key] }

func (p params) require(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter <%s>", key)
	}
	return v, nil
}

// boolean coerces "true"/"false"; absent or empty means false.
func (p params) boolean(key string) (bool, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return false, nil
	}
	switch strings.ToLower(v) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("parameter <%s> must be true or false, got %q", key, v)
}

// integer coerces a decimal value; absent or empty means zero.
func (p params) integer(key string) (int, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parameter <%s> must be an integer, got %q", key, v)
	}
	return n, nil
}

// stringList coerces a JSON string array.
func (p params) stringList(key string) ([]string, error) {
	v, err := p.require(key)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil, fmt.Errorf("parameter <%s> must be a JSON string array: %v", key, err)
	}
	return out, nil
}

// decodeCall builds the typed tool call for a recognized tag. The tag set is
// closed; the default branch is unreachable for tags the scanner admits.
func decodeCall(tag string, p params) (models.ToolCall, error) {
	switch tag {
	case "read_file":
		path, err := p.require("path")
		if err != nil {
			return nil, err
		}
		return &models.ReadFile{Path: path}, nil

	case "write_to_file":
		path, err := p.require("path")
		if err != nil {
			return nil, err
		}
		content, err := p.require("content")
		if err != nil {
			return nil, err
		}
		return &models.WriteFile{Path: path, Content: content}, nil

	case "replace_in_file":
		path, err := p.require("path")
		if err != nil {
			return nil, err
		}
		diff, err := p.require("diff")
		if err != nil {
			return nil, err
		}
		return &models.ReplaceInFile{Path: path, Diff: diff}, nil

	case "list_files":
		path, err := p.require("path")
		if err != nil {
			return nil, err
		}
		recursive, err := p.boolean("recursive")
		if err != nil {
			return nil, err
		}
		return &models.ListFiles{Path: path, Recursive: recursive}, nil

	case "search_files":
		path, err := p.require("path")
		if err != nil {
			return nil, err
		}
		regex, err := p.require("regex")
		if err != nil {
			return nil, err
		}
		return &models.SearchFiles{Path: path, Regex: regex, FilePattern: p.str("file_pattern")}, nil

	case "extract_to_text":
		path, err := p.require("path")
		if err != nil {
			return nil, err
		}
		return &models.ExtractToText{Path: path}, nil

	case "execute_command":
		command, err := p.require("command")
		if err != nil {
			return nil, err
		}
		timeout, err := p.integer("timeout")
		if err != nil {
			return nil, err
		}
		return &models.ExecuteCommand{Command: command, TimeoutSeconds: timeout}, nil

	case "session_start":
		command, err := p.require("command")
		if err != nil {
			return nil, err
		}
		return &models.SessionStart{Command: command}, nil

	case "session_interact":
		id, err := p.require("session_id")
		if err != nil {
			return nil, err
		}
		return &models.SessionInteract{SessionID: id, Input: p.str("input")}, nil

	case "session_stop":
		id, err := p.require("session_id")
		if err != nil {
			return nil, err
		}
		return &models.SessionStop{SessionID: id}, nil

	case "background_task":
		command, err := p.require("command")
		if err != nil {
			return nil, err
		}
		return &models.BackgroundTask{Command: command, Label: p.str("label")}, nil

	case "web_search":
		query, err := p.require("query")
		if err != nil {
			return nil, err
		}
		maxResults, err := p.integer("max_results")
		if err != nil {
			return nil, err
		}
		return &models.WebSearch{Query: query, MaxResults: maxResults}, nil

	case "web_crawl":
		urls, err := p.stringList("urls")
		if err != nil {
			return nil, err
		}
		if len(urls) == 0 {
			return nil, fmt.Errorf("parameter <urls> must list at least one url")
		}
		return &models.WebCrawl{URLs: urls, Query: p.str("query")}, nil

	case "use_mcp_tool":
		server, err := p.require("server_name")
		if err != nil {
			return nil, err
		}
		tool, err := p.require("tool_name")
		if err != nil {
			return nil, err
		}
		call := &models.UseMCPTool{ServerName: server, ToolName: tool}
		if args := p.str("arguments"); args != "" {
			if !json.Valid([]byte(args)) {
				return nil, fmt.Errorf("parameter <arguments> must be valid JSON")
			}
			call.Arguments = json.RawMessage(args)
		}
		return call, nil

	case "use_rag_tool":
		query, err := p.require("query")
		if err != nil {
			return nil, err
		}
		maxResults, err := p.integer("max_results")
		if err != nil {
			return nil, err
		}
		return &models.UseRAGTool{Query: query, MaxResults: maxResults}, nil

	case "run_subagents":
		raw, err := p.require("agents")
		if err != nil {
			return nil, err
		}
		var agents []models.SubagentSpec
		if err := yaml.Unmarshal([]byte(raw), &agents); err != nil {
			return nil, fmt.Errorf("parameter <agents> must be a YAML list: %v", err)
		}
		if len(agents) == 0 {
			return nil, fmt.Errorf("parameter <agents> must list at least one agent")
		}
		for i, a := range agents {
			if a.Task == "" {
				return nil, fmt.Errorf("agent %d has no task", i)
			}
		}
		return &models.RunSubagents{Agents: agents}, nil

	case "todo_read":
		return &models.TodoRead{}, nil

	case "todo_write":
		raw, err := p.require("items")
		if err != nil {
			return nil, err
		}
		var items []models.TodoItem
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("parameter <items> must be a JSON array: %v", err)
		}
		merge, err := p.boolean("merge")
		if err != nil {
			return nil, err
		}
		return &models.TodoWrite{Items: items, Merge: merge}, nil

	case "module_read":
		name, err := p.require("module_name")
		if err != nil {
			return nil, err
		}
		return &models.ModuleRead{ModuleName: name}, nil

	case "module_write":
		name, err := p.require("module_name")
		if err != nil {
			return nil, err
		}
		content, err := p.require("content")
		if err != nil {
			return nil, err
		}
		return &models.ModuleWrite{ModuleName: name, Content: content}, nil

	case "module_list":
		return &models.ModuleList{}, nil

	case "count_tokens":
		c := &models.CountTokens{Path: p.str("path"), Text: p.str("text")}
		if c.Path == "" && c.Text == "" {
			return nil, fmt.Errorf("count_tokens requires <path> or <text>")
		}
		return c, nil

	case "conversation_ids_read":
		return &models.ConversationIdsRead{}, nil

	case "conversation_ids_write":
		ids, err := p.stringList("ids")
		if err != nil {
			return nil, err
		}
		return &models.ConversationIdsWrite{IDs: ids}, nil

	case "ask_followup_question":
		q, err := p.require("question")
		if err != nil {
			return nil, err
		}
		return &models.AskFollowupQuestion{Question: q}, nil

	case "attempt_completion":
		result, err := p.require("result")
		if err != nil {
			return nil, err
		}
		return &models.AttemptCompletion{Result: result, Command: p.str("command")}, nil

	case "plan_mode_respond":
		resp, err := p.require("response")
		if err != nil {
			return nil, err
		}
		return &models.PlanModeRespond{Response: resp}, nil
	}
	return nil, fmt.Errorf("unknown tool tag <%s>", tag)
}
