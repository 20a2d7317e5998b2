package models

import "encoding/json"

// ToolCall is the closed set of tool invocations the model can express in a
// turn. New kinds are added here, in the protocol tag table, and in the
// resolver bindings; nothing is fabricated at runtime from unknown tags.
//
// The interface is sealed: only types in this package implement it, so a
// switch over the concrete variants can be exhaustive.
type ToolCall interface {
	// Name returns the wire tag of the call, e.g. "read_file".
	Name() string

	isToolCall()
}

// Terminal reports whether the call ends the conversation instead of being
// dispatched to a resolver.
func Terminal(c ToolCall) bool {
	switch c.(type) {
	case *AttemptCompletion, *PlanModeRespond:
		return true
	}
	return false
}

// ReadFile reads a workspace file.
type ReadFile struct {
	Path string
}

// WriteFile creates or overwrites a workspace file.
type WriteFile struct {
	Path    string
	Content string
}

// ReplaceInFile applies one or more SEARCH/REPLACE blocks to a file.
type ReplaceInFile struct {
	Path string
	Diff string
}

// ListFiles lists directory entries, optionally recursive.
type ListFiles struct {
	Path      string
	Recursive bool
}

// SearchFiles runs a regex search across workspace files.
type SearchFiles struct {
	Path        string
	Regex       string
	FilePattern string
}

// ExtractToText converts a document to plain text.
type ExtractToText struct {
	Path string
}

// ExecuteCommand runs a shell command synchronously.
type ExecuteCommand struct {
	Command        string
	TimeoutSeconds int
}

// SessionStart launches an interactive process.
type SessionStart struct {
	Command string
}

// SessionInteract writes input to a running session and reads fresh output.
type SessionInteract struct {
	SessionID string
	Input     string
}

// SessionStop terminates an interactive session.
type SessionStop struct {
	SessionID string
}

// BackgroundTask starts a command asynchronously; completion is reported via
// the background signal mailbox, not inline.
type BackgroundTask struct {
	Command string
	Label   string
}

// WebSearch queries the configured search backends.
type WebSearch struct {
	Query      string
	MaxResults int
}

// WebCrawl fetches pages through every configured crawl provider.
type WebCrawl struct {
	URLs  []string
	Query string
}

// UseMCPTool invokes a tool exposed by an MCP server.
type UseMCPTool struct {
	ServerName string
	ToolName   string
	Arguments  json.RawMessage
}

// UseRAGTool queries the configured retrieval endpoint.
type UseRAGTool struct {
	Query      string
	MaxResults int
}

// SubagentSpec describes one entry of a run_subagents batch.
type SubagentSpec struct {
	Name string `yaml:"name" json:"name"`
	Task string `yaml:"task" json:"task"`
}

// RunSubagents dispatches a batch of sub-agents; completions are reported via
// the background signal mailbox.
type RunSubagents struct {
	Agents []SubagentSpec
}

// TodoItem is one entry of the task list.
type TodoItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"` // pending, in_progress, done
}

// TodoRead returns the current task list.
type TodoRead struct{}

// TodoWrite replaces or merges the task list.
type TodoWrite struct {
	Items []TodoItem
	Merge bool
}

// ModuleRead reads a named note from the module-notes directory.
type ModuleRead struct {
	ModuleName string
}

// ModuleWrite creates or updates a named note.
type ModuleWrite struct {
	ModuleName string
	Content    string
}

// ModuleList lists the available notes.
type ModuleList struct{}

// CountTokens counts tokens in a file or a literal text.
type CountTokens struct {
	Path string
	Text string
}

// ConversationIdsRead returns the ids of the persisted conversation messages.
type ConversationIdsRead struct{}

// ConversationIdsWrite bookmarks message ids so pruning preserves them.
type ConversationIdsWrite struct {
	IDs []string
}

// AskFollowupQuestion asks the user a clarifying question; the answer becomes
// the tool result.
type AskFollowupQuestion struct {
	Question string
}

// AttemptCompletion presents the final result and ends the conversation.
type AttemptCompletion struct {
	Result  string
	Command string
}

// PlanModeRespond answers in planning mode and ends the conversation.
type PlanModeRespond struct {
	Response string
}

func (*ReadFile) Name() string             { return "read_file" }
func (*WriteFile) Name() string            { return "write_to_file" }
func (*ReplaceInFile) Name() string        { return "replace_in_file" }
func (*ListFiles) Name() string            { return "list_files" }
func (*SearchFiles) Name() string          { return "search_files" }
func (*ExtractToText) Name() string        { return "extract_to_text" }
func (*ExecuteCommand) Name() string       { return "execute_command" }
func (*SessionStart) Name() string         { return "session_start" }
func (*SessionInteract) Name() string      { return "session_interact" }
func (*SessionStop) Name() string          { return "session_stop" }
func (*BackgroundTask) Name() string       { return "background_task" }
func (*WebSearch) Name() string            { return "web_search" }
func (*WebCrawl) Name() string             { return "web_crawl" }
func (*UseMCPTool) Name() string           { return "use_mcp_tool" }
func (*UseRAGTool) Name() string           { return "use_rag_tool" }
func (*RunSubagents) Name() string         { return "run_subagents" }
func (*TodoRead) Name() string             { return "todo_read" }
func (*TodoWrite) Name() string            { return "todo_write" }
func (*ModuleRead) Name() string           { return "module_read" }
func (*ModuleWrite) Name() string          { return "module_write" }
func (*ModuleList) Name() string           { return "module_list" }
func (*CountTokens) Name() string          { return "count_tokens" }
func (*ConversationIdsRead) Name() string  { return "conversation_ids_read" }
func (*ConversationIdsWrite) Name() string { return "conversation_ids_write" }
func (*AskFollowupQuestion) Name() string  { return "ask_followup_question" }
func (*AttemptCompletion) Name() string    { return "attempt_completion" }
func (*PlanModeRespond) Name() string      { return "plan_mode_respond" }

func (*ReadFile) isToolCall()             {}
func (*WriteFile) isToolCall()            {}
func (*ReplaceInFile) isToolCall()        {}
func (*ListFiles) isToolCall()            {}
func (*SearchFiles) isToolCall()          {}
func (*ExtractToText) isToolCall()        {}
func (*ExecuteCommand) isToolCall()       {}
func (*SessionStart) isToolCall()         {}
func (*SessionInteract) isToolCall()      {}
func (*SessionStop) isToolCall()          {}
func (*BackgroundTask) isToolCall()       {}
func (*WebSearch) isToolCall()            {}
func (*WebCrawl) isToolCall()             {}
func (*UseMCPTool) isToolCall()           {}
func (*UseRAGTool) isToolCall()           {}
func (*RunSubagents) isToolCall()         {}
func (*TodoRead) isToolCall()             {}
func (*TodoWrite) isToolCall()            {}
func (*ModuleRead) isToolCall()           {}
func (*ModuleWrite) isToolCall()          {}
func (*ModuleList) isToolCall()           {}
func (*CountTokens) isToolCall()          {}
func (*ConversationIdsRead) isToolCall()  {}
func (*ConversationIdsWrite) isToolCall() {}
func (*AskFollowupQuestion) isToolCall()  {}
func (*AttemptCompletion) isToolCall()    {}
func (*PlanModeRespond) isToolCall()      {}
