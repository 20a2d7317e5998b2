// Package protocol decodes the in-band tool protocol embedded in a model's
// plain-text output stream: <thinking> blocks and one XML tool-call element
// per turn. The parser is incremental and tolerates arbitrary chunk
// boundaries; malformed blocks degrade to plain text instead of failing the
// stream.
package protocol

import "strings"

// thinkingTag delimits reasoning blocks.
const thinkingTag = "thinking"

// toolTags is the closed set of wire tags the parser recognizes as tool
// calls. Tags outside this set flow through as plain text.
var toolTags = []string{
	"read_file",
	"write_to_file",
	"replace_in_file",
	"list_files",
	"search_files",
	"extract_to_text",
	"execute_command",
	"session_start",
	"session_interact",
	"session_stop",
	"background_task",
	"web_search",
	"web_crawl",
	"use_mcp_tool",
	"use_rag_tool",
	"run_subagents",
	"todo_read",
	"todo_write",
	"module_read",
	"module_write",
	"module_list",
	"count_tokens",
	"conversation_ids_read",
	"conversation_ids_write",
	"ask_followup_question",
	"attempt_completion",
	"plan_mode_respond",
}

// openTokens holds the complete opening forms ("<name>") the scanner matches
// against, thinking included.
var openTokens = buildOpenTokens()

func buildOpenTokens() []string {
	toks := make([]string, 0, len(toolTags)+1)
	toks = append(toks, "<"+thinkingTag+">")
	for _, t := range toolTags {
		toks = append(toks, "<"+t+">")
	}
	return toks
}

// matchOpen checks whether rest begins with a known opening tag. It returns
// the tag name on a complete match. partial reports that rest is a strict
// prefix of at least one known opening tag, meaning the scanner must wait
// for more input before deciding.
func matchOpen(rest string) (name string, partial bool) {
	for _, tok := range openTokens {
		if len(rest) >= len(tok) {
			if rest[:len(tok)] == tok {
				return tok[1 : len(tok)-1], false
			}
			continue
		}
		if strings.HasPrefix(tok, rest) {
			partial = true
		}
	}
	return "", partial
}
