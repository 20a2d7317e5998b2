package protocol

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/adze-dev/adze/pkg/models"
)

// roundTripCalls covers every kind with representative field values. Raw
// parameters keep whitespace at their edges, so those cases include it.
func roundTripCalls() []models.ToolCall {
	return []models.ToolCall{
		&models.ReadFile{Path: "internal/agent/loop.go"},
		&models.WriteFile{Path: "notes.md", Content: "# Notes\n\n- first\n- second"},
		&models.WriteFile{Path: "script.sh", Content: "#!/bin/sh\necho hi\n"},
		&models.WriteFile{Path: "indent.py", Content: "    return 1\n"},
		&models.ReplaceInFile{Path: "main.go", Diff: "<<<<<<< SEARCH\nold\n=======\nnew\n>>>>>>> REPLACE"},
		&models.ReplaceInFile{Path: "fmt.go", Diff: "<<<<<<< SEARCH\n\tx := 1\n=======\n\tx := 2\n>>>>>>> REPLACE\n"},
		&models.ListFiles{Path: ".", Recursive: true},
		&models.ListFiles{Path: "cmd"},
		&models.SearchFiles{Path: "internal", Regex: `func \w+\(`, FilePattern: "*.go"},
		&models.ExtractToText{Path: "docs/page.html"},
		&models.ExecuteCommand{Command: "go vet ./...", TimeoutSeconds: 120},
		&models.ExecuteCommand{Command: "true"},
		&models.SessionStart{Command: "python3 -i"},
		&models.SessionInteract{SessionID: "s-1", Input: "print(2+2)"},
		&models.SessionStop{SessionID: "s-1"},
		&models.BackgroundTask{Command: "make build", Label: "build"},
		&models.WebSearch{Query: "go context cancellation", MaxResults: 5},
		&models.WebCrawl{URLs: []string{"https://example.com/a", "https://example.com/b"}, Query: "pricing"},
		&models.UseMCPTool{ServerName: "github", ToolName: "create_issue", Arguments: json.RawMessage(`{"title":"bug"}`)},
		&models.UseMCPTool{ServerName: "github", ToolName: "list_repos"},
		&models.UseRAGTool{Query: "retry policy", MaxResults: 3},
		&models.RunSubagents{Agents: []models.SubagentSpec{
			{Name: "tester", Task: "run the unit tests and report failures"},
			{Name: "linter", Task: "vet the tree"},
		}},
		&models.TodoRead{},
		&models.TodoWrite{Items: []models.TodoItem{
			{ID: "1", Content: "wire the parser", Status: "done"},
			{ID: "2", Content: "wire the loop", Status: "in_progress"},
		}, Merge: true},
		&models.ModuleRead{ModuleName: "auth"},
		&models.ModuleWrite{ModuleName: "auth", Content: "login flow lives in internal/auth"},
		&models.ModuleList{},
		&models.CountTokens{Path: "README.md"},
		&models.CountTokens{Text: "how many tokens is this"},
		&models.ConversationIdsRead{},
		&models.ConversationIdsWrite{IDs: []string{"m-1", "m-2"}},
		&models.AskFollowupQuestion{Question: "which database should I target?"},
		&models.AttemptCompletion{Result: "All tests pass.", Command: "go test ./..."},
		&models.PlanModeRespond{Response: "First I will map the packages."},
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	for _, call := range roundTripCalls() {
		t.Run(call.Name(), func(t *testing.T) {
			xml := Canonical(call)
			p := NewParser()
			events := p.Feed(xml)
			if len(events) != 1 {
				t.Fatalf("events = %d, want 1 (xml=%q)", len(events), xml)
			}
			if events[0].Kind != models.EventToolCall {
				t.Fatalf("kind = %q, want tool call", events[0].Kind)
			}
			if !reflect.DeepEqual(events[0].Call, call) {
				t.Errorf("round trip:\n got %#v\nwant %#v", events[0].Call, call)
			}
			if events[0].CallXML != xml {
				t.Errorf("canonical not stable:\n got %q\nwant %q", events[0].CallXML, xml)
			}
		})
	}
}

func TestCanonicalShape(t *testing.T) {
	xml := Canonical(&models.SearchFiles{Path: "src", Regex: "TODO"})
	want := "<search_files>\n<path>src</path>\n<regex>TODO</regex>\n</search_files>"
	if xml != want {
		t.Errorf("canonical = %q, want %q", xml, want)
	}
}

func TestCanonicalWrapsRawValuesInNewlines(t *testing.T) {
	xml := Canonical(&models.WriteFile{Path: "a.txt", Content: "body\n"})
	want := "<write_to_file>\n<path>a.txt</path>\n<content>\nbody\n\n</content>\n</write_to_file>"
	if xml != want {
		t.Errorf("canonical = %q, want %q", xml, want)
	}
}

func TestCanonicalOmitsZeroOptionals(t *testing.T) {
	xml := Canonical(&models.ListFiles{Path: "."})
	if strings.Contains(xml, "recursive") {
		t.Errorf("zero-valued optional serialized: %q", xml)
	}
	xml = Canonical(&models.ExecuteCommand{Command: "ls"})
	if strings.Contains(xml, "timeout") {
		t.Errorf("zero-valued optional serialized: %q", xml)
	}
}

func TestCanonicalZeroParamKinds(t *testing.T) {
	xml := Canonical(&models.TodoRead{})
	if xml != "<todo_read>\n</todo_read>" {
		t.Errorf("canonical = %q", xml)
	}
}
