package protocol

import (
	"reflect"
	"strings"
	"testing"

	"github.com/adze-dev/adze/pkg/models"
)

// streamSummary is a segmentation-independent digest of a parsed stream.
type streamSummary struct {
	text     string
	thinking string
	calls    []models.ToolCall
	retries  int
	errors   int
	usages   int
}

func summarize(events []models.Event) streamSummary {
	var s streamSummary
	for _, ev := range events {
		switch ev.Kind {
		case models.EventText:
			s.text += ev.Text
		case models.EventThinking:
			s.thinking += ev.Text
		case models.EventToolCall:
			s.calls = append(s.calls, ev.Call)
		case models.EventRetry:
			s.retries++
		case models.EventError:
			s.errors++
		case models.EventTokenUsage:
			s.usages++
		}
	}
	return s
}

// run feeds the stream in the given segments and finishes it.
func run(t *testing.T, segments []string) streamSummary {
	t.Helper()
	p := NewParser()
	var events []models.Event
	for _, seg := range segments {
		events = append(events, p.Feed(seg)...)
	}
	events = append(events, p.Finish(&models.TokenUsage{InputTokens: 1})...)
	return summarize(events)
}

// segmentations returns several ways of cutting stream into chunks.
func segmentations(stream string) [][]string {
	segs := [][]string{{stream}}
	for i := 1; i < len(stream); i++ {
		segs = append(segs, []string{stream[:i], stream[i:]})
	}
	var byThree []string
	for i := 0; i < len(stream); i += 3 {
		end := i + 3
		if end > len(stream) {
			end = len(stream)
		}
		byThree = append(byThree, stream[i:end])
	}
	segs = append(segs, byThree)
	var byOne []string
	for i := 0; i < len(stream); i++ {
		byOne = append(byOne, stream[i:i+1])
	}
	return append(segs, byOne)
}

func TestChunkBoundaryInvariance(t *testing.T) {
	stream := "Let me look.<thinking>The file is small, read it whole.</thinking>" +
		"Reading now.\n<read_file>\n<path>cmd/main.go</path>\n</read_file>"
	want := run(t, []string{stream})
	if len(want.calls) != 1 {
		t.Fatalf("reference parse produced %d calls, want 1", len(want.calls))
	}
	for i, segs := range segmentations(stream) {
		got := run(t, segs)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("segmentation %d (%d chunks): summary = %+v, want %+v", i, len(segs), got, want)
		}
	}
}

func TestTagSplitMidName(t *testing.T) {
	s := run(t, []string{"I will now run it. <exe", "cute_command><command>ls -la</command></execute_command>"})
	if s.text != "I will now run it. " {
		t.Errorf("text = %q, want %q", s.text, "I will now run it. ")
	}
	if len(s.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(s.calls))
	}
	cmd, ok := s.calls[0].(*models.ExecuteCommand)
	if !ok {
		t.Fatalf("call type = %T, want *models.ExecuteCommand", s.calls[0])
	}
	if cmd.Command != "ls -la" {
		t.Errorf("command = %q, want %q", cmd.Command, "ls -la")
	}
}

func TestThinkingAcrossChunks(t *testing.T) {
	s := run(t, []string{"<thi", "nking>weighing the opt", "ions</thinking>done"})
	if s.thinking != "weighing the options" {
		t.Errorf("thinking = %q, want %q", s.thinking, "weighing the options")
	}
	if s.text != "done" {
		t.Errorf("text = %q, want %q", s.text, "done")
	}
	if len(s.calls) != 0 {
		t.Errorf("calls = %d, want 0", len(s.calls))
	}
}

func TestToolTagInsideThinkingIgnored(t *testing.T) {
	s := run(t, []string{"<thinking>maybe <read_file><path>a</path></read_file> later</thinking>"})
	if len(s.calls) != 0 {
		t.Fatalf("calls = %d, want 0", len(s.calls))
	}
	if !strings.Contains(s.thinking, "<read_file>") {
		t.Errorf("thinking lost the literal tag: %q", s.thinking)
	}
}

func TestReadFileParsesAndCanonicalizes(t *testing.T) {
	p := NewParser()
	events := p.Feed("<read_file><path>a.py</path></read_file>")
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != models.EventToolCall {
		t.Fatalf("kind = %q, want %q", ev.Kind, models.EventToolCall)
	}
	want := &models.ReadFile{Path: "a.py"}
	if !reflect.DeepEqual(ev.Call, want) {
		t.Errorf("call = %#v, want %#v", ev.Call, want)
	}
	wantXML := "<read_file>\n<path>a.py</path>\n</read_file>"
	if ev.CallXML != wantXML {
		t.Errorf("canonical = %q, want %q", ev.CallXML, wantXML)
	}
}

func TestParamsAnyOrderWithWhitespace(t *testing.T) {
	block := "<execute_command>\n  <timeout>30</timeout>\n\n  <command>go vet ./...</command>\n</execute_command>"
	s := run(t, []string{block})
	if len(s.calls) != 1 {
		t.Fatalf("calls = %d, want 1 (errors=%d)", len(s.calls), s.errors)
	}
	cmd := s.calls[0].(*models.ExecuteCommand)
	if cmd.Command != "go vet ./..." || cmd.TimeoutSeconds != 30 {
		t.Errorf("parsed = %+v", cmd)
	}
}

func TestMalformedBlockDegradesToText(t *testing.T) {
	tests := []struct {
		name  string
		block string
	}{
		{"mismatched close", "<execute_command><command>ls</wrong></execute_command>"},
		{"missing required", "<read_file></read_file>"},
		{"bad boolean", "<list_files><path>.</path><recursive>maybe</recursive></list_files>"},
		{"stray text", "<read_file>oops<path>a</path></read_file>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := run(t, []string{tt.block})
			if len(s.calls) != 0 {
				t.Fatalf("calls = %d, want 0", len(s.calls))
			}
			if s.errors != 1 {
				t.Errorf("errors = %d, want 1", s.errors)
			}
			if s.text != tt.block {
				t.Errorf("text = %q, want raw block %q", s.text, tt.block)
			}
			if s.usages != 1 {
				t.Errorf("usages = %d, want 1", s.usages)
			}
		})
	}
}

func TestUnknownTagFlowsAsText(t *testing.T) {
	stream := "see <foobar>x</foobar> and <div>y</div>"
	s := run(t, []string{stream})
	if s.text != stream {
		t.Errorf("text = %q, want %q", s.text, stream)
	}
	if len(s.calls) != 0 || s.errors != 0 {
		t.Errorf("calls = %d errors = %d, want 0/0", len(s.calls), s.errors)
	}
}

func TestLiteralAngleBrackets(t *testing.T) {
	stream := "for i < n and n<10 we loop"
	s := run(t, []string{stream})
	if s.text != stream {
		t.Errorf("text = %q, want %q", s.text, stream)
	}
}

func TestUnclosedToolBlockFlushedAtFinish(t *testing.T) {
	p := NewParser()
	events := p.Feed("<read_file><path>a.go</path>")
	if len(events) != 0 {
		t.Fatalf("premature events: %v", events)
	}
	final := p.Finish(nil)
	s := summarize(final)
	if s.text != "<read_file><path>a.go</path>" {
		t.Errorf("flushed text = %q", s.text)
	}
	if s.retries != 1 {
		t.Errorf("retries = %d, want 1", s.retries)
	}
	kinds := make([]models.EventKind, 0, len(final))
	for _, ev := range final {
		kinds = append(kinds, ev.Kind)
	}
	want := []models.EventKind{models.EventRetry, models.EventText, models.EventTokenUsage}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestUnclosedThinkingDiagnosticPrecedesFlush(t *testing.T) {
	p := NewParser()
	p.Feed("<thinking>half a tho")
	final := p.Finish(nil)
	if len(final) != 3 {
		t.Fatalf("events = %v, want retry + thinking + usage", final)
	}
	if final[0].Kind != models.EventRetry {
		t.Errorf("first event = %q, want retry", final[0].Kind)
	}
	if final[1].Kind != models.EventThinking || final[1].Text != "half a tho" {
		t.Errorf("second event = %+v, want flushed thinking", final[1])
	}
	if final[2].Kind != models.EventTokenUsage {
		t.Errorf("last event = %q, want token usage", final[2].Kind)
	}
}

func TestFinishAlwaysEmitsUsage(t *testing.T) {
	p := NewParser()
	events := p.Finish(nil)
	if len(events) != 1 || events[0].Kind != models.EventTokenUsage {
		t.Fatalf("events = %v, want single token usage", events)
	}
	if events[0].Usage == nil {
		t.Error("usage is nil")
	}
}

func TestPlainTextTailHeldBack(t *testing.T) {
	p := NewParser()
	long := strings.Repeat("a", tailHoldBytes+40)
	events := p.Feed(long)
	s := summarize(events)
	if len(s.text) != 40 {
		t.Errorf("emitted %d bytes, want 40", len(s.text))
	}
	s = summarize(p.Finish(nil))
	if len(s.text) != tailHoldBytes {
		t.Errorf("flushed %d bytes, want %d", len(s.text), tailHoldBytes)
	}
}

func TestResetDiscardsPartialState(t *testing.T) {
	p := NewParser()
	p.Feed("<execute_command><command>rm")
	p.Reset()
	s := summarize(append(p.Feed("plain again"), p.Finish(nil)...))
	if s.text != "plain again" {
		t.Errorf("text after reset = %q", s.text)
	}
	if len(s.calls) != 0 || s.retries != 0 {
		t.Errorf("unexpected calls/retries after reset: %+v", s)
	}
}

func TestOversizedToolBlockDegrades(t *testing.T) {
	p := NewParser()
	var events []models.Event
	events = append(events, p.Feed("<write_to_file><path>big</path><content>")...)
	filler := strings.Repeat("x", maxToolSpanBytes/4)
	for i := 0; i < 5; i++ {
		events = append(events, p.Feed(filler)...)
	}
	s := summarize(events)
	if s.errors != 1 {
		t.Fatalf("errors = %d, want 1", s.errors)
	}
	if len(s.calls) != 0 {
		t.Errorf("calls = %d, want 0", len(s.calls))
	}
	if !strings.HasPrefix(s.text, "<write_to_file>") {
		t.Errorf("raw span not flushed as text")
	}
}

func TestTwoCallsConsecutiveStreams(t *testing.T) {
	// One parser serves consecutive turns via Finish's implicit reset.
	p := NewParser()
	first := summarize(append(p.Feed("<todo_read></todo_read>"), p.Finish(nil)...))
	second := summarize(append(p.Feed("<module_list></module_list>"), p.Finish(nil)...))
	if len(first.calls) != 1 || first.calls[0].Name() != "todo_read" {
		t.Errorf("first stream calls = %+v", first.calls)
	}
	if len(second.calls) != 1 || second.calls[0].Name() != "module_list" {
		t.Errorf("second stream calls = %+v", second.calls)
	}
}
