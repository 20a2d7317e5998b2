package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adze-dev/adze/internal/workspace"
	"github.com/adze-dev/adze/pkg/models"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	ws, err := workspace.New(root, workspace.DefaultIgnores)
	if err != nil {
		t.Fatalf("workspace.New() error = %v", err)
	}
	return New(ws, DefaultConfig()), root
}

func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadFile(t *testing.T) {
	svc, root := newTestService(t)
	writeFixture(t, root, "notes.txt", "line one\nline two\n")

	res, err := svc.readFile(context.Background(), &models.ReadFile{Path: "notes.txt"})
	if err != nil {
		t.Fatalf("readFile() error = %v", err)
	}
	if res.Content != "line one\nline two\n" {
		t.Errorf("content = %q", res.Content)
	}

	if _, err := svc.readFile(context.Background(), &models.ReadFile{Path: "missing.txt"}); err == nil {
		t.Error("readFile(missing) succeeded, want error")
	}
	if _, err := svc.readFile(context.Background(), &models.ReadFile{Path: "."}); err == nil {
		t.Error("readFile(directory) succeeded, want error")
	}
}

func TestReadFileTruncatesLargeFiles(t *testing.T) {
	root := t.TempDir()
	ws, _ := workspace.New(root, nil)
	svc := New(ws, Config{MaxReadBytes: 10})
	writeFixture(t, root, "big.txt", strings.Repeat("a", 100))

	res, err := svc.readFile(context.Background(), &models.ReadFile{Path: "big.txt"})
	if err != nil {
		t.Fatalf("readFile() error = %v", err)
	}
	if !strings.Contains(res.Content, "[truncated: showing first 10 of 100 bytes]") {
		t.Errorf("content = %q, want truncation marker", res.Content)
	}
}

func TestWriteFileCreatesParents(t *testing.T) {
	svc, root := newTestService(t)

	res, err := svc.writeFile(context.Background(), &models.WriteFile{
		Path:    "deep/nested/file.txt",
		Content: "hello",
	})
	if err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}
	if !strings.Contains(res.Content, "wrote 5 bytes") {
		t.Errorf("result = %q", res.Content)
	}

	data, err := os.ReadFile(filepath.Join(root, "deep", "nested", "file.txt"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("written content = %q", data)
	}
}

func TestWriteFileRejectsEscape(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.writeFile(context.Background(), &models.WriteFile{Path: "../evil.txt", Content: "x"})
	if err == nil {
		t.Error("writeFile(escape) succeeded, want error")
	}
}

func TestReplaceInFile(t *testing.T) {
	svc, root := newTestService(t)
	writeFixture(t, root, "main.go", "package main\n\nfunc main() {\n\tprintln(\"old\")\n}\n")

	diff := "<<<<<<< SEARCH\n\tprintln(\"old\")\n=======\n\tprintln(\"new\")\n>>>>>>> REPLACE"
	res, err := svc.replaceInFile(context.Background(), &models.ReplaceInFile{Path: "main.go", Diff: diff})
	if err != nil {
		t.Fatalf("replaceInFile() error = %v", err)
	}
	if !strings.Contains(res.Content, "applied 1 replacement") {
		t.Errorf("result = %q", res.Content)
	}

	data, _ := os.ReadFile(filepath.Join(root, "main.go"))
	if !strings.Contains(string(data), `println("new")`) || strings.Contains(string(data), `println("old")`) {
		t.Errorf("file after replace = %q", data)
	}
}

func TestReplaceInFileMultipleBlocks(t *testing.T) {
	svc, root := newTestService(t)
	writeFixture(t, root, "cfg.yaml", "host: old-host\nport: 80\n")

	diff := strings.Join([]string{
		"<<<<<<< SEARCH",
		"host: old-host",
		"=======",
		"host: new-host",
		">>>>>>> REPLACE",
		"<<<<<<< SEARCH",
		"port: 80",
		"=======",
		"port: 443",
		">>>>>>> REPLACE",
	}, "\n")

	if _, err := svc.replaceInFile(context.Background(), &models.ReplaceInFile{Path: "cfg.yaml", Diff: diff}); err != nil {
		t.Fatalf("replaceInFile() error = %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(root, "cfg.yaml"))
	if string(data) != "host: new-host\nport: 443\n" {
		t.Errorf("file = %q", data)
	}
}

func TestReplaceInFileLooseWhitespaceMatch(t *testing.T) {
	svc, root := newTestService(t)
	writeFixture(t, root, "a.txt", "alpha  \nbeta\t\ngamma\n")

	diff := "<<<<<<< SEARCH\nalpha\nbeta\n=======\ndelta\n>>>>>>> REPLACE"
	if _, err := svc.replaceInFile(context.Background(), &models.ReplaceInFile{Path: "a.txt", Diff: diff}); err != nil {
		t.Fatalf("replaceInFile() error = %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(data) != "delta\ngamma\n" {
		t.Errorf("file = %q, want loose match applied", data)
	}
}

func TestReplaceInFileSearchNotFound(t *testing.T) {
	svc, root := newTestService(t)
	writeFixture(t, root, "a.txt", "content\n")

	diff := "<<<<<<< SEARCH\nnowhere\n=======\nx\n>>>>>>> REPLACE"
	_, err := svc.replaceInFile(context.Background(), &models.ReplaceInFile{Path: "a.txt", Diff: diff})
	if err == nil || !strings.Contains(err.Error(), "search text not found") {
		t.Errorf("error = %v, want search text not found", err)
	}
}

func TestParseEditBlocks(t *testing.T) {
	blocks, err := parseEditBlocks("<<<<<<< SEARCH\na\n=======\nb\n>>>>>>> REPLACE\n")
	if err != nil {
		t.Fatalf("parseEditBlocks() error = %v", err)
	}
	if len(blocks) != 1 || blocks[0].search != "a" || blocks[0].replace != "b" {
		t.Errorf("blocks = %+v", blocks)
	}

	for name, diff := range map[string]string{
		"no blocks":      "just some text",
		"unterminated":   "<<<<<<< SEARCH\na\n=======\nb",
		"missing divide": "<<<<<<< SEARCH\na\n>>>>>>> REPLACE",
		"stray content":  "<<<<<<< SEARCH\na\n=======\nb\n>>>>>>> REPLACE\nleftover",
	} {
		if _, err := parseEditBlocks(diff); err == nil {
			t.Errorf("parseEditBlocks(%s) succeeded, want error", name)
		}
	}
}

func TestReplaceEmptySearchOnEmptyFile(t *testing.T) {
	svc, root := newTestService(t)
	writeFixture(t, root, "empty.txt", "")

	diff := "<<<<<<< SEARCH\n=======\nfresh content\n>>>>>>> REPLACE"
	if _, err := svc.replaceInFile(context.Background(), &models.ReplaceInFile{Path: "empty.txt", Diff: diff}); err != nil {
		t.Fatalf("replaceInFile() error = %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(root, "empty.txt"))
	if string(data) != "fresh content" {
		t.Errorf("file = %q", data)
	}
}

func TestListFilesFlat(t *testing.T) {
	svc, root := newTestService(t)
	writeFixture(t, root, "b.txt", "x")
	writeFixture(t, root, "a.txt", "x")
	writeFixture(t, root, "sub/inner.txt", "x")
	writeFixture(t, root, ".git/config", "x")

	res, err := svc.listFiles(context.Background(), &models.ListFiles{Path: "."})
	if err != nil {
		t.Fatalf("listFiles() error = %v", err)
	}
	lines := strings.Split(res.Content, "\n")
	want := []string{"a.txt", "b.txt", "sub/"}
	if len(lines) != len(want) {
		t.Fatalf("listing = %q, want %v", res.Content, want)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i], w)
		}
	}
}

func TestListFilesRecursive(t *testing.T) {
	svc, root := newTestService(t)
	writeFixture(t, root, "src/main.go", "x")
	writeFixture(t, root, "src/util/helper.go", "x")
	writeFixture(t, root, "node_modules/react/index.js", "x")

	res, err := svc.listFiles(context.Background(), &models.ListFiles{Path: ".", Recursive: true})
	if err != nil {
		t.Fatalf("listFiles() error = %v", err)
	}
	if !strings.Contains(res.Content, "src/util/helper.go") {
		t.Errorf("listing missed nested file: %q", res.Content)
	}
	if strings.Contains(res.Content, "node_modules") {
		t.Errorf("listing included ignored directory: %q", res.Content)
	}
}

func TestSearchFiles(t *testing.T) {
	svc, root := newTestService(t)
	writeFixture(t, root, "a.go", "package main\nfunc Foo() {}\n")
	writeFixture(t, root, "b.go", "package main\nfunc Bar() {}\n")
	writeFixture(t, root, "readme.md", "Foo is documented here\n")

	res, err := svc.searchFiles(context.Background(), &models.SearchFiles{
		Path:  ".",
		Regex: `func Foo`,
	})
	if err != nil {
		t.Fatalf("searchFiles() error = %v", err)
	}
	if !strings.Contains(res.Content, "a.go:2: func Foo() {}") {
		t.Errorf("result = %q, want a.go:2 match", res.Content)
	}
	if strings.Contains(res.Content, "b.go") {
		t.Errorf("result = %q, unexpected b.go match", res.Content)
	}
}

func TestSearchFilesWithFilePattern(t *testing.T) {
	svc, root := newTestService(t)
	writeFixture(t, root, "a.go", "Foo\n")
	writeFixture(t, root, "doc.md", "Foo\n")

	res, err := svc.searchFiles(context.Background(), &models.SearchFiles{
		Path:        ".",
		Regex:       "Foo",
		FilePattern: "*.go",
	})
	if err != nil {
		t.Fatalf("searchFiles() error = %v", err)
	}
	if !strings.Contains(res.Content, "a.go") || strings.Contains(res.Content, "doc.md") {
		t.Errorf("result = %q, want only *.go matches", res.Content)
	}
}

func TestSearchFilesNoMatches(t *testing.T) {
	svc, root := newTestService(t)
	writeFixture(t, root, "a.txt", "nothing here\n")

	res, err := svc.searchFiles(context.Background(), &models.SearchFiles{Path: ".", Regex: "absent"})
	if err != nil {
		t.Fatalf("searchFiles() error = %v", err)
	}
	if !strings.Contains(res.Content, "no matches") {
		t.Errorf("result = %q", res.Content)
	}
}

func TestSearchFilesSkipsBinary(t *testing.T) {
	svc, root := newTestService(t)
	if err := os.WriteFile(filepath.Join(root, "bin.dat"), []byte("Foo\x00bar"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := svc.searchFiles(context.Background(), &models.SearchFiles{Path: ".", Regex: "Foo"})
	if err != nil {
		t.Fatalf("searchFiles() error = %v", err)
	}
	if !strings.Contains(res.Content, "no matches") {
		t.Errorf("binary file was searched: %q", res.Content)
	}
}

func TestSearchFilesInvalidRegex(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.searchFiles(context.Background(), &models.SearchFiles{Path: ".", Regex: "["}); err == nil {
		t.Error("searchFiles(invalid regex) succeeded, want error")
	}
}

func TestExtractToTextHTML(t *testing.T) {
	svc, root := newTestService(t)
	writeFixture(t, root, "page.html", `<html><head><title>My Page</title>
<script>alert("nope")</script></head>
<body><h1>Heading</h1><p>First paragraph.</p><p>Second &amp; last.</p></body></html>`)

	res, err := svc.extractToText(context.Background(), &models.ExtractToText{Path: "page.html"})
	if err != nil {
		t.Fatalf("extractToText() error = %v", err)
	}
	if !strings.HasPrefix(res.Content, "Title: My Page") {
		t.Errorf("content = %q, want title first", res.Content)
	}
	if !strings.Contains(res.Content, "First paragraph.") || !strings.Contains(res.Content, "Second & last.") {
		t.Errorf("content = %q, want body text with decoded entities", res.Content)
	}
	if strings.Contains(res.Content, "alert") {
		t.Errorf("content = %q, script leaked through", res.Content)
	}
}

func TestExtractToTextPlainPassthrough(t *testing.T) {
	svc, root := newTestService(t)
	writeFixture(t, root, "main.go", "package main\n\n\tfunc main() {}\n")

	res, err := svc.extractToText(context.Background(), &models.ExtractToText{Path: "main.go"})
	if err != nil {
		t.Fatalf("extractToText() error = %v", err)
	}
	if res.Content != "package main\n\n\tfunc main() {}\n" {
		t.Errorf("content = %q, want unmodified source", res.Content)
	}
}

func TestExtractToTextRejectsBinary(t *testing.T) {
	svc, root := newTestService(t)
	if err := os.WriteFile(filepath.Join(root, "img.png"), []byte{0x89, 'P', 'N', 'G', 0x00, 0x01}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.extractToText(context.Background(), &models.ExtractToText{Path: "img.png"}); err == nil {
		t.Error("extractToText(binary) succeeded, want error")
	}
}
