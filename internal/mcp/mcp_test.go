//go:build linux

package mcp

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/deixis/grader/internal/config"
	"github.com/deixis/grader/internal/diff"
	"github.com/deixis/grader/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap/zaptest"
)

// The server's differ re-executes the test binary as its worker.
func TestMain(m *testing.M) {
	diff.Init()
	os.Exit(m.Run())
}

const graderFile = `solution: solution/greet.sh
compile: sh -n {source}
run: sh {source}
quiet: 20ms
timeout: 5s
format: unified
cases:
  - name: world
    input: tests/world.in
  - name: gopher
    input: tests/gopher.in
`

const greeter = `read name
echo "hello $name"
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// fixture lays out a grading root with a .grader file, a shell solution and
// two cases.
func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, config.FileName), graderFile)
	writeFile(t, filepath.Join(root, "solution", "greet.sh"), greeter)
	writeFile(t, filepath.Join(root, "tests", "world.in"), "world\n")
	writeFile(t, filepath.Join(root, "tests", "gopher.in"), "gopher\n")
	return root
}

// setup creates a full grader MCP server and client over in-memory transports.
func setup(t *testing.T, root string) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	loaded, err := config.Load(root)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	store := report.NewLRUStore(5, report.NewDiskStore(t.TempDir()))
	server := NewServer(loaded, store, zaptest.NewLogger(t))

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})

	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var runIDPattern = regexp.MustCompile(`Run: (\S+)`)

func runID(t *testing.T, text string) string {
	t.Helper()
	m := runIDPattern.FindStringSubmatch(text)
	if m == nil {
		t.Fatalf("no run ID in output:\n%s", text)
	}
	return m[1]
}

// --- grade_config ---

func TestGradeConfig(t *testing.T) {
	root := fixture(t)
	cs := setup(t, root)
	res := callTool(t, cs, "grade_config", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{"Root: " + root, "Source file: greet.sh", "Run: sh greet.sh", "Cases (2):", "world", "gopher"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Problems:") {
		t.Errorf("valid config reported problems:\n%s", text)
	}
}

func TestGradeConfig_ReportsProblems(t *testing.T) {
	cs := setup(t, t.TempDir())
	text := resultText(callTool(t, cs, "grade_config", nil))
	if !strings.Contains(text, "Problems:") || !strings.Contains(text, "run: command is required") {
		t.Errorf("expected validation problems, got:\n%s", text)
	}
}

// --- grade_submission ---

func TestGradeSubmission_Pass(t *testing.T) {
	root := fixture(t)
	writeFile(t, filepath.Join(root, "turnin", "alice", "greet.sh"), greeter)
	cs := setup(t, root)

	res := callTool(t, cs, "grade_submission", map[string]any{"path": "turnin/alice"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "PASS alice (2/2 cases)") {
		t.Errorf("expected PASS, got:\n%s", text)
	}
}

func TestGradeSubmission_Wrong(t *testing.T) {
	root := fixture(t)
	writeFile(t, filepath.Join(root, "turnin", "bob", "greet.sh"), "read name\necho \"hi $name\"\n")
	cs := setup(t, root)

	text := resultText(callTool(t, cs, "grade_submission", map[string]any{"path": "turnin/bob"}))
	if !strings.Contains(text, "FAIL bob (0/2 cases)") {
		t.Errorf("expected FAIL, got:\n%s", text)
	}
	if !strings.Contains(text, "wrong") {
		t.Errorf("expected wrong status, got:\n%s", text)
	}
	if !strings.Contains(text, "grade_inspect") {
		t.Errorf("expected inspect hint, got:\n%s", text)
	}
}

func TestGradeSubmission_TurnInFolder(t *testing.T) {
	root := fixture(t)
	writeFile(t, filepath.Join(root, "turnin", "alice_greet.sh"), greeter)
	writeFile(t, filepath.Join(root, "turnin", "carol_hello.sh"), greeter)
	cs := setup(t, root)

	text := resultText(callTool(t, cs, "grade_submission", map[string]any{"path": "turnin"}))
	if !strings.Contains(text, "PASS alice") {
		t.Errorf("expected alice to pass, got:\n%s", text)
	}
	if !strings.Contains(text, "Skipped") || !strings.Contains(text, "carol_hello.sh") {
		t.Errorf("expected carol to be skipped, got:\n%s", text)
	}
}

func TestGradeSubmission_MissingPath(t *testing.T) {
	cs := setup(t, fixture(t))
	res := callTool(t, cs, "grade_submission", map[string]any{"path": "nowhere"})
	if !res.IsError {
		t.Errorf("expected error for missing path, got:\n%s", resultText(res))
	}
}

func TestGradeSubmission_EmptyPath(t *testing.T) {
	cs := setup(t, fixture(t))
	res := callTool(t, cs, "grade_submission", map[string]any{"path": ""})
	if !res.IsError {
		t.Error("expected error for empty path")
	}
}

// --- grade_diff ---

func TestGradeDiff_Identical(t *testing.T) {
	cs := setup(t, fixture(t))
	text := resultText(callTool(t, cs, "grade_diff", map[string]any{
		"reference": "a\nb\n",
		"candidate": "a  \nb",
	}))
	if !strings.Contains(text, "Identical") {
		t.Errorf("expected identical, got:\n%s", text)
	}
}

func TestGradeDiff_Unified(t *testing.T) {
	cs := setup(t, fixture(t))
	text := resultText(callTool(t, cs, "grade_diff", map[string]any{
		"reference": "a\nb\nc\n",
		"candidate": "a\nx\nc\n",
	}))
	if !strings.Contains(text, "Different: 1 line(s)") {
		t.Errorf("expected one changed line, got:\n%s", text)
	}
	if !strings.Contains(text, "-b") || !strings.Contains(text, "+x") {
		t.Errorf("expected unified hunk, got:\n%s", text)
	}
}

func TestGradeDiff_HTML(t *testing.T) {
	cs := setup(t, fixture(t))
	text := resultText(callTool(t, cs, "grade_diff", map[string]any{
		"reference": "a\n",
		"candidate": "b\n",
		"format":    "html",
	}))
	if !strings.Contains(text, "<table") {
		t.Errorf("expected an HTML table, got:\n%s", text)
	}
}

func TestGradeDiff_UnknownFormat(t *testing.T) {
	cs := setup(t, fixture(t))
	res := callTool(t, cs, "grade_diff", map[string]any{
		"reference": "a",
		"candidate": "b",
		"format":    "pdf",
	})
	if !res.IsError {
		t.Error("expected error for unknown format")
	}
}

// --- grade_inspect ---

func TestGradeInspect_MissingRunID(t *testing.T) {
	cs := setup(t, fixture(t))
	res := callTool(t, cs, "grade_inspect", map[string]any{"run_id": ""})
	if !res.IsError {
		t.Error("expected error for empty run_id")
	}
}

func TestGradeInspect_UnknownRun(t *testing.T) {
	cs := setup(t, fixture(t))
	res := callTool(t, cs, "grade_inspect", map[string]any{"run_id": "nonexistent-run-id"})
	if !res.IsError {
		t.Error("expected error for unknown run_id")
	}
}

func TestGradeInspect_AfterWrongRun(t *testing.T) {
	root := fixture(t)
	writeFile(t, filepath.Join(root, "turnin", "bob", "greet.sh"), "read name\necho \"hi $name\"\n")
	cs := setup(t, root)

	id := runID(t, resultText(callTool(t, cs, "grade_submission", map[string]any{"path": "turnin/bob"})))

	text := resultText(callTool(t, cs, "grade_inspect", map[string]any{"run_id": id}))
	if !strings.Contains(text, "world: wrong") || !strings.Contains(text, "gopher: wrong") {
		t.Errorf("expected both cases listed, got:\n%s", text)
	}

	text = resultText(callTool(t, cs, "grade_inspect", map[string]any{"run_id": id, "case": "world"}))
	for _, want := range []string{"world: wrong", "hi world", "-hello world", "+hi world"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in case detail, got:\n%s", want, text)
		}
	}

	text = resultText(callTool(t, cs, "grade_inspect", map[string]any{"run_id": id, "case": "mars"}))
	if !strings.Contains(text, `No case "mars"`) {
		t.Errorf("expected unknown case message, got:\n%s", text)
	}
}

func TestGradeInspect_CompileFailure(t *testing.T) {
	root := fixture(t)
	writeFile(t, filepath.Join(root, "turnin", "dave", "greet.sh"), "if then fi (\n")
	cs := setup(t, root)

	text := resultText(callTool(t, cs, "grade_submission", map[string]any{"path": "turnin/dave"}))
	if !strings.Contains(text, "compilation failed") {
		t.Fatalf("expected compilation failure, got:\n%s", text)
	}
	text = resultText(callTool(t, cs, "grade_inspect", map[string]any{"run_id": runID(t, text)}))
	if !strings.Contains(text, "did not compile") {
		t.Errorf("expected compile output, got:\n%s", text)
	}
}
