//go:build linux

package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deixis/grader/internal/config"
	"github.com/deixis/grader/internal/diff"
	"github.com/deixis/grader/internal/report"
	"go.uber.org/zap/zaptest"
)

// The default differ re-executes the test binary as its worker.
func TestMain(m *testing.M) {
	diff.Init()
	os.Exit(m.Run())
}

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

// newTestEngine lays out a grading root with a shell-script solution and one
// case per input, and returns an engine for it.
func newTestEngine(t *testing.T, solution string, inputs ...string) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "solution", "prog.sh"), solution)

	cfg := &config.Config{
		Solution:       "solution/prog.sh",
		Compile:        "sh -n {source}",
		Run:            "sh {source}",
		RawQuiet:       "20ms",
		RawTimeout:     "5s",
		RawDiffTimeout: "10s",
		RawFormat:      "html",
	}
	for i, in := range inputs {
		name := "case" + string(rune('a'+i))
		writeFile(t, filepath.Join(root, "tests", name+".in"), in)
		cfg.Cases = append(cfg.Cases, config.Case{Name: name, Input: "tests/" + name + ".in"})
	}
	return New(&config.LoadResult{Config: cfg, Root: root}, zaptest.NewLogger(t)), root
}

func submit(t *testing.T, root, id, body string) Submission {
	t.Helper()
	path := filepath.Join(root, "turnin", id, "prog.sh")
	writeFile(t, path, body)
	return Submission{ID: id, Source: path}
}

func golden(t *testing.T, e *Engine) *Golden {
	t.Helper()
	g, err := e.Golden(context.Background())
	if err != nil {
		t.Fatalf("Golden: %v", err)
	}
	return g
}

func TestGolden_RunsSolutionPerCase(t *testing.T) {
	e, _ := newTestEngine(t, greeter, "world\n", "gopher\n")
	g := golden(t, e)

	if got := g.Cases["casea"].Text; got != "hello world\n" {
		t.Errorf("casea = %q, want %q", got, "hello world\n")
	}
	if got := g.Cases["caseb"].Text; got != "hello gopher\n" {
		t.Errorf("caseb = %q, want %q", got, "hello gopher\n")
	}
	if g.Run.Kind != report.Golden || len(g.Run.Cases) != 2 {
		t.Errorf("golden run = %+v", g.Run)
	}
}

func TestGrade_Pass(t *testing.T) {
	e, root := newTestEngine(t, greeter, "world\n")
	g := golden(t, e)

	sub := submit(t, root, "alice", "read n\necho \"hello $n   \"\n")
	rr, err := e.Grade(context.Background(), g, sub)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if !rr.Passed() {
		t.Fatalf("Passed() = false, cases = %+v", rr.Cases)
	}
	c := rr.Cases[0]
	if c.Diff == nil || !c.Diff.Identical {
		t.Errorf("Diff = %+v, want identical", c.Diff)
	}
	if c.Diff.Name != "casea_diff.html" {
		t.Errorf("artifact name = %q", c.Diff.Name)
	}
	if !strings.Contains(c.Diff.Artifact, ReferenceLabel) || !strings.Contains(c.Diff.Artifact, CandidateLabel) {
		t.Error("artifact does not carry both labels")
	}
	if c.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", c.Delivered)
	}
}

func TestGrade_WrongOutput(t *testing.T) {
	e, root := newTestEngine(t, greeter, "world\n")
	g := golden(t, e)

	rr, err := e.Grade(context.Background(), g, submit(t, root, "bob", "read n\necho \"hi $n\"\n"))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	c := rr.Cases[0]
	if c.Status != report.StatusWrong {
		t.Errorf("Status = %s, want wrong", c.Status)
	}
	if c.Diff.Changed != 1 {
		t.Errorf("Changed = %d, want 1", c.Diff.Changed)
	}
}

func TestGrade_FailureIncludesStderr(t *testing.T) {
	e, root := newTestEngine(t, greeter, "world\n")
	g := golden(t, e)

	rr, err := e.Grade(context.Background(), g, submit(t, root, "carol", "echo partial\necho broken >&2\nexit 1\n"))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	c := rr.Cases[0]
	if c.Status != report.StatusWrong || c.ExitCode != 1 {
		t.Errorf("Status = %s, ExitCode = %d", c.Status, c.ExitCode)
	}
	if !strings.Contains(c.Diff.Artifact, "broken") {
		t.Error("diff does not show the program's stderr")
	}
}

func TestGrade_Timeout(t *testing.T) {
	e, root := newTestEngine(t, greeter, "world\n")
	g := golden(t, e)
	e.Config.RawTimeout = "1s"
	e = New(&config.LoadResult{Config: e.Config, Root: root}, zaptest.NewLogger(t))

	rr, err := e.Grade(context.Background(), g, submit(t, root, "dave", "sleep 30\n"))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	c := rr.Cases[0]
	if c.Status != report.StatusTimeout {
		t.Fatalf("Status = %s, want timeout", c.Status)
	}
	if c.Diff == nil || c.Diff.Name != "casea_timeout.txt" || !strings.HasPrefix(c.Diff.Artifact, "Time Out Error") {
		t.Errorf("timeout artifact = %+v", c.Diff)
	}
}

func TestGrade_CompileFailure(t *testing.T) {
	e, root := newTestEngine(t, greeter, "world\n")
	g := golden(t, e)

	rr, err := e.Grade(context.Background(), g, submit(t, root, "erin", "if then (\n"))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if rr.Compile == nil {
		t.Fatal("Compile = nil, want a compile failure")
	}
	if rr.Compile.ExitCode == 0 || rr.Compile.Output == "" {
		t.Errorf("Compile = %+v", rr.Compile)
	}
	if len(rr.Cases) != 0 {
		t.Errorf("ran %d cases after a failed compile", len(rr.Cases))
	}
}

func TestGrade_CompileWarningsAreNotFailures(t *testing.T) {
	e, root := newTestEngine(t, greeter, "world\n")
	e.Config.Compile = "sh -c 'echo warning: unchecked >&2'"
	g := golden(t, e)

	rr, err := e.Grade(context.Background(), g, submit(t, root, "fay", greeter))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if rr.Compile != nil {
		t.Errorf("Compile = %+v, want success despite stderr output", rr.Compile)
	}
}

func TestGrade_OutputFile(t *testing.T) {
	e, root := newTestEngine(t, "read n\necho \"saved $n\" > out.txt\necho done\n", "x\n")
	e.Config.Cases[0].OutputFile = "out.txt"
	g := golden(t, e)
	if got := g.Cases["casea"].OutputFile; got != "saved x\n" {
		t.Fatalf("golden output file = %q", got)
	}

	rr, err := e.Grade(context.Background(), g, submit(t, root, "gil", "read n\necho \"saved $n!\" > out.txt\necho done\n"))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	c := rr.Cases[0]
	if c.Diff == nil || !c.Diff.Identical {
		t.Errorf("console diff = %+v, want identical", c.Diff)
	}
	if c.OutputFile == nil || c.OutputFile.Identical {
		t.Fatalf("OutputFile = %+v, want a difference", c.OutputFile)
	}
	if c.Status != report.StatusWrong {
		t.Errorf("Status = %s, want wrong", c.Status)
	}
}

func TestGrade_MissingOutputFile(t *testing.T) {
	e, root := newTestEngine(t, "echo a > out.txt\n")
	e.Config.Cases = []config.Case{{Name: "file", OutputFile: "out.txt"}}
	g := golden(t, e)

	rr, err := e.Grade(context.Background(), g, submit(t, root, "hal", "true\n"))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	c := rr.Cases[0]
	if c.Status != report.StatusWrong || c.OutputFile == nil || !c.OutputFile.Degraded {
		t.Errorf("case = %+v", c)
	}
}

func TestGrade_ParallelCasesKeepOrder(t *testing.T) {
	e, root := newTestEngine(t, greeter, "a\n", "b\n", "c\n", "d\n")
	e.Config.RawParallelism = 4
	g := golden(t, e)

	rr, err := e.Grade(context.Background(), g, submit(t, root, "ivy", greeter))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	for i, c := range rr.Cases {
		if want := "case" + string(rune('a'+i)); c.Name != want {
			t.Errorf("Cases[%d].Name = %q, want %q", i, c.Name, want)
		}
		if c.Status != report.StatusPass {
			t.Errorf("%s: Status = %s", c.Name, c.Status)
		}
	}
}

func TestGrade_NoCasesRunsOnce(t *testing.T) {
	e, root := newTestEngine(t, "echo fixed\n")
	g := golden(t, e)
	rr, err := e.Grade(context.Background(), g, submit(t, root, "jo", "echo fixed\n"))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if len(rr.Cases) != 1 || rr.Cases[0].Name != "default" || rr.Cases[0].Status != report.StatusPass {
		t.Errorf("Cases = %+v", rr.Cases)
	}
}

func TestGrade_NoInputSeesEndOfFile(t *testing.T) {
	e, root := newTestEngine(t, greeter)
	g := golden(t, e)
	if got := g.Cases["default"]; got.Err != "" || got.Text != "hello \n" {
		t.Fatalf("default = %+v, want the solution to read EOF and finish", got)
	}
	rr, err := e.Grade(context.Background(), g, submit(t, root, "kim", greeter))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if rr.Cases[0].Status != report.StatusPass {
		t.Errorf("Status = %s (%s), want pass", rr.Cases[0].Status, rr.Cases[0].Error)
	}
}

func TestGolden_FixedExpectedOutput(t *testing.T) {
	e, root := newTestEngine(t, greeter)
	e.Config.Solution = ""
	e.Config.Source = "prog.sh"
	writeFile(t, filepath.Join(root, "tests", "fixed.out"), "hello fixed\n")
	e.Config.Cases = []config.Case{{Name: "fixed", Output: "tests/fixed.out"}}

	g := golden(t, e)
	if g.Cases["fixed"].Text != "hello fixed\n" {
		t.Errorf("fixed = %q", g.Cases["fixed"].Text)
	}
}

func TestGolden_BrokenSolution(t *testing.T) {
	e, _ := newTestEngine(t, "fi fi (\n")
	_, err := e.Golden(context.Background())
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CompileError", err)
	}
}

func TestCollect(t *testing.T) {
	e, root := newTestEngine(t, greeter)
	turnin := filepath.Join(root, "turnin")
	writeFile(t, filepath.Join(turnin, "alice_prog.sh"), greeter)
	writeFile(t, filepath.Join(turnin, "bob", "prog.sh"), greeter)
	writeFile(t, filepath.Join(turnin, "carol_Prog.java"), "class Prog {}")
	writeFile(t, filepath.Join(turnin, ".hidden"), "")

	subs, skipped, err := e.Collect([]string{turnin})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(subs) != 2 || subs[0].ID != "alice" || subs[1].ID != "bob" {
		t.Errorf("subs = %+v, want alice and bob", subs)
	}
	if len(skipped) != 1 || !strings.Contains(skipped[0].Reason, "wrong file name") {
		t.Errorf("skipped = %+v", skipped)
	}

	single, _, err := e.Collect([]string{filepath.Join(turnin, "bob")})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(single) != 1 || single[0].ID != "bob" {
		t.Errorf("single = %+v", single)
	}
}

func TestResolveCommand(t *testing.T) {
	e := &Engine{Config: &config.Config{}}
	argv, err := e.ResolveCommand([]string{"sh", "-c", "true"})
	if err != nil {
		t.Fatalf("ResolveCommand(sh): %v", err)
	}
	if !filepath.IsAbs(argv[0]) {
		t.Errorf("argv[0] = %q, want an absolute path", argv[0])
	}

	_, err = e.ResolveCommand([]string{"javac-does-not-exist"})
	var unavail ErrToolUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("error = %v, want ErrToolUnavailable", err)
	}

	hint := NewErrToolUnavailable("javac").Error()
	if !strings.Contains(hint, "Java Development Kit") {
		t.Errorf("javac hint = %q", hint)
	}
}

func TestCompileError_Output(t *testing.T) {
	ce := &CompileError{Source: "A.java", ExitCode: 1, Stdout: "out\n", Stderr: "A.java:1: error\n"}
	if got := ce.Output(); got != "out\nA.java:1: error" {
		t.Errorf("Output() = %q", got)
	}
	if f := ce.Failure(); f.ExitCode != 1 || f.Output != ce.Output() {
		t.Errorf("Failure() = %+v", f)
	}
}
