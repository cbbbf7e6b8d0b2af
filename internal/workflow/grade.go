package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/deixis/grader/internal/config"
	"github.com/deixis/grader/internal/diff"
	"github.com/deixis/grader/internal/report"
	"github.com/deixis/grader/internal/runner"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Diff labels for the two sides of every comparison.
const (
	ReferenceLabel = "solution"
	CandidateLabel = "student"
)

const goldenID = ".solution"

// Expected is the reference output for one case.
type Expected struct {
	Text       string // console text, see consoleText
	OutputFile string // content of the case's output_file, if any
	Err        string // set when the reference could not produce output
}

// Golden holds the reference output for every case.
type Golden struct {
	Run   *report.RunResult
	Cases map[string]Expected
}

// Golden compiles the reference solution and runs it once per case. Cases
// with a fixed expected output file are read instead of run.
func (e *Engine) Golden(ctx context.Context) (*Golden, error) {
	if e.Config.Solution == "" {
		if err := e.fixedOutputsOnly(); err != nil {
			return nil, err
		}
	}

	log := e.logger().With(zap.String("phase", "golden"))
	start := time.Now()
	g := &Golden{
		Run:   &report.RunResult{ID: uuid.New().String(), Kind: report.Golden, Submission: ReferenceLabel, StartedAt: start},
		Cases: make(map[string]Expected, len(e.Config.Cases)),
	}

	var dir string
	if e.Config.Solution != "" {
		var err error
		dir, err = e.prepare(goldenID, e.path(e.Config.Solution))
		if err != nil {
			return nil, err
		}
		if err := e.Compile(ctx, dir); err != nil {
			return nil, fmt.Errorf("reference solution: %w", err)
		}
	}

	results, err := runCases(ctx, e, dir, func(ctx context.Context, tc config.Case, dir string) caseOutcome {
		cr, exp := e.goldenCase(ctx, tc, dir)
		return caseOutcome{CaseResult: cr, expected: exp}
	})
	if err != nil {
		return nil, err
	}
	for i, tc := range e.cases() {
		g.Cases[tc.ID()] = results[i].expected
		g.Run.Cases = append(g.Run.Cases, results[i].CaseResult)
	}
	g.Run.Duration = time.Since(start)
	log.Info("golden output ready", zap.Int("cases", len(g.Cases)), zap.Duration("elapsed", g.Run.Duration))
	return g, nil
}

func (e *Engine) fixedOutputsOnly() error {
	for _, tc := range e.cases() {
		if tc.Output == "" {
			return fmt.Errorf("case %s: no solution configured and no expected output file", tc.ID())
		}
	}
	return nil
}

func (e *Engine) goldenCase(ctx context.Context, tc config.Case, dir string) (report.CaseResult, Expected) {
	cr := report.CaseResult{Name: tc.ID(), Status: report.StatusPass}
	if tc.Output != "" {
		data, err := os.ReadFile(e.path(tc.Output))
		if err != nil {
			cr.Status, cr.Error = report.StatusError, err.Error()
			return cr, Expected{Err: err.Error()}
		}
		cr.Stdout = string(data)
		return cr, Expected{Text: string(data)}
	}

	res, err := e.runCase(ctx, tc, dir, &cr)
	if err != nil {
		return cr, Expected{Err: "reference solution: " + cr.Error}
	}
	exp := Expected{Text: consoleText(res)}
	if tc.OutputFile != "" {
		data, err := os.ReadFile(filepath.Join(dir, tc.OutputFile))
		if err != nil {
			cr.Status, cr.Error = report.StatusError, err.Error()
			return cr, Expected{Err: "reference solution: " + err.Error()}
		}
		exp.OutputFile = string(data)
	}
	return cr, exp
}

// Grade compiles sub and runs every case against golden. A compile failure
// is recorded in the result rather than returned; the error is reserved for
// problems with the grading setup itself.
func (e *Engine) Grade(ctx context.Context, golden *Golden, sub Submission) (*report.RunResult, error) {
	log := e.logger().With(zap.String("submission", sub.ID))
	start := time.Now()
	rr := &report.RunResult{ID: uuid.New().String(), Kind: report.Grade, Submission: sub.ID, StartedAt: start}

	dir, err := e.prepare(sub.ID, sub.Source)
	if err != nil {
		return nil, err
	}
	if err := e.Compile(ctx, dir); err != nil {
		var ce *CompileError
		if !errors.As(err, &ce) {
			return nil, err
		}
		rr.Compile = ce.Failure()
		rr.Duration = time.Since(start)
		log.Info("compilation failed", zap.Int("exit_code", ce.ExitCode))
		return rr, nil
	}

	results, err := runCases(ctx, e, dir, func(ctx context.Context, tc config.Case, dir string) report.CaseResult {
		exp, ok := golden.Cases[tc.ID()]
		if !ok {
			exp.Err = "no golden output for this case"
		}
		return e.gradeCase(ctx, tc, dir, exp)
	})
	if err != nil {
		return nil, err
	}
	rr.Cases = results
	rr.Duration = time.Since(start)
	sum := rr.Summary()
	log.Info("graded",
		zap.Int("passed", sum[report.StatusPass]),
		zap.Int("cases", len(rr.Cases)),
		zap.Duration("elapsed", rr.Duration),
	)
	return rr, nil
}

func (e *Engine) gradeCase(ctx context.Context, tc config.Case, dir string, exp Expected) report.CaseResult {
	cr := report.CaseResult{Name: tc.ID()}
	if exp.Err != "" {
		cr.Status, cr.Error = report.StatusError, exp.Err
		return cr
	}
	format := e.Config.Format()

	res, err := e.runCase(ctx, tc, dir, &cr)
	if err != nil {
		if cr.Status == report.StatusTimeout {
			cr.Diff = &report.DiffResult{
				Name:     report.ArtifactName(tc.ID(), "timeout", "text"),
				Artifact: "Time Out Error\n" + cr.Error + "\n",
			}
		}
		return cr
	}

	d := e.Differ.Render(ctx, diff.Request{
		Reference:      exp.Text,
		Candidate:      consoleText(res),
		ReferenceLabel: ReferenceLabel,
		CandidateLabel: CandidateLabel,
		Format:         format,
	})
	cr.Diff = diffResult(report.ArtifactName(tc.ID(), "diff", format), d)
	cr.Status = report.StatusPass
	if !d.Identical || d.Degraded {
		cr.Status = report.StatusWrong
	}

	if tc.OutputFile != "" {
		name := report.ArtifactName(tc.ID(), filepath.Base(tc.OutputFile)+"_diff", format)
		data, err := os.ReadFile(filepath.Join(dir, tc.OutputFile))
		if err != nil {
			cr.Status = report.StatusWrong
			cr.OutputFile = &report.DiffResult{Name: name, Degraded: true, Reason: err.Error(), Artifact: diff.Fallback("")}
			return cr
		}
		fd := e.Differ.Render(ctx, diff.Request{
			Reference:      exp.OutputFile,
			Candidate:      string(data),
			ReferenceLabel: ReferenceLabel,
			CandidateLabel: CandidateLabel,
			Format:         format,
		})
		cr.OutputFile = diffResult(name, fd)
		if !fd.Identical || fd.Degraded {
			cr.Status = report.StatusWrong
		}
	}
	return cr
}

func diffResult(name string, d *diff.Result) *report.DiffResult {
	return &report.DiffResult{
		Name:      name,
		Identical: d.Identical,
		Changed:   d.Changed,
		Degraded:  d.Degraded,
		Reason:    d.Reason,
		Artifact:  d.Artifact,
	}
}

// runCase executes one case in dir and fills the run fields of cr. On error
// cr.Status and cr.Error describe what went wrong.
func (e *Engine) runCase(ctx context.Context, tc config.Case, dir string, cr *report.CaseResult) (*runner.Result, error) {
	argv, err := e.Config.RunArgv()
	if err == nil {
		argv, err = e.ResolveCommand(argv)
	}
	if err != nil {
		cr.Status, cr.Error = report.StatusError, err.Error()
		return nil, err
	}

	var input []string
	if tc.Input != "" {
		data, err := os.ReadFile(e.path(tc.Input))
		if err != nil {
			cr.Status, cr.Error = report.StatusError, err.Error()
			return nil, err
		}
		input = runner.SplitInput(string(data))
	}
	if tc.OutputFile != "" {
		if err := os.Remove(filepath.Join(dir, tc.OutputFile)); err != nil && !os.IsNotExist(err) {
			cr.Status, cr.Error = report.StatusError, err.Error()
			return nil, err
		}
	}

	res, err := e.Runner.Run(ctx, runner.Request{
		Argv:  argv,
		Input: input,
		Dir:   dir,
		Shell: e.Config.Shell,
		TTY:   e.Config.TTY,
	})
	if res != nil {
		cr.ExitCode = res.ExitCode
		cr.Elapsed = res.Elapsed
		cr.Delivered = res.Delivered
		cr.Discarded = res.Discarded
		cr.Stdout = string(res.Stdout)
		cr.Stderr = string(res.Stderr)
	}
	if err != nil {
		cr.Status, cr.Error = statusOf(err), err.Error()
		return res, err
	}
	return res, nil
}

func statusOf(err error) report.Status {
	var (
		timedOut *runner.TimedOutError
		limit    *runner.OutputLimitError
		launch   *runner.LaunchError
	)
	switch {
	case errors.As(err, &timedOut):
		return report.StatusTimeout
	case errors.As(err, &limit):
		return report.StatusOutputLimit
	case errors.As(err, &launch):
		return report.StatusLaunchError
	}
	return report.StatusError
}

// consoleText is the text compared for a run: stdout alone, or stdout
// followed by a blank line and stderr when the program failed.
func consoleText(res *runner.Result) string {
	if res.Outcome() == runner.Failure {
		return string(res.Stdout) + "\n\n" + string(res.Stderr)
	}
	return string(res.Stdout)
}

type caseOutcome struct {
	report.CaseResult
	expected Expected
}

// cases returns the configured cases, or a single case without input when
// none are configured.
func (e *Engine) cases() []config.Case {
	if len(e.Config.Cases) == 0 {
		return []config.Case{{Name: "default"}}
	}
	return e.Config.Cases
}

// parallelism bounds concurrent cases. Cases that produce an output file
// share the build directory, so they run one at a time.
func (e *Engine) parallelism() int {
	for _, tc := range e.cases() {
		if tc.OutputFile != "" {
			return 1
		}
	}
	return e.Config.Parallelism()
}

// runCases calls fn for every case with bounded parallelism and returns the
// results in case order.
func runCases[T any](ctx context.Context, e *Engine, dir string, fn func(context.Context, config.Case, string) T) ([]T, error) {
	cases := e.cases()
	out := make([]T, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism())
	for i, tc := range cases {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = fn(gctx, tc, dir)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
