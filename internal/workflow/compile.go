package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deixis/grader/internal/report"
	"github.com/deixis/grader/internal/runner"
	"go.uber.org/zap"
)

// CompileError reports that the compile step rejected a source file.
type CompileError struct {
	Source   string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error // set when the compiler was killed or could not be started
}

func (e *CompileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("compiling %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("compiling %s: exit status %d", e.Source, e.ExitCode)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Output returns the compiler's combined output.
func (e *CompileError) Output() string {
	var parts []string
	for _, s := range []string{e.Stdout, e.Stderr} {
		if s = strings.TrimRight(s, "\n"); s != "" {
			parts = append(parts, s)
		}
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, "\n")
}

// Failure converts the error into its persisted form.
func (e *CompileError) Failure() *report.CompileFailure {
	return &report.CompileFailure{ExitCode: e.ExitCode, Output: e.Output()}
}

// Compile runs the configured compile command in dir. Success is decided by
// the exit status: warnings on stderr do not fail the build. A missing
// compiler is returned as ErrToolUnavailable, not as a CompileError.
func (e *Engine) Compile(ctx context.Context, dir string) error {
	argv, err := e.Config.CompileArgv()
	if err != nil {
		return err
	}
	if argv == nil {
		return nil
	}
	argv, err = e.ResolveCommand(argv)
	if err != nil {
		return err
	}

	source := e.Config.SourceName()
	log := e.logger().With(zap.String("source", source), zap.String("dir", dir))
	log.Debug("compiling", zap.Strings("argv", argv))

	res, err := e.compiler().Run(ctx, runner.Request{Argv: argv, Dir: dir, Shell: e.Config.Shell})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var launch *runner.LaunchError
		if errors.As(err, &launch) {
			return err
		}
		ce := &CompileError{Source: source, ExitCode: -1, Err: err}
		if res != nil {
			ce.Stdout, ce.Stderr = string(res.Stdout), string(res.Stderr)
		}
		return ce
	}
	if res.Outcome() == runner.Failure {
		log.Info("compile failed", zap.Int("exit_code", res.ExitCode))
		return &CompileError{
			Source:   source,
			ExitCode: res.ExitCode,
			Stdout:   string(res.Stdout),
			Stderr:   string(res.Stderr),
		}
	}
	return nil
}
