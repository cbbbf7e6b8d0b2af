// Package runner executes an external program the way a person at a
// terminal would: it waits for the program to go quiet, types the next
// line of scripted input, and keeps reading until the program exits or
// its time runs out.
package runner

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Default values for the quiescence heuristic.
const (
	DefaultQuiet        = 500 * time.Millisecond
	DefaultPollInterval = 100 * time.Millisecond
)

// Request describes one execution.
type Request struct {
	Argv  []string // program and arguments
	Input []string // console lines, delivered in order, at most once each
	Dir   string   // working directory; empty means the current one
	Env   []string // extra KEY=VALUE pairs appended to the inherited environment

	// Shell joins Argv with spaces and runs it through /bin/sh -c.
	Shell bool
	// TTY runs the child on a pseudo-terminal. stdout and stderr then share
	// the terminal and typed input is echoed back as output.
	TTY bool
}

// Runner executes requests. The zero value is usable: no time limit,
// no output limit and the default quiet window.
type Runner struct {
	Timeout      time.Duration // hard wall-clock limit; 0 disables it
	Quiet        time.Duration // silence required before the next line is typed
	PollInterval time.Duration // upper bound on a single readiness wait
	MaxOutput    int           // bytes across stdout and stderr; 0 disables it
	HoldStdin    bool          // keep stdin open after the last line
	Logger       *zap.Logger
}

// Run launches req.Argv and drives it to completion.
//
// On a timeout, an output limit or context cancellation the process group is
// killed and Run returns the partial Result together with the error. A launch
// failure returns a *LaunchError and no Result.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Argv) == 0 {
		return nil, errors.New("empty argv")
	}

	argv := req.Argv
	if req.Shell {
		argv = []string{"/bin/sh", "-c", strings.Join(req.Argv, " ")}
	}

	runID := uuid.New().String()
	log := r.logger().With(zap.String("run_id", runID))
	return r.execute(ctx, req, argv, runID, log)
}

func (r *Runner) quiet() time.Duration {
	if r.Quiet > 0 {
		return r.Quiet
	}
	return DefaultQuiet
}

func (r *Runner) pollInterval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return DefaultPollInterval
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

// SplitInput splits text into console lines, keeping each terminator.
// A trailing fragment without a newline is kept as its own line.
func SplitInput(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
