// Package report provides structured persistence and retrieval of
// grading runs. Results are stored as typed structs and can be
// queried by case.
package report

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Kind identifies the type of a run.
type Kind string

const (
	// Golden is a run of the reference solution.
	Golden Kind = "golden"
	// Grade is a run of a submission against golden output.
	Grade Kind = "grade"
)

// Status is the verdict for one case.
type Status string

const (
	StatusPass        Status = "pass"
	StatusWrong       Status = "wrong"
	StatusTimeout     Status = "timeout"
	StatusLaunchError Status = "launch_error"
	StatusOutputLimit Status = "output_limit"
	StatusError       Status = "error"
)

// Store persists and retrieves run results.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
}

// RunResult holds everything recorded about one grading run.
type RunResult struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Submission string          `json:"submission"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	Compile    *CompileFailure `json:"compile,omitempty"`
	Cases      []CaseResult    `json:"cases,omitempty"`
}

// Expect returns an error if the run's Kind does not match want.
func (r *RunResult) Expect(want Kind) error {
	if r.Kind != want {
		return fmt.Errorf("run %s is a %s run, not a %s run", r.ID, r.Kind, want)
	}
	return nil
}

// Passed reports whether the submission compiled and every case passed.
func (r *RunResult) Passed() bool {
	if r.Compile != nil {
		return false
	}
	for _, c := range r.Cases {
		if c.Status != StatusPass {
			return false
		}
	}
	return true
}

// Summary counts cases per status.
func (r *RunResult) Summary() map[Status]int {
	out := make(map[Status]int)
	for _, c := range r.Cases {
		out[c.Status]++
	}
	return out
}

// CompileFailure records a failed compile step.
type CompileFailure struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

// CaseResult is the outcome of running one case.
type CaseResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	ExitCode  int           `json:"exit_code"`
	Elapsed   time.Duration `json:"elapsed"`
	Delivered int           `json:"delivered"`
	Discarded int           `json:"discarded,omitempty"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	Error     string        `json:"error,omitempty"`

	// Diff of the console output against the expected output.
	Diff *DiffResult `json:"diff,omitempty"`
	// Diff of the file named by the case's output_file.
	OutputFile *DiffResult `json:"output_file,omitempty"`
}

// DiffResult describes one rendered comparison. The artifact itself is
// written next to the run rather than inlined in the JSON.
type DiffResult struct {
	Name      string `json:"name"` // artifact file name
	Identical bool   `json:"identical"`
	Changed   int    `json:"changed"`
	Degraded  bool   `json:"degraded,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Artifact  string `json:"-"`
}

// ArtifactName returns the file name for a case artifact. Unsafe characters
// in the parts are replaced so the name stays inside the run directory.
func ArtifactName(caseName, suffix, format string) string {
	ext := ".html"
	switch format {
	case "unified":
		ext = ".diff"
	case "text":
		ext = ".txt"
	}
	name := sanitize(caseName)
	if suffix != "" {
		name += "_" + sanitize(suffix)
	}
	return name + ext
}

func sanitize(s string) string {
	s = filepath.Base(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}

// ByCase returns the results for the named case, or all results when name is
// empty.
func ByCase(result *RunResult, name string) []CaseResult {
	if name == "" {
		return result.Cases
	}
	var out []CaseResult
	for _, c := range result.Cases {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Failing returns every case that did not pass.
func Failing(result *RunResult) []CaseResult {
	var out []CaseResult
	for _, c := range result.Cases {
		if c.Status != StatusPass {
			out = append(out, c)
		}
	}
	return out
}

// artifacts lists every artifact carried by a run.
func artifacts(r *RunResult) []*DiffResult {
	var out []*DiffResult
	for i := range r.Cases {
		if d := r.Cases[i].Diff; d != nil && d.Name != "" {
			out = append(out, d)
		}
		if d := r.Cases[i].OutputFile; d != nil && d.Name != "" {
			out = append(out, d)
		}
	}
	return out
}
