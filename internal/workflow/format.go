package workflow

import (
	"fmt"
	"strings"

	"github.com/deixis/grader/internal/report"
)

// FormatRun renders a grading run as plain text. Verbose output adds the
// console output of every case that did not pass.
func FormatRun(rr *report.RunResult, verbose bool) string {
	var b strings.Builder

	passed := rr.Summary()[report.StatusPass]
	status := "PASS"
	if !rr.Passed() {
		status = "FAIL"
	}
	if rr.Compile != nil {
		fmt.Fprintf(&b, "%s %s: compilation failed (exit %d)\n", status, rr.Submission, rr.Compile.ExitCode)
	} else {
		fmt.Fprintf(&b, "%s %s (%d/%d cases)\n", status, rr.Submission, passed, len(rr.Cases))
	}
	fmt.Fprintf(&b, "Run: %s\n", rr.ID)

	if rr.Compile != nil {
		fmt.Fprintln(&b)
		writeIndented(&b, rr.Compile.Output)
		return b.String()
	}

	fmt.Fprintln(&b)
	for _, c := range rr.Cases {
		fmt.Fprintf(&b, "  %-15s %-12s %s\n", c.Name, c.Status, caseDetail(c))
	}

	if verbose {
		for _, c := range report.Failing(rr) {
			fmt.Fprintf(&b, "\n%s:\n", c.Name)
			if c.Stdout != "" {
				fmt.Fprintln(&b, "  stdout:")
				writeIndented(&b, c.Stdout)
			}
			if c.Stderr != "" {
				fmt.Fprintln(&b, "  stderr:")
				writeIndented(&b, c.Stderr)
			}
		}
	}
	return b.String()
}

func caseDetail(c report.CaseResult) string {
	var parts []string
	if c.Error != "" {
		parts = append(parts, c.Error)
	}
	for _, d := range []*report.DiffResult{c.Diff, c.OutputFile} {
		if d == nil {
			continue
		}
		switch {
		case d.Degraded:
			parts = append(parts, "diff degraded: "+d.Reason)
		case !d.Identical && d.Changed > 0:
			parts = append(parts, fmt.Sprintf("%s: %d differing line(s)", d.Name, d.Changed))
		}
	}
	if c.Discarded > 0 {
		parts = append(parts, fmt.Sprintf("%d input line(s) unread", c.Discarded))
	}
	return strings.Join(parts, "; ")
}

func writeIndented(b *strings.Builder, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(b, "    %s\n", line)
	}
}
