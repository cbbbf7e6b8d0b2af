package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/grader/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from a grade_submission result"`
	Case  string `json:"case,omitempty" jsonschema:"case name; omit to list every case of the run"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	result, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	if result.Compile != nil {
		return textResult(fmt.Sprintf("Run: %s (%s)\n%s did not compile (exit %d):\n\n%s\n",
			result.ID, result.Kind, result.Submission, result.Compile.ExitCode, result.Compile.Output))
	}

	cases := report.ByCase(result, params.Case)
	if len(cases) == 0 {
		return textResult(fmt.Sprintf("No case %q in run %s (%s).", params.Case, params.RunID, result.Kind))
	}
	return textResult(formatInspectOutput(result, cases, params.Case != ""))
}

func formatInspectOutput(rr *report.RunResult, cases []report.CaseResult, detail bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s (%s, %s)\n", rr.ID, rr.Kind, rr.Submission)
	fmt.Fprintln(&b)

	if !detail {
		for _, c := range cases {
			fmt.Fprintf(&b, "%s: %s (exit %d, %s)\n", c.Name, c.Status, c.ExitCode, c.Elapsed)
		}
		return b.String()
	}

	for _, c := range cases {
		fmt.Fprintf(&b, "%s: %s\n", c.Name, c.Status)
		fmt.Fprintf(&b, "Exit code: %d\nElapsed: %s\n", c.ExitCode, c.Elapsed)
		fmt.Fprintf(&b, "Input lines: %d delivered, %d unread\n", c.Delivered, c.Discarded)
		if c.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", c.Error)
		}
		writeBlock(&b, "Stdout", c.Stdout)
		writeBlock(&b, "Stderr", c.Stderr)
		writeDiff(&b, "Diff", c.Diff)
		writeDiff(&b, "Output file", c.OutputFile)
	}
	return b.String()
}

func writeBlock(b *strings.Builder, title, text string) {
	if text == "" {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(b, "    %s\n", line)
	}
}

func writeDiff(b *strings.Builder, title string, d *report.DiffResult) {
	if d == nil {
		return
	}
	switch {
	case d.Degraded:
		fmt.Fprintf(b, "\n%s (%s): degraded, %s\n", title, d.Name, d.Reason)
	case d.Identical:
		fmt.Fprintf(b, "\n%s (%s): identical\n", title, d.Name)
		return
	case d.Changed > 0:
		fmt.Fprintf(b, "\n%s (%s): %d differing line(s)\n", title, d.Name, d.Changed)
	default:
		fmt.Fprintf(b, "\n%s (%s):\n", title, d.Name)
	}
	if d.Artifact != "" && !strings.HasPrefix(d.Artifact, "<!DOCTYPE html>") {
		writeBlock(b, "Artifact", d.Artifact)
	}
}
