package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/deixis/grader/internal/workflow"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

type gradeParams struct {
	Path    string `json:"path" jsonschema:"submission source file, directory holding it, or turn-in folder; relative paths resolve against the grading root"`
	Verbose bool   `json:"verbose,omitempty" jsonschema:"include the console output of failing cases"`
}

func (h *handler) gradeHandler(ctx context.Context, req *mcp.CallToolRequest, params gradeParams) (*mcp.CallToolResult, any, error) {
	if params.Path == "" {
		return errorResult("path is required")
	}

	eng, golden, err := h.goldenOutput(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("reference solution failed: %v", err))
	}

	path := params.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(eng.Root, path)
	}
	subs, skipped, err := eng.Collect([]string{path})
	if err != nil {
		return errorResult(err.Error())
	}
	if len(subs) == 0 {
		return errorResult(fmt.Sprintf("no submissions found at %s", params.Path))
	}

	var b strings.Builder
	for _, sub := range subs {
		rr, err := eng.Grade(ctx, golden, sub)
		if err != nil {
			return errorResult(fmt.Sprintf("grading %s failed: %v", sub.ID, err))
		}
		// Save results for grade_inspect.
		if err := h.store.Save(rr); err != nil {
			h.logger.Warn("saving run", zap.String("run_id", rr.ID), zap.Error(err))
		}
		fmt.Fprintln(&b, workflow.FormatRun(rr, params.Verbose))
	}
	for _, s := range skipped {
		fmt.Fprintf(&b, "Skipped %s: %s\n", s.Path, s.Reason)
	}
	fmt.Fprintln(&b, `Inspect with grade_inspect(run_id="<run>", case="<case name>").`)
	return textResult(b.String())
}
