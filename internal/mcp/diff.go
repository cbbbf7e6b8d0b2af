package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/grader/internal/diff"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type diffParams struct {
	Reference string `json:"reference" jsonschema:"the expected text"`
	Candidate string `json:"candidate" jsonschema:"the text to check"`
	Format    string `json:"format,omitempty" jsonschema:"unified (default) or html"`
}

func (h *handler) diffHandler(ctx context.Context, req *mcp.CallToolRequest, params diffParams) (*mcp.CallToolResult, any, error) {
	format := params.Format
	if format == "" {
		format = diff.FormatUnified
	}
	if format != diff.FormatUnified && format != diff.FormatHTML {
		return errorResult(fmt.Sprintf("unknown format %q: use unified or html", format))
	}

	res := h.current().Differ.Render(ctx, diff.Request{
		Reference: params.Reference,
		Candidate: params.Candidate,
		Format:    format,
	})

	var b strings.Builder
	switch {
	case res.Degraded:
		fmt.Fprintf(&b, "Degraded: %s\n\n", res.Reason)
	case res.Identical:
		fmt.Fprintln(&b, "Identical: no differences after trimming trailing whitespace.")
		if format == diff.FormatUnified {
			return textResult(b.String())
		}
		fmt.Fprintln(&b)
	default:
		fmt.Fprintf(&b, "Different: %d line(s)\n\n", res.Changed)
	}
	b.WriteString(res.Artifact)
	return textResult(b.String())
}
