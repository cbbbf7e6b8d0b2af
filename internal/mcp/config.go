package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type configParams struct{}

func (h *handler) configHandler(ctx context.Context, req *mcp.CallToolRequest, _ configParams) (*mcp.CallToolResult, any, error) {
	h.mu.Lock()
	loaded := h.loaded
	h.mu.Unlock()
	cfg := loaded.Config

	var b strings.Builder
	fmt.Fprintf(&b, "Root: %s\n", loaded.Root)
	if cfg.Solution != "" {
		fmt.Fprintf(&b, "Solution: %s\n", cfg.Solution)
	}
	if name := cfg.SourceName(); name != "" {
		fmt.Fprintf(&b, "Source file: %s\n", name)
	}
	if argv, err := cfg.CompileArgv(); err != nil {
		fmt.Fprintf(&b, "Compile: invalid (%v)\n", err)
	} else if argv != nil {
		fmt.Fprintf(&b, "Compile: %s\n", strings.Join(argv, " "))
	}
	if argv, err := cfg.RunArgv(); err != nil {
		fmt.Fprintf(&b, "Run: not usable (%v)\n", err)
	} else {
		fmt.Fprintf(&b, "Run: %s\n", strings.Join(argv, " "))
	}
	fmt.Fprintf(&b, "Limits: %s per case, %s per diff, %d bytes of output\n",
		cfg.Timeout(), cfg.DiffTimeout(), cfg.MaxOutputBytes())
	fmt.Fprintf(&b, "Input pacing: %s of quiet before each line\n", cfg.Quiet())
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "Cases (%d):\n", len(cfg.Cases))
	for _, tc := range cfg.Cases {
		fmt.Fprintf(&b, "  %s", tc.ID())
		if tc.Input != "" {
			fmt.Fprintf(&b, "  input=%s", tc.Input)
		}
		if tc.Output != "" {
			fmt.Fprintf(&b, "  output=%s", tc.Output)
		}
		if tc.OutputFile != "" {
			fmt.Fprintf(&b, "  output_file=%s", tc.OutputFile)
		}
		fmt.Fprintln(&b)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(&b, "\nProblems:\n%s\n", err)
	}
	return textResult(b.String())
}
