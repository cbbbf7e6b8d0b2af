// Package mcp provides the grader MCP server, registering all tools
// and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"sync"
	"time"

	grader "github.com/deixis/grader"
	"github.com/deixis/grader/internal/config"
	"github.com/deixis/grader/internal/report"
	"github.com/deixis/grader/internal/workflow"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	mu     sync.Mutex
	loaded *config.LoadResult
	engine *workflow.Engine
	golden *workflow.Golden // computed on first use, reset when the workspace changes
	flight singleflight.Group
	store  report.Store
	logger *zap.Logger
}

// NewServer creates an MCP server with all grader tools registered.
func NewServer(loaded *config.LoadResult, store report.Store, logger *zap.Logger) *mcp.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{
		loaded: loaded,
		engine: workflow.New(loaded, logger),
		store:  store,
		logger: logger,
	}

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "grader", Version: grader.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "grade_config",
		Description: "Summarise the grading setup: root directory, reference solution, commands and test cases.",
	}, h.configHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "grade_submission",
		Description: `Compile and run a submission against every configured test case and diff its output with the reference solution.

The path may be a source file, a directory holding it, or a turn-in folder of submissions.
The reference solution runs once per server and is reused. Results are stored for drill-down via grade_inspect.`,
	}, h.gradeHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "grade_diff",
		Description: `Compare two texts the way grading does: trailing whitespace is ignored on every line.

Returns whether they match and a unified (default) or HTML diff.`,
	}, h.diffHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "grade_inspect",
		Description: `Drill into a case from a grade_submission run.

Use the run_id from the tool output and a case name to see the program's output, exit status and diff.`,
	}, h.inspectHandler)

	return s
}

// current returns the engine for the active workspace.
func (h *handler) current() *workflow.Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine
}

// goldenOutput returns the reference output, running the solution the first
// time it is needed. The run happens outside h.mu; concurrent callers for the
// same engine share one run.
func (h *handler) goldenOutput(ctx context.Context) (*workflow.Engine, *workflow.Golden, error) {
	h.mu.Lock()
	eng, g := h.engine, h.golden
	h.mu.Unlock()
	if g != nil {
		return eng, g, nil
	}

	v, err, _ := h.flight.Do(fmt.Sprintf("%p", eng), func() (any, error) {
		g, err := eng.Golden(ctx)
		if err != nil {
			return nil, err
		}
		if err := h.store.Save(g.Run); err != nil {
			h.logger.Warn("saving golden run", zap.Error(err))
		}
		h.mu.Lock()
		if h.engine == eng {
			h.golden = g
		}
		h.mu.Unlock()
		return g, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, v.(*workflow.Golden), nil
}

// updateWorkspaceFromRoots queries the client for MCP roots and rebuilds the
// engine if a valid root is returned. This is called during session
// initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil {
		h.logger.Warn("loading config from client root", zap.String("root", u.Path), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.loaded = loaded
	h.engine = workflow.New(loaded, h.logger)
	h.golden = nil
	h.logger.Info("workspace updated", zap.String("root", loaded.Root))
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
