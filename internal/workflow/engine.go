// Package workflow provides the grading engine: it builds submissions,
// runs every configured case through the interactive runner and diffs
// the results against the reference solution. It is consumed by both
// the MCP server and the CLI commands.
package workflow

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/deixis/grader/internal/config"
	"github.com/deixis/grader/internal/diff"
	"github.com/deixis/grader/internal/runner"
	"go.uber.org/zap"
)

// CommandRunner executes one program. Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
}

// Differ renders one comparison and never fails. Implemented by
// diff.Renderer.
type Differ interface {
	Render(ctx context.Context, req diff.Request) *diff.Result
}

// Engine holds shared dependencies for all workflow operations.
type Engine struct {
	Config   *config.Config
	Root     string        // config root; relative paths resolve here
	Runner   CommandRunner // runs cases
	Compiler CommandRunner // runs compile steps; nil means Runner
	Differ   Differ
	Logger   *zap.Logger
}

// New builds an Engine whose runners and differ are configured from cfg.
func New(res *config.LoadResult, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := res.Config
	return &Engine{
		Config: cfg,
		Root:   res.Root,
		Runner: &runner.Runner{
			Timeout:      cfg.Timeout(),
			Quiet:        cfg.Quiet(),
			PollInterval: cfg.PollInterval(),
			MaxOutput:    cfg.MaxOutputBytes(),
			HoldStdin:    cfg.HoldStdin,
			Logger:       logger.Named("runner"),
		},
		Compiler: &runner.Runner{
			Timeout:      cfg.CompileTimeout(),
			Quiet:        cfg.Quiet(),
			PollInterval: cfg.PollInterval(),
			MaxOutput:    cfg.MaxOutputBytes(),
			Logger:       logger.Named("compile"),
		},
		Differ: &diff.Renderer{
			Timeout: cfg.DiffTimeout(),
			Logger:  logger.Named("diff"),
		},
		Logger: logger,
	}
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e *Engine) compiler() CommandRunner {
	if e.Compiler != nil {
		return e.Compiler
	}
	return e.Runner
}

func (e *Engine) path(p string) string {
	return (&config.LoadResult{Config: e.Config, Root: e.Root}).Path(p)
}

// ResolveCommand checks that the program named by argv[0] can be found and
// returns argv with the program resolved to its path. Shell commands are
// returned unchanged.
func (e *Engine) ResolveCommand(argv []string) ([]string, error) {
	if len(argv) == 0 || e.Config.Shell || strings.ContainsRune(argv[0], '/') {
		return argv, nil
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, NewErrToolUnavailable(argv[0])
	}
	out := make([]string, len(argv))
	copy(out, argv)
	out[0] = path
	return out, nil
}

// toolInfo holds install hints for a known toolchain program.
type toolInfo struct {
	Toolchain string
	Install   string
}

// knownTools maps program names to the toolchain that provides them.
var knownTools = map[string]toolInfo{
	"javac":   {Toolchain: "a Java Development Kit", Install: "https://adoptium.net/"},
	"java":    {Toolchain: "a Java runtime", Install: "https://adoptium.net/"},
	"gcc":     {Toolchain: "the GNU C compiler", Install: "https://gcc.gnu.org/install/"},
	"g++":     {Toolchain: "the GNU C++ compiler", Install: "https://gcc.gnu.org/install/"},
	"python3": {Toolchain: "Python 3", Install: "https://www.python.org/downloads/"},
	"go":      {Toolchain: "the Go toolchain", Install: "https://go.dev/dl/"},
}

// ErrToolUnavailable is returned when a configured program is not installed.
// It includes an install hint when the program is known.
type ErrToolUnavailable struct {
	Name string
	Info *toolInfo
}

func NewErrToolUnavailable(name string) ErrToolUnavailable {
	e := ErrToolUnavailable{Name: name}
	if info, ok := knownTools[name]; ok {
		e.Info = &info
	}
	return e
}

func (e ErrToolUnavailable) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is required but not installed.", e.Name)
	if e.Info != nil {
		fmt.Fprintf(&b, "\nIt is provided by %s: %s", e.Info.Toolchain, e.Info.Install)
	}
	return b.String()
}
