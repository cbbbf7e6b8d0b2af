// Command grader compiles and runs submissions against a reference solution.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	grader "github.com/deixis/grader"
	"github.com/deixis/grader/internal/config"
	"github.com/deixis/grader/internal/diff"
	gradermcp "github.com/deixis/grader/internal/mcp"
	"github.com/deixis/grader/internal/report"
	"github.com/deixis/grader/internal/workflow"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// errFailed makes the command exit with status 1 without printing anything;
// the command has already reported what failed.
var errFailed = errors.New("failed")

// resultsDir holds run results when -out is not given.
const resultsDir = ".grader-results"

func init() {
	// Serve diff requests when re-executed as the diff worker.
	diff.Init()
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("grader: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "grade":
		err = gradeMain(args)
	case "diff":
		err = diffMain(args)
	case "mcp":
		err = mcpMain(args)
	case "version":
		fmt.Println(grader.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "grader: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if errors.Is(err, errFailed) {
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: grader <command> [flags] [args]

Commands:
  grade       Grade submissions against the reference solution
  diff        Compare two files the way grading does
  mcp         Start the MCP server
  version     Print the version
  help        Show this help

Use "grader <command> -h" for command-specific flags.`)
}

func newLogger(verbose, silent bool) *zap.Logger {
	if silent {
		return zap.NewNop()
	}
	if !verbose {
		logger, err := zap.NewProduction()
		if err != nil {
			log.Fatalf("init logger: %v", err)
		}
		return logger
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	return logger
}

func loadConfig() (*config.LoadResult, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining workspace: %w", err)
	}
	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return loaded, nil
}

// --- grade ---

func gradeMain(args []string) error {
	fs := flag.NewFlagSet("grade", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "output results as JSON")
	verboseFlag := fs.Bool("v", false, "verbose output and debug logging")
	silentFlag := fs.Bool("silent", false, "disable logging")
	timeoutFlag := fs.Duration("timeout", 0, "override the per-case timeout (e.g. 30s)")
	outFlag := fs.String("out", "", "directory for run results (default <root>/"+resultsDir+")")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("grade: no submissions given")
	}

	logger := newLogger(*verboseFlag, *silentFlag)
	defer func() { _ = logger.Sync() }()

	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	if err := loaded.Config.Validate(); err != nil {
		return fmt.Errorf("invalid %s:\n%w", config.FileName, err)
	}
	if *timeoutFlag > 0 {
		loaded.Config.RawTimeout = timeoutFlag.String()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eng := workflow.New(loaded, logger)
	subs, skipped, err := eng.Collect(fs.Args())
	if err != nil {
		return err
	}
	for _, s := range skipped {
		logger.Warn("skipping submission", zap.String("path", s.Path), zap.String("reason", s.Reason))
	}
	if len(subs) == 0 {
		return fmt.Errorf("grade: no submissions found")
	}

	golden, err := eng.Golden(ctx)
	if err != nil {
		return fmt.Errorf("reference solution: %w", err)
	}

	out := *outFlag
	if out == "" {
		out = filepath.Join(loaded.Root, resultsDir)
	}
	store := report.NewDiskStore(out)
	if err := store.Save(golden.Run); err != nil {
		return err
	}

	var runs []*report.RunResult
	failed := false
	for _, sub := range subs {
		rr, err := eng.Grade(ctx, golden, sub)
		if err != nil {
			return fmt.Errorf("grading %s: %w", sub.ID, err)
		}
		if err := store.Save(rr); err != nil {
			return err
		}
		runs = append(runs, rr)
		if !rr.Passed() {
			failed = true
		}
		if !*jsonFlag {
			fmt.Println(workflow.FormatRun(rr, *verboseFlag))
		}
	}

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(runs); err != nil {
			return err
		}
	} else {
		fmt.Printf("Results: %s\n", out)
	}

	if failed {
		return errFailed
	}
	return nil
}

// --- diff ---

func diffMain(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	formatFlag := fs.String("format", diff.FormatUnified, "artifact format: unified or html")
	timeoutFlag := fs.Duration("timeout", diff.DefaultTimeout, "diff worker timeout")
	verboseFlag := fs.Bool("v", false, "debug logging")
	_ = fs.Parse(args)

	if fs.NArg() != 2 {
		return fmt.Errorf("diff: want <reference> <candidate>, got %d arguments", fs.NArg())
	}
	reference, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	candidate, err := os.ReadFile(fs.Arg(1))
	if err != nil {
		return err
	}

	logger := newLogger(*verboseFlag, false)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r := &diff.Renderer{Timeout: *timeoutFlag, Logger: logger}
	res := r.Render(ctx, diff.Request{
		Reference:      string(reference),
		Candidate:      string(candidate),
		ReferenceLabel: fs.Arg(0),
		CandidateLabel: fs.Arg(1),
		Format:         *formatFlag,
	})
	fmt.Print(res.Artifact)

	if !res.Identical {
		return errFailed
	}
	return nil
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	verboseFlag := fs.Bool("v", false, "debug logging")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(gradermcp.Instructions)
		return nil
	}

	logger := newLogger(*verboseFlag, false)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return serve(ctx, *httpAddr, logger)
}

func serve(ctx context.Context, httpAddr string, logger *zap.Logger) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}

	disk := report.NewDiskStore("")
	store := report.NewLRUStore(5, disk)

	server := gradermcp.NewServer(loaded, store, logger)

	if httpAddr != "" {
		return serveHTTP(ctx, server, httpAddr, logger)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string, logger *zap.Logger) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	logger.Info("listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
