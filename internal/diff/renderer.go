package diff

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single worker run.
const DefaultTimeout = 15 * time.Second

// ErrWorkerTimeout reports that the worker did not answer in time.
var ErrWorkerTimeout = errors.New("diff worker timed out")

// Renderer renders comparisons in a separate worker process so that a
// pathological input can be abandoned without stalling the caller.
type Renderer struct {
	// Command starts the worker. Empty means the running executable, which
	// must call Init before doing anything else.
	Command []string
	Env     []string // extra KEY=VALUE pairs for the worker
	Timeout time.Duration
	Logger  *zap.Logger
}

// Result is a rendered comparison. When the worker failed or overran its
// deadline, Degraded is set and Artifact holds the fallback text.
type Result struct {
	Artifact  string
	Identical bool
	Changed   int
	Degraded  bool
	Reason    string
}

// Fallback is the artifact produced when no comparison could be rendered.
func Fallback(candidate string) string {
	return "Wrong\n" + candidate
}

// Render compares req.Reference with req.Candidate. It always returns a
// Result and never takes much longer than the configured timeout.
func (r *Renderer) Render(ctx context.Context, req Request) *Result {
	log := r.logger()
	start := time.Now()

	resp, stderr, err := r.run(ctx, req)
	if err != nil {
		log.Warn("diff degraded",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("worker_stderr", strings.TrimSpace(stderr)),
		)
		return &Result{
			Artifact: Fallback(req.Candidate),
			Degraded: true,
			Reason:   err.Error(),
		}
	}

	log.Debug("diff rendered",
		zap.Bool("identical", resp.Identical),
		zap.Int("changed", resp.Changed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Result{
		Artifact:  resp.Artifact,
		Identical: resp.Identical,
		Changed:   resp.Changed,
	}
}

type reply struct {
	resp Response
	err  error
}

func (r *Renderer) run(parent context.Context, req Request) (Response, string, error) {
	argv, err := r.command()
	if err != nil {
		return Response{}, "", err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, "", fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(parent, r.timeout())
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(append(os.Environ(), WorkerEnv+"=1"), r.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Response{}, "", fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Response{}, "", fmt.Errorf("starting diff worker: %w", err)
	}

	done := make(chan reply, 1)
	go func() {
		var resp Response
		err := json.NewDecoder(stdout).Decode(&resp)
		done <- reply{resp, err}
	}()

	select {
	case rep := <-done:
		waitErr := cmd.Wait()
		if rep.err != nil {
			if waitErr != nil {
				return Response{}, stderr.String(), fmt.Errorf("diff worker failed: %w", waitErr)
			}
			return Response{}, stderr.String(), fmt.Errorf("decoding worker response: %w", rep.err)
		}
		return rep.resp, stderr.String(), nil
	case <-ctx.Done():
		_ = cmd.Wait()
		if parent.Err() != nil {
			return Response{}, stderr.String(), parent.Err()
		}
		return Response{}, stderr.String(), fmt.Errorf("%w after %s", ErrWorkerTimeout, r.timeout())
	}
}

func (r *Renderer) command() ([]string, error) {
	if len(r.Command) > 0 {
		return r.Command, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}
	return []string{exe}, nil
}

func (r *Renderer) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

func (r *Renderer) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}
