package diff

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// WorkerEnv marks a process started by Renderer as a diff worker.
const WorkerEnv = "GRADER_DIFF_WORKER"

// Init turns the current process into a diff worker when it was started by
// Renderer, and otherwise returns immediately. Binaries that use Renderer
// with its default command must call Init first thing, from init or TestMain.
func Init() {
	if os.Getenv(WorkerEnv) == "" {
		return
	}
	if err := ServeWorker(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "diff worker:", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// ServeWorker reads one JSON Request from r, renders it and writes the JSON
// Response to w.
func ServeWorker(r io.Reader, w io.Writer) error {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	resp, err := Build(req)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	return nil
}
