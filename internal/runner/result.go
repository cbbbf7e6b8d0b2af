package runner

import "time"

// Outcome classifies a finished run by its exit status.
type Outcome int

const (
	// Success means the child exited with status 0.
	Success Outcome = iota
	// Failure means the child exited non-zero or was killed by a signal.
	Failure
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

// EventKind identifies a transcript entry.
type EventKind string

const (
	EventOutput EventKind = "stdout"
	EventError  EventKind = "stderr"
	EventInput  EventKind = "stdin"
)

// Event is one read from the child or one line delivered to it.
type Event struct {
	Kind EventKind     `json:"kind"`
	At   time.Duration `json:"at"` // offset from launch
	Data []byte        `json:"data"`
}

// Result holds everything collected from one execution.
type Result struct {
	RunID      string        // unique identifier for this run
	ExitCode   int           // process exit code, -1 when killed by a signal
	Stdout     []byte        // every byte the child wrote to stdout
	Stderr     []byte        // every byte the child wrote to stderr
	Elapsed    time.Duration // wall-clock time from launch to reap
	Delivered  int           // input lines fully written
	Discarded  int           // input lines never written because the child went away
	Transcript []Event       // reads and writes in the order they happened
}

// Outcome reports Success or Failure from the exit code alone. Output on
// stderr does not make a run a failure.
func (r *Result) Outcome() Outcome {
	if r.ExitCode == 0 {
		return Success
	}
	return Failure
}
