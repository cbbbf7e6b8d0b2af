package runner

import (
	"bytes"
	"strings"
	"time"
)

// session is the execution context of a single Run call. It owns the
// pending input queue, the output buffers and the timing state of the
// quiescence heuristic.
type session struct {
	start time.Time
	quiet time.Duration

	pending   [][]byte
	partial   []byte // unwritten tail of the line being delivered
	delivered int
	discarded int

	stdout     bytes.Buffer
	stderr     bytes.Buffer
	transcript []Event

	lastOutput time.Time
	lastInput  time.Time
}

func newSession(input []string, quiet time.Duration, now time.Time) *session {
	pending := make([][]byte, 0, len(input))
	for _, line := range input {
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		pending = append(pending, []byte(line))
	}
	return &session{
		start:      now,
		quiet:      quiet,
		pending:    pending,
		lastOutput: now,
		lastInput:  now,
	}
}

// inputDone reports whether every line has been written in full.
func (s *session) inputDone() bool {
	return len(s.pending) == 0 && len(s.partial) == 0
}

// wantsWrite reports whether stdin should be offered bytes at now. A line in
// flight is always finished; a new line needs both quiet windows to have
// passed since the last output read and the last line started.
func (s *session) wantsWrite(now time.Time) bool {
	if len(s.partial) > 0 {
		return true
	}
	if len(s.pending) == 0 {
		return false
	}
	return now.Sub(s.lastOutput) >= s.quiet && now.Sub(s.lastInput) >= s.quiet
}

// untilEligible returns how long until the next line may be written,
// zero if it may be written now, and -1 if no input is left.
func (s *session) untilEligible(now time.Time) time.Duration {
	if len(s.partial) > 0 {
		return 0
	}
	if len(s.pending) == 0 {
		return -1
	}
	ready := s.lastOutput.Add(s.quiet)
	if t := s.lastInput.Add(s.quiet); t.After(ready) {
		ready = t
	}
	if d := ready.Sub(now); d > 0 {
		return d
	}
	return 0
}

// nextChunk returns the bytes to write next. Starting a new line moves it
// off the queue and stamps lastInput.
func (s *session) nextChunk(now time.Time) []byte {
	if len(s.partial) > 0 {
		return s.partial
	}
	line := s.pending[0]
	s.pending = s.pending[1:]
	s.partial = line
	s.lastInput = now
	s.transcript = append(s.transcript, Event{Kind: EventInput, At: now.Sub(s.start), Data: line})
	return line
}

// wrote records that n bytes of the current chunk reached the pipe.
func (s *session) wrote(n int) {
	s.partial = s.partial[n:]
	if len(s.partial) == 0 {
		s.partial = nil
		s.delivered++
	}
}

// discard drops all undelivered input.
func (s *session) discard() {
	s.discarded += len(s.pending)
	if len(s.partial) > 0 {
		s.discarded++
	}
	s.pending = nil
	s.partial = nil
}

// record appends data read from the child. Only stdout reads reset the
// quiet window.
func (s *session) record(kind EventKind, data []byte, now time.Time) {
	chunk := bytes.Clone(data)
	switch kind {
	case EventOutput:
		s.stdout.Write(chunk)
		s.lastOutput = now
	case EventError:
		s.stderr.Write(chunk)
	}
	s.transcript = append(s.transcript, Event{Kind: kind, At: now.Sub(s.start), Data: chunk})
}

func (s *session) outputLen() int {
	return s.stdout.Len() + s.stderr.Len()
}

// result snapshots the session. Call discard first so that lines still
// queued are counted.
func (s *session) result(runID string, exitCode int, now time.Time) *Result {
	return &Result{
		RunID:      runID,
		ExitCode:   exitCode,
		Stdout:     s.stdout.Bytes(),
		Stderr:     s.stderr.Bytes(),
		Elapsed:    now.Sub(s.start),
		Delivered:  s.delivered,
		Discarded:  s.discarded,
		Transcript: s.transcript,
	}
}
