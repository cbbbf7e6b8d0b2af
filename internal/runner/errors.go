package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupported is returned on platforms without the poll-based runner.
var ErrUnsupported = errors.New("interactive runner is not supported on this platform")

// LaunchError reports that the child process could not be started.
type LaunchError struct {
	Argv []string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s: %v", strings.Join(e.Argv, " "), e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TimedOutError reports that the child outlived its time limit and was killed.
type TimedOutError struct {
	Elapsed time.Duration
	Limit   time.Duration
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("timed out after %s (limit %s)", e.Elapsed.Round(time.Millisecond), e.Limit)
}

// OutputLimitError reports that the child wrote more than the configured
// number of bytes and was killed.
type OutputLimitError struct {
	Limit int
}

func (e *OutputLimitError) Error() string {
	return fmt.Sprintf("output exceeded %d bytes", e.Limit)
}
