package runner

import (
	"context"
	"time"
)

// Result captures the outcome of one child process invocation.
type Result struct {
	ExitCode int
	Output   string // stdout and stderr, merged in arrival order
	Started  time.Time
	Finished time.Time
	Error    error // detailed go error if any
}

// Duration returns the wall time of the invocation.
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Spawned reports whether the process was actually started. A false value
// means Error describes a failure to launch (binary missing, permissions).
func (r Result) Spawned() bool {
	return !r.Started.IsZero()
}

// JobRunner defines the interface for executing a single command.
type JobRunner interface {
	// Run executes the command with the given arguments within the context.
	// It blocks until the process exits and never panics on process errors.
	Run(ctx context.Context, cmd string, args []string) Result
}
