package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// DefaultWaitDelay bounds how long Run waits for output pipes to drain after
// the process has been killed.
const DefaultWaitDelay = 5 * time.Second

// ProcessRunner runs commands as child OS processes.
type ProcessRunner struct {
	WaitDelay time.Duration
}

func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{WaitDelay: DefaultWaitDelay}
}

func (p *ProcessRunner) Run(ctx context.Context, cmdStr string, args []string) Result {
	cmd := exec.CommandContext(ctx, cmdStr, args...)

	// One buffer for both streams keeps the tool's messages in order.
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	// The child gets its own process group so cancellation takes down
	// anything it forked too.
	setProcessGroup(cmd)
	cmd.WaitDelay = p.WaitDelay

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{
			ExitCode: -1,
			Error:    err,
		}
	}

	err := cmd.Wait()
	finished := time.Now()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	// A process that exited cleanly before the context ended keeps its result.
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		err = ctxErr
	}

	return Result{
		ExitCode: exitCode,
		Output:   out.String(),
		Started:  started,
		Finished: finished,
		Error:    err,
	}
}
