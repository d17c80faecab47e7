package ghostscript

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gsraster/pkg/executor/runner"
)

// probeRunner answers version probes from a table of exit codes.
type probeRunner struct {
	mu     sync.Mutex
	codes  map[string]int
	probed []string
}

func (p *probeRunner) Run(ctx context.Context, cmd string, args []string) runner.Result {
	p.mu.Lock()
	p.probed = append(p.probed, cmd)
	p.mu.Unlock()

	code, ok := p.codes[cmd]
	if !ok {
		return runner.Result{ExitCode: -1, Error: errors.New("executable file not found in $PATH")}
	}
	now := time.Now()
	res := runner.Result{ExitCode: code, Output: "GPL Ghostscript 10.02.1", Started: now, Finished: now}
	if code != 0 {
		res.Error = errors.New("exit status 1")
	}
	return res
}

func TestLocator_ReturnsFirstWorkingCandidate(t *testing.T) {
	probe := &probeRunner{codes: map[string]int{"gswin32c.exe": 1, "gswin64c.exe": 0}}
	loc := NewLocator()
	loc.Runner = probe

	tool, err := loc.Find(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gswin64c.exe", tool)
	assert.Equal(t, []string{"gs", "gswin32c.exe", "gswin64c.exe"}, probe.probed)
}

func TestLocator_StopsAtFirstMatch(t *testing.T) {
	probe := &probeRunner{codes: map[string]int{"gs": 0, "gswin64c.exe": 0}}
	loc := NewLocator()
	loc.Runner = probe

	tool, err := loc.Find(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gs", tool)
	assert.Len(t, probe.probed, 1)
}

func TestLocator_NoneFound(t *testing.T) {
	loc := NewLocator("gs-missing", "", "also-missing")
	loc.Runner = &probeRunner{codes: map[string]int{}}

	_, err := loc.Find(context.Background())
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestLocator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loc := NewLocator()
	loc.Runner = &probeRunner{codes: map[string]int{}}

	_, err := loc.Find(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// deadlineRunner fails any probe whose context is already expired.
type deadlineRunner struct{}

func (deadlineRunner) Run(ctx context.Context, cmd string, args []string) runner.Result {
	if err := ctx.Err(); err != nil {
		return runner.Result{ExitCode: -1, Error: err}
	}
	now := time.Now()
	return runner.Result{Started: now, Finished: now}
}

func TestLocator_ZeroValueUsesDefaultTimeout(t *testing.T) {
	loc := &Locator{Candidates: []string{"gs"}, Runner: deadlineRunner{}}

	tool, err := loc.Find(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gs", tool)
}

func TestLocator_ZeroValueUsesProcessRunner(t *testing.T) {
	loc := &Locator{Candidates: []string{filepath.Join(t.TempDir(), "no-such-gs")}}

	assert.NotPanics(t, func() {
		_, err := loc.Find(context.Background())
		assert.ErrorIs(t, err, ErrToolNotFound)
	})
}
