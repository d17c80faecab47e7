package ghostscript

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"gsraster/pkg/executor/runner"
	"gsraster/pkg/logger"
	"gsraster/pkg/metrics"
)

// ErrToolNotFound is returned when none of the candidate executables answered
// the version probe.
var ErrToolNotFound = errors.New("ghostscript executable not found")

// DefaultCandidates lists executable names tried in order: linux, then the
// 32 and 64 bit Windows console builds.
var DefaultCandidates = []string{"gs", "gswin32c.exe", "gswin64c.exe"}

// DefaultProbeTimeout bounds one "-v" probe.
const DefaultProbeTimeout = 5 * time.Second

// Locator probes candidate executables with "-v" and keeps the first that
// exits cleanly.
type Locator struct {
	Candidates   []string
	ProbeTimeout time.Duration
	Runner       runner.JobRunner
}

// NewLocator returns a Locator over the given candidates, or the defaults when
// none are given.
func NewLocator(candidates ...string) *Locator {
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	return &Locator{
		Candidates:   candidates,
		ProbeTimeout: DefaultProbeTimeout,
		Runner:       runner.NewProcessRunner(),
	}
}

// Find returns the first candidate that answers the version probe. A zero
// ProbeTimeout or nil Runner fall back to the NewLocator defaults.
func (l *Locator) Find(ctx context.Context) (string, error) {
	timeout := l.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	var proc runner.JobRunner = l.Runner
	if proc == nil {
		proc = runner.NewProcessRunner()
	}

	for _, candidate := range l.Candidates {
		if candidate == "" {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		result := proc.Run(probeCtx, candidate, []string{"-v"})
		cancel()

		if result.Error == nil && result.ExitCode == 0 {
			metrics.ToolProbes.WithLabelValues(candidate, "found").Inc()
			logger.Debug("ghostscript located", zap.String("tool", candidate))
			return candidate, nil
		}
		metrics.ToolProbes.WithLabelValues(candidate, "missing").Inc()

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", ErrToolNotFound
}
