package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gsraster/pkg/executor/runner"
	"gsraster/pkg/ghostscript"
	"gsraster/pkg/logger"
	"gsraster/pkg/metrics"
	"gsraster/pkg/models"
	tracing "gsraster/pkg/observability"
)

var (
	ErrNoInputs       = errors.New("at least one input path is required")
	ErrJobActive      = errors.New("a job is still outstanding on this runner")
	ErrNoJobSubmitted = errors.New("no job has been submitted on this runner")
)

// RunnerConfig holds the fixed parameters of a Runner.
type RunnerConfig struct {
	// ToolPath is the resolved Ghostscript executable.
	ToolPath   string
	Resolution int
	Device     string

	// CollectTimeout bounds how long Collect waits for the worker. Zero
	// means wait until the worker finishes or the context is done.
	CollectTimeout time.Duration
	// AbandonGrace is how long Collect waits for a cancelled worker to
	// report before giving it up as abandoned.
	AbandonGrace time.Duration

	Process runner.JobRunner
	Logger  *zap.Logger
	Tracer  trace.Tracer
}

// DefaultRunnerConfig returns a config for toolPath with the stock
// resolution and device.
func DefaultRunnerConfig(toolPath string) RunnerConfig {
	return RunnerConfig{
		ToolPath:     toolPath,
		Resolution:   ghostscript.DefaultResolution,
		Device:       ghostscript.DefaultDevice,
		AbandonGrace: 10 * time.Second,
	}
}

// worker is one submitted job. handoff has room for exactly one Outcome and
// the worker fills it before closing done.
type worker struct {
	id      string
	cancel  context.CancelFunc
	done    chan struct{}
	handoff chan models.Outcome
}

// Runner runs one conversion at a time in its own worker and hands the
// Outcome back through Collect. Create one Runner per concurrent job.
type Runner struct {
	toolPath       string
	resolution     int
	device         string
	collectTimeout time.Duration
	abandonGrace   time.Duration

	proc   runner.JobRunner
	log    *zap.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	active *worker
	last   *models.Outcome
}

// NewRunner validates cfg and returns an idle Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.ToolPath == "" {
		return nil, ghostscript.ErrToolNotFound
	}
	if cfg.Resolution <= 0 {
		cfg.Resolution = ghostscript.DefaultResolution
	}
	if cfg.Device == "" {
		cfg.Device = ghostscript.DefaultDevice
	}
	if cfg.AbandonGrace <= 0 {
		cfg.AbandonGrace = 10 * time.Second
	}
	if cfg.Process == nil {
		cfg.Process = runner.NewProcessRunner()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Tracer()
	}

	return &Runner{
		toolPath:       cfg.ToolPath,
		resolution:     cfg.Resolution,
		device:         cfg.Device,
		collectTimeout: cfg.CollectTimeout,
		abandonGrace:   cfg.AbandonGrace,
		proc:           cfg.Process,
		log: cfg.Logger.With(
			zap.String("tool", cfg.ToolPath),
			zap.Int("resolution", cfg.Resolution),
			zap.String("device", cfg.Device),
		),
		tracer: cfg.Tracer,
	}, nil
}

// NewRunnerFromLocator resolves the tool with loc and builds a Runner for it.
// cfg.ToolPath is ignored.
func NewRunnerFromLocator(ctx context.Context, loc *ghostscript.Locator, cfg RunnerConfig) (*Runner, error) {
	tool, err := loc.Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to locate ghostscript: %w", err)
	}
	cfg.ToolPath = tool
	return NewRunner(cfg)
}

// Busy reports whether a submitted job has not been collected yet.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Submit starts converting inputPaths into outputPath and returns at once
// with the job ID. The job runs until it finishes, ctx is done, or Collect
// gives up on it.
func (r *Runner) Submit(ctx context.Context, inputPaths []string, outputPath string) (string, error) {
	if len(inputPaths) == 0 {
		return "", ErrNoInputs
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return "", ErrJobActive
	}

	workCtx, cancel := context.WithCancel(ctx)
	w := &worker{
		id:      uuid.New().String(),
		cancel:  cancel,
		done:    make(chan struct{}),
		handoff: make(chan models.Outcome, 1),
	}
	inputs := append([]string(nil), inputPaths...)

	metrics.WorkersRunning.Inc()
	go r.work(workCtx, w, inputs, outputPath)
	r.active = w

	r.log.Debug("job submitted",
		zap.String("job_id", w.id),
		zap.Strings("inputs", inputs),
		zap.String("output", outputPath),
	)
	return w.id, nil
}

// Collect waits for the outstanding job and returns its Outcome. With no job
// outstanding it returns the last collected Outcome again.
//
// If ctx is done or the collect timeout expires first, the worker is
// cancelled and its forced Outcome is returned with ErrCollectTimeout.
func (r *Runner) Collect(ctx context.Context) (models.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.active
	if w == nil {
		if r.last == nil {
			return models.Outcome{}, ErrNoJobSubmitted
		}
		return *r.last, nil
	}

	var timeout <-chan time.Time
	if r.collectTimeout > 0 {
		t := time.NewTimer(r.collectTimeout)
		defer t.Stop()
		timeout = t.C
	}

	var waitErr error
	select {
	case <-w.done:
	default:
		select {
		case <-w.done:
		case <-ctx.Done():
			waitErr = ctx.Err()
		case <-timeout:
			waitErr = context.DeadlineExceeded
		}
	}

	// Also releases the context of a worker that finished on its own.
	w.cancel()

	if waitErr != nil {
		r.log.Warn("collect timed out, cancelling worker",
			zap.String("job_id", w.id),
			zap.Error(waitErr),
		)
		grace := time.NewTimer(r.abandonGrace)
		defer grace.Stop()
		select {
		case <-w.done:
		case <-grace.C:
			return r.abandon(w)
		}
	}

	var outcome models.Outcome
	select {
	case outcome = <-w.handoff:
	default:
		return r.abandon(w)
	}

	r.active = nil
	r.last = &outcome

	if waitErr != nil && !outcome.IsSuccess() {
		return outcome, fmt.Errorf("%w: %v", models.ErrCollectTimeout, waitErr)
	}
	return outcome, nil
}

// abandon gives up on w and caches a WorkerAbandoned outcome in its place.
// Must hold r.mu.
func (r *Runner) abandon(w *worker) (models.Outcome, error) {
	outcome := models.FailedOutcome(w.id, models.KindWorkerAbandoned, models.InternalErrorCode,
		"", models.ErrWorkerAbandoned.Error(), time.Time{}, time.Time{})
	r.active = nil
	r.last = &outcome

	metrics.RecordConversion(r.device, string(outcome.Kind), 0)
	r.log.Error("worker abandoned", zap.String("job_id", w.id))
	return outcome, models.ErrWorkerAbandoned
}

// work is the worker body. It always leaves exactly one Outcome in
// w.handoff before closing w.done, even if the conversion panics.
func (r *Runner) work(ctx context.Context, w *worker, inputs []string, outputPath string) {
	defer close(w.done)
	defer metrics.WorkersRunning.Dec()

	var outcome models.Outcome
	defer func() {
		if p := recover(); p != nil {
			outcome = models.FailedOutcome(w.id, models.KindUnexpectedFailure, models.InternalErrorCode,
				"", fmt.Sprintf("worker panic: %v", p), time.Time{}, time.Time{})
		}
		outcome.InputPaths = inputs
		w.handoff <- outcome
	}()

	outcome = r.convert(ctx, w.id, inputs, outputPath)
}

// convert runs the tool once and classifies what happened.
func (r *Runner) convert(ctx context.Context, jobID string, inputs []string, outputPath string) models.Outcome {
	attrs := append(tracing.Conversion("", r.device, r.resolution, len(inputs)),
		tracing.JobIDKey.String(jobID),
		tracing.ToolKey.String(r.toolPath),
	)
	ctx, span := r.tracer.Start(ctx, "runner.convert", trace.WithAttributes(attrs...))
	defer span.End()

	args := ghostscript.BuildArgs(r.resolution, r.device, outputPath, inputs)
	res := r.proc.Run(ctx, r.toolPath, args)

	cancelled := ctx.Err() != nil && (!res.Spawned() || errors.Is(res.Error, ctx.Err()))

	var outcome models.Outcome
	switch {
	case res.Spawned() && res.ExitCode == 0 && res.Error == nil && fileExists(outputPath):
		outcome = models.SucceededOutcome(jobID, outputPath, res.Output, res.Started, res.Finished)

	case cancelled:
		var start, end time.Time
		if res.Spawned() {
			start, end = res.Started, res.Finished
		}
		outcome = models.FailedOutcome(jobID, models.KindTimeout, models.InternalErrorCode,
			res.Output, fmt.Sprintf("conversion cancelled: %v", ctx.Err()), start, end)

	case !res.Spawned():
		outcome = models.FailedOutcome(jobID, models.KindUnexpectedFailure, models.InternalErrorCode,
			"", errorText(res.Error, "process was not started"), time.Time{}, time.Time{})

	case res.ExitCode != 0 || res.Error != nil:
		code := res.ExitCode
		if code == 0 {
			code = models.InternalErrorCode
		}
		outcome = models.FailedOutcome(jobID, models.KindToolInvocationFailed, code,
			res.Output, fmt.Sprintf("%s: %s", r.toolPath, errorText(res.Error, "non-zero exit")),
			res.Started, res.Finished)

	default:
		outcome = models.FailedOutcome(jobID, models.KindArtifactNotProduced, models.InternalErrorCode,
			res.Output, fmt.Sprintf("%s is not created", outputPath), res.Started, res.Finished)
	}

	span.SetAttributes(tracing.Outcome(outcome)...)
	if err := outcome.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome.ErrorDetail)
	}

	metrics.RecordConversion(r.device, string(outcome.Kind), res.Duration().Seconds())

	fields := []zap.Field{
		zap.String("job_id", jobID),
		zap.String("kind", string(outcome.Kind)),
		zap.Int("exit_code", outcome.Code()),
	}
	if outcome.IsSuccess() {
		r.log.Info("conversion finished", append(fields, zap.Duration("elapsed", outcome.Elapsed()))...)
	} else {
		r.log.Warn("conversion failed", append(fields, zap.String("detail", outcome.ErrorDetail))...)
	}
	return outcome
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func errorText(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}
