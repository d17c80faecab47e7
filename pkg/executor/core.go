package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gsraster/pkg/logger"
	"gsraster/pkg/metrics"
	"gsraster/pkg/models"
	tracing "gsraster/pkg/observability"
	"gsraster/pkg/resilience"
	"gsraster/pkg/storage"
)

const (
	DefaultConsumerGroup = "gsraster-executors"
	DefaultDrainTimeout  = 2 * time.Minute

	// bookkeepingTimeout bounds each store, log and ack call made after a
	// job has run, whether or not the executor is shutting down.
	bookkeepingTimeout = 15 * time.Second
)

// Config holds executor service configuration.
type Config struct {
	// Runner is the template every per-request Runner is built from. The
	// request's resolution and device override the template's.
	Runner      RunnerConfig
	Concurrency int
	Group       string
	// DepthInterval is how often the queue depth gauge is refreshed.
	DepthInterval time.Duration
	// DrainTimeout is how long Start lets in-flight jobs run after its
	// context is cancelled before cancelling them too.
	DrainTimeout time.Duration
}

// Executor pulls conversion requests off the queue and runs each on its own
// Runner, persisting the outcome and captured output.
type Executor struct {
	ID       string
	Hostname string

	cfg   Config
	queue storage.Queue
	store storage.ConversionStore
	logs  storage.LogStore

	storeBreaker *resilience.CircuitBreaker
	logBreaker   *resilience.CircuitBreaker
}

func NewExecutor(cfg Config, queue storage.Queue, store storage.ConversionStore, logs storage.LogStore) *Executor {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Group == "" {
		cfg.Group = DefaultConsumerGroup
	}
	if cfg.DepthInterval <= 0 {
		cfg.DepthInterval = 10 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}

	return &Executor{
		ID:           id,
		Hostname:     hostname,
		cfg:          cfg,
		queue:        queue,
		store:        store,
		logs:         logs,
		storeBreaker: resilience.NewCircuitBreaker("conversion-store", resilience.DefaultCircuitBreakerConfig()),
		logBreaker:   resilience.NewCircuitBreaker("log-store", resilience.DefaultCircuitBreakerConfig()),
	}
}

// Start consumes requests until ctx is cancelled. Jobs already popped keep
// running on their own context and are recorded and acked normally; after
// DrainTimeout they are cancelled and recorded as timed out. Start returns
// once every in-flight job is settled.
func (e *Executor) Start(ctx context.Context) {
	log := logger.WithFields(zap.String("executor", e.ID))
	log.Info("executor starting",
		zap.String("tool", e.cfg.Runner.ToolPath),
		zap.Int("concurrency", e.cfg.Concurrency),
	)

	if err := e.queue.EnsureGroup(ctx, e.cfg.Group); err != nil {
		log.Warn("failed to ensure consumer group", zap.Error(err))
	}

	go e.watchDepth(ctx)

	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			e.drain(&wg, cancelJobs, log)
			log.Info("executor stopped")
			return
		case sem <- struct{}{}:
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				e.consumeOne(ctx, jobCtx)
			}()
		}
	}
}

// drain waits for in-flight jobs, cancelling them once DrainTimeout passes.
func (e *Executor) drain(wg *sync.WaitGroup, cancelJobs context.CancelFunc, log *zap.Logger) {
	settled := make(chan struct{})
	go func() {
		wg.Wait()
		close(settled)
	}()

	t := time.NewTimer(e.cfg.DrainTimeout)
	defer t.Stop()

	log.Info("executor draining", zap.Duration("drain_timeout", e.cfg.DrainTimeout))
	select {
	case <-settled:
	case <-t.C:
		log.Warn("drain timeout expired, cancelling in-flight jobs")
		cancelJobs()
		<-settled
	}
}

func (e *Executor) watchDepth(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.DepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := e.queue.Len(ctx); err == nil {
				metrics.QueueDepth.Set(float64(n))
			}
		}
	}
}

// consumeOne pops with ctx and runs whatever it got on jobCtx, which outlives
// ctx during a drain.
func (e *Executor) consumeOne(ctx, jobCtx context.Context) {
	msgID, req, err := e.queue.Pop(ctx, e.cfg.Group, e.ID)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("failed to pop request", zap.Error(err))
		}
		sleep(ctx, time.Second)
		if msgID == "" {
			return
		}
		// Undecodable payloads are acked so they do not come back forever.
	} else if req == nil {
		// Pop already blocked; nothing arrived.
		return
	} else {
		metrics.RequestsConsumed.Inc()
		if _, err := e.Process(jobCtx, req); err != nil {
			logger.Error("conversion processing failed",
				zap.String("conversion_id", req.ConversionID.String()),
				zap.Error(err),
			)
		}
	}

	ackCtx, cancel := bookkeeping(jobCtx)
	defer cancel()
	if err := e.queue.Ack(ackCtx, e.cfg.Group, msgID); err != nil {
		logger.Warn("failed to ack request", zap.String("msg_id", msgID), zap.Error(err))
	}
}

// Process runs one request to completion on a fresh Runner and records the
// result. The returned error covers bookkeeping failures only; conversion
// failures are reported through the Outcome. The outcome is recorded even
// when ctx ends the job.
func (e *Executor) Process(ctx context.Context, req *models.ConversionRequest) (models.Outcome, error) {
	id := req.ConversionID.String()
	log := logger.WithFields(
		zap.String("executor", e.ID),
		zap.String("conversion_id", id),
	)

	ctx = tracing.Extract(ctx, req.TraceContext)
	ctx, span := tracing.Start(ctx, "executor.process",
		append(tracing.Conversion(id, req.Device, req.Resolution, len(req.Inputs)),
			tracing.ExecutorKey.String(e.ID))...)
	defer span.End()

	if err := tracing.Step(ctx, "store.mark_running", func(ctx context.Context) error {
		return e.guardStore(ctx, func(ctx context.Context) error {
			return e.store.MarkRunning(ctx, req.ConversionID, e.ID, time.Now())
		})
	}); err != nil {
		log.Warn("failed to mark conversion running", zap.Error(err))
	}

	outcome, err := e.run(ctx, req)
	if err != nil {
		log.Warn("conversion did not run cleanly", zap.Error(err))
	}
	span.SetAttributes(tracing.Outcome(outcome)...)

	bctx, cancel := bookkeeping(ctx)
	defer cancel()

	logURI := e.storeLogs(bctx, req, outcome)

	if err := tracing.Step(bctx, "store.record_outcome", func(ctx context.Context) error {
		return e.guardStore(ctx, func(ctx context.Context) error {
			return e.store.RecordOutcome(ctx, req.ConversionID, outcome, logURI)
		})
	}); err != nil {
		tracing.SetError(ctx, err)
		return outcome, fmt.Errorf("failed to record outcome: %w", err)
	}
	return outcome, nil
}

// bookkeeping derives a bounded context that survives cancellation of ctx.
func bookkeeping(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

// run is the submit/collect pair for one request.
func (e *Executor) run(ctx context.Context, req *models.ConversionRequest) (models.Outcome, error) {
	cfg := e.cfg.Runner
	if req.Resolution > 0 {
		cfg.Resolution = req.Resolution
	}
	if req.Device != "" {
		cfg.Device = req.Device
	}

	r, err := NewRunner(cfg)
	if err != nil {
		return rejected(err), err
	}
	if _, err := r.Submit(ctx, req.Inputs, req.OutputPath); err != nil {
		return rejected(err), err
	}
	return r.Collect(ctx)
}

// rejected is the outcome recorded for a request that never reached a worker.
func rejected(err error) models.Outcome {
	return models.FailedOutcome("", models.KindUnexpectedFailure, models.InternalErrorCode,
		"", err.Error(), time.Time{}, time.Time{})
}

func (e *Executor) storeLogs(ctx context.Context, req *models.ConversionRequest, outcome models.Outcome) string {
	if e.logs == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "conversion: %s\njob: %s\ninputs: %s\noutput: %s\nkind: %s\n",
		req.ConversionID, outcome.JobID, strings.Join(req.Inputs, " "), req.OutputPath, outcome.Kind)
	if !outcome.IsSuccess() {
		fmt.Fprintf(&b, "error: %s\n", outcome.ErrorDetail)
	}
	b.WriteString("---\n")
	b.WriteString(outcome.Output)

	var uri string
	err := tracing.Step(ctx, "logs.store", func(ctx context.Context) error {
		return e.logBreaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			uri, err = e.logs.Store(ctx, req.ConversionID.String(), []byte(b.String()))
			return err
		})
	})
	if err != nil {
		metrics.LogUploadsFailed.Inc()
		logger.Warn("failed to store captured output",
			zap.String("conversion_id", req.ConversionID.String()),
			zap.Error(err),
		)
		return ""
	}
	return uri
}

func (e *Executor) guardStore(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.store == nil {
		return nil
	}
	return e.storeBreaker.Execute(ctx, fn)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
