package batcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/batchflow/internal/metrics"
	"github.com/BaSui01/batchflow/perf"
	"github.com/BaSui01/batchflow/types"
)

// OpBatch is the ledger operation name for batch execution. Bypassed units
// run through the same path as synthetic one-unit batches, so batched and
// bypassed statistics stay comparable.
const OpBatch = "batch"

// ProcessFunc is the external processing callback. It receives the batch's
// units ordered by priority descending (arrival order on ties) and may block
// or perform I/O; the executor never invokes it while holding a lock.
type ProcessFunc func(ctx context.Context, units []*types.Unit) error

// Trigger identifies what promoted a batch to execution.
type Trigger string

const (
	TriggerFull   Trigger = "full"
	TriggerSweep  Trigger = "sweep"
	TriggerBypass Trigger = "bypass"
	TriggerFlush  Trigger = "flush"
)

// Outcome describes one finished execution, delivered to the manager's
// completion hook.
type Outcome struct {
	Batch    *types.Batch
	Trigger  Trigger
	Duration time.Duration
	Err      error
}

// Executor runs batches against the processing callback with bounded
// concurrency. Callback errors, panics, and timeouts are converted into a
// Failed batch plus a failed ProcessingMetric and never propagate to the
// caller's goroutine.
type Executor struct {
	process   ProcessFunc
	ledger    *perf.Ledger
	collector *metrics.Collector
	logger    *zap.Logger

	sem      *semaphore.Weighted
	inflight atomic.Int64
	wg       sync.WaitGroup

	// onDone, when set, observes every outcome. Set once before use.
	onDone func(Outcome)
}

// NewExecutor creates an executor bounded to maxConcurrent in-flight
// invocations. collector may be nil.
func NewExecutor(process ProcessFunc, maxConcurrent int, ledger *perf.Ledger, collector *metrics.Collector, logger *zap.Logger) *Executor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Executor{
		process:   process,
		ledger:    ledger,
		collector: collector,
		logger:    logger.With(zap.String("component", "executor")),
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Inflight returns the number of currently executing batches.
func (e *Executor) Inflight() int {
	return int(e.inflight.Load())
}

// Submit schedules a detached batch for execution and returns immediately.
// The batch is guaranteed to execute once a concurrency slot frees up; use
// it for triggers where the units are already committed (fullness, sweep).
func (e *Executor) Submit(b *types.Batch, trigger Trigger) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// A committed batch must not be dropped, so the acquire is not
		// bounded by a caller context.
		if err := e.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer e.sem.Release(1)
		e.run(b, trigger)
	}()
}

// TrySubmit schedules a batch only if a concurrency slot is free right now,
// returning a retryable saturation error otherwise. The caller still owns
// the units on rejection.
func (e *Executor) TrySubmit(b *types.Batch, trigger Trigger) error {
	if !e.sem.TryAcquire(1) {
		return types.NewError(types.ErrExecutorSaturated, "all executor slots busy").WithRetryable(true)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.sem.Release(1)
		e.run(b, trigger)
	}()
	return nil
}

// SubmitBlocking waits, bounded by ctx, for a concurrency slot and then
// schedules the batch. On a context error the caller still owns the units.
func (e *Executor) SubmitBlocking(ctx context.Context, b *types.Batch, trigger Trigger) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return types.NewError(types.ErrExecutorSaturated, "timed out waiting for an executor slot").
			WithRetryable(true).WithCause(err)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.sem.Release(1)
		e.run(b, trigger)
	}()
	return nil
}

// ExecuteSync acquires a slot (bounded by ctx), runs the batch inline, and
// returns the callback failure if the batch failed. Used by FlushAll so it
// can report per-batch results.
func (e *Executor) ExecuteSync(ctx context.Context, b *types.Batch, trigger Trigger) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return types.NewError(types.ErrExecutorSaturated, "timed out waiting for an executor slot").
			WithRetryable(true).WithCause(err)
	}
	defer e.sem.Release(1)
	return e.run(b, trigger)
}

// WaitIdle blocks until every scheduled execution has finished.
func (e *Executor) WaitIdle() {
	e.wg.Wait()
}

// run executes one batch. It returns the failure for synchronous callers
// but never panics.
func (e *Executor) run(b *types.Batch, trigger Trigger) error {
	if !b.Transition(types.BatchExecuting) {
		// Double hand-off; the assembler and sweeper detach under one lock
		// so this indicates a bug upstream.
		e.logger.Error("refusing second hand-off",
			zap.String("batch_id", b.ID),
			zap.String("state", string(b.State())),
		)
		return types.NewError(types.ErrSchedulerError, "batch already handed off")
	}

	e.inflight.Add(1)
	defer e.inflight.Add(-1)
	if e.collector != nil {
		e.collector.SetInflight(int(e.inflight.Load()))
		defer func() { e.collector.SetInflight(int(e.inflight.Load())) }()
	}

	sortUnits(b.Units)

	timeout := e.ledger.TimeoutKnob(OpBatch)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	waited := b.Age()
	start := time.Now()
	err := e.invoke(ctx, b.Units)
	duration := time.Since(start)

	status := types.BatchCompleted
	if err != nil {
		status = types.BatchFailed
	}
	b.Transition(status)

	e.ledger.Record(types.ProcessingMetric{
		Operation: OpBatch,
		Timestamp: start,
		Duration:  duration,
		Success:   err == nil,
		InputSize: b.Len(),
		Metadata: map[string]string{
			"trigger":   string(trigger),
			"partition": b.Partition,
		},
	})
	if e.collector != nil {
		e.collector.RecordExecution(string(trigger), string(status), OpBatch, b.Len(), waited, duration)
	}

	if err != nil {
		e.logger.Warn("batch execution failed",
			zap.String("batch_id", b.ID),
			zap.String("partition", b.Partition),
			zap.String("trigger", string(trigger)),
			zap.Int("units", b.Len()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	} else {
		e.logger.Debug("batch executed",
			zap.String("batch_id", b.ID),
			zap.String("trigger", string(trigger)),
			zap.Int("units", b.Len()),
			zap.Duration("duration", duration),
		)
	}

	if e.onDone != nil {
		e.onDone(Outcome{Batch: b, Trigger: trigger, Duration: duration, Err: err})
	}
	return err
}

// invoke calls the processing callback with panic and timeout containment.
func (e *Executor) invoke(ctx context.Context, units []*types.Unit) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- types.NewError(types.ErrCallbackFailed,
					fmt.Sprintf("processing callback panicked: %v", r))
			}
		}()
		done <- e.process(ctx, units)
	}()

	select {
	case err := <-done:
		if err != nil && types.GetErrorCode(err) == "" {
			return types.NewError(types.ErrCallbackFailed, "processing callback failed").WithCause(err)
		}
		return err
	case <-ctx.Done():
		return types.NewError(types.ErrCallbackFailed, "processing callback timed out").WithCause(ctx.Err())
	}
}

// sortUnits orders units by priority descending; the stable sort keeps
// arrival order for equal priorities.
func sortUnits(units []*types.Unit) {
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].Priority > units[j].Priority
	})
}
