package batcher

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/batchflow/behavior"
	"github.com/BaSui01/batchflow/internal/metrics"
	"github.com/BaSui01/batchflow/perf"
	"github.com/BaSui01/batchflow/priority"
	"github.com/BaSui01/batchflow/types"
)

// globalPartition is used when partition isolation is disabled.
const globalPartition = "global"

// compatibilityWindow bounds the priority spread inside one batch. A unit
// joins an open batch only when its priority is within this distance of the
// batch's representative priority. Tunable, not load-bearing.
const compatibilityWindow = 2

// Smart-mode batch size learning: after each execution the partition's
// learned size grows when processing was quick and shrinks when it was slow,
// bounded by [1, Config.MaxBatchSize]. Multiplicative rule kept from the
// original tuning heuristics.
const (
	learnTargetDuration = 2 * time.Second
	learnGrowFactor     = 1.1
	learnShrinkFactor   = 0.9
)

// Result is the outcome of Accept.
type Result struct {
	// Bypassed is true when the unit skipped batching entirely.
	Bypassed bool `json:"bypassed"`
	// BatchID is the batch the unit joined; empty when bypassed.
	BatchID string `json:"batch_id,omitempty"`
	// Priority is the classified priority the decision was based on.
	Priority int `json:"priority"`
}

// FlushResult summarizes one FlushAll pass.
type FlushResult struct {
	BatchesFlushed int `json:"batches_flushed"`
	Successful     int `json:"successful"`
	Failed         int `json:"failed"`
}

// ManagerStats is a point-in-time view of manager activity.
type ManagerStats struct {
	Accepted int64 `json:"accepted"`
	Batched  int64 `json:"batched"`
	Bypassed int64 `json:"bypassed"`
	Rejected int64 `json:"rejected"`
	// PendingBatches and PendingUnits count open work per partition.
	PendingBatches map[string]int `json:"pending_batches"`
	PendingUnits   map[string]int `json:"pending_units"`
	InFlight       int            `json:"in_flight"`
}

// ManagerOptions carries the manager's optional collaborators. Zero fields
// get working defaults.
type ManagerOptions struct {
	// Classifier scores units; defaults to the base scorer, or the smart
	// scorer when SmartBatching is on and Behavior is set.
	Classifier priority.Classifier
	// Ledger receives processing metrics and owns the knob table; defaults
	// to a fresh ledger.
	Ledger *perf.Ledger
	// Behavior, when set with SmartBatching, feeds classifier bonuses and is
	// updated from execution outcomes.
	Behavior behavior.Store
	// Collector mirrors activity into prometheus. Optional.
	Collector *metrics.Collector
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Manager owns per-partition open batches, the background sweeper, and the
// executor. It is safe for concurrent use by many producers.
type Manager struct {
	config     types.Config
	classifier priority.Classifier
	executor   *Executor
	ledger     *perf.Ledger
	behavior   behavior.Store
	collector  *metrics.Collector
	logger     *zap.Logger

	mu         sync.Mutex
	partitions map[string][]*types.Batch
	learned    map[string]int
	closed     bool
	accepting  sync.WaitGroup

	accepted atomic.Int64
	batched  atomic.Int64
	bypassed atomic.Int64
	rejected atomic.Int64

	sweepCancel context.CancelFunc
	sweeperDone chan struct{}
}

// NewManager validates the configuration, wires the executor, and starts
// the sweeper.
func NewManager(config types.Config, process ProcessFunc, opts ManagerOptions) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if process == nil {
		return nil, types.NewError(types.ErrSchedulerError, "process callback is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ledger := opts.Ledger
	if ledger == nil {
		ledger = perf.NewLedger(perf.DefaultLedgerConfig(), logger)
	}
	// The optimizer scales this knob down under load; assembly reads it
	// back, so it must start at the configured maximum.
	ledger.SetBatchSizeKnob(OpBatch, config.MaxBatchSize)
	classifier := opts.Classifier
	if classifier == nil {
		if config.SmartBatching && opts.Behavior != nil {
			classifier = priority.NewSmartScorer(priority.Options{}, opts.Behavior, logger)
		} else {
			classifier = priority.NewScorer(priority.Options{})
		}
	}

	m := &Manager{
		config:     config,
		classifier: classifier,
		ledger:     ledger,
		behavior:   opts.Behavior,
		collector:  opts.Collector,
		logger:     logger.With(zap.String("component", "batcher")),
		partitions: make(map[string][]*types.Batch),
		learned:    make(map[string]int),
	}
	m.executor = NewExecutor(process, config.MaxConcurrentBatches, ledger, opts.Collector, logger)
	m.executor.onDone = m.handleOutcome

	sweepCtx, cancel := context.WithCancel(context.Background())
	m.sweepCancel = cancel
	m.sweeperDone = make(chan struct{})
	go m.sweepLoop(sweepCtx)

	m.logger.Info("batch manager started",
		zap.Int("max_batch_size", config.MaxBatchSize),
		zap.Duration("max_batch_age", config.MaxBatchAge),
		zap.Int("max_concurrent_batches", config.MaxConcurrentBatches),
		zap.Int("priority_threshold", config.PriorityThreshold),
		zap.Bool("smart_batching", config.SmartBatching),
	)
	return m, nil
}

// Accept classifies a unit and either bypasses it straight to execution or
// places it into a compatible open batch for its partition. A validation
// error means the unit was not taken; a retryable saturation error means
// the caller should retry, the unit was never dropped.
func (m *Manager) Accept(ctx context.Context, u *types.Unit) (Result, error) {
	// The closed check and the accepting registration share one critical
	// section, so Shutdown can wait for every Accept that got past the
	// check before it drains the partitions.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.rejected.Add(1)
		m.recordReject("closed")
		return Result{}, types.NewError(types.ErrManagerClosed, "manager is shut down")
	}
	m.accepting.Add(1)
	m.mu.Unlock()
	defer m.accepting.Done()

	if u.ArrivedAt.IsZero() {
		u.ArrivedAt = time.Now()
	}

	score, err := m.classifier.Score(ctx, u)
	if err != nil {
		m.rejected.Add(1)
		m.recordReject("invalid")
		return Result{}, err
	}
	u.Priority = score

	if score >= m.config.PriorityThreshold {
		return m.bypass(ctx, u)
	}

	batchID, full := m.place(u)
	if full != nil {
		m.executor.Submit(full, TriggerFull)
	}

	m.accepted.Add(1)
	m.batched.Add(1)
	m.recordAccept("batched")
	return Result{BatchID: batchID, Priority: score}, nil
}

// bypass executes one urgent unit through the normal execution path as a
// synthetic one-unit batch.
func (m *Manager) bypass(ctx context.Context, u *types.Unit) (Result, error) {
	b := types.NewBatch(m.partitionKey(u.Partition), 1, m.config.MaxBatchAge)
	if err := b.Add(u); err != nil {
		return Result{}, err
	}
	b.Transition(types.BatchBypassed)

	var err error
	if m.config.BlockOnSaturation {
		err = m.executor.SubmitBlocking(ctx, b, TriggerBypass)
	} else {
		err = m.executor.TrySubmit(b, TriggerBypass)
	}
	if err != nil {
		m.rejected.Add(1)
		m.recordReject("saturated")
		return Result{}, err
	}

	m.accepted.Add(1)
	m.bypassed.Add(1)
	m.recordAccept("bypassed")
	return Result{Bypassed: true, Priority: u.Priority}, nil
}

// place appends the unit to a compatible open batch, creating one when
// needed, and detaches the batch if the append filled it. Returns the batch
// id and, when full, the detached batch for hand-off.
func (m *Manager) place(u *types.Unit) (string, *types.Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	part := m.partitionKey(u.Partition)
	open := m.partitions[part]

	var target *types.Batch
	for _, b := range open {
		if b.IsFull() || b.IsExpired() {
			continue
		}
		if diff := b.Priority() - u.Priority; diff >= -compatibilityWindow && diff <= compatibilityWindow {
			target = b
			break
		}
	}

	if target == nil {
		target = types.NewBatch(part, m.batchSizeFor(part), m.config.MaxBatchAge)
		m.partitions[part] = append(open, target)
	}

	if err := target.Add(u); err != nil {
		// The scan skips full batches, so this is unreachable; a fresh
		// batch always has room for one unit.
		m.logger.Error("placement failed", zap.String("batch_id", target.ID), zap.Error(err))
		return "", nil
	}

	var full *types.Batch
	if target.IsFull() && target.Transition(types.BatchFull) {
		m.detachLocked(part, target)
		full = target
	}

	m.updatePendingGauge()
	return target.ID, full
}

// batchSizeFor returns the partition's learned batch size in smart mode,
// or the configured maximum, capped by the ledger's batch-size knob so
// that optimizer pressure shrinks new batches.
func (m *Manager) batchSizeFor(part string) int {
	size := m.config.MaxBatchSize
	if m.config.SmartBatching {
		if learned, ok := m.learned[part]; ok {
			size = learned
		}
	}
	if knob := m.ledger.BatchSizeKnob(OpBatch); knob < size {
		size = knob
	}
	if size < 1 {
		size = 1
	}
	return size
}

func (m *Manager) partitionKey(part string) string {
	if !m.config.PartitionIsolation {
		return globalPartition
	}
	return part
}

// detachLocked removes a batch from its partition's pending list. Caller
// holds m.mu.
func (m *Manager) detachLocked(part string, b *types.Batch) {
	open := m.partitions[part]
	for i, cand := range open {
		if cand == b {
			m.partitions[part] = append(open[:i], open[i+1:]...)
			break
		}
	}
	if len(m.partitions[part]) == 0 {
		delete(m.partitions, part)
	}
}

// sweepLoop promotes expired batches on a fixed tick until the manager
// shuts down.
func (m *Manager) sweepLoop(ctx context.Context) {
	defer close(m.sweeperDone)

	interval := m.config.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safeSweep()
		}
	}
}

// safeSweep runs one sweep; a panic is logged and the loop survives to the
// next tick.
func (m *Manager) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("sweep tick panicked", zap.Any("panic", r))
		}
	}()
	m.Sweep()
}

// Sweep detaches every expired batch and hands each to the executor.
// Exported so tests can drive expiry without waiting for the ticker.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	var expired []*types.Batch
	for part, open := range m.partitions {
		for _, b := range open {
			if b.IsExpired() && b.Transition(types.BatchExpired) {
				expired = append(expired, b)
			}
		}
		kept := open[:0]
		for _, b := range open {
			if b.State() == types.BatchPending {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			delete(m.partitions, part)
		} else {
			m.partitions[part] = kept
		}
	}
	m.updatePendingGauge()
	m.mu.Unlock()

	for _, b := range expired {
		m.executor.Submit(b, TriggerSweep)
	}
	return len(expired)
}

// FlushAll promotes every pending batch to immediate execution and waits
// for the results. Flushing an empty manager is a no-op.
func (m *Manager) FlushAll(ctx context.Context) FlushResult {
	m.mu.Lock()
	var detached []*types.Batch
	for part, open := range m.partitions {
		for _, b := range open {
			if b.Transition(types.BatchExpired) {
				detached = append(detached, b)
			}
		}
		delete(m.partitions, part)
	}
	m.updatePendingGauge()
	m.mu.Unlock()

	if len(detached) == 0 {
		return FlushResult{}
	}

	// Urgent and fuller batches first.
	sort.SliceStable(detached, func(i, j int) bool {
		return detached[i].Score() > detached[j].Score()
	})

	var successful, failed atomic.Int64
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, b := range detached {
		b := b
		g.Go(func() error {
			if err := m.executor.ExecuteSync(gctx, b, TriggerFlush); err != nil {
				failed.Add(1)
			} else {
				successful.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := FlushResult{
		BatchesFlushed: len(detached),
		Successful:     int(successful.Load()),
		Failed:         int(failed.Load()),
	}
	m.logger.Info("flushed pending batches",
		zap.Int("batches", res.BatchesFlushed),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
	)
	return res
}

// Shutdown stops accepting units, stops the sweeper, flushes every pending
// batch, and waits for all in-flight executions to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// Accepts that passed the closed check may still be placing units;
	// they must finish before the drain or their batches would be lost.
	m.accepting.Wait()

	m.sweepCancel()
	<-m.sweeperDone

	m.FlushAll(ctx)
	m.executor.WaitIdle()

	m.logger.Info("batch manager stopped",
		zap.Int64("accepted", m.accepted.Load()),
		zap.Int64("bypassed", m.bypassed.Load()),
	)
	return nil
}

// Stats returns a snapshot of manager activity.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	pendingBatches := make(map[string]int, len(m.partitions))
	pendingUnits := make(map[string]int, len(m.partitions))
	for part, open := range m.partitions {
		pendingBatches[part] = len(open)
		for _, b := range open {
			pendingUnits[part] += b.Len()
		}
	}
	m.mu.Unlock()

	return ManagerStats{
		Accepted:       m.accepted.Load(),
		Batched:        m.batched.Load(),
		Bypassed:       m.bypassed.Load(),
		Rejected:       m.rejected.Load(),
		PendingBatches: pendingBatches,
		PendingUnits:   pendingUnits,
		InFlight:       m.executor.Inflight(),
	}
}

// Ledger exposes the performance ledger backing this manager.
func (m *Manager) Ledger() *perf.Ledger {
	return m.ledger
}

// handleOutcome feeds execution results back into the smart-mode learned
// batch sizes and the behavior store.
func (m *Manager) handleOutcome(o Outcome) {
	if m.config.SmartBatching && o.Trigger != TriggerBypass {
		m.learnBatchSize(o.Batch.Partition, o.Duration)
	}

	if m.behavior != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, u := range o.Batch.Units {
			if err := m.behavior.RecordInteraction(ctx, u.UserID, o.Duration, o.Err == nil); err != nil {
				m.logger.Debug("behavior update failed",
					zap.String("user_id", u.UserID), zap.Error(err))
				break
			}
		}
	}
}

// learnBatchSize nudges the partition's preferred batch size: slow
// processing shrinks it, quick processing grows it back toward the
// configured maximum.
func (m *Manager) learnBatchSize(part string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size, ok := m.learned[part]
	if !ok {
		size = m.config.MaxBatchSize
	}

	next := size
	if duration > learnTargetDuration {
		next = int(float64(size) * learnShrinkFactor)
	} else {
		next = int(float64(size)*learnGrowFactor) + 1
	}
	if next < 1 {
		next = 1
	}
	if next > m.config.MaxBatchSize {
		next = m.config.MaxBatchSize
	}
	m.learned[part] = next
}

func (m *Manager) updatePendingGauge() {
	if m.collector == nil {
		return
	}
	total := 0
	for _, open := range m.partitions {
		total += len(open)
	}
	m.collector.SetPending(total)
}

func (m *Manager) recordAccept(result string) {
	if m.collector != nil {
		m.collector.RecordAccept(result)
	}
}

func (m *Manager) recordReject(reason string) {
	if m.collector != nil {
		m.collector.RecordReject(reason)
	}
}
