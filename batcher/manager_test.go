package batcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/batchflow/behavior"
	"github.com/BaSui01/batchflow/types"
)

// presetScorer returns the priority already carried by the unit, letting
// tests pin exact scores without crafting content.
type presetScorer struct{}

func (presetScorer) Score(_ context.Context, u *types.Unit) (int, error) {
	if err := u.Validate(); err != nil {
		return 0, err
	}
	return u.Priority, nil
}

// recorder collects every callback invocation.
type recorder struct {
	mu    sync.Mutex
	calls [][]*types.Unit
	err   error
}

func (r *recorder) process(_ context.Context, units []*types.Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]*types.Unit(nil), units...))
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) call(i int) []*types.Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

func testConfig() types.Config {
	cfg := types.DefaultConfig()
	cfg.MaxBatchSize = 3
	cfg.MaxBatchAge = time.Minute
	cfg.PriorityThreshold = 8
	cfg.SmartBatching = false
	cfg.SweepInterval = time.Hour // tests drive Sweep directly
	return cfg
}

func newTestManager(t *testing.T, cfg types.Config, process ProcessFunc, opts ManagerOptions) *Manager {
	t.Helper()
	if opts.Classifier == nil {
		opts.Classifier = presetScorer{}
	}
	m, err := NewManager(cfg, process, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func unit(id, partition string, prio int) *types.Unit {
	return &types.Unit{
		ID:        id,
		UserID:    "user-" + id,
		Partition: partition,
		Content:   "hello",
		ArrivedAt: time.Now(),
		Priority:  prio,
	}
}

func TestManager_FullBatchTriggersExecution(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(t, testConfig(), rec.process, ManagerOptions{})

	for _, id := range []string{"a", "b"} {
		res, err := m.Accept(context.Background(), unit(id, "g1", 4))
		require.NoError(t, err)
		assert.False(t, res.Bypassed)
	}
	assert.Equal(t, 0, rec.count())

	res, err := m.Accept(context.Background(), unit("c", "g1", 4))
	require.NoError(t, err)
	assert.False(t, res.Bypassed)

	m.executor.WaitIdle()
	require.Equal(t, 1, rec.count())
	assert.Len(t, rec.call(0), 3)

	metric := m.Ledger().RecentOp(OpBatch, 1)
	require.Len(t, metric, 1)
	assert.Equal(t, "full", metric[0].Metadata["trigger"])

	stats := m.Stats()
	assert.Equal(t, int64(3), stats.Accepted)
	assert.Equal(t, int64(3), stats.Batched)
	assert.Empty(t, stats.PendingBatches)
}

func TestManager_HighPriorityBypass(t *testing.T) {
	cfg := testConfig()
	cfg.PriorityThreshold = 5
	rec := &recorder{}
	m := newTestManager(t, cfg, rec.process, ManagerOptions{})

	res, err := m.Accept(context.Background(), unit("a", "g1", 9))
	require.NoError(t, err)
	assert.True(t, res.Bypassed)
	assert.Equal(t, 9, res.Priority)

	m.executor.WaitIdle()
	require.Equal(t, 1, rec.count())
	require.Len(t, rec.call(0), 1)
	assert.Equal(t, "a", rec.call(0)[0].ID)

	metric := m.Ledger().RecentOp(OpBatch, 1)
	require.Len(t, metric, 1)
	assert.Equal(t, "bypass", metric[0].Metadata["trigger"])
	assert.Equal(t, 1, metric[0].InputSize)

	assert.Equal(t, int64(1), m.Stats().Bypassed)
}

func TestManager_SweepExpiresBatches(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchAge = 150 * time.Millisecond
	rec := &recorder{}
	m := newTestManager(t, cfg, rec.process, ManagerOptions{})

	_, err := m.Accept(context.Background(), unit("a", "g1", 2))
	require.NoError(t, err)
	_, err = m.Accept(context.Background(), unit("b", "g1", 2))
	require.NoError(t, err)

	// Not expired yet.
	assert.Equal(t, 0, m.Sweep())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, m.Sweep())
	m.executor.WaitIdle()

	require.Equal(t, 1, rec.count())
	assert.Len(t, rec.call(0), 2)
	assert.Equal(t, "sweep", m.Ledger().RecentOp(OpBatch, 1)[0].Metadata["trigger"])
	assert.Empty(t, m.Stats().PendingBatches)
}

func TestManager_SweepIsIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchAge = 10 * time.Millisecond
	rec := &recorder{}
	m := newTestManager(t, cfg, rec.process, ManagerOptions{})

	_, err := m.Accept(context.Background(), unit("a", "g1", 2))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 0, m.Sweep())
	m.executor.WaitIdle()
	assert.Equal(t, 1, rec.count())
}

func TestManager_PanickingCallbackDoesNotEscape(t *testing.T) {
	cfg := testConfig()
	m := newTestManager(t, cfg, func(context.Context, []*types.Unit) error {
		panic("processor bug")
	}, ManagerOptions{})

	for _, id := range []string{"a", "b", "c"} {
		_, err := m.Accept(context.Background(), unit(id, "g1", 4))
		require.NoError(t, err)
	}
	m.executor.WaitIdle()

	metric := m.Ledger().RecentOp(OpBatch, 1)
	require.Len(t, metric, 1)
	assert.False(t, metric[0].Success)

	// The manager keeps accepting after a processor panic.
	_, err := m.Accept(context.Background(), unit("d", "g1", 4))
	require.NoError(t, err)
}

func TestManager_PartitionIsolation(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(t, testConfig(), rec.process, ManagerOptions{})

	resA, err := m.Accept(context.Background(), unit("a", "g1", 4))
	require.NoError(t, err)
	resB, err := m.Accept(context.Background(), unit("b", "g2", 4))
	require.NoError(t, err)

	assert.NotEqual(t, resA.BatchID, resB.BatchID)
	stats := m.Stats()
	assert.Equal(t, 1, stats.PendingBatches["g1"])
	assert.Equal(t, 1, stats.PendingBatches["g2"])
}

func TestManager_GlobalPartitionWhenIsolationOff(t *testing.T) {
	cfg := testConfig()
	cfg.PartitionIsolation = false
	rec := &recorder{}
	m := newTestManager(t, cfg, rec.process, ManagerOptions{})

	resA, err := m.Accept(context.Background(), unit("a", "g1", 4))
	require.NoError(t, err)
	resB, err := m.Accept(context.Background(), unit("b", "g2", 4))
	require.NoError(t, err)

	assert.Equal(t, resA.BatchID, resB.BatchID)
	assert.Equal(t, 1, m.Stats().PendingBatches[globalPartition])
}

func TestManager_PriorityCompatibilityWindow(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(t, testConfig(), rec.process, ManagerOptions{})

	resLow, err := m.Accept(context.Background(), unit("a", "g1", 1))
	require.NoError(t, err)
	resNear, err := m.Accept(context.Background(), unit("b", "g1", 3))
	require.NoError(t, err)
	resFar, err := m.Accept(context.Background(), unit("c", "g1", 6))
	require.NoError(t, err)

	assert.Equal(t, resLow.BatchID, resNear.BatchID)
	assert.NotEqual(t, resLow.BatchID, resFar.BatchID)
	assert.Equal(t, 2, m.Stats().PendingBatches["g1"])
}

func TestManager_FlushAll(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(t, testConfig(), rec.process, ManagerOptions{})

	_, err := m.Accept(context.Background(), unit("a", "g1", 2))
	require.NoError(t, err)
	_, err = m.Accept(context.Background(), unit("b", "g2", 6))
	require.NoError(t, err)

	res := m.FlushAll(context.Background())
	assert.Equal(t, 2, res.BatchesFlushed)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 2, rec.count())
	assert.Empty(t, m.Stats().PendingBatches)

	// A second flush with nothing pending is a no-op.
	assert.Equal(t, FlushResult{}, m.FlushAll(context.Background()))
}

func TestManager_FlushAllReportsFailures(t *testing.T) {
	rec := &recorder{err: types.NewError(types.ErrCallbackFailed, "sink down")}
	m := newTestManager(t, testConfig(), rec.process, ManagerOptions{})

	_, err := m.Accept(context.Background(), unit("a", "g1", 2))
	require.NoError(t, err)

	res := m.FlushAll(context.Background())
	assert.Equal(t, 1, res.BatchesFlushed)
	assert.Equal(t, 0, res.Successful)
	assert.Equal(t, 1, res.Failed)
}

func TestManager_ShutdownFlushesAndRejects(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(t, testConfig(), rec.process, ManagerOptions{})

	_, err := m.Accept(context.Background(), unit("a", "g1", 2))
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 1, rec.count())

	_, err = m.Accept(context.Background(), unit("b", "g1", 2))
	require.Error(t, err)
	assert.Equal(t, types.ErrManagerClosed, types.GetErrorCode(err))
	assert.Equal(t, int64(1), m.Stats().Rejected)

	// Shutdown is idempotent.
	require.NoError(t, m.Shutdown(context.Background()))
}

// scorerFunc adapts a function into a priority.Classifier.
type scorerFunc func(ctx context.Context, u *types.Unit) (int, error)

func (f scorerFunc) Score(ctx context.Context, u *types.Unit) (int, error) { return f(ctx, u) }

// gateScorer parks Score until released, holding an Accept mid-flight.
type gateScorer struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateScorer) Score(_ context.Context, u *types.Unit) (int, error) {
	close(g.entered)
	<-g.release
	return u.Priority, nil
}

func TestManager_AcceptDuringShutdownIsNotLost(t *testing.T) {
	rec := &recorder{}
	scorer := &gateScorer{entered: make(chan struct{}), release: make(chan struct{})}
	m := newTestManager(t, testConfig(), rec.process, ManagerOptions{Classifier: scorer})

	acceptDone := make(chan error, 1)
	go func() {
		_, err := m.Accept(context.Background(), unit("late", "g1", 2))
		acceptDone <- err
	}()
	<-scorer.entered

	shutdownDone := make(chan struct{})
	go func() {
		_ = m.Shutdown(context.Background())
		close(shutdownDone)
	}()

	// Shutdown must not drain while the Accept is still placing its unit.
	select {
	case <-shutdownDone:
		t.Fatal("shutdown completed with an accept in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(scorer.release)
	require.NoError(t, <-acceptDone)
	<-shutdownDone

	// The late unit was flushed on the way out, not stranded.
	require.Equal(t, 1, rec.count())
	assert.Equal(t, "late", rec.call(0)[0].ID)
	assert.Empty(t, m.Stats().PendingUnits)
}

func TestManager_BatchSizeKnobCapsNewBatches(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(t, testConfig(), rec.process, ManagerOptions{})

	// The knob starts at the configured maximum.
	require.Equal(t, testConfig().MaxBatchSize, m.Ledger().BatchSizeKnob(OpBatch))

	// Optimizer pressure shrinks the knob; the next batch fills at the
	// reduced size.
	m.Ledger().SetBatchSizeKnob(OpBatch, 1)
	_, err := m.Accept(context.Background(), unit("a", "g1", 2))
	require.NoError(t, err)

	m.executor.WaitIdle()
	require.Equal(t, 1, rec.count())
	assert.Len(t, rec.call(0), 1)
}

func TestManager_DefaultsArrivalTimeBeforeScoring(t *testing.T) {
	var seen time.Time
	scorer := scorerFunc(func(_ context.Context, u *types.Unit) (int, error) {
		seen = u.ArrivedAt
		return u.Priority, nil
	})
	rec := &recorder{}
	m := newTestManager(t, testConfig(), rec.process, ManagerOptions{Classifier: scorer})

	u := unit("a", "g1", 2)
	u.ArrivedAt = time.Time{}
	_, err := m.Accept(context.Background(), u)
	require.NoError(t, err)
	assert.False(t, seen.IsZero(), "classifier should see a concrete arrival time")
}

func TestManager_RejectsInvalidUnit(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(t, testConfig(), rec.process, ManagerOptions{})

	_, err := m.Accept(context.Background(), &types.Unit{ID: "a"})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidUnit, types.GetErrorCode(err))
	assert.Equal(t, int64(1), m.Stats().Rejected)
}

func TestManager_BypassSaturationNonBlocking(t *testing.T) {
	cfg := testConfig()
	cfg.PriorityThreshold = 5
	cfg.MaxConcurrentBatches = 1
	cfg.BlockOnSaturation = false

	block := make(chan struct{})
	m := newTestManager(t, cfg, func(context.Context, []*types.Unit) error {
		<-block
		return nil
	}, ManagerOptions{})
	defer close(block)

	_, err := m.Accept(context.Background(), unit("a", "g1", 9))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Stats().InFlight == 1 },
		time.Second, 5*time.Millisecond)

	_, err = m.Accept(context.Background(), unit("b", "g1", 9))
	require.Error(t, err)
	assert.Equal(t, types.ErrExecutorSaturated, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestManager_SmartBatchingLearnsSizes(t *testing.T) {
	cfg := testConfig()
	cfg.SmartBatching = true
	cfg.MaxBatchSize = 10
	rec := &recorder{}
	m := newTestManager(t, cfg, rec.process, ManagerOptions{})

	// Slow executions shrink the learned size toward the floor.
	for i := 0; i < 50; i++ {
		m.learnBatchSize("g1", 10*time.Second)
	}
	m.mu.Lock()
	shrunk := m.learned["g1"]
	m.mu.Unlock()
	assert.Equal(t, 1, shrunk)

	// Quick executions grow it back, bounded by the configured maximum.
	for i := 0; i < 50; i++ {
		m.learnBatchSize("g1", 100*time.Millisecond)
	}
	m.mu.Lock()
	grown := m.learned["g1"]
	m.mu.Unlock()
	assert.Equal(t, cfg.MaxBatchSize, grown)

	// New batches for the partition honor the learned size.
	m.learnBatchSize("g1", 10*time.Second)
	m.mu.Lock()
	learned := m.learned["g1"]
	m.mu.Unlock()
	res, err := m.Accept(context.Background(), unit("a", "g1", 2))
	require.NoError(t, err)
	m.mu.Lock()
	var got int
	for _, b := range m.partitions["g1"] {
		if b.ID == res.BatchID {
			got = b.MaxSize
		}
	}
	m.mu.Unlock()
	assert.Equal(t, learned, got)
}

func TestManager_OutcomesFeedBehaviorStore(t *testing.T) {
	cfg := testConfig()
	cfg.SmartBatching = true
	store := behavior.NewMemoryStore()
	rec := &recorder{}
	m := newTestManager(t, cfg, rec.process, ManagerOptions{Behavior: store})

	u := unit("a", "g1", 2)
	_, err := m.Accept(context.Background(), u)
	require.NoError(t, err)
	m.FlushAll(context.Background())
	m.executor.WaitIdle()

	profile, err := store.Get(context.Background(), u.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), profile.Interactions)
}

func TestManager_ConcurrentAccept(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 5
	rec := &recorder{}
	m := newTestManager(t, cfg, rec.process, ManagerOptions{})

	const producers = 8
	const perProducer = 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				u := unit("u", "g1", 4)
				u.UserID = "user"
				_, err := m.Accept(context.Background(), u)
				assert.NoError(t, err)
			}
		}(p)
	}
	wg.Wait()
	m.FlushAll(context.Background())
	m.executor.WaitIdle()

	rec.mu.Lock()
	total := 0
	for _, call := range rec.calls {
		assert.LessOrEqual(t, len(call), cfg.MaxBatchSize)
		total += len(call)
	}
	rec.mu.Unlock()
	assert.Equal(t, producers*perProducer, total)
}
