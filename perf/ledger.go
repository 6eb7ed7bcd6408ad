package perf

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/types"
)

// Knob floors. The optimizer only ever shrinks knobs, so the floors are what
// keep the system functional under sustained load.
const (
	BatchSizeFloor = 1
	CacheSizeFloor = 100
	TimeoutFloor   = 5 * time.Second
)

// Default history depths for the metric ring buffers.
const (
	defaultSystemHistory    = 300
	defaultOperationHistory = 200
	suggestionHistory       = 50
	rollingWindow           = 60
)

// Knobs are the tunable parameters the optimizer maintains per operation.
type Knobs struct {
	BatchSize int           `json:"batch_size"`
	CacheSize int           `json:"cache_size"`
	Timeout   time.Duration `json:"timeout"`
}

// DefaultKnobs returns the starting knob values for a new operation.
func DefaultKnobs() Knobs {
	return Knobs{
		BatchSize: 5,
		CacheSize: 1000,
		Timeout:   30 * time.Second,
	}
}

// LedgerConfig sizes the ledger's ring buffers.
type LedgerConfig struct {
	SystemHistory    int   `yaml:"system_history" json:"system_history"`
	OperationHistory int   `yaml:"operation_history" json:"operation_history"`
	InitialKnobs     Knobs `yaml:"initial_knobs" json:"initial_knobs"`
}

// DefaultLedgerConfig returns sensible defaults.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		SystemHistory:    defaultSystemHistory,
		OperationHistory: defaultOperationHistory,
		InitialKnobs:     DefaultKnobs(),
	}
}

// Ledger owns the rolling metric history and the shared knob table. All
// reads and writes, including knob mutation by the optimizer, go through one
// mutex so metric collection and tuning never observe each other half-done.
// The ledger lives for the process lifetime.
type Ledger struct {
	mu          sync.Mutex
	system      *ring[types.SystemMetrics]
	ops         map[string]*ring[types.ProcessingMetric]
	calls       map[string]int64
	errs        map[string]int64
	knobs       map[string]Knobs
	suggestions *ring[string]

	config LedgerConfig
	logger *zap.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(config LedgerConfig, logger *zap.Logger) *Ledger {
	if config.SystemHistory < 1 {
		config.SystemHistory = defaultSystemHistory
	}
	if config.OperationHistory < 1 {
		config.OperationHistory = defaultOperationHistory
	}
	if config.InitialKnobs == (Knobs{}) {
		config.InitialKnobs = DefaultKnobs()
	}
	return &Ledger{
		system:      newRing[types.SystemMetrics](config.SystemHistory),
		ops:         make(map[string]*ring[types.ProcessingMetric]),
		calls:       make(map[string]int64),
		errs:        make(map[string]int64),
		knobs:       make(map[string]Knobs),
		suggestions: newRing[string](suggestionHistory),
		config:      config,
		logger:      logger.With(zap.String("component", "ledger")),
	}
}

// Record appends one processing metric and bumps the operation counters.
// First sight of an operation registers it in the knob table.
func (l *Ledger) Record(m types.ProcessingMetric) {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf, ok := l.ops[m.Operation]
	if !ok {
		buf = newRing[types.ProcessingMetric](l.config.OperationHistory)
		l.ops[m.Operation] = buf
		l.knobs[m.Operation] = l.config.InitialKnobs
	}
	buf.Append(m)

	l.calls[m.Operation]++
	if !m.Success {
		l.errs[m.Operation]++
	}
}

// RegisterOperation ensures an operation has a knob table entry before any
// metric is recorded for it. Used for knobs that govern capacity rather
// than timing, such as cache sizes.
func (l *Ledger) RegisterOperation(operation string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.knobs[operation]; !ok {
		l.knobs[operation] = l.config.InitialKnobs
	}
}

// RecordSystem appends one OS-level sample.
func (l *Ledger) RecordSystem(m types.SystemMetrics) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.system.Append(m)
}

// RecentSystem returns up to n recent samples, oldest first.
func (l *Ledger) RecentSystem(n int) []types.SystemMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.system.Last(n)
}

// RecentOp returns up to n recent metrics for an operation, oldest first.
func (l *Ledger) RecentOp(operation string, n int) []types.ProcessingMetric {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf, ok := l.ops[operation]
	if !ok {
		return nil
	}
	return buf.Last(n)
}

// Operations returns the tracked operation names, sorted.
func (l *Ledger) Operations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.ops))
	for name := range l.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Counts returns the cumulative call and error counts for an operation.
func (l *Ledger) Counts(operation string) (calls, errors int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[operation], l.errs[operation]
}

// KnobsFor returns the current knobs for an operation, registering defaults
// on first access.
func (l *Ledger) KnobsFor(operation string) Knobs {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.knobsForLocked(operation)
}

func (l *Ledger) knobsForLocked(operation string) Knobs {
	k, ok := l.knobs[operation]
	if !ok {
		k = l.config.InitialKnobs
		l.knobs[operation] = k
	}
	return k
}

// TimeoutKnob returns the current timeout for an operation.
func (l *Ledger) TimeoutKnob(operation string) time.Duration {
	return l.KnobsFor(operation).Timeout
}

// BatchSizeKnob returns the current batch size for an operation.
func (l *Ledger) BatchSizeKnob(operation string) int {
	return l.KnobsFor(operation).BatchSize
}

// SetBatchSizeKnob pins an operation's batch-size knob, registering the
// operation when needed. Later scale passes adjust from this value.
func (l *Ledger) SetBatchSizeKnob(operation string, size int) {
	if size < BatchSizeFloor {
		size = BatchSizeFloor
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.knobsForLocked(operation)
	k.BatchSize = size
	l.knobs[operation] = k
}

// ScaleBatchSizeKnobs multiplies every batch-size knob by factor, bounded
// below by BatchSizeFloor. Returns the number of knobs changed.
func (l *Ledger) ScaleBatchSizeKnobs(factor float64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed := 0
	for op, k := range l.knobs {
		next := int(float64(k.BatchSize) * factor)
		if next < BatchSizeFloor {
			next = BatchSizeFloor
		}
		if next != k.BatchSize {
			k.BatchSize = next
			l.knobs[op] = k
			changed++
		}
	}
	return changed
}

// ScaleCacheSizeKnobs multiplies every cache-size knob by factor, bounded
// below by CacheSizeFloor. Returns the number of knobs changed.
func (l *Ledger) ScaleCacheSizeKnobs(factor float64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed := 0
	for op, k := range l.knobs {
		next := int(float64(k.CacheSize) * factor)
		if next < CacheSizeFloor {
			next = CacheSizeFloor
		}
		if next != k.CacheSize {
			k.CacheSize = next
			l.knobs[op] = k
			changed++
		}
	}
	return changed
}

// ScaleTimeoutKnob multiplies one operation's timeout by factor, bounded
// below by TimeoutFloor. Returns the new timeout.
func (l *Ledger) ScaleTimeoutKnob(operation string, factor float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.knobsForLocked(operation)
	next := time.Duration(float64(k.Timeout) * factor)
	if next < TimeoutFloor {
		next = TimeoutFloor
	}
	k.Timeout = next
	l.knobs[operation] = k
	return next
}

// AddSuggestion records an advisory note from the optimizer. Oldest
// suggestions fall off when the buffer is full.
func (l *Ledger) AddSuggestion(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.suggestions.Append(fmt.Sprintf(format, args...))
}

// Suggestions returns the recorded advisory notes, oldest first.
func (l *Ledger) Suggestions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.suggestions.Last(l.suggestions.Len())
}
