package types

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchState tracks a batch through its lifecycle. Transitions only move
// forward: Pending -> {Full|Expired|Bypassed} -> Executing -> {Completed|Failed}.
type BatchState string

const (
	BatchPending   BatchState = "pending"
	BatchFull      BatchState = "full"
	BatchExpired   BatchState = "expired"
	BatchBypassed  BatchState = "bypassed"
	BatchExecuting BatchState = "executing"
	BatchCompleted BatchState = "completed"
	BatchFailed    BatchState = "failed"
)

// terminal reports whether no further transition is allowed from s.
func (s BatchState) terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// scoreFullnessWeight is the weight of the fill ratio in Score. A fuller
// batch of equal priority dispatches first during flushes. Tunable, not
// load-bearing.
const scoreFullnessWeight = 2.0

// Batch is a bounded, time-windowed group of units executed together.
// Membership is mutated only while the owning assembler holds its partition
// lock; the state machine has its own mutex so executors can transition a
// batch after it has been detached from the pending list.
type Batch struct {
	ID        string        `json:"id"`
	Partition string        `json:"partition"`
	Units     []*Unit       `json:"units"`
	CreatedAt time.Time     `json:"created_at"`
	MaxAge    time.Duration `json:"max_age"`
	MaxSize   int           `json:"max_size"`

	mu    sync.Mutex
	state BatchState
}

// NewBatch creates an empty pending batch for a partition.
func NewBatch(partition string, maxSize int, maxAge time.Duration) *Batch {
	return &Batch{
		ID:        uuid.NewString(),
		Partition: partition,
		Units:     make([]*Unit, 0, maxSize),
		CreatedAt: time.Now(),
		MaxAge:    maxAge,
		MaxSize:   maxSize,
		state:     BatchPending,
	}
}

// Add appends a unit. The caller must already hold the partition lock that
// serializes placement; Add still refuses to exceed MaxSize so the size
// invariant cannot be broken by a misbehaving caller.
func (b *Batch) Add(u *Unit) error {
	if len(b.Units) >= b.MaxSize {
		return NewError(ErrBatchFull, "batch is full")
	}
	b.Units = append(b.Units, u)
	return nil
}

// Len returns the number of member units.
func (b *Batch) Len() int { return len(b.Units) }

// Age returns how long the batch has been open.
func (b *Batch) Age() time.Duration { return time.Since(b.CreatedAt) }

// IsExpired reports whether the batch has outlived MaxAge.
func (b *Batch) IsExpired() bool { return b.Age() >= b.MaxAge }

// IsFull reports whether the batch has reached MaxSize.
func (b *Batch) IsFull() bool { return len(b.Units) >= b.MaxSize }

// Priority returns the representative priority of the batch: the maximum
// priority among its members, 0 when empty.
func (b *Batch) Priority() int {
	max := 0
	for _, u := range b.Units {
		if u.Priority > max {
			max = u.Priority
		}
	}
	return max
}

// FillRatio returns how full the batch is in [0,1].
func (b *Batch) FillRatio() float64 {
	if b.MaxSize <= 0 {
		return 0
	}
	return float64(len(b.Units)) / float64(b.MaxSize)
}

// Score combines representative priority with fullness so dispatch order can
// prefer urgent and nearly full batches.
func (b *Batch) Score() float64 {
	return float64(b.Priority()) + scoreFullnessWeight*b.FillRatio()
}

// State returns the current lifecycle state.
func (b *Batch) State() BatchState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Transition moves the batch to the given state if the transition is valid,
// returning false otherwise. A batch leaves Pending exactly once, which is
// what prevents a double hand-off when the sweeper and a fullness trigger
// race for the same batch.
func (b *Batch) Transition(to BatchState) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	valid := false
	switch to {
	case BatchFull, BatchExpired, BatchBypassed:
		valid = b.state == BatchPending
	case BatchExecuting:
		valid = b.state == BatchFull || b.state == BatchExpired || b.state == BatchBypassed
	case BatchCompleted, BatchFailed:
		valid = b.state == BatchExecuting
	}
	if !valid || b.state.terminal() {
		return false
	}
	b.state = to
	return true
}
