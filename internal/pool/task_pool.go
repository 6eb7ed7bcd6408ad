// Package pool provides a small bounded goroutine pool used for background
// fan-out work such as alert callback delivery, where one slow or panicking
// task must not block its siblings or the caller.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool queue is full")
)

// Task is a unit of background work.
type Task func(ctx context.Context)

// TaskPool runs tasks on a fixed set of workers with a bounded queue.
type TaskPool struct {
	queue  chan taskWrapper
	closed atomic.Bool
	wg     sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64

	panicHandler func(any)
}

type taskWrapper struct {
	task Task
	ctx  context.Context
}

// TaskPoolConfig configures the pool.
type TaskPoolConfig struct {
	Workers      int       `json:"workers"`
	QueueSize    int       `json:"queue_size"`
	PanicHandler func(any) `json:"-"`
}

// DefaultTaskPoolConfig returns sensible defaults.
func DefaultTaskPoolConfig() TaskPoolConfig {
	return TaskPoolConfig{
		Workers:   4,
		QueueSize: 256,
	}
}

// NewTaskPool creates a pool and starts its workers.
func NewTaskPool(config TaskPoolConfig) *TaskPool {
	if config.Workers < 1 {
		config.Workers = 1
	}
	p := &TaskPool{
		queue:        make(chan taskWrapper, config.QueueSize),
		panicHandler: config.PanicHandler,
	}
	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a task. It never blocks; a full queue returns ErrPoolFull
// so callers on hot paths can drop or count instead of stalling.
func (p *TaskPool) Submit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case p.queue <- taskWrapper{task: task, ctx: ctx}:
		p.submitted.Add(1)
		return nil
	default:
		return ErrPoolFull
	}
}

func (p *TaskPool) worker() {
	defer p.wg.Done()

	for wrapper := range p.queue {
		p.run(wrapper)
		p.completed.Add(1)
	}
}

func (p *TaskPool) run(wrapper taskWrapper) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
		}
	}()

	wrapper.task(wrapper.ctx)
}

// Close stops accepting tasks and waits for queued tasks to finish.
func (p *TaskPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
}

// Stats returns pool counters.
func (p *TaskPool) Stats() TaskPoolStats {
	return TaskPoolStats{
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// TaskPoolStats contains pool counters.
type TaskPoolStats struct {
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Panicked  int64 `json:"panicked"`
}
