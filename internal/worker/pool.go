// Package worker provides a fixed-size pool of tile compositing workers.
package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/tilecompose/internal/blend"
	"github.com/MeKo-Tech/tilecompose/internal/rawimage"
	"github.com/MeKo-Tech/tilecompose/internal/types"
)

const (
	// DefaultWorkers is the pool size used when none is configured.
	DefaultWorkers = 8

	// DefaultQueueSize is the per-worker task buffer.
	DefaultQueueSize = 16
)

// Task is the work for one tile: blend Ops from Store into Pix, a
// Width x Height buffer whose top-left corner sits at (Left, Top).
// Pix is owned by the worker until the done callback runs.
type Task struct {
	Store  *rawimage.Store
	Ops    []types.ComposeOp
	Pix    []byte
	Width  int
	Height int
	Left   int
	Top    int
}

// Result is the merged buffer handed back to the submitter.
type Result struct {
	Pix     []byte
	Elapsed time.Duration
	Worker  int
}

// Config configures the worker pool.
type Config struct {
	// Workers is the number of goroutines. Zero runs every task synchronously
	// on the submitting goroutine; negative selects DefaultWorkers.
	Workers int
	// QueueSize is the per-worker task buffer (default: DefaultQueueSize).
	QueueSize int
}

type job struct {
	done func(Result)
	task Task
}

// Worker is one execution context of a pool.
type Worker struct {
	pool  *Pool
	queue chan job
	id    int
}

// Pool hands out workers round-robin. Each pool owns its own counter, so
// separate jobs never interfere with each other's distribution.
type Pool struct {
	inline  *Worker
	workers []*Worker
	next    atomic.Uint64
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

// New creates a pool and starts its worker goroutines.
func New(cfg Config) *Pool {
	n := cfg.Workers
	if n < 0 {
		n = DefaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	p := &Pool{}
	p.inline = &Worker{pool: p, id: -1}

	p.workers = make([]*Worker, n)
	for i := range n {
		w := &Worker{pool: p, id: i, queue: make(chan job, queueSize)}
		p.workers[i] = w

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.loop()
		}()
	}

	return p
}

// Acquire returns the next worker in round-robin order. It is safe for
// concurrent use. A zero-size pool returns a synchronous worker.
func (p *Pool) Acquire() *Worker {
	if len(p.workers) == 0 {
		return p.inline
	}
	i := p.next.Add(1) - 1
	return p.workers[i%uint64(len(p.workers))]
}

// Size returns the number of worker goroutines (zero in synchronous mode).
func (p *Pool) Size() int {
	return len(p.workers)
}

// Close stops accepting queued work, lets every worker finish what it already
// holds, and waits for the goroutines to exit. Close is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, w := range p.workers {
		close(w.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// ID returns the worker index within its pool, or -1 for the synchronous worker.
func (w *Worker) ID() int {
	return w.id
}

// Submit hands task to the worker. done is called exactly once with the merged
// buffer, from the worker goroutine (or inline for the synchronous worker and
// for pools that have been closed). Submit does not wait for earlier tasks.
func (w *Worker) Submit(task Task, done func(Result)) {
	if w.queue == nil {
		done(execute(w.id, task))
		return
	}

	w.pool.mu.RLock()
	if w.pool.closed {
		w.pool.mu.RUnlock()
		done(execute(w.id, task))
		return
	}
	w.queue <- job{task: task, done: done}
	w.pool.mu.RUnlock()
}

func (w *Worker) loop() {
	for j := range w.queue {
		j.done(execute(w.id, j.task))
	}
}

func execute(id int, task Task) Result {
	start := time.Now()
	pix := blend.DrawEach(task.Ops, task.Store, task.Pix, task.Width, task.Height, task.Left, task.Top)
	return Result{
		Pix:     pix,
		Elapsed: time.Since(start),
		Worker:  id,
	}
}
