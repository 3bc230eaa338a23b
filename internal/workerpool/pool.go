// Package workerpool runs control-plane work, such as session setup and
// teardown, off the accept path on a bounded set of goroutines.
package workerpool

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/rdpd/internal/logging"
)

// Task is a unit of work. ctx is cancelled once the pool has shut down.
type Task func(ctx context.Context)

// Pool is a fixed set of workers fed from a bounded queue. A pool with a
// single worker runs tasks strictly in submission order.
type Pool struct {
	name  string
	log   *slog.Logger
	queue chan Task

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	workers sync.WaitGroup
	queued  atomic.Int64
}

// New starts a pool. logger may be nil.
func New(name string, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = logging.L("workerpool")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		log:    logger.With("pool", name),
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	p.log.Debug("worker pool started", "workers", workers, "queueSize", queueSize)
	return p
}

// Context is cancelled when Shutdown returns.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit enqueues task without blocking. It reports false when the pool is
// shut down or the queue is full.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	p.pending.Add(1)
	select {
	case p.queue <- task:
		p.queued.Add(1)
		return true
	default:
		p.pending.Done()
		p.log.Warn("worker pool queue full, task rejected")
		return false
	}
}

// Pending is the number of tasks queued or running.
func (p *Pool) Pending() int {
	return int(p.queued.Load())
}

// Shutdown stops accepting tasks and waits for queued ones to finish or for
// ctx to end, whichever comes first. Safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Debug("worker pool drained")
	case <-ctx.Done():
		p.log.Warn("worker pool drain timed out", "pending", p.Pending())
	}

	p.cancel()
	close(p.queue)
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for task := range p.queue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer p.pending.Done()
	defer p.queued.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(p.ctx)
}
