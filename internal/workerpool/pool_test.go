package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func shutdown(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)
}

func TestSubmitAndShutdown(t *testing.T) {
	p := New("test", 2, 10, nil)
	var count atomic.Int32

	for i := 0; i < 5; i++ {
		if !p.Submit(func(context.Context) { count.Add(1) }) {
			t.Fatalf("Submit %d failed", i)
		}
	}
	shutdown(t, p)

	if got := count.Load(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
	if p.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", p.Pending())
	}
}

func TestSingleWorkerPreservesOrder(t *testing.T) {
	p := New("control", 1, 64, nil)
	var mu sync.Mutex
	var order []int

	for i := 0; i < 50; i++ {
		i := i
		p.Submit(func(context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	shutdown(t, p)

	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d", i, v)
		}
	}
	if len(order) != 50 {
		t.Fatalf("ran %d tasks, want 50", len(order))
	}
}

func TestSubmitAfterShutdownReturnsFalse(t *testing.T) {
	p := New("test", 1, 1, nil)
	shutdown(t, p)
	shutdown(t, p)

	if p.Submit(func(context.Context) {}) {
		t.Fatal("Submit after Shutdown should return false")
	}
}

func TestQueueFullReturnsFalse(t *testing.T) {
	p := New("test", 1, 1, nil)
	blocker := make(chan struct{})
	started := make(chan struct{})
	p.Submit(func(context.Context) {
		close(started)
		<-blocker
	})
	<-started

	if !p.Submit(func(context.Context) {}) {
		t.Fatal("second task should fit in the queue")
	}
	if p.Submit(func(context.Context) {}) {
		t.Fatal("Submit should return false when queue is full")
	}

	close(blocker)
	shutdown(t, p)
}

func TestContextCancelledAfterShutdown(t *testing.T) {
	p := New("test", 1, 10, nil)
	poolCtx := p.Context()
	if poolCtx.Err() != nil {
		t.Fatal("pool context should not be cancelled before Shutdown")
	}
	shutdown(t, p)
	if poolCtx.Err() == nil {
		t.Fatal("pool context should be cancelled after Shutdown")
	}
}

func TestShutdownRespectsDeadline(t *testing.T) {
	p := New("test", 1, 10, nil)
	blocker := make(chan struct{})
	defer close(blocker)
	p.Submit(func(ctx context.Context) {
		select {
		case <-blocker:
		case <-ctx.Done():
		}
	})

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	p.Shutdown(ctx)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Shutdown should have timed out in ~100ms, took %v", elapsed)
	}
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	p := New("test", 1, 10, nil)
	var ran atomic.Bool
	p.Submit(func(context.Context) { panic("boom") })
	p.Submit(func(context.Context) { ran.Store(true) })
	shutdown(t, p)

	if !ran.Load() {
		t.Fatal("task after a panic should still run")
	}
}
