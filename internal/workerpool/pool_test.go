package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func drain(p *Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.StopAccepting()
	p.Drain(ctx)
}

func TestSubmitAndDrain(t *testing.T) {
	p := New("test", 2, 10)
	var count atomic.Int32

	for i := 0; i < 5; i++ {
		ok := p.Submit(func() {
			count.Add(1)
		})
		if !ok {
			t.Fatalf("Submit %d failed", i)
		}
	}

	drain(p)

	if got := count.Load(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
}

func TestSubmitAfterStopAcceptingReturnsFalse(t *testing.T) {
	p := New("test", 1, 1)
	drain(p)

	if p.Submit(func() {}) {
		t.Fatal("Submit after StopAccepting+Drain should return false")
	}
}

func TestQueueFullReturnsFalseAndCountsDropped(t *testing.T) {
	p := New("test", 1, 1)
	// Block the worker.
	blocker := make(chan struct{})
	p.Submit(func() { <-blocker })

	// Fill the queue.
	time.Sleep(10 * time.Millisecond) // let worker pick up first task
	p.Submit(func() {})               // fills the queue (size 1)

	// This should fail — queue full.
	if p.Submit(func() {}) {
		t.Fatal("Submit should return false when queue is full")
	}
	if got := p.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}

	close(blocker)
	drain(p)
}

func TestDrainWithoutStopAcceptingAutoStops(t *testing.T) {
	p := New("test", 1, 10)
	p.Submit(func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Call Drain directly without StopAccepting first — it still stops the
	// pool's internal loop, though Submit races with it are the caller's
	// responsibility to avoid by calling StopAccepting first.
	p.Drain(ctx)

	p.StopAccepting()
	if p.Submit(func() {}) {
		t.Fatal("Submit should return false once StopAccepting has run")
	}
}

func TestDrainRespectsContextDeadline(t *testing.T) {
	p := New("test", 1, 10)
	blocker := make(chan struct{})
	p.Submit(func() { <-blocker })

	p.StopAccepting()
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	p.Drain(ctx)
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Fatalf("Drain should have timed out in ~100ms, took %v", elapsed)
	}

	close(blocker) // cleanup
}

func TestSingleWorkerDrainDoesNotDeadlock(t *testing.T) {
	p := New("test", 1, 10)
	var count atomic.Int32

	for i := 0; i < 5; i++ {
		p.Submit(func() {
			time.Sleep(1 * time.Millisecond)
			count.Add(1)
		})
	}

	drain(p)

	if got := count.Load(); got != 5 {
		t.Fatalf("single-worker drain: count = %d, want 5", got)
	}
}

func TestPanicRecovery(t *testing.T) {
	p := New("test", 1, 10)
	var count atomic.Int32

	// Submit a panicking task.
	p.Submit(func() {
		panic("test panic")
	})
	// Submit a normal task after.
	p.Submit(func() {
		count.Add(1)
	})

	drain(p)

	if got := count.Load(); got != 1 {
		t.Fatalf("task after panic: count = %d, want 1", got)
	}
}
