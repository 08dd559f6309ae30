package priopool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu        sync.Mutex
	completed int
	failed    int
	lastErr   error
}

func (s *recordingSink) Enqueued(WorkPriority)              {}
func (s *recordingSink) WorkerScaled(int, int)               {}
func (s *recordingSink) BacklogSampled(int64, int64, int64)  {}
func (s *recordingSink) Dequeued(WorkPriority, time.Duration) {}

func (s *recordingSink) Completed(WorkPriority, time.Duration) {
	s.mu.Lock()
	s.completed++
	s.mu.Unlock()
}

func (s *recordingSink) Failed(p WorkPriority, d time.Duration, err error) {
	s.mu.Lock()
	s.failed++
	s.lastErr = err
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() (completed, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed, s.failed
}

func TestWorkerExecuteReportsSuccess(t *testing.T) {
	sink := &recordingSink{}
	qs := newPriorityQueueSet(8, 2, 4)
	cfg := DefaultConfig()
	sched := newScheduler(qs, &cfg)
	w := newWorker(0, 0, context.Background(), sched, sink, false)

	ran := false
	item := NewWorkItem(Normal, func(context.Context) error {
		ran = true
		return nil
	}, "")
	w.execute(item)

	if !ran {
		t.Fatal("run function was never invoked")
	}
	completed, failed := sink.snapshot()
	if completed != 1 || failed != 0 {
		t.Fatalf("got completed=%d failed=%d, want 1,0", completed, failed)
	}
}

func TestWorkerExecuteRecoversPanicAsFailure(t *testing.T) {
	sink := &recordingSink{}
	qs := newPriorityQueueSet(8, 2, 4)
	cfg := DefaultConfig()
	sched := newScheduler(qs, &cfg)
	w := newWorker(0, 0, context.Background(), sched, sink, false)

	item := NewWorkItem(Normal, func(context.Context) error {
		panic("boom")
	}, "")
	w.execute(item)

	completed, failed := sink.snapshot()
	if completed != 0 || failed != 1 {
		t.Fatalf("got completed=%d failed=%d, want 0,1", completed, failed)
	}
}

func TestWorkerExecuteReportsReturnedError(t *testing.T) {
	sink := &recordingSink{}
	qs := newPriorityQueueSet(8, 2, 4)
	cfg := DefaultConfig()
	sched := newScheduler(qs, &cfg)
	w := newWorker(0, 0, context.Background(), sched, sink, false)

	wantErr := errors.New("boom")
	item := NewWorkItem(Normal, func(context.Context) error { return wantErr }, "")
	w.execute(item)

	_, failed := sink.snapshot()
	if failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
	var wf *WorkFailure
	if !errors.As(sink.lastErr, &wf) {
		t.Fatalf("lastErr = %v, want *WorkFailure", sink.lastErr)
	}
	if !errors.Is(wf, wantErr) {
		t.Fatalf("WorkFailure does not unwrap to %v", wantErr)
	}
}

func TestWorkerExecuteWrapsCanceledContextError(t *testing.T) {
	sink := &recordingSink{}
	qs := newPriorityQueueSet(8, 2, 4)
	cfg := DefaultConfig()
	sched := newScheduler(qs, &cfg)
	ctx, cancel := context.WithCancel(context.Background())
	w := newWorker(0, 0, ctx, sched, sink, false)

	item := NewWorkItem(Normal, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}, "")
	w.execute(item)

	_, failed := sink.snapshot()
	if failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
	var cw *CancellationDuringWork
	if !errors.As(sink.lastErr, &cw) {
		t.Fatalf("lastErr = %v, want *CancellationDuringWork", sink.lastErr)
	}
	if cw.ItemID != item.id || cw.ItemName != item.name || cw.Priority != item.priority {
		t.Fatalf("CancellationDuringWork fields mismatch: %+v vs item %+v", cw, item)
	}
}

func TestWorkerDoesNotDieAfterFailure(t *testing.T) {
	sink := &recordingSink{}
	qs := newPriorityQueueSet(8, 2, 4)
	cfg := DefaultConfig()
	sched := newScheduler(qs, &cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := newWorker(0, 0, ctx, sched, sink, false)

	var wg sync.WaitGroup
	wg.Add(1)
	go w.run(&wg)

	for i := 0; i < 3; i++ {
		qs.enqueue(NewWorkItem(Normal, func(context.Context) error {
			return errors.New("boom")
		}, ""))
	}

	successCh := make(chan struct{})
	qs.enqueue(NewWorkItem(Normal, func(context.Context) error {
		close(successCh)
		return nil
	}, ""))

	select {
	case <-successCh:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not remain live after 3 failures")
	}

	w.stop()
	wg.Wait()
}

func TestWorkerStopIsIdempotentAndAwaitsExit(t *testing.T) {
	qs := newPriorityQueueSet(8, 2, 4)
	cfg := DefaultConfig()
	sched := newScheduler(qs, &cfg)
	w := newWorker(0, 0, context.Background(), sched, NoopSink{}, false)

	var wg sync.WaitGroup
	wg.Add(1)
	go w.run(&wg)

	w.stop()
	w.stop()
	wg.Wait()
}

func TestWorkerIdleForReflectsLastActive(t *testing.T) {
	qs := newPriorityQueueSet(8, 2, 4)
	cfg := DefaultConfig()
	sched := newScheduler(qs, &cfg)
	w := newWorker(0, 0, context.Background(), sched, NoopSink{}, false)

	past := time.Now().Add(-time.Minute)
	w.lastActiveUtc.store(past)

	idle := w.idleFor(time.Now())
	if idle < 59*time.Second {
		t.Fatalf("idleFor = %v, want at least ~1 minute", idle)
	}
}
