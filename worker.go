package priopool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
)

// worker runs a single fetch-execute loop against a scheduler until
// its context is canceled. Each worker owns no state besides its id
// and the stop signaling needed for pool management; all scheduling
// state lives in the scheduler and queue set it shares with its
// siblings.
type worker struct {
	id        int
	cpu       int
	sched     *scheduler
	sink      MetricsSink
	pinWorker bool

	ctx    context.Context
	cancel context.CancelFunc

	lastActiveUtc atomicTime
	busy          atomicBool

	done chan struct{}
}

func newWorker(id, cpu int, parent context.Context, sched *scheduler, sink MetricsSink, pin bool) *worker {
	ctx, cancel := context.WithCancel(parent)
	w := &worker{
		id:        id,
		cpu:       cpu,
		sched:     sched,
		sink:      sink,
		pinWorker: pin,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	w.lastActiveUtc.store(time.Now().UTC())
	return w
}

// run is the worker's main loop. It is launched in its own goroutine
// by the pool manager and exits once ctx is canceled; an item already
// running is allowed to finish, but no further item is taken.
func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(w.done)

	if w.pinWorker {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := pinToCPU(w.cpu); err != nil {
			lg.FromContext(w.ctx).Warn("pin worker to cpu failed",
				lg.Int("worker_id", w.id), lg.Int("cpu", w.cpu), lg.Any("err", err))
		}
	}

	for {
		item, err := w.sched.fetchNext(w.ctx)
		if err != nil {
			return
		}
		w.busy.store(true)
		w.execute(item)
		w.busy.store(false)
		w.lastActiveUtc.store(time.Now().UTC())
	}
}

// execute runs item.run, recovering from a panic and converting it
// into the same WorkFailure shape an ordinary returned error would
// produce, and reports the outcome through the sink. It never
// propagates an error or panic to the caller: work failures are an
// observed, not a synchronous, concern.
func (w *worker) execute(item *WorkItem) {
	waited := time.Since(item.enqueuedAt)
	w.sink.Dequeued(item.priority, waited)

	start := time.Now()
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		runErr = item.run(w.ctx)
	}()
	duration := time.Since(start)

	if runErr == nil {
		w.sink.Completed(item.priority, duration)
		return
	}

	if w.ctx.Err() != nil {
		cw := &CancellationDuringWork{ItemID: item.id, ItemName: item.name, Priority: item.priority, Err: runErr}
		w.sink.Failed(item.priority, duration, cw)
		lg.FromContext(w.ctx).Info("work item canceled",
			lg.Any("item_id", item.id), lg.String("item_name", item.name),
			lg.Int("priority", int(item.priority)), lg.Any("err", runErr))
		return
	}

	wf := &WorkFailure{ItemID: item.id, ItemName: item.name, Priority: item.priority, Err: runErr}
	w.sink.Failed(item.priority, duration, wf)
	lg.FromContext(w.ctx).Warn("work item failed",
		lg.Any("item_id", item.id), lg.String("item_name", item.name),
		lg.Int("priority", int(item.priority)), lg.Any("err", runErr))
}

// stop cancels the worker's context and waits for its run loop to
// exit. It is idempotent: canceling an already-canceled context is
// harmless and done is only ever closed once.
func (w *worker) stop() {
	w.cancel()
	<-w.done
}

func (w *worker) idleFor(now time.Time) time.Duration {
	if w.busy.load() {
		return 0
	}
	return now.Sub(w.lastActiveUtc.load())
}
