package priopool

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
)

// Pool is an auto-scaling priority worker pool. It accepts WorkItems
// through Enqueue, schedules them onto a weighted-and-aging priority
// queue set, and runs them on a pool of workers whose count is
// continuously adjusted between Config.MinWorkers and Config.MaxWorkers
// by a background manager loop, in response to backlog depth and
// worker idle time.
type Pool struct {
	cfg    Config
	queues *PriorityQueueSet
	sched  *scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	workers      []*worker
	nextCPU      int
	nextWorkerID atomic.Uint64
	wg           sync.WaitGroup

	started atomic.Bool
	closed  atomic.Bool

	manageDone chan struct{}
}

// NewPool validates cfg, applies defaults, and constructs a Pool. The
// pool is not running until Start is called.
func NewPool(cfg Config) (*Pool, error) {
	cfg.fillDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:        cfg,
		queues:     newPriorityQueueSet(cfg.SegmentSize, cfg.SegmentCount, cfg.PoolCapacity),
		ctx:        ctx,
		cancel:     cancel,
		manageDone: make(chan struct{}),
	}
	p.sched = newScheduler(p.queues, &p.cfg)
	return p, nil
}

// Start launches MinWorkers workers and the autoscaling manager loop.
// Calling Start more than once returns a LifecycleError.
func (p *Pool) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return &LifecycleError{Op: "Start", Reason: "pool already started"}
	}
	for i := 0; i < p.cfg.MinWorkers; i++ {
		p.spawnWorker()
	}
	go p.manage()
	return nil
}

// Enqueue publishes item for scheduling. It returns a LifecycleError
// if the pool has not been started yet or has already been stopped;
// in neither case is the item queued.
func (p *Pool) Enqueue(item *WorkItem) error {
	if !p.started.Load() {
		return &LifecycleError{Op: "Enqueue", Reason: "pool not started"}
	}
	if p.closed.Load() {
		return &LifecycleError{Op: "Enqueue", Reason: "pool stopped"}
	}
	p.cfg.Sink.Enqueued(item.priority)
	p.queues.enqueue(item)
	return nil
}

// BacklogSnapshot reports the current per-priority queue depths.
func (p *Pool) BacklogSnapshot() (high, normal, low int64) {
	return p.queues.snapshot()
}

// Stats is a point-in-time view of pool health, supplementing the
// per-event MetricsSink with a pollable summary — useful for health
// checks and dashboards that don't want to maintain their own sink.
type Stats struct {
	Workers      int
	High         int64
	Normal       int64
	Low          int64
	TotalBacklog int64
}

// Stats returns a snapshot of the pool's current worker count and
// backlog depths.
func (p *Pool) Stats() Stats {
	high, normal, low := p.queues.snapshot()
	p.mu.Lock()
	workers := len(p.workers)
	p.mu.Unlock()
	return Stats{
		Workers:      workers,
		High:         high,
		Normal:       normal,
		Low:          low,
		TotalBacklog: high + normal + low,
	}
}

// Stop cancels every worker and the manager loop, then waits for them
// to exit. Items still queued when Stop is called are never executed.
// It is safe to call Stop multiple times; only the first call does
// anything.
func (p *Pool) Stop() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cancel()
	<-p.manageDone
	p.mu.Lock()
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()
	for _, w := range workers {
		w.stop()
	}
	p.wg.Wait()
}

// spawnWorker assigns each worker a monotonically increasing id from
// nextWorkerID rather than len(p.workers), since the latter gets
// reused the moment a scale-in shrinks the slice, letting two live
// workers share an id.
func (p *Pool) spawnWorker() *worker {
	id := int(p.nextWorkerID.Add(1) - 1)

	p.mu.Lock()
	cpu := p.nextCPU % runtime.NumCPU()
	p.nextCPU++
	w := newWorker(id, cpu, p.ctx, p.sched, p.cfg.Sink, p.cfg.PinWorkers)
	p.workers = append(p.workers, w)
	total := len(p.workers)
	p.mu.Unlock()

	p.wg.Add(1)
	go w.run(&p.wg)
	p.cfg.Sink.WorkerScaled(1, total)
	return w
}

// desiredWorkerCount computes the target worker count from total
// backlog, clamped to [MinWorkers, MaxWorkers].
func (p *Pool) desiredWorkerCount(totalBacklog int64) int {
	desired := int(math.Ceil(float64(totalBacklog) / float64(p.cfg.BacklogPerWorkerScaleOut)))
	if desired < p.cfg.MinWorkers {
		desired = p.cfg.MinWorkers
	}
	if desired > p.cfg.MaxWorkers {
		desired = p.cfg.MaxWorkers
	}
	return desired
}

// manage runs the autoscaling control loop until the pool's context
// is canceled by Stop.
func (p *Pool) manage() {
	defer close(p.manageDone)

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Pool) tick() {
	defer func() {
		if r := recover(); r != nil {
			err := &InternalTickError{Reason: "recovered panic", Err: fmt.Errorf("%v", r)}
			lg.FromContext(p.ctx).Error("pool manager tick failed", lg.Any("err", err))
		}
	}()

	high, normal, low := p.queues.snapshot()
	p.cfg.Sink.BacklogSampled(high, normal, low)

	total := high + normal + low
	desired := p.desiredWorkerCount(total)

	p.mu.Lock()
	current := len(p.workers)
	p.mu.Unlock()

	switch {
	case desired > current:
		p.scaleOut(desired - current)
	case desired < current:
		p.scaleIn(current - desired)
	}
}

func (p *Pool) scaleOut(n int) {
	for i := 0; i < n; i++ {
		p.spawnWorker()
	}
}

// scaleIn removes up to n workers, preferring the ones that have been
// idle longest, and never drops the live count below MinWorkers.
func (p *Pool) scaleIn(n int) {
	now := time.Now()

	p.mu.Lock()
	if len(p.workers)-n < p.cfg.MinWorkers {
		n = len(p.workers) - p.cfg.MinWorkers
	}
	if n <= 0 {
		p.mu.Unlock()
		return
	}

	type candidate struct {
		w    *worker
		idle time.Duration
	}
	candidates := make([]candidate, 0, len(p.workers))
	for _, w := range p.workers {
		if idle := w.idleFor(now); idle >= p.cfg.IdleTimeout {
			candidates = append(candidates, candidate{w, idle})
		}
	}
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].idle > candidates[j-1].idle; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	victims := make([]*worker, n)
	for i := 0; i < n; i++ {
		victims[i] = candidates[i].w
	}

	remaining := p.workers[:0:0]
	victimSet := make(map[*worker]bool, n)
	for _, v := range victims {
		victimSet[v] = true
	}
	for _, w := range p.workers {
		if !victimSet[w] {
			remaining = append(remaining, w)
		}
	}
	p.workers = remaining
	total := len(p.workers)
	p.mu.Unlock()

	for _, w := range victims {
		w.stop()
	}
	if len(victims) > 0 {
		p.cfg.Sink.WorkerScaled(-len(victims), total)
	}
}
