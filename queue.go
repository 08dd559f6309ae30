package priopool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"
)

// cachePad prevents false sharing between hot fields that are written
// by different goroutines (producers vs. consumers).
type cachePad = cpu.CacheLinePad

const (
	// DefaultSegmentSize is the number of items a single segment can
	// hold before a new one is linked in.
	DefaultSegmentSize = 256

	// DefaultSegmentCount is the number of segments kept preallocated
	// in the free-list pool per priority queue.
	DefaultSegmentCount = 8
)

// producerView holds fields written by push; consumerView holds
// fields written by take. Keeping them in separate cache lines avoids
// producers and consumers fighting over the same cache line under
// contention.
type producerView struct {
	reserve uint32
	_       cachePad
}

type consumerView struct {
	head uint32
	_    cachePad
}

// segment is a fixed-size, singly-linked chunk of a segmentedQueue.
//
// A segment moves through three states: active (still reachable from
// the queue and accepting pushes/takes) -> detached (unlinked from
// the queue, but a consumer may still be draining it) -> recycled
// (returned to the free list for reuse). The generation counter lets
// slots be reused without clearing the backing array, which is what
// makes recycling cheap.
type segment[T any] struct {
	producer producerView
	consumer consumerView

	gen      atomic.Uint32
	detached atomic.Uint32
	_        cachePad

	refs atomic.Int32
	_    cachePad

	buf   []T
	ready []uint32
	_     cachePad

	next atomic.Pointer[segment[T]]
}

func mkSegment[T any](size uint32) *segment[T] {
	seg := &segment[T]{
		buf:   make([]T, size),
		ready: make([]uint32, size),
	}
	seg.gen.Store(1)
	return seg
}

// tryAddRef acquires a reference to the segment unless it has already
// been detached from the queue.
func (s *segment[T]) tryAddRef() bool {
	if s.detached.Load() != 0 {
		return false
	}
	s.refs.Add(1)
	if s.detached.Load() != 0 {
		s.refs.Add(-1)
		return false
	}
	return true
}

// segmentPool recycles detached segments to keep push/take allocation
// free in steady state.
type segmentPool[T any] struct {
	mu      sync.Mutex
	maxKeep int
	free    []*segment[T]
}

func (p *segmentPool[T]) Put(seg *segment[T]) {
	p.mu.Lock()
	max := p.maxKeep
	if max <= 0 {
		max = cap(p.free)
	}
	if len(p.free) < max {
		p.free = append(p.free, seg)
	}
	p.mu.Unlock()
}

func (p *segmentPool[T]) Get(size uint32) *segment[T] {
	p.mu.Lock()
	n := len(p.free)
	if n == 0 {
		p.mu.Unlock()
		return mkSegment[T](size)
	}
	seg := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	p.mu.Unlock()
	return seg
}

// batch is a contiguous run of items claimed from the head of a
// segment by a single drain call. It must be released via
// onBatchDone once every item in it has been handed out.
type batch[T any] struct {
	items []T
	seg   *segment[T]
}

// segmentedQueue is a lock-free, multi-producer multi-consumer,
// unbounded FIFO built from linked fixed-size segments. Producers
// reserve a slot with a CAS loop and never block; consumers claim
// whole runs of ready slots at once and recycle segments once fully
// drained. This is the storage engine behind each priority's queue in
// a PriorityQueueSet.
type segmentedQueue[T any] struct {
	head atomic.Pointer[segment[T]]
	tail atomic.Pointer[segment[T]]

	pool     segmentPool[T]
	pageSize uint32

	// drainMu serializes the single-item take path. Producers never
	// touch it; only take() does, which keeps the lock-free push path
	// fully independent of consumer contention.
	drainMu sync.Mutex
	cur     batch[T]
	pos     int
}

func newSegmentedQueue[T any](pageSize uint32, segmentCount uint32, poolCapacity int) *segmentedQueue[T] {
	if pageSize == 0 {
		pageSize = DefaultSegmentSize
	}
	if segmentCount == 0 {
		segmentCount = DefaultSegmentCount
	}
	if poolCapacity <= 0 {
		poolCapacity = int(segmentCount) * 2
	}

	q := &segmentedQueue[T]{pageSize: pageSize}
	q.pool.free = make([]*segment[T], 0, poolCapacity)
	for i := uint32(0); i < segmentCount; i++ {
		q.pool.free = append(q.pool.free, mkSegment[T](pageSize))
	}

	first := q.pool.Get(pageSize)
	first.next.Store(nil)
	first.detached.Store(0)

	q.head.Store(first)
	q.tail.Store(first)
	return q
}

// push appends v to the tail of the queue. It is lock-free and safe
// for any number of concurrent producers.
func (q *segmentedQueue[T]) push(v T) {
	for {
		seg := q.tail.Load()
		if !seg.tryAddRef() {
			continue
		}
		g := seg.gen.Load()

		if q.tail.Load() != seg {
			seg.refs.Add(-1)
			continue
		}

		for {
			r := atomic.LoadUint32(&seg.producer.reserve)
			if r >= q.pageSize {
				break
			}
			if atomic.CompareAndSwapUint32(&seg.producer.reserve, r, r+1) {
				seg.buf[r] = v
				atomic.StoreUint32(&seg.ready[r], g)
				seg.refs.Add(-1)
				return
			}
		}

		next := seg.next.Load()
		if next == nil {
			newSeg := q.pool.Get(q.pageSize)
			if seg.next.CompareAndSwap(nil, newSeg) {
				next = newSeg
			} else {
				q.pool.Put(newSeg)
				next = seg.next.Load()
			}
		}
		q.tail.CompareAndSwap(seg, next)
		seg.refs.Add(-1)
	}
}

// batchPop claims the longest contiguous run of ready items at the
// head of the queue. It returns false only when the queue is
// currently empty.
func (q *segmentedQueue[T]) batchPop() (batch[T], bool) {
	for {
		seg := q.head.Load()
		if !seg.tryAddRef() {
			continue
		}
		if q.head.Load() != seg {
			seg.refs.Add(-1)
			continue
		}

		h := atomic.LoadUint32(&seg.consumer.head)
		r := atomic.LoadUint32(&seg.producer.reserve)
		limit := r
		if limit > q.pageSize {
			limit = q.pageSize
		}

		end := h
		g := seg.gen.Load()
		for end < limit && atomic.LoadUint32(&seg.ready[end]) == g {
			end++
		}

		if end > h {
			if atomic.CompareAndSwapUint32(&seg.consumer.head, h, end) {
				seg.refs.Add(-1)
				return batch[T]{items: seg.buf[h:end], seg: seg}, true
			}
			seg.refs.Add(-1)
			continue
		}

		if h == limit {
			next := seg.next.Load()
			if next != nil {
				if q.head.CompareAndSwap(seg, next) {
					if seg.detached.CompareAndSwap(0, 1) {
						seg.refs.Add(-1)
						q.tryRecycle(seg)
						continue
					}
				}
				seg.refs.Add(-1)
				continue
			}
		}

		seg.refs.Add(-1)
		return batch[T]{}, false
	}
}

func (q *segmentedQueue[T]) onBatchDone(b batch[T]) {
	if b.seg == nil {
		return
	}
	q.tryRecycle(b.seg)
}

func (q *segmentedQueue[T]) tryRecycle(seg *segment[T]) {
	if seg.detached.Load() == 0 {
		return
	}
	if seg.refs.Load() != 0 {
		return
	}
	if q.head.Load() == seg || q.tail.Load() == seg {
		return
	}

	atomic.StoreUint32(&seg.consumer.head, 0)
	atomic.StoreUint32(&seg.producer.reserve, 0)
	seg.next.Store(nil)

	if newGen := seg.gen.Add(1); newGen == 0 {
		seg.gen.Store(1)
	}
	seg.detached.Store(0)
	q.pool.Put(seg)
}

// take removes and returns exactly one item from the head of the
// queue, presenting the single-item try_take contract spec.md's
// priority queue set requires on top of the batch-oriented lock-free
// storage above. It serializes consumers through drainMu, which is a
// short critical section compared to the unbounded, lock-free push
// path producers use.
//
// While the batch it is currently draining still holds items after the
// one returned, it also reports the next of them (hasNext true, with
// its value) so callers can maintain a cheap "oldest waiting item"
// hint without a separate peek call. Once that batch is exhausted it
// reports hasNext false, even if more items are waiting beyond it.
func (q *segmentedQueue[T]) take() (v T, peekNext T, hasNext, ok bool) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	if q.pos >= len(q.cur.items) {
		b, got := q.batchPop()
		if !got {
			return v, peekNext, false, false
		}
		q.onBatchDone(q.cur)
		q.cur = b
		q.pos = 0
	}

	v = q.cur.items[q.pos]
	q.pos++
	if q.pos < len(q.cur.items) {
		return v, q.cur.items[q.pos], true, true
	}
	return v, peekNext, false, true
}

// doorbell is a broadcast-on-close channel swap used to wake every
// goroutine parked in wait without favoring whichever one happens to
// win a channel receive race. Producers post via ring(); consumers
// park via wait(). This sidesteps both a busy poll and a select over
// one channel per priority weighted by priority, which spec.md
// explicitly calls out as an anti-pattern.
type doorbell struct {
	mu sync.Mutex
	ch chan struct{}
}

func newDoorbell() *doorbell {
	return &doorbell{ch: make(chan struct{})}
}

func (d *doorbell) ring() {
	d.mu.Lock()
	ch := d.ch
	d.ch = make(chan struct{})
	d.mu.Unlock()
	close(ch)
}

// current returns the channel that the next ring() will close. Callers
// that need to check a condition and then wait for it to change must
// capture this channel *before* checking the condition: ring() always
// closes whichever channel is current at the moment it runs, so a
// channel captured before the check is guaranteed to be the one closed
// by a ring that races with (or immediately follows) that check.
// Capturing it only after finding the condition false can miss a ring
// that already happened, and then wait(ctx) on a freshly-installed
// channel blocks until the next, unrelated ring.
func (d *doorbell) current() <-chan struct{} {
	d.mu.Lock()
	ch := d.ch
	d.mu.Unlock()
	return ch
}

func (d *doorbell) wait(ctx context.Context) error {
	return d.waitOn(d.current(), ctx)
}

func (d *doorbell) waitOn(ch <-chan struct{}, ctx context.Context) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PriorityQueueSet is one unbounded FIFO queue per WorkPriority, plus
// a best-effort-consistent backlog counter and an oldest-waiting-item
// hint per priority used by the scheduler's aging bias.
type PriorityQueueSet struct {
	queues [PriorityLevels]*segmentedQueue[*WorkItem]
	counts [PriorityLevels]atomic.Int64
	oldest [PriorityLevels]atomic.Int64 // unix nanos; 0 means "unknown/empty"
	bell   *doorbell
}

func newPriorityQueueSet(segmentSize uint32, segmentCount uint32, poolCapacity int) *PriorityQueueSet {
	qs := &PriorityQueueSet{bell: newDoorbell()}
	for p := 0; p < PriorityLevels; p++ {
		qs.queues[p] = newSegmentedQueue[*WorkItem](segmentSize, segmentCount, poolCapacity)
	}
	return qs
}

// enqueue publishes item and makes it dequeuable-observable. The
// counter is incremented before the item is visible to consumers (the
// "increment first" choice documented in SPEC_FULL.md), so a
// BacklogSnapshot taken right after enqueue never undercounts it.
func (qs *PriorityQueueSet) enqueue(item *WorkItem) {
	p := item.priority
	qs.counts[p].Add(1)
	qs.oldest[p].CompareAndSwap(0, item.enqueuedAt.UnixNano())
	qs.queues[p].push(item)
	qs.bell.ring()
}

// tryTake performs a non-blocking take from the given priority's
// queue. It returns false if that queue is currently empty.
func (qs *PriorityQueueSet) tryTake(p WorkPriority) (*WorkItem, bool) {
	item, next, hasNext, ok := qs.queues[p].take()
	if !ok {
		return nil, false
	}
	qs.counts[p].Add(-1)
	if hasNext {
		qs.oldest[p].Store(next.enqueuedAt.UnixNano())
	} else {
		// Either the queue just emptied, or the next item lives in a
		// segment we haven't claimed yet. Either way we don't have an
		// exact timestamp to report; resetting to 0 is conservative
		// (it never overstates age) and self-heals on the next push
		// or the next successful take. This does mean a priority whose
		// backlog spans more than one segment loses its aging bias at
		// every segment boundary until something touches it again, not
		// just when truly empty.
		qs.oldest[p].Store(0)
	}
	return item, true
}

// oldestAge returns how long the current head of priority p's queue
// has been waiting, or false if that is unknown (queue empty, or the
// hint hasn't been refreshed since the last take).
func (qs *PriorityQueueSet) oldestAge(p WorkPriority, now time.Time) (time.Duration, bool) {
	nanos := qs.oldest[p].Load()
	if nanos == 0 {
		return 0, false
	}
	age := now.Sub(time.Unix(0, nanos))
	if age < 0 {
		age = 0
	}
	return age, true
}

func (qs *PriorityQueueSet) backlog(p WorkPriority) int64 {
	return qs.counts[p].Load()
}

// snapshot reads all three backlog counters. It is read-only and
// best-effort-consistent: a reader may observe it off by the number of
// concurrent enqueues/dequeues in flight, but never negative.
func (qs *PriorityQueueSet) snapshot() (high, normal, low int64) {
	return qs.counts[High].Load(), qs.counts[Normal].Load(), qs.counts[Low].Load()
}

func (qs *PriorityQueueSet) waitAny(ctx context.Context) error {
	return qs.bell.wait(ctx)
}

// doorbellChan returns the channel the next enqueue's ring() will
// close. Callers must capture it before checking whether any queue
// has work, then wait on the captured channel if the check comes up
// empty, so an enqueue racing with the check is never missed; see
// doorbell.current.
func (qs *PriorityQueueSet) doorbellChan() <-chan struct{} {
	return qs.bell.current()
}

// waitOn blocks until ch closes or ctx is done. ch should be a value
// previously returned by doorbellChan, captured before the condition
// that made waiting necessary was checked.
func (qs *PriorityQueueSet) waitOn(ch <-chan struct{}, ctx context.Context) error {
	return qs.bell.waitOn(ch, ctx)
}
