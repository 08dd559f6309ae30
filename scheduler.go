package priopool

import (
	"context"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
)

// scheduler selects the next WorkItem to run out of a PriorityQueueSet.
// Selection is weighted by each priority's configured base weight, with
// an aging bias that grows the effective weight of a priority the
// longer its oldest waiting item has sat queued. This keeps Low-priority
// work making forward progress under sustained High/Normal load instead
// of starving outright, without resorting to a strict round-robin that
// would ignore priority altogether.
type scheduler struct {
	queues *PriorityQueueSet
	cfg    *Config
}

func newScheduler(queues *PriorityQueueSet, cfg *Config) *scheduler {
	return &scheduler{queues: queues, cfg: cfg}
}

// effectiveWeight returns p's scheduling weight at now: its configured
// base weight plus AgingBiasPerSecond for every second its oldest item
// has been waiting. A priority with nothing queued contributes zero and
// is never selected.
func (s *scheduler) effectiveWeight(p WorkPriority, now time.Time) float64 {
	if s.queues.backlog(p) <= 0 {
		return 0
	}
	w := float64(s.cfg.baseWeight(p))
	if age, ok := s.queues.oldestAge(p, now); ok {
		w += s.cfg.AgingBiasPerSecond * age.Seconds()
	}
	return w
}

// order returns the priority levels with nonzero backlog, highest
// effective weight first. Ties keep the natural High>Normal>Low
// ordering, since that is the iteration order weights are computed in.
func (s *scheduler) order(now time.Time) []WorkPriority {
	type scored struct {
		p WorkPriority
		w float64
	}
	var candidates []scored
	for p := PriorityLevels - 1; p >= 0; p-- {
		wp := WorkPriority(p)
		if w := s.effectiveWeight(wp, now); w > 0 {
			candidates = append(candidates, scored{wp, w})
		}
	}
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].w > candidates[j-1].w; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	out := make([]WorkPriority, len(candidates))
	for i, c := range candidates {
		out[i] = c.p
	}
	return out
}

// tryOnce performs exactly one non-blocking selection attempt: it walks
// the priority levels in weighted order and returns the first item
// available from the highest-weighted non-empty queue. It returns false
// only if every queue is currently empty.
func (s *scheduler) tryOnce(now time.Time) (*WorkItem, bool) {
	for _, p := range s.order(now) {
		if item, ok := s.queues.tryTake(p); ok {
			return item, true
		}
	}
	return nil, false
}

// fetchNext blocks until an item is available or ctx is done. Once ctx
// is done it returns ctx's error without taking an item, even if some
// queue still holds one. It alternates non-blocking selection attempts with parking on the
// queue set's doorbell, so a worker never busy-polls and never commits
// to waiting on a single priority's channel (which would defeat the
// weighting entirely).
//
// The doorbell channel is captured *before* each tryOnce check, not
// after. Capturing it afterward would let a push+ring that lands in
// the gap between "tryOnce found nothing" and "start waiting" close a
// channel nobody is listening on yet, stranding the worker on the
// freshly-installed one until some unrelated later ring happens to
// fire. Capturing first guarantees that exact ring closes the channel
// this call is already waiting on.
//
// A doorbell ring only promises that *something* changed, not that
// this particular call will find work waiting (another worker may
// have already taken it). bo bounds the resulting spurious-wake retry
// loop so a storm of rings under heavy contention degrades into a
// short backoff instead of a tight retry loop.
func (s *scheduler) fetchNext(ctx context.Context) (*WorkItem, error) {
	bo := boff.New(s.cfg.IdleFetchBackoffInitial, s.cfg.IdleFetchBackoffMax, time.Now().UnixNano())
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ch := s.queues.doorbellChan()
		if item, ok := s.tryOnce(time.Now()); ok {
			return item, nil
		}
		if err := s.queues.waitOn(ch, ctx); err != nil {
			return nil, err
		}
		if item, ok := s.tryOnce(time.Now()); ok {
			return item, nil
		}
		select {
		case <-time.After(bo.Next()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
