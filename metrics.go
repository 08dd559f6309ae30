package priopool

import (
	"context"
	"fmt"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
)

// MetricsSink receives observations from a Pool as it runs. All
// methods must be safe for concurrent use and must not block; a slow
// or panicking sink must never hold up scheduling or worker
// execution. MultiSink enforces this for fan-out by recovering each
// sink call independently.
type MetricsSink interface {
	// Enqueued is called once per WorkItem, right before it is
	// published to its queue, so it always precedes the matching
	// Dequeued.
	Enqueued(priority WorkPriority)

	// Dequeued is called once per WorkItem, right before a worker runs
	// it. waited is the time between enqueue and this call.
	Dequeued(priority WorkPriority, waited time.Duration)

	// Completed is called once per WorkItem after its run function
	// returns nil. duration is the run function's execution time.
	Completed(priority WorkPriority, duration time.Duration)

	// Failed is called once per WorkItem whose run function returned
	// a non-nil error, or whose execution was recovered from a panic.
	Failed(priority WorkPriority, duration time.Duration, err error)

	// WorkerScaled is called every time the pool manager changes the
	// live worker count. delta is positive for scale-out, negative for
	// scale-in.
	WorkerScaled(delta int, total int)

	// BacklogSampled is called once per manager tick with the current
	// per-priority backlog depths.
	BacklogSampled(high, normal, low int64)
}

// NoopSink discards every observation. It is the default Sink in
// DefaultConfig.
type NoopSink struct{}

func (NoopSink) Enqueued(WorkPriority)                    {}
func (NoopSink) Dequeued(WorkPriority, time.Duration)      {}
func (NoopSink) Completed(WorkPriority, time.Duration)     {}
func (NoopSink) Failed(WorkPriority, time.Duration, error) {}
func (NoopSink) WorkerScaled(int, int)                     {}
func (NoopSink) BacklogSampled(int64, int64, int64)        {}

// MultiSink fans every observation out to a fixed list of sinks. A
// panic from one sink is recovered and does not prevent the remaining
// sinks from being called; it has nowhere safe to be reported back
// through the same sink list (that risks looping a sink that always
// panics), so it is wrapped in a SinkFailure and logged instead.
type MultiSink struct {
	sinks []MetricsSink
}

// NewMultiSink returns a MetricsSink that fans out to every non-nil
// sink in sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	filtered := make([]MetricsSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) each(method string, call func(MetricsSink)) {
	for _, s := range m.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					sf := &SinkFailure{Sink: fmt.Sprintf("%T", s), Method: method, Err: fmt.Errorf("%v", r)}
					lg.FromContext(context.Background()).Warn("metrics sink failed", lg.Any("err", sf))
				}
			}()
			call(s)
		}()
	}
}

func (m *MultiSink) Enqueued(p WorkPriority) {
	m.each("Enqueued", func(s MetricsSink) { s.Enqueued(p) })
}

func (m *MultiSink) Dequeued(p WorkPriority, waited time.Duration) {
	m.each("Dequeued", func(s MetricsSink) { s.Dequeued(p, waited) })
}

func (m *MultiSink) Completed(p WorkPriority, d time.Duration) {
	m.each("Completed", func(s MetricsSink) { s.Completed(p, d) })
}

func (m *MultiSink) Failed(p WorkPriority, d time.Duration, err error) {
	m.each("Failed", func(s MetricsSink) { s.Failed(p, d, err) })
}

func (m *MultiSink) WorkerScaled(delta, total int) {
	m.each("WorkerScaled", func(s MetricsSink) { s.WorkerScaled(delta, total) })
}

func (m *MultiSink) BacklogSampled(high, normal, low int64) {
	m.each("BacklogSampled", func(s MetricsSink) { s.BacklogSampled(high, normal, low) })
}
