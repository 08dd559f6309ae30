package priopool

import (
	"testing"
	"time"
)

type countingSink struct {
	calls int
}

func (s *countingSink) Enqueued(WorkPriority)                     { s.calls++ }
func (s *countingSink) Dequeued(WorkPriority, time.Duration)       { s.calls++ }
func (s *countingSink) Completed(WorkPriority, time.Duration)      { s.calls++ }
func (s *countingSink) Failed(WorkPriority, time.Duration, error)  { s.calls++ }
func (s *countingSink) WorkerScaled(int, int)                      { s.calls++ }
func (s *countingSink) BacklogSampled(int64, int64, int64)         { s.calls++ }

type panickingSink struct{}

func (panickingSink) Enqueued(WorkPriority)                    { panic("boom") }
func (panickingSink) Dequeued(WorkPriority, time.Duration)      { panic("boom") }
func (panickingSink) Completed(WorkPriority, time.Duration)     { panic("boom") }
func (panickingSink) Failed(WorkPriority, time.Duration, error) { panic("boom") }
func (panickingSink) WorkerScaled(int, int)                     { panic("boom") }
func (panickingSink) BacklogSampled(int64, int64, int64)        { panic("boom") }

func TestNoopSinkDiscardsEverything(t *testing.T) {
	var s MetricsSink = NoopSink{}
	s.Enqueued(High)
	s.Dequeued(High, time.Second)
	s.Completed(High, time.Second)
	s.Failed(High, time.Second, nil)
	s.WorkerScaled(1, 1)
	s.BacklogSampled(0, 0, 0)
}

func TestMultiSinkFansOutToEverySink(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	multi := NewMultiSink(a, b)

	multi.Enqueued(High)
	multi.Completed(High, time.Second)

	if a.calls != 2 || b.calls != 2 {
		t.Fatalf("a.calls=%d b.calls=%d, want 2,2", a.calls, b.calls)
	}
}

func TestMultiSinkIsolatesPanickingSink(t *testing.T) {
	good := &countingSink{}
	multi := NewMultiSink(panickingSink{}, good)

	multi.Completed(Normal, time.Second)

	if good.calls != 1 {
		t.Fatalf("good sink should still be called once, got %d", good.calls)
	}
}

func TestMultiSinkSkipsNilSinks(t *testing.T) {
	good := &countingSink{}
	multi := NewMultiSink(nil, good, nil)

	multi.Enqueued(Low)

	if good.calls != 1 {
		t.Fatalf("good sink should be called once, got %d", good.calls)
	}
}
