package priopool

import (
	"context"
	"sync/atomic"
	"time"
)

// WorkPriority is a finite, ordered priority class. Higher values win
// ties during scheduling. New levels can be appended without touching
// the scheduler: every place that needs to range over priorities does
// so via PriorityLevels, not a hardcoded High/Normal/Low switch.
type WorkPriority int

const (
	Low WorkPriority = iota
	Normal
	High
)

// PriorityLevels is the number of WorkPriority values currently
// defined. Adding a level means extending this constant and the
// const block above; nothing else in the scheduler or queue set
// needs to change shape.
const PriorityLevels = int(High) + 1

func (p WorkPriority) String() string {
	switch p {
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

func (p WorkPriority) valid() bool {
	return p >= Low && p <= High
}

// WorkFunc is the user closure scheduled by the pool. It observes
// cancellation through ctx and reports completion by returning.
type WorkFunc func(ctx context.Context) error

var nextWorkItemID atomic.Uint64

// WorkItem is an immutable unit of scheduled work. Every field is set
// once, at construction, by NewWorkItem; nothing mutates a WorkItem
// after it is handed to a queue.
type WorkItem struct {
	id         uint64
	name       string
	priority   WorkPriority
	enqueuedAt time.Time
	run        WorkFunc
}

// NewWorkItem constructs a WorkItem. name is optional and purely for
// observability (logging, metrics); pass "" when it doesn't matter.
func NewWorkItem(priority WorkPriority, run WorkFunc, name string) *WorkItem {
	if run == nil {
		panic("priopool: NewWorkItem requires a non-nil run function")
	}
	if !priority.valid() {
		priority = Normal
	}
	return &WorkItem{
		id:         nextWorkItemID.Add(1),
		name:       name,
		priority:   priority,
		enqueuedAt: time.Now().UTC(),
		run:        run,
	}
}

func (w *WorkItem) ID() uint64 { return w.id }

func (w *WorkItem) Name() string { return w.name }

func (w *WorkItem) Priority() WorkPriority { return w.priority }

func (w *WorkItem) EnqueuedAt() time.Time { return w.enqueuedAt }
