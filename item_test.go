package priopool

import (
	"context"
	"testing"
)

func TestNewWorkItemAssignsUniqueIDs(t *testing.T) {
	a := NewWorkItem(Normal, func(context.Context) error { return nil }, "a")
	b := NewWorkItem(Normal, func(context.Context) error { return nil }, "b")

	if a.ID() == b.ID() {
		t.Fatalf("expected unique IDs, got %d and %d", a.ID(), b.ID())
	}
}

func TestNewWorkItemInvalidPriorityFallsBackToNormal(t *testing.T) {
	item := NewWorkItem(WorkPriority(99), func(context.Context) error { return nil }, "")
	if item.Priority() != Normal {
		t.Fatalf("expected fallback to Normal, got %v", item.Priority())
	}
}

func TestNewWorkItemPanicsOnNilRun(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil run function")
		}
	}()
	NewWorkItem(High, nil, "")
}

func TestWorkPriorityString(t *testing.T) {
	cases := map[WorkPriority]string{
		High:   "high",
		Normal: "normal",
		Low:    "low",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", p, got, want)
		}
	}
	if got := WorkPriority(42).String(); got != "unknown" {
		t.Errorf("out-of-range String() = %q, want %q", got, "unknown")
	}
}

func TestWorkItemFieldsSetOnce(t *testing.T) {
	item := NewWorkItem(High, func(context.Context) error { return nil }, "probe")
	before := item.EnqueuedAt()
	if item.Name() != "probe" {
		t.Fatalf("Name() = %q, want %q", item.Name(), "probe")
	}
	if item.Priority() != High {
		t.Fatalf("Priority() = %v, want High", item.Priority())
	}
	if item.EnqueuedAt() != before {
		t.Fatal("EnqueuedAt changed across calls")
	}
}
