package priopool

import "fmt"

// ConfigurationError is returned synchronously from NewPool when a
// Config value fails validation. The pool is never started.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("priopool: invalid config field %q: %s", e.Field, e.Reason)
}

// LifecycleError is returned synchronously by Pool methods that are
// called out of order, such as Enqueue after Stop or a second Start.
type LifecycleError struct {
	Op     string
	Reason string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("priopool: %s: %s", e.Op, e.Reason)
}

// WorkFailure describes a WorkItem whose run function returned a
// non-nil error. It is observed only through a MetricsSink; it never
// propagates back to Enqueue's caller.
type WorkFailure struct {
	ItemID   uint64
	ItemName string
	Priority WorkPriority
	Err      error
}

func (e *WorkFailure) Error() string {
	return fmt.Sprintf("priopool: work item %d (%s, priority=%s) failed: %v", e.ItemID, e.ItemName, e.Priority, e.Err)
}

func (e *WorkFailure) Unwrap() error { return e.Err }

// CancellationDuringWork describes a WorkItem whose run function
// observed ctx cancellation (typically because Stop was called while
// it was executing) and returned ctx.Err() or wrapped it.
type CancellationDuringWork struct {
	ItemID   uint64
	ItemName string
	Priority WorkPriority
	Err      error
}

func (e *CancellationDuringWork) Error() string {
	return fmt.Sprintf("priopool: work item %d (%s, priority=%s) canceled: %v", e.ItemID, e.ItemName, e.Priority, e.Err)
}

func (e *CancellationDuringWork) Unwrap() error { return e.Err }

// SinkFailure describes a MetricsSink method call that itself
// panicked. MultiSink recovers the panic, wraps it in a SinkFailure,
// and logs it; it is never routed back through the sink list, since
// that risks looping a sink that always panics.
type SinkFailure struct {
	Sink   string
	Method string
	Err    error
}

func (e *SinkFailure) Error() string {
	return fmt.Sprintf("priopool: metrics sink %q failed in %s: %v", e.Sink, e.Method, e.Err)
}

func (e *SinkFailure) Unwrap() error { return e.Err }

// InternalTickError describes a failure inside the pool manager's own
// scale-out/scale-in bookkeeping (as opposed to a failure in a
// WorkItem). These should never happen in practice; they exist so a
// defensive recover() has somewhere useful to report to instead of
// crashing the manage loop.
type InternalTickError struct {
	Reason string
	Err    error
}

func (e *InternalTickError) Error() string {
	return fmt.Sprintf("priopool: internal tick error: %s: %v", e.Reason, e.Err)
}

func (e *InternalTickError) Unwrap() error { return e.Err }
