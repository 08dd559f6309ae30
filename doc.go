// Package priopool provides an auto-scaling, priority-aware worker
// pool for short-lived, CPU- or IO-bound work items.
//
// Design goals
//
// The package is designed around the following principles:
//
//   - Respect priority without letting low-priority work starve
//   - Avoid locks on the producer hot path
//   - Scale worker count to backlog rather than running a fixed pool
//   - Keep failures observable without letting them stop the pool
//
// Architecture overview
//
// The pool is composed of four loosely coupled layers:
//
//   1. Storage (PriorityQueueSet / segmentedQueue)
//      One lock-free, segmented FIFO per priority level, plus a
//      best-effort backlog counter and oldest-waiting-item hint per
//      priority.
//
//   2. Scheduling (scheduler)
//      Selects the next item to run by weighing each priority's
//      configured base weight against how long its oldest item has
//      been waiting, so sustained high-priority load cannot starve
//      low-priority work outright.
//
//   3. Execution (worker)
//      Each worker runs a fetch-execute loop against the scheduler.
//      A worker's run function is recovered from panics and never
//      blocks the pool on failure.
//
//   4. Management (Pool)
//      Tracks total backlog and per-worker idle time on a fixed
//      interval, spawning workers to meet demand and retiring the
//      longest-idle ones once backlog subsides, within configured
//      bounds.
//
// Queue design
//
// Each priority's queue is a lock-free, multi-producer multi-consumer
// segmented FIFO. Items are stored in fixed-size segments linked
// together dynamically.
//
// Key properties of the segmented queue:
//
//   - Multiple producers can enqueue concurrently
//   - A single drain cursor claims contiguous runs and hands items out
//     one at a time, satisfying a simple try-take contract on top of
//     the underlying batch-claim machinery
//   - Memory is aggressively reused via segment recycling
//   - Generation counters prevent ABA issues without clearing buffers
//
// Error handling
//
// The pool distinguishes between two classes of errors:
//
//   - Synchronous errors: ConfigurationError and LifecycleError, returned
//     directly from NewPool, Start and Enqueue
//   - Observed errors: WorkFailure, CancellationDuringWork, SinkFailure
//     and InternalTickError, which never propagate to a caller;
//     WorkFailure and CancellationDuringWork are reported through
//     MetricsSink.Failed, while SinkFailure and InternalTickError are
//     only logged
//
// Panics inside a WorkItem's run function are recovered and reported
// as a WorkFailure; they never terminate a worker.
//
// CPU pinning
//
// On Linux, workers may optionally be pinned to specific CPUs via
// Config.PinWorkers. When enabled, each worker locks its goroutine to
// an OS thread and restricts that thread to a single CPU core. This
// can improve cache locality for CPU-bound workloads, but is not
// universally beneficial and is a no-op on non-Linux platforms.
//
// Intended use cases
//
// priopool is well suited for:
//
//   - Request or job processing where some classes of work matter more
//     than others but none should be starved indefinitely
//   - Bursty workloads where a fixed-size pool would either waste idle
//     capacity or fall behind under load
//   - Systems that need pluggable, non-blocking observability rather
//     than a fixed metrics backend
package priopool
