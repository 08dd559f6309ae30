//go:build linux

package priopool

import (
	"golang.org/x/sys/unix"
)

// pinToCPU pins the calling OS thread to cpu. Callers must have
// already called runtime.LockOSThread, otherwise the Go scheduler is
// free to move the goroutine to a different thread right after.
func pinToCPU(cpu int) error {
	var mask unix.CPUSet
	mask.Zero()
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}
