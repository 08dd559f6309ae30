//go:build !linux

package priopool

// pinToCPU is a no-op on platforms without Linux's sched_setaffinity.
// Config.PinWorkers is honored only where CPU pinning is actually
// available; elsewhere a worker just runs on whichever thread the Go
// scheduler puts it on.
func pinToCPU(cpu int) error {
	return nil
}
