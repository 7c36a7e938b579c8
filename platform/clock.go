// Package platform provides the monotonic-clock, process-liveness, and
// shared-memory-segment primitives the rest of the hub is built on. These
// are thin wrappers over golang.org/x/sys/unix chosen so that every
// participant process — however it was started — agrees on the same
// clock and the same liveness test.
package platform

import (
	"golang.org/x/sys/unix"
)

// MonotonicNS returns nanoseconds from CLOCK_MONOTONIC. Unlike time.Now's
// embedded monotonic reading, this value is comparable across processes
// on the same host: all participants read the same kernel clock.
func MonotonicNS() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always available on Linux; a failure here
		// means the syscall table itself is broken.
		panic("platform: clock_gettime(CLOCK_MONOTONIC): " + err.Error())
	}
	return uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
}
