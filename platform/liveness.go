package platform

import (
	"golang.org/x/sys/unix"
)

// ProcessAlive reports whether pid refers to a live process. It sends
// signal 0, which the kernel treats as an existence probe: delivery is
// skipped but permission and existence checks still happen.
//
// pid == 0 is treated as dead — it never denotes a real participant in
// this protocol, and unix.Kill(0, 0) would otherwise signal the caller's
// own process group.
func ProcessAlive(pid uint64) bool {
	if pid == 0 {
		return false
	}
	err := unix.Kill(int(pid), 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but we lack permission to signal it —
	// still alive. ESRCH (or anything else) means it is gone.
	return err == unix.EPERM
}

// SelfPID returns the calling process's pid, the value every writer_pid /
// consumer_pid / heartbeat field in shared memory is stamped with.
func SelfPID() uint64 {
	return uint64(unix.Getpid())
}
