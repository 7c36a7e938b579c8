package hub

import (
	"sync/atomic"

	"github.com/pylabhub/hub/platform"
	"github.com/pylabhub/hub/shm"
)

// heartbeatStale reports whether entry e counts as a zombie: its pid is
// no longer alive, or its last-seen timestamp is older than
// reader_timeout_ns (spec §3.1/§4.3's GLOSSARY "Zombie" definition).
// An entry that was never marked in-use is never a zombie — there is
// nothing to reclaim.
func heartbeatStale(e *shm.HeartbeatEntry, timeoutNS uint64, nowNS uint64) bool {
	if atomic.LoadUint32(&e.InUse) == 0 {
		return false
	}
	pid := atomic.LoadUint64(&e.PID)
	last := atomic.LoadUint64(&e.LastNS)
	if !platform.ProcessAlive(pid) {
		return true
	}
	return nowNS-last > timeoutNS
}

func touchHeartbeat(e *shm.HeartbeatEntry, pid uint64) {
	atomic.StoreUint64(&e.PID, pid)
	atomic.StoreUint64(&e.LastNS, platform.MonotonicNS())
}

// allocHeartbeat claims the first free consumer-heartbeat slot in the
// header's fixed pool (spec §4.4). It returns ErrHeartbeatPoolExhausted
// once all MaxConsumerHeartbeats entries are in use (spec §8's
// "9th consumer fails with code 6" boundary case).
func allocHeartbeat(h *shm.Header, pid uint64) (int, error) {
	for i := range h.ConsumerHeartbeats {
		e := &h.ConsumerHeartbeats[i]
		if atomic.CompareAndSwapUint32(&e.InUse, 0, 1) {
			touchHeartbeat(e, pid)
			return i, nil
		}
	}
	return -1, ErrHeartbeatPoolExhausted
}

// freeHeartbeat releases a consumer-heartbeat slot back to the pool.
func freeHeartbeat(h *shm.Header, idx int) {
	if idx < 0 || idx >= len(h.ConsumerHeartbeats) {
		return
	}
	e := &h.ConsumerHeartbeats[idx]
	atomic.StoreUint64(&e.PID, 0)
	atomic.StoreUint64(&e.LastNS, 0)
	atomic.StoreUint32(&e.InUse, 0)
}

// allConsumerHeartbeatsStale reports whether every in-use consumer
// heartbeat entry is a zombie. With no attribution from a slot's
// reader count back to the specific consumers holding it, this is the
// coordinator's basis for deciding a slot's readers are all dead: if
// no registered consumer is both alive and recently active, any count
// left on that slot cannot belong to a live reader.
func allConsumerHeartbeatsStale(h *shm.Header, timeoutNS uint64) bool {
	now := platform.MonotonicNS()
	for i := range h.ConsumerHeartbeats {
		e := &h.ConsumerHeartbeats[i]
		if atomic.LoadUint32(&e.InUse) == 0 {
			continue
		}
		if !heartbeatStale(e, timeoutNS, now) {
			return false
		}
	}
	return true
}
