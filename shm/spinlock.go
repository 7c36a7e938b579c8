package shm

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pylabhub/hub/platform"
)

// StaleSpinlockNS is the age beyond which a spinlock's holder is
// considered a zombie even if its pid happens to still be alive
// (e.g. pid reuse, or a holder that crashed inside the critical
// section and was replaced by an unrelated process at the same pid).
const StaleSpinlockNS = 2 * uint64(time.Second)

// Spinlock is a handle onto one named slot of the header's spinlock
// pool (spec §4.2). It holds no state of its own beyond a pointer into
// shared memory plus a debug name; the pool itself is the state.
type Spinlock struct {
	state *SpinlockState
	name  string
	log   *zap.Logger
}

// Spinlock returns a handle to spinlock index i of the header's pool.
// The name is stamped into DebugName each time the handle acquires it.
// The returned handle is silent until SetLogger is called.
func (h *Header) Spinlock(i int, name string) *Spinlock {
	if i < 0 || i >= MaxSharedSpinlocks {
		panic("shm: spinlock index out of range")
	}
	return &Spinlock{state: &h.Spinlocks[i], name: name, log: zap.NewNop()}
}

// SetLogger plugs a logger into the handle; takeover events are warned
// on it. Passing nil is a no-op (the handle stays silent).
func (s *Spinlock) SetLogger(log *zap.Logger) {
	if log != nil {
		s.log = log
	}
}

// TryAcquire attempts to take the lock once, without waiting. It
// returns true if the caller now holds it.
func (s *Spinlock) TryAcquire() bool {
	self := platform.SelfPID()
	holderAddr := &s.state.HolderPID

	holder := atomic.LoadUint64(holderAddr)
	if holder == 0 {
		if atomic.CompareAndSwapUint64(holderAddr, 0, self) {
			s.onAcquired()
			return true
		}
		return false
	}
	if holder == self {
		return true // already held by us (re-entrant within one process)
	}

	acquireNS := atomic.LoadUint64(&s.state.AcquireNS)
	now := platform.MonotonicNS()
	stale := !platform.ProcessAlive(holder) || now-acquireNS > StaleSpinlockNS
	if !stale {
		return false
	}
	// Zombie takeover: CAS from the observed holder, not from 0 — if the
	// real holder wakes up and releases concurrently, our CAS simply
	// fails and we retry on the next call.
	if atomic.CompareAndSwapUint64(holderAddr, holder, self) {
		s.log.Warn("spinlock zombie takeover",
			zap.String("lock", s.name),
			zap.Uint64("stale_holder_pid", holder),
			zap.Uint64("new_holder_pid", self))
		s.onAcquired()
		return true
	}
	return false
}

func (s *Spinlock) onAcquired() {
	atomic.StoreUint64(&s.state.AcquireNS, platform.MonotonicNS())
	copy(s.state.DebugName[:], s.name)
}

// Acquire blocks (4 bare retries, then 1µs sleeps) until the lock is taken or
// timeout elapses. timeout < 0 means wait indefinitely; timeout == 0
// means try once.
func (s *Spinlock) Acquire(timeout time.Duration) bool {
	if s.TryAcquire() {
		return true
	}
	if timeout == 0 {
		return false
	}
	deadline := time.Now().Add(timeout)
	spins := 0
	for {
		if timeout > 0 && time.Now().After(deadline) {
			return false
		}
		if spins < 4 {
			// brief spin before sleeping, matching the hub's general
			// backoff shape without pulling in a full Backoff for a
			// pool that is only used off the hot slot path.
		} else {
			time.Sleep(time.Microsecond)
		}
		spins++
		if s.TryAcquire() {
			return true
		}
	}
}

// Release gives up the lock. If we are no longer the recorded holder
// (we were evicted by a zombie takeover), it clears unconditionally —
// the guard is scoped and release is guaranteed on every exit path.
func (s *Spinlock) Release() {
	self := platform.SelfPID()
	holderAddr := &s.state.HolderPID
	if !atomic.CompareAndSwapUint64(holderAddr, self, 0) {
		atomic.StoreUint64(holderAddr, 0)
	}
}

// HolderPID returns the current holder, or 0 if unlocked. For
// diagnostics only.
func (s *Spinlock) HolderPID() uint64 {
	return atomic.LoadUint64(&s.state.HolderPID)
}
