package hub

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pylabhub/hub/backoff"
	"github.com/pylabhub/hub/hashsum"
	"github.com/pylabhub/hub/platform"
	"github.com/pylabhub/hub/shm"
)

// WriteHandle is the scoped handle a producer holds between
// AcquireWrite and Commit/Abort (spec §4.3).
type WriteHandle struct {
	idx      uint64
	state    *shm.SlotState
	payload  []byte
	flexZone []byte
	h        *shm.Header
	done     bool
}

// SlotID is the monotonic id this write will commit as.
func (w *WriteHandle) SlotID() uint64 { return w.idx }

// Payload is the writable span for this slot's record.
func (w *WriteHandle) Payload() []byte { return w.payload }

// FlexZone is the producer-owned scratch region (spec §3.1). It is
// valid on every write handle since only the producer may touch it,
// but updating its checksum is a separate, explicit call — see
// Producer.UpdateFlexZoneChecksum.
func (w *WriteHandle) FlexZone() []byte { return w.flexZone }

// acquireWriteSlot implements spec §4.3's writer protocol steps 1-4.
func acquireWriteSlot(h *shm.Header, layout shm.Layout, seg []byte, tun Tunables, log *zap.Logger, channel string) (*WriteHandle, error) {
	idx := atomic.LoadUint64(&h.WriteIndex)
	state := layout.SlotStateAt(seg, idx)

	drainForWriter(h, state, tun, log, channel, idx)

	seq := atomic.LoadUint64(&state.Sequence)
	if !shm.SequenceEven(seq) {
		log.Warn("writer found slot mid-write at its own turn: corruption",
			zap.String("channel", channel),
			zap.Uint64("slot_id", idx),
			zap.Uint64("sequence", seq))
		return nil, ErrStateInvalid
	}
	if !atomic.CompareAndSwapUint64(&state.Sequence, seq, seq+1) {
		// A diagnostic tool intervened between our load and our CAS.
		return nil, ErrBusy
	}

	self := platform.SelfPID()
	now := platform.MonotonicNS()
	atomic.StoreUint64(&state.WriterPID, self)
	atomic.StoreUint64(&state.WriteNS, now)
	touchHeartbeat(&h.ProducerHeartbeat, self)
	atomic.StoreUint32(&h.ProducerHeartbeat.InUse, 1)

	return &WriteHandle{
		idx:      idx,
		state:    state,
		payload:  layout.SlotPayload(seg, idx),
		flexZone: layout.FlexZone(seg),
		h:        h,
	}, nil
}

// drainForWriter waits until state.Readers == 0, or until
// writer_patience_ns has elapsed, whichever comes first. Past that
// patience window the writer evicts whatever readers remain rather
// than block indefinitely (spec §4.3/§5); the eviction count is added
// to the header's overrun metric.
func drainForWriter(h *shm.Header, state *shm.SlotState, tun Tunables, log *zap.Logger, channel string, slotIdx uint64) {
	if atomic.LoadUint32(&state.Readers) == 0 {
		return
	}
	deadline := platform.MonotonicNS() + tun.WriterPatienceNS
	bo := backoff.New(tun.Backoff)
	for {
		n := atomic.LoadUint32(&state.Readers)
		if n == 0 {
			return
		}
		if platform.MonotonicNS() >= deadline {
			reclaimed := atomic.SwapUint32(&state.Readers, 0)
			if reclaimed > 0 {
				atomic.AddUint64(&h.OverrunCount, uint64(reclaimed))
				log.Warn("writer evicted stale readers past patience window",
					zap.String("channel", channel),
					zap.Uint64("slot_id", slotIdx),
					zap.Uint32("readers_evicted", reclaimed))
			}
			return
		}
		if allConsumerHeartbeatsStale(h, tun.ReaderTimeoutNS) {
			reclaimed := atomic.SwapUint32(&state.Readers, 0)
			if reclaimed > 0 {
				atomic.AddUint64(&h.OverrunCount, uint64(reclaimed))
				log.Warn("writer reclaimed readers: all consumer heartbeats stale",
					zap.String("channel", channel),
					zap.Uint64("slot_id", slotIdx),
					zap.Uint32("readers_evicted", reclaimed))
			}
			return
		}
		bo.Wait()
	}
}

// Commit publishes the record written into w.Payload() (spec §4.3 step
// 5). Order matters: payload and checksum are stored before the
// sequence increment; the sequence increment happens before write_index
// is published, so a consumer that observes the new write_index is
// guaranteed to see a fully-formed commit.
func (w *WriteHandle) Commit() error {
	if w.done {
		return newErr("commit", CodeStateInvalid, errAlreadyDone)
	}
	sum := hashsum.Sum(w.payload)
	w.state.Checksum = sum
	atomic.StoreUint32(&w.state.Flags, 0)
	atomic.StoreUint64(&w.state.SlotID, w.idx)

	seq := atomic.LoadUint64(&w.state.Sequence)
	if !atomic.CompareAndSwapUint64(&w.state.Sequence, seq, seq+1) {
		return newErr("commit", CodeStateInvalid, errRaceDuringCommit)
	}

	atomic.StoreUint64(&w.h.WriteIndex, w.idx+1)
	atomic.AddUint64(&w.h.WriteCount, 1)
	touchHeartbeat(&w.h.ProducerHeartbeat, platform.SelfPID())
	w.done = true
	return nil
}

// Abort releases the slot without publishing it, restoring Sequence to
// its pre-acquire (even) value. write_index is not advanced.
func (w *WriteHandle) Abort() {
	if w.done {
		return
	}
	seq := atomic.LoadUint64(&w.state.Sequence)
	atomic.CompareAndSwapUint64(&w.state.Sequence, seq, seq-1)
	w.done = true
}

var (
	errAlreadyDone      = shmErr("write handle already committed or aborted")
	errRaceDuringCommit = shmErr("sequence changed out from under an in-progress commit")
)

type shmErrString string

func (e shmErrString) Error() string { return string(e) }
func shmErr(s string) error          { return shmErrString(s) }

// ReadHandle is the scoped handle a consumer holds on a slot it has
// admitted for reading (spec §4.3's reader protocol).
type ReadHandle struct {
	SlotID    uint64
	Payload   []byte
	state     *shm.SlotState
	seqAtGrab uint64
	released  bool
}

// tryAcquireRead implements the non-blocking sample/grab/recheck dance
// from spec §4.3: sample the sequence, increment readers, then recheck
// that nothing changed underneath us. If the slot was overwritten
// between the sample and the grab, the attempt is rolled back and
// reported as not-ready rather than as an error — callers iterating the
// ring should simply skip such slots.
func tryAcquireRead(layout shm.Layout, seg []byte, candidate uint64) (*ReadHandle, bool) {
	state := layout.SlotStateAt(seg, candidate)

	seq1 := atomic.LoadUint64(&state.Sequence)
	if !shm.SequenceEven(seq1) {
		return nil, false
	}

	atomic.AddUint32(&state.Readers, 1)

	seq2 := atomic.LoadUint64(&state.Sequence)
	slotID := atomic.LoadUint64(&state.SlotID)
	if seq2 != seq1 || !shm.SequenceEven(seq2) || slotID != candidate {
		atomic.AddUint32(&state.Readers, ^uint32(0)) // undo the grab
		return nil, false
	}

	return &ReadHandle{
		SlotID:    slotID,
		Payload:   layout.SlotPayload(seg, candidate),
		state:     state,
		seqAtGrab: seq2,
	}, true
}

// Release gives back this handle's claim on the slot's reader count.
// Safe to call at most once; a second call is a no-op.
func (r *ReadHandle) Release() {
	if r.released {
		return
	}
	atomic.AddUint32(&r.state.Readers, ^uint32(0))
	r.released = true
}

// Validate recomputes the payload's checksum and compares it against
// what was stored at commit time, and confirms the sequence has not
// moved since the handle was grabbed (spec §4.3's post-read check). A
// mismatch on either axis means the data the caller already read is not
// trustworthy; it does not poison the channel (spec §7).
func (r *ReadHandle) Validate(h *shm.Header) error {
	if atomic.LoadUint64(&r.state.Sequence) != r.seqAtGrab {
		return newErr("validate", CodeStateInvalid, shmErr("slot overwritten since acquire"))
	}
	if !hashsum.Verify(r.Payload, r.state.Checksum) {
		atomic.AddUint64(&h.IntegrityFailureCount, 1)
		atomic.StoreUint32(&r.state.Flags, shm.FlagLastCommitFailedIntegrity)
		return ErrIntegrityFailure
	}
	return nil
}

// ringWindow returns the slot ids currently in the ring, newest-first,
// per spec §4.3: [max(0, w-N), w).
func ringWindow(writeIndex, slotCount uint64) []uint64 {
	if writeIndex == 0 {
		return nil
	}
	lo := uint64(0)
	if writeIndex > slotCount {
		lo = writeIndex - slotCount
	}
	ids := make([]uint64, 0, writeIndex-lo)
	for i := writeIndex; i > lo; i-- {
		ids = append(ids, i-1)
	}
	return ids
}

// blockingAcquireLatest implements spec §4.3's acquire_consume_slot:
// wait until a slot newer than lastSeen has committed, then grab it.
// Restarts the grab if it loses a race with a wrapping writer.
func blockingAcquireLatest(h *shm.Header, layout shm.Layout, seg []byte, tun Tunables, lastSeen uint64, timeout time.Duration, infinite bool, log *zap.Logger, channel string) (*ReadHandle, uint64, error) {
	bo := backoff.New(tun.Backoff)
	deadline := time.Now().Add(timeout)

	for {
		w := atomic.LoadUint64(&h.WriteIndex)
		if w > lastSeen+1 {
			if layout.SlotCount > 0 && w-1-lastSeen > layout.SlotCount {
				// The writer lapped this consumer more than once since
				// its last successful read: everything between lastSeen
				// and w-slotCount was overwritten before it could be
				// admitted. Skip the dead range rather than replaying
				// slots that no longer exist.
				skipped := w - 1 - layout.SlotCount
				atomic.AddUint64(&h.OverrunCount, 1)
				log.Warn("consumer fell behind writer by more than one ring lap",
					zap.String("channel", channel),
					zap.Uint64("last_seen", lastSeen),
					zap.Uint64("write_index", w))
				return nil, skipped, ErrOverrun
			}
			rh, ok := tryAcquireRead(layout, seg, w-1)
			if ok {
				return rh, rh.SlotID, nil
			}
			// Lost the race (writer wrapped onto w-1 already); loop
			// again without waiting — there is likely newer data now.
			continue
		}
		if !infinite && time.Now().After(deadline) {
			atomic.AddUint64(&h.AcquireFailureCount, 1)
			return nil, lastSeen, ErrTimeout
		}
		bo.Wait()
	}
}
