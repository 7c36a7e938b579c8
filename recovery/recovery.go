// Package recovery implements spec §4.5: integrity scanning, forced
// reset, targeted zombie release, and the secret-bypassing diagnostic
// attach path. These operate directly on a mapped segment rather than
// through a Producer/Consumer, since a diagnostic tool may need to act
// on a channel whose producer has crashed.
package recovery

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pylabhub/hub/hashsum"
	"github.com/pylabhub/hub/platform"
	"github.com/pylabhub/hub/shm"
)

// IntegrityReport summarizes a validate_integrity scan (spec §4.5).
type IntegrityReport struct {
	SlotsScanned       int
	ChecksumMismatches int
	StaleWriterPIDs    []uint64
	StaleReaderSlots   int
	FlexZoneMismatch   bool
}

// mapped is a raw diagnostic view: header + layout + segment bytes,
// opened independently of any Producer/Consumer.
type mapped struct {
	seg    *platform.Segment
	header *shm.Header
	layout shm.Layout
}

func open(name string) (*mapped, error) {
	seg, err := platform.OpenSegment(name)
	if err != nil {
		return nil, err
	}
	h := shm.HeaderAt(seg.Bytes)
	layout := shm.Layout{SlotCount: h.SlotCount, SlotSize: h.SlotSize, FlexibleZoneSize: h.FlexibleZoneSize}
	return &mapped{seg: seg, header: h, layout: layout}, nil
}

// ReaderTimeoutNS is the staleness threshold this package uses when it
// has no caller-supplied Tunables to consult — recovery tools run
// out-of-process from the producer/consumer that created the channel,
// so they use spec §6's stated default directly.
const ReaderTimeoutNS = uint64(5_000_000_000)

// ValidateIntegrity recomputes every committed slot's checksum and the
// flexible zone's checksum, and reports writer/reader staleness (spec
// §4.5). It does not mutate anything.
func ValidateIntegrity(name string) (*IntegrityReport, error) {
	m, err := open(name)
	if err != nil {
		return nil, err
	}
	defer m.seg.Close()

	report := &IntegrityReport{}
	now := platform.MonotonicNS()

	for i := uint64(0); i < m.header.SlotCount; i++ {
		state := m.layout.SlotStateAt(m.seg.Bytes, i)
		report.SlotsScanned++

		seq := atomic.LoadUint64(&state.Sequence)
		if shm.SequenceEven(seq) && seq > 0 {
			payload := m.layout.SlotPayload(m.seg.Bytes, i)
			if !hashsum.Verify(payload, state.Checksum) {
				report.ChecksumMismatches++
			}
		} else if !shm.SequenceEven(seq) {
			writerPID := atomic.LoadUint64(&state.WriterPID)
			writeNS := atomic.LoadUint64(&state.WriteNS)
			if !platform.ProcessAlive(writerPID) || now-writeNS > ReaderTimeoutNS {
				report.StaleWriterPIDs = append(report.StaleWriterPIDs, writerPID)
			}
		}

		if atomic.LoadUint32(&state.Readers) > 0 && allHeartbeatsStale(m.header, ReaderTimeoutNS) {
			report.StaleReaderSlots++
		}
	}

	report.FlexZoneMismatch = !hashsum.Verify(m.layout.FlexZone(m.seg.Bytes), m.header.FlexZoneChecksum)

	return report, nil
}

// ForceReset bumps the generation counter, zeroes every slot's reader
// count, aborts any slot caught mid-write back to its previous even
// sequence, and clears heartbeat entries whose owning pid is dead. It
// never clears shared_secret (spec §4.5).
func ForceReset(name string, opts ...Option) error {
	o := resolveOptions(opts)
	m, err := open(name)
	if err != nil {
		return err
	}
	defer m.seg.Close()

	gen := atomic.AddUint64(&m.header.Generation, 1)

	var abortedSlots, clearedReaderSlots int
	for i := uint64(0); i < m.header.SlotCount; i++ {
		state := m.layout.SlotStateAt(m.seg.Bytes, i)
		if atomic.SwapUint32(&state.Readers, 0) > 0 {
			clearedReaderSlots++
		}

		seq := atomic.LoadUint64(&state.Sequence)
		if !shm.SequenceEven(seq) {
			if atomic.CompareAndSwapUint64(&state.Sequence, seq, seq-1) {
				abortedSlots++
			}
		}
	}

	clearDeadHeartbeats(m.header)
	o.log.Warn("force-reset",
		zap.String("channel", name),
		zap.Uint64("generation", gen),
		zap.Int("slots_aborted", abortedSlots),
		zap.Int("slots_reader_cleared", clearedReaderSlots))
	return nil
}

// ReleaseZombieWriter aborts any slot stuck in Writing whose writer_pid
// is no longer alive, without touching slots held by a live writer or
// bumping the generation counter the way ForceReset does.
func ReleaseZombieWriter(name string, opts ...Option) (released int, err error) {
	o := resolveOptions(opts)
	m, openErr := open(name)
	if openErr != nil {
		return 0, openErr
	}
	defer m.seg.Close()

	for i := uint64(0); i < m.header.SlotCount; i++ {
		state := m.layout.SlotStateAt(m.seg.Bytes, i)
		seq := atomic.LoadUint64(&state.Sequence)
		if shm.SequenceEven(seq) {
			continue
		}
		writerPID := atomic.LoadUint64(&state.WriterPID)
		if platform.ProcessAlive(writerPID) {
			continue
		}
		if atomic.CompareAndSwapUint64(&state.Sequence, seq, seq-1) {
			released++
			o.log.Warn("released zombie writer",
				zap.String("channel", name),
				zap.Uint64("slot_id", i),
				zap.Uint64("writer_pid", writerPID))
		}
	}
	return released, nil
}

// ReleaseZombieReaders zeroes the reader count on every slot whose
// readers cannot be attributed to any live, recently-active consumer
// heartbeat, incrementing the header's overrun metric by the number of
// readers reclaimed (spec §4.3's "Zombie release").
func ReleaseZombieReaders(name string, opts ...Option) (reclaimed uint32, err error) {
	o := resolveOptions(opts)
	m, openErr := open(name)
	if openErr != nil {
		return 0, openErr
	}
	defer m.seg.Close()

	if !allHeartbeatsStale(m.header, ReaderTimeoutNS) {
		return 0, nil
	}

	for i := uint64(0); i < m.header.SlotCount; i++ {
		state := m.layout.SlotStateAt(m.seg.Bytes, i)
		reclaimed += atomic.SwapUint32(&state.Readers, 0)
	}
	if reclaimed > 0 {
		atomic.AddUint64(&m.header.OverrunCount, uint64(reclaimed))
		o.log.Warn("released zombie readers",
			zap.String("channel", name),
			zap.Uint32("readers_reclaimed", reclaimed))
	}
	return reclaimed, nil
}

// HeaderStats is the read-only metrics block a stats command reports
// (spec §4.5/§6's counters: writes, overruns, acquire failures,
// integrity failures, plus the write cursor and reset generation).
type HeaderStats struct {
	WriteCount            uint64
	OverrunCount          uint64
	AcquireFailureCount   uint64
	IntegrityFailureCount uint64
	WriteIndex            uint64
	Generation            uint64
}

// Stats reads the header's metrics block without mutating anything.
func Stats(name string) (*HeaderStats, error) {
	m, err := open(name)
	if err != nil {
		return nil, err
	}
	defer m.seg.Close()

	return &HeaderStats{
		WriteCount:            atomic.LoadUint64(&m.header.WriteCount),
		OverrunCount:          atomic.LoadUint64(&m.header.OverrunCount),
		AcquireFailureCount:   atomic.LoadUint64(&m.header.AcquireFailureCount),
		IntegrityFailureCount: atomic.LoadUint64(&m.header.IntegrityFailureCount),
		WriteIndex:            atomic.LoadUint64(&m.header.WriteIndex),
		Generation:            atomic.LoadUint64(&m.header.Generation),
	}, nil
}

func clearDeadHeartbeats(h *shm.Header) {
	for i := range h.ConsumerHeartbeats {
		e := &h.ConsumerHeartbeats[i]
		if atomic.LoadUint32(&e.InUse) == 0 {
			continue
		}
		pid := atomic.LoadUint64(&e.PID)
		if !platform.ProcessAlive(pid) {
			atomic.StoreUint64(&e.PID, 0)
			atomic.StoreUint64(&e.LastNS, 0)
			atomic.StoreUint32(&e.InUse, 0)
		}
	}
	if pid := atomic.LoadUint64(&h.ProducerHeartbeat.PID); pid != 0 && !platform.ProcessAlive(pid) {
		atomic.StoreUint32(&h.ProducerHeartbeat.InUse, 0)
	}
}

func allHeartbeatsStale(h *shm.Header, timeoutNS uint64) bool {
	now := platform.MonotonicNS()
	for i := range h.ConsumerHeartbeats {
		e := &h.ConsumerHeartbeats[i]
		if atomic.LoadUint32(&e.InUse) == 0 {
			continue
		}
		pid := atomic.LoadUint64(&e.PID)
		last := atomic.LoadUint64(&e.LastNS)
		if platform.ProcessAlive(pid) && now-last <= timeoutNS {
			return false
		}
	}
	return true
}

// Diagnostic is a read-only view obtained by bypassing the shared
// secret (spec §4.5's open_for_diagnostic). It never increments
// readers and never updates heartbeats — every read goes through
// PeekSlot instead of the normal coordinator path.
type Diagnostic struct {
	m *mapped
}

// OpenForDiagnostic maps a channel without checking shared_secret.
// adminToken is an opaque per-deployment value (spec §9 leaves its
// derivation unspecified); this package does not itself verify it —
// the caller's deployment is expected to gate access to this function
// the way it gates access to any other admin-only tooling, since the
// shared-memory segment has nowhere to store a second secret to check
// it against.
func OpenForDiagnostic(name string, adminToken [32]byte) (*Diagnostic, error) {
	m, err := open(name)
	if err != nil {
		return nil, err
	}
	return &Diagnostic{m: m}, nil
}

// PeekSlot returns a committed slot's payload and whether its checksum
// currently verifies, without registering as a reader.
func (d *Diagnostic) PeekSlot(slotID uint64) (payload []byte, checksumOK bool, committed bool) {
	state := d.m.layout.SlotStateAt(d.m.seg.Bytes, slotID)
	seq := atomic.LoadUint64(&state.Sequence)
	if seq == 0 || !shm.SequenceEven(seq) || atomic.LoadUint64(&state.SlotID) != slotID {
		return nil, false, false
	}
	payload = d.m.layout.SlotPayload(d.m.seg.Bytes, slotID)
	return payload, hashsum.Verify(payload, state.Checksum), true
}

// Header exposes the raw header for read-only inspection (metrics,
// config, heartbeats).
func (d *Diagnostic) Header() *shm.Header { return d.m.header }

// Close unmaps the diagnostic view.
func (d *Diagnostic) Close() error { return d.m.seg.Close() }
