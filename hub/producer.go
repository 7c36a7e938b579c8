package hub

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pylabhub/hub/hashsum"
	"github.com/pylabhub/hub/platform"
	"github.com/pylabhub/hub/shm"
)

// Producer is the exclusive owner of a channel: it creates the segment,
// formats the header, and is the only participant permitted to unlink
// it (spec §3.2).
type Producer struct {
	name   string
	seg    *platform.Segment
	header *shm.Header
	layout shm.Layout
	tun    Tunables
	secret uint64
	log    *zap.Logger
}

// CreateProducer creates a new named channel. It fails with
// platform.ErrExists if a segment of that name is already present —
// the caller must unlink a stale one first (platform.UnlinkSegment);
// recovery.ForceReset repairs a segment in place but does not remove it.
func CreateProducer(name string, cfg ChannelConfig, tun Tunables, opts ...Option) (*Producer, error) {
	o := resolveOptions(opts)
	layout := newLayout(cfg)
	total := layout.TotalSize()

	seg, err := platform.CreateSegment(name, int(total))
	if err != nil {
		return nil, newErr("create", CodeConfigMismatch, err)
	}

	h := shm.HeaderAt(seg.Bytes)
	secret := randomSecret()

	h.Magic = shm.Magic
	h.VersionMajor = shm.VersionMajor
	h.VersionMinor = shm.VersionMinor
	h.TotalSize = total
	h.SharedSecret = secret
	h.PolicyTag = shm.PolicyRingBuffer
	h.SlotCount = cfg.SlotCount
	h.SlotSize = cfg.SlotSize
	h.FlexibleZoneSize = layout.FlexibleZoneSize
	h.FlexZoneChecksum = hashsum.Sum(layout.FlexZone(seg.Bytes))

	if cfg.SchemaValidation {
		h.FlexZoneSchemaHash = cfg.FlexZoneSchemaHash
		h.DataBlockSchemaHash = cfg.DataBlockSchemaHash
	}
	h.SchemaVersion = 1

	atomic.StoreUint64(&h.WriteIndex, 0)
	atomic.StoreUint64(&h.ReadIndexHint, 0)
	atomic.StoreUint64(&h.Generation, 1)

	p := &Producer{name: name, seg: seg, header: h, layout: layout, tun: tun, secret: secret, log: o.log}
	touchHeartbeat(&h.ProducerHeartbeat, platform.SelfPID())
	atomic.StoreUint32(&h.ProducerHeartbeat.InUse, 1)
	return p, nil
}

func randomSecret() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the platform's entropy source is
		// broken; there is no safe fallback for a value that gates
		// attach authorization.
		panic("hub: crypto/rand: " + err.Error())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// Name returns the channel's name.
func (p *Producer) Name() string { return p.name }

// Secret returns the shared secret consumers must present to attach.
// This is what a broker registration (spec §4.6) hands out.
func (p *Producer) Secret() uint64 { return p.secret }

// AcquireWrite begins a write into the next slot, blocking only for as
// long as it takes to drain or evict existing readers (bounded by
// writer_patience_ns — spec §4.3/§5, never the caller's timeout since
// this call never waits on another writer).
func (p *Producer) AcquireWrite() (*WriteHandle, error) {
	return acquireWriteSlot(p.header, p.layout, p.seg.Bytes, p.tun, p.log, p.name)
}

// WithWriteSlot acquires a write handle, runs fn, and commits on
// success or aborts on error/panic — the Go-idiomatic equivalent of
// spec §9's "thin transactional RAII convenience layer", implemented
// here with defer rather than a separate wrapper type.
func (p *Producer) WithWriteSlot(fn func(w *WriteHandle) error) error {
	w, err := p.AcquireWrite()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			w.Abort()
		}
	}()
	if err := fn(w); err != nil {
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// UpdateFlexZoneChecksum recomputes and stores the flexible zone's
// checksum (spec §4.4). The flexible zone is otherwise unprotected by
// the slot protocol, so the producer must call this after mutating it.
func (p *Producer) UpdateFlexZoneChecksum() {
	lock := p.header.Spinlock(0, "flexzone_cksum")
	lock.SetLogger(p.log)
	lock.Acquire(-1) // negative duration -> infinite wait
	defer lock.Release()

	p.header.FlexZoneChecksum = hashsum.Sum(p.layout.FlexZone(p.seg.Bytes))
}

// Close releases the producer's mapping without unlinking the segment
// — the segment stays in place for consumers and recovery tools
// (spec §3.2). CreateProducer cannot reopen it under the same name
// until it is unlinked.
func (p *Producer) Close() error {
	return p.seg.Close()
}

// Destroy gracefully tears the channel down: it closes the mapping and
// unlinks the segment, matching spec §3.2's "destroyed when its
// producer exits gracefully".
func (p *Producer) Destroy() error {
	if err := p.seg.Close(); err != nil {
		return err
	}
	return platform.UnlinkSegment(p.name)
}

// Header exposes the raw header for recovery/diagnostic tooling that
// needs to operate on the same mapping the producer holds (used by the
// hubmetrics exporter and by in-process recovery calls).
func (p *Producer) Header() *shm.Header { return p.header }

// Layout exposes the segment geometry, used by recovery and metrics.
func (p *Producer) Layout() shm.Layout { return p.layout }

// Segment exposes the raw mapped bytes.
func (p *Producer) Segment() []byte { return p.seg.Bytes }

// Tunables returns the runtime knobs this producer was created with.
func (p *Producer) Tunables() Tunables { return p.tun }
