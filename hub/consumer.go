package hub

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pylabhub/hub/platform"
	"github.com/pylabhub/hub/schema"
	"github.com/pylabhub/hub/shm"
)

// Consumer is a read-only attachment to a channel (spec §3.2: consumers
// map read-only payloads but write their own heartbeat slot, the
// readers counters, and the advisory read hint).
type Consumer struct {
	name         string
	seg          *platform.Segment
	header       *shm.Header
	layout       shm.Layout
	tun          Tunables
	heartbeatIdx int
	lastSeen     uint64
	closed       bool
	log          *zap.Logger
}

// ExpectedSchema is what a consumer presents at attach time. The path is
// chosen by the channel's stored hashes: when both are zero, spec §4.1's
// non-schema attach path compares only SlotSize/FlexibleZoneSize and
// these hashes are not consulted; otherwise both must match exactly.
type ExpectedSchema struct {
	FlexZoneHash  [32]byte
	DataBlockHash [32]byte
}

// FindConsumer opens an existing channel by name and validates
// compatibility per spec §4.4, in order: magic, version, secret,
// schema, size/config. Any failure leaves no mutation visible in the
// header — the heartbeat slot is only allocated after every prior
// check passes.
func FindConsumer(name string, secret uint64, expect ExpectedSchema, cfg ChannelConfig, tun Tunables, opts ...Option) (*Consumer, error) {
	o := resolveOptions(opts)
	seg, err := platform.OpenSegment(name)
	if err != nil {
		return nil, newErr("attach", CodeNotFound, err)
	}

	h := shm.HeaderAt(seg.Bytes)

	if h.Magic != shm.Magic {
		seg.Close()
		return nil, ErrBadMagic
	}
	if h.VersionMajor != shm.VersionMajor {
		seg.Close()
		return nil, ErrVersionMismatch
	}
	if h.SharedSecret != secret {
		seg.Close()
		return nil, ErrAuthFailed
	}

	storedFlexZero := schema.IsZero(h.FlexZoneSchemaHash)
	storedDataZero := schema.IsZero(h.DataBlockSchemaHash)
	if storedFlexZero && storedDataZero {
		// Non-schema attach path (spec §4.1): compare slot geometry only.
		if h.SlotSize != cfg.SlotSize || h.FlexibleZoneSize != shm.Align64(cfg.FlexibleZoneSize) {
			seg.Close()
			return nil, ErrConfigMismatch
		}
	} else {
		if h.FlexZoneSchemaHash != expect.FlexZoneHash || h.DataBlockSchemaHash != expect.DataBlockHash {
			seg.Close()
			return nil, ErrSchemaMismatch
		}
	}

	if h.SlotCount != cfg.SlotCount {
		seg.Close()
		return nil, ErrConfigMismatch
	}

	layout := shm.Layout{SlotCount: h.SlotCount, SlotSize: h.SlotSize, FlexibleZoneSize: h.FlexibleZoneSize}

	idx, err := allocHeartbeat(h, platform.SelfPID())
	if err != nil {
		seg.Close()
		return nil, err
	}

	// lastSeen starts at write_index-1. With nothing committed yet this
	// wraps to MaxUint64, so the first commit (slot 0) counts as new.
	w := atomic.LoadUint64(&h.WriteIndex)
	lastSeen := w - 1

	return &Consumer{
		name:         name,
		seg:          seg,
		header:       h,
		layout:       layout,
		tun:          tun,
		heartbeatIdx: idx,
		lastSeen:     lastSeen,
		log:          o.log,
	}, nil
}

// Name returns the channel's name.
func (c *Consumer) Name() string { return c.name }

// Header exposes the raw header for metrics exporters and diagnostic
// tooling that need read-only access to the same mapping this consumer
// holds.
func (c *Consumer) Header() *shm.Header { return c.header }

// Iterate returns every currently-readable slot in the ring,
// newest-first, without blocking (spec §4.3's non-blocking iterator).
// Slots caught mid-write or overwritten during the grab are silently
// skipped, exactly as spec §4.3 prescribes — this is a best-effort
// snapshot, not a guarantee every committed slot is returned.
func (c *Consumer) Iterate() []*ReadHandle {
	w := atomic.LoadUint64(&c.header.WriteIndex)
	ids := ringWindow(w, c.header.SlotCount)

	out := make([]*ReadHandle, 0, len(ids))
	for _, id := range ids {
		if rh, ok := tryAcquireRead(c.layout, c.seg.Bytes, id); ok {
			out = append(out, rh)
		}
	}
	return out
}

// AcquireLatest blocks until a slot newer than the last one this
// consumer successfully read has committed, then admits it for reading
// (spec §4.3's acquire_consume_slot). timeoutMS follows spec §5's
// convention: -1 infinite, 0 try-once, >0 bounded milliseconds.
func (c *Consumer) AcquireLatest(timeoutMS int64) (*ReadHandle, error) {
	d, infinite := resolveTimeout(timeoutMS)
	c.touchOwnHeartbeat()

	rh, newLast, err := blockingAcquireLatest(c.header, c.layout, c.seg.Bytes, c.tun, c.lastSeen, d, infinite, c.log, c.name)
	if err != nil {
		if err == ErrOverrun {
			// Advance past the dead range so the next call doesn't
			// immediately re-detect the same gap.
			c.lastSeen = newLast
		}
		return nil, err
	}
	c.lastSeen = newLast
	return rh, nil
}

// AcquireLatestDefault uses the consumer's configured default timeout
// (spec §6's acquire_default_timeout_ms).
func (c *Consumer) AcquireLatestDefault() (*ReadHandle, error) {
	return c.AcquireLatest(c.tun.AcquireDefaultTimeoutMS)
}

// WithReadSlot acquires the latest slot, runs fn with it, and always
// releases — the scoped-handle convenience spec §7 mentions.
func (c *Consumer) WithReadSlot(timeoutMS int64, fn func(r *ReadHandle) error) error {
	rh, err := c.AcquireLatest(timeoutMS)
	if err != nil {
		return err
	}
	defer rh.Release()
	return fn(rh)
}

// Validate recomputes and checks a handle's checksum (spec §4.3's
// post-read validate).
func (c *Consumer) Validate(r *ReadHandle) error {
	return r.Validate(c.header)
}

// VerifyFlexZoneChecksum recomputes the flexible zone's checksum and
// compares it to the one the producer last stored (spec §4.4).
func (c *Consumer) VerifyFlexZoneChecksum() bool {
	return verifyFlexZone(c.header, c.layout, c.seg.Bytes)
}

// FlexZone returns the flexible zone's current bytes (read-only by
// convention — only the producer writes it).
func (c *Consumer) FlexZone() []byte {
	return c.layout.FlexZone(c.seg.Bytes)
}

func (c *Consumer) touchOwnHeartbeat() {
	touchHeartbeat(&c.header.ConsumerHeartbeats[c.heartbeatIdx], platform.SelfPID())
}

// Close releases this consumer's heartbeat slot and unmaps the segment.
func (c *Consumer) Close() error {
	if c.closed {
		return nil
	}
	freeHeartbeat(c.header, c.heartbeatIdx)
	c.closed = true
	return c.seg.Close()
}
