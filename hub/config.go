package hub

import (
	"time"

	"github.com/pylabhub/hub/backoff"
	"github.com/pylabhub/hub/hashsum"
	"github.com/pylabhub/hub/shm"
)

// ChannelConfig is the static shape of a channel, fixed at creation
// (spec §3.1). SlotCount must be a value, SlotSize must be large
// enough to hold whatever record the producer writes.
type ChannelConfig struct {
	SlotCount        uint64
	SlotSize         uint64
	FlexibleZoneSize uint64

	// SchemaValidation gates the attach-time hash comparison in
	// spec §4.4. When false, both hashes are left at the zero
	// sentinel and attach falls back to comparing SlotSize/
	// FlexibleZoneSize only (spec §4.1's non-schema path).
	SchemaValidation    bool
	FlexZoneSchemaHash  [hashsum.Size]byte
	DataBlockSchemaHash [hashsum.Size]byte
}

// Tunables are the runtime knobs enumerated in spec §6.
type Tunables struct {
	WriterPatienceNS        uint64
	ReaderTimeoutNS         uint64
	AcquireDefaultTimeoutMS int64
	Backoff                 backoff.Config
}

// DefaultTunables matches spec §6's stated defaults.
var DefaultTunables = Tunables{
	WriterPatienceNS:        uint64(time.Millisecond),
	ReaderTimeoutNS:         uint64(5 * time.Second),
	AcquireDefaultTimeoutMS: 100,
	Backoff:                 backoff.DefaultConfig,
}

// resolveTimeout turns the spec §5 convention (-1 = infinite, 0 = try
// once, >0 = bounded ms) into a Go duration plus an "infinite" flag.
// Any negative value is treated the same as -1, to stay permissive.
func resolveTimeout(timeoutMS int64) (d time.Duration, infinite bool) {
	if timeoutMS < 0 {
		return 0, true
	}
	return time.Duration(timeoutMS) * time.Millisecond, false
}

func newLayout(cfg ChannelConfig) shm.Layout {
	return shm.NewLayout(cfg.SlotCount, cfg.SlotSize, cfg.FlexibleZoneSize)
}
