// Package shm defines the bit-exact shared-memory segment layout: the
// 4 KiB header (identity, security, config, state, metrics, heartbeats,
// spinlock pool), the slot state array, and the arithmetic that maps a
// slot id to its byte offset. Changing any field order, bound, or
// alignment here is a major-version ABI break — see spec §3.1/§6.
package shm

import (
	"unsafe"
)

// Magic is the 8-byte identity stamp every segment starts with.
var Magic = [8]byte{'P', 'Y', 'L', 'B', 'H', 'U', 'B', 0}

// Wire-format constants. These are the detail namespace spec §3.1
// requires: every array bound named here is fixed for the lifetime of
// this major version.
const (
	VersionMajor = 1
	VersionMinor = 0

	HeaderSize            = 4096
	MaxSharedSpinlocks    = 8
	MaxConsumerHeartbeats = 8

	// PolicyRingBuffer is the only policy tag spec §3.1 names.
	PolicyRingBuffer uint8 = 0

	// FlagLastCommitFailedIntegrity marks SlotState.Flags when the most
	// recent commit's checksum did not match on verification.
	FlagLastCommitFailedIntegrity uint32 = 1 << 0
)

// HeartbeatEntry is a (pid, last-seen-ns, in-use) triple, written by its
// owning participant. The producer's entry is refreshed at creation and
// on each write acquire and commit; a consumer's entry at attach and on
// each AcquireLatest. Iterate, read Release and write Abort do not
// refresh it.
type HeartbeatEntry struct {
	PID    uint64
	LastNS uint64
	InUse  uint32
	_pad   uint32
}

// SpinlockState is one named spinlock's state, embedded in the header
// (spec §4.2). DebugName is for diagnostics only and is never compared.
type SpinlockState struct {
	HolderPID uint64
	AcquireNS uint64
	DebugName [16]byte
}

// Header is the fixed 4096-byte, page-aligned segment header. Field
// order here is the wire order; do not reorder, insert, or resize any
// field — see the package doc.
type Header struct {
	// Identity
	Magic         [8]byte
	VersionMajor  uint16
	VersionMinor  uint16
	_identityPad  [4]byte
	TotalSize     uint64

	// Security
	SharedSecret        uint64
	FlexZoneSchemaHash  [32]byte
	DataBlockSchemaHash [32]byte
	SchemaVersion       uint16
	_securityPad        [6]byte

	// Config
	PolicyTag        uint8
	_configPad0      [7]byte
	SlotCount        uint64
	SlotSize         uint64
	FlexibleZoneSize uint64
	Flags            uint32
	_configPad1      [4]byte

	// State
	WriteIndex     uint64 // atomic, monotonic slot id of the next write
	ReadIndexHint  uint64 // atomic, advisory only
	Generation     uint64 // bumped by force_reset

	// Metrics
	WriteCount          uint64
	OverrunCount        uint64
	AcquireFailureCount uint64
	IntegrityFailureCount uint64

	// Heartbeats
	ProducerHeartbeat  HeartbeatEntry
	ConsumerHeartbeats [MaxConsumerHeartbeats]HeartbeatEntry

	// Spinlocks
	Spinlocks [MaxSharedSpinlocks]SpinlockState

	// Flexible-zone checksum
	FlexZoneChecksum [32]byte

	// Reserved padding out to exactly HeaderSize.
	Reserved [4096 - 704]byte
}

func init() {
	if unsafe.Sizeof(Header{}) != HeaderSize {
		panic("shm: Header size mismatch, expected 4096, got " +
			itoa(int(unsafe.Sizeof(Header{}))))
	}
}

// itoa avoids pulling in strconv just for a panic message.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// HeaderAt reinterprets the first HeaderSize bytes of a mapped segment
// as a *Header. The caller owns the backing slice's lifetime.
func HeaderAt(seg []byte) *Header {
	if len(seg) < HeaderSize {
		panic("shm: segment shorter than header")
	}
	return (*Header)(unsafe.Pointer(&seg[0]))
}
