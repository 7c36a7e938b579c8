package shm

import "unsafe"

// SlotStateSize is padded out to a whole number of cache lines. The
// fields spec §3.1 lists for a slot state (sequence, slot_id, readers,
// writer_pid, write_ns, a 32-byte checksum, flags) sum to 72 bytes
// before padding — wider than the single 64-byte line the spec prose
// also mentions. We keep every field spec §3.1 names rather than drop
// one to hit 64 exactly; see DESIGN.md for the resolved Open Question.
// Padding to 128 (two lines) avoids false sharing between adjacent
// slots just as well as a single 64-byte stride would.
const SlotStateSize = 128

// SlotState is one slot's atomic bookkeeping (spec §3.1). Sequence is
// even when the slot is free or committed, odd while a writer holds
// it — see the state machine in spec §4.3.
type SlotState struct {
	Sequence  uint64 // atomic
	SlotID    uint64 // atomic; monotonic id of the last commit
	WriterPID uint64 // atomic
	WriteNS   uint64 // atomic
	Checksum  [32]byte
	Readers   uint32 // atomic
	Flags     uint32 // atomic

	_pad [SlotStateSize - 72]byte
}

func init() {
	if unsafe.Sizeof(SlotState{}) != SlotStateSize {
		panic("shm: SlotState size mismatch")
	}
}

// SequenceEven reports whether seq denotes a free/committed slot (as
// opposed to Writing, spec §4.3's state machine).
func SequenceEven(seq uint64) bool {
	return seq%2 == 0
}
