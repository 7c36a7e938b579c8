package shm

import "unsafe"

// Align64 rounds n up to the next multiple of 64, the alignment spec §6
// requires for the flexible zone and the slot-state array.
func Align64(n uint64) uint64 {
	return (n + 63) &^ 63
}

// Layout is the computed geometry of one channel's segment, derived
// from its static config (spec §6):
//
//	offset 0           : Header (4096 B, page-aligned)
//	offset 4096        : Flexible zone (flex_size B, 64-B aligned)
//	offset 4096+flex   : Slot[0] payload (slot_size B)
//	...                : Slot[N-1] payload
//	offset last        : SlotState[0..N-1] (SlotStateSize = 128 B each, 64-B aligned)
type Layout struct {
	SlotCount        uint64
	SlotSize         uint64
	FlexibleZoneSize uint64 // already Align64'd
}

// NewLayout computes a Layout, rounding flexibleZoneSize up to a
// 64-byte multiple as spec §6 requires.
func NewLayout(slotCount, slotSize, flexibleZoneSize uint64) Layout {
	return Layout{
		SlotCount:        slotCount,
		SlotSize:         slotSize,
		FlexibleZoneSize: Align64(flexibleZoneSize),
	}
}

// FlexZoneOffset is the byte offset of the flexible zone.
func (l Layout) FlexZoneOffset() uint64 {
	return HeaderSize
}

// SlotRingOffset is the byte offset of Slot[0].
func (l Layout) SlotRingOffset() uint64 {
	return l.FlexZoneOffset() + l.FlexibleZoneSize
}

// SlotOffset returns the byte offset of the physical slot that holds
// slot id idx (i.e. idx mod SlotCount).
func (l Layout) SlotOffset(idx uint64) uint64 {
	phys := idx % l.SlotCount
	return l.SlotRingOffset() + phys*l.SlotSize
}

// SlotStateArrayOffset is the byte offset of SlotState[0].
func (l Layout) SlotStateArrayOffset() uint64 {
	ringEnd := l.SlotRingOffset() + l.SlotCount*l.SlotSize
	return Align64(ringEnd)
}

// SlotStateOffset returns the byte offset of SlotState[idx mod SlotCount].
func (l Layout) SlotStateOffset(idx uint64) uint64 {
	phys := idx % l.SlotCount
	return l.SlotStateArrayOffset() + phys*SlotStateSize
}

// TotalSize is the full segment size, header_size + N*slot_size plus
// the flexible zone and the slot-state array (spec §3.1's formula
// extended with the two regions §6 adds to the tail).
func (l Layout) TotalSize() uint64 {
	return l.SlotStateArrayOffset() + l.SlotCount*SlotStateSize
}

// SlotPayload returns the byte span for slot id idx's payload within a
// mapped segment.
func (l Layout) SlotPayload(seg []byte, idx uint64) []byte {
	off := l.SlotOffset(idx)
	return seg[off : off+l.SlotSize]
}

// SlotStateAt returns a pointer to the SlotState for slot id idx.
func (l Layout) SlotStateAt(seg []byte, idx uint64) *SlotState {
	off := l.SlotStateOffset(idx)
	return (*SlotState)(unsafe.Pointer(&seg[off]))
}

// FlexZone returns the flexible-zone byte span.
func (l Layout) FlexZone(seg []byte) []byte {
	off := l.FlexZoneOffset()
	return seg[off : off+l.FlexibleZoneSize]
}
