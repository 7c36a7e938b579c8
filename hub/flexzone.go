package hub

import (
	"github.com/pylabhub/hub/hashsum"
	"github.com/pylabhub/hub/shm"
)

// verifyFlexZone recomputes the flexible zone's checksum and compares
// it against the value the producer last stored with
// UpdateFlexZoneChecksum (spec §4.4).
func verifyFlexZone(h *shm.Header, layout shm.Layout, seg []byte) bool {
	return hashsum.Verify(layout.FlexZone(seg), h.FlexZoneChecksum)
}
