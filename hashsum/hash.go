// Package hashsum computes and verifies the BLAKE2b-256 content hashes
// used throughout the hub: per-slot payload checksums, the flexible-zone
// checksum, and the BLDS schema hash.
package hashsum

import (
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

// Size is the width in bytes of every hash this package produces —
// spec.md fixes it at 32 everywhere a checksum or schema hash appears.
const Size = 32

// Sum computes the BLAKE2b-256 digest of data.
func Sum(data []byte) [Size]byte {
	return blake2b.Sum256(data)
}

// Verify reports whether data hashes to want, using a constant-time
// comparison so integrity checks never leak timing information about
// how far a corrupted payload diverges from the original.
func Verify(data []byte, want [Size]byte) bool {
	got := Sum(data)
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1
}

func init() {
	if blake2b.Size256 != Size {
		panic("hashsum: blake2b.Size256 does not match Size")
	}
}
