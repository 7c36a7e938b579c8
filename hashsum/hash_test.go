package hashsum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	a := Sum([]byte("hello world"))
	b := Sum([]byte("hello world"))
	require.Equal(t, a, b)
}

func TestVerifyRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	sum := Sum(payload)
	require.True(t, Verify(payload, sum))
}

func TestVerifyDetectsCorruption(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	sum := Sum(payload)
	payload[0] ^= 0xFF
	require.False(t, Verify(payload, sum))
}

func TestSumDiffersOnContent(t *testing.T) {
	require.NotEqual(t, Sum([]byte("a")), Sum([]byte("b")))
}
