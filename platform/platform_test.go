package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonotonicNSAdvances(t *testing.T) {
	a := MonotonicNS()
	time.Sleep(time.Millisecond)
	b := MonotonicNS()
	require.Greater(t, b, a)
}

func TestProcessAliveSelf(t *testing.T) {
	require.True(t, ProcessAlive(SelfPID()))
}

func TestProcessAliveDeadPID(t *testing.T) {
	// PID 0 is never a real participant.
	require.False(t, ProcessAlive(0))
}

func TestSegmentCreateOpenUnlink(t *testing.T) {
	name := "test-segment-create-open"
	_ = UnlinkSegment(name)

	seg, err := CreateSegment(name, 4096)
	require.NoError(t, err)
	require.Len(t, seg.Bytes, 4096)

	_, err = CreateSegment(name, 4096)
	require.ErrorIs(t, err, ErrExists)

	opened, err := OpenSegment(name)
	require.NoError(t, err)
	require.Len(t, opened.Bytes, 4096)

	seg.Bytes[0] = 0xAB
	require.Equal(t, byte(0xAB), opened.Bytes[0])

	require.NoError(t, opened.Close())
	require.NoError(t, seg.Close())
	require.NoError(t, UnlinkSegment(name))

	_, err = OpenSegment(name)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExists(t *testing.T) {
	name := "test-segment-exists"
	_ = UnlinkSegment(name)
	require.False(t, Exists(name))

	seg, err := CreateSegment(name, 4096)
	require.NoError(t, err)
	require.True(t, Exists(name))

	require.NoError(t, seg.Close())
	require.NoError(t, UnlinkSegment(name))
}
