package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `
[tunables]
writer_patience_ns = 2000000
reader_timeout_ns = 10000000000

[[channels]]
name = "orderbook"
slot_count = 64
slot_size = 256

[[channels]]
name = "trades"
slot_count = 128
slot_size = 128
flex_zone_size = 4096
schema_validation = true
`

func writeSample(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "pylabhub.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func TestLoadParsesChannelsAndTunables(t *testing.T) {
	c, err := Load(writeSample(t))
	require.NoError(t, err)
	require.Len(t, c.Channels, 2)
	require.EqualValues(t, 2000000, c.Tunables.WriterPatienceNS)
	require.EqualValues(t, 10000000000, c.Tunables.ReaderTimeoutNS)

	ob, ok := c.Channel("orderbook")
	require.True(t, ok)
	require.EqualValues(t, 64, ob.SlotCount)

	_, ok = c.Channel("missing")
	require.False(t, ok)
}

func TestEnvironmentOverridesTunable(t *testing.T) {
	t.Setenv("PYLABHUB_WRITER_PATIENCE_NS", "9999")
	c, err := Load(writeSample(t))
	require.NoError(t, err)
	require.EqualValues(t, 9999, c.Tunables.WriterPatienceNS)
}

func TestLoadRejectsChannelWithZeroSlotSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[channels]]
name = "broken"
slot_count = 4
`), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestHubTunablesConversion(t *testing.T) {
	c, err := Load(writeSample(t))
	require.NoError(t, err)
	ht := c.Tunables.HubTunables()
	require.EqualValues(t, c.Tunables.WriterPatienceNS, ht.WriterPatienceNS)
	require.EqualValues(t, c.Tunables.BackoffSpinIters, ht.Backoff.SpinIters)
}
