package broker

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func socketPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), fmt.Sprintf("broker-%d.sock", time.Now().UnixNano()))
}

func TestRegisterThenDiscoverRoundTrip(t *testing.T) {
	path := socketPath(t)
	srv, err := NewServer(path, "", nil)
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	time.Sleep(20 * time.Millisecond)
	c := NewClient(path)
	defer c.Close()

	var flexHash, dataHash [32]byte
	dataHash[0] = 7

	b, err := c.Register("orderbook", 64, 256, 4096, true, flexHash, dataHash, 0xdeadbeef)
	require.NoError(t, err)
	require.Equal(t, "orderbook", b.ShmName)
	require.EqualValues(t, 0xdeadbeef, b.Secret)

	found, err := c.Discover("orderbook")
	require.NoError(t, err)
	require.Equal(t, b, found)
}

func TestDiscoverUnknownChannelFails(t *testing.T) {
	path := socketPath(t)
	srv, err := NewServer(path, "", nil)
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	time.Sleep(20 * time.Millisecond)
	c := NewClient(path)
	defer c.Close()

	_, err = c.Discover("nope")
	require.Error(t, err)
}

func TestRegistryPersistsAcrossRestart(t *testing.T) {
	path := socketPath(t)
	persistPath := filepath.Join(t.TempDir(), "registry.json")

	srv, err := NewServer(path, persistPath, nil)
	require.NoError(t, err)
	go srv.Serve()

	time.Sleep(20 * time.Millisecond)
	c := NewClient(path)

	var zero [32]byte
	_, err = c.Register("persisted", 8, 16, 0, false, zero, zero, 42)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, srv.Close())

	path2 := socketPath(t)
	srv2, err := NewServer(path2, persistPath, nil)
	require.NoError(t, err)
	go srv2.Serve()
	defer srv2.Close()

	time.Sleep(20 * time.Millisecond)
	c2 := NewClient(path2)
	defer c2.Close()

	b, err := c2.Discover("persisted")
	require.NoError(t, err)
	require.EqualValues(t, 42, b.Secret)
}

func TestUnregisterRemovesBinding(t *testing.T) {
	path := socketPath(t)
	srv, err := NewServer(path, "", nil)
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	time.Sleep(20 * time.Millisecond)
	c := NewClient(path)
	defer c.Close()

	var zero [32]byte
	_, err = c.Register("transient", 4, 8, 0, false, zero, zero, 1)
	require.NoError(t, err)

	require.NoError(t, c.Unregister("transient"))

	_, err = c.Discover("transient")
	require.Error(t, err)
}
