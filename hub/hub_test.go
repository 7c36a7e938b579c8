package hub

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pylabhub/hub/platform"
)

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("hubtest-%s-%d", t.Name(), time.Now().UnixNano())
}

func fastTunables() Tunables {
	tun := DefaultTunables
	tun.WriterPatienceNS = uint64(2 * time.Millisecond)
	tun.ReaderTimeoutNS = uint64(5 * time.Millisecond)
	tun.AcquireDefaultTimeoutMS = 50
	return tun
}

// scenario 1: happy path.
func TestHappyPathWriteThenRead(t *testing.T) {
	name := uniqueName(t)
	cfg := ChannelConfig{SlotCount: 4, SlotSize: 16}
	tun := fastTunables()

	p, err := CreateProducer(name, cfg, tun)
	require.NoError(t, err)
	defer p.Destroy()

	w, err := p.AcquireWrite()
	require.NoError(t, err)
	for i := range w.Payload() {
		w.Payload()[i] = byte(i + 1)
	}
	require.NoError(t, w.Commit())

	c, err := FindConsumer(name, p.Secret(), ExpectedSchema{}, cfg, tun)
	require.NoError(t, err)
	defer c.Close()

	handles := c.Iterate()
	require.Len(t, handles, 1)
	require.EqualValues(t, 0, handles[0].SlotID)
	for i, b := range handles[0].Payload {
		require.Equal(t, byte(i+1), b)
	}
	require.NoError(t, c.Validate(handles[0]))
	handles[0].Release()
}

// scenario 2: overwrite detection.
func TestOverwriteDetection(t *testing.T) {
	name := uniqueName(t)
	cfg := ChannelConfig{SlotCount: 2, SlotSize: 8}
	tun := fastTunables()

	p, err := CreateProducer(name, cfg, tun)
	require.NoError(t, err)
	defer p.Destroy()

	commit := func(b byte) {
		w, err := p.AcquireWrite()
		require.NoError(t, err)
		for i := range w.Payload() {
			w.Payload()[i] = b
		}
		require.NoError(t, w.Commit())
	}
	commit(1)
	commit(2)
	commit(3)
	commit(4) // slots 0,1,2,3 -> physical slot (3 mod 2) = 1

	c, err := FindConsumer(name, p.Secret(), ExpectedSchema{}, cfg, tun)
	require.NoError(t, err)
	defer c.Close()

	// Sample slot (write_index-1) mod N = slot 3 mod 2 = 1, grab it.
	rh, ok := tryAcquireRead(c.layout, c.seg.Bytes, 3)
	require.True(t, ok)

	commit(5) // slot id 4, lands on physical slot 4 mod 2 = 0, not 1 — use a
	// second commit that actually lands back on physical slot 1 to force
	// the overwrite this scenario tests.
	commit(6) // slot id 5 -> physical slot 1, same physical slot as rh.

	err = rh.Validate(p.header)
	require.Error(t, err)
}

// scenario 3: zombie reader reclamation.
func TestZombieReaderReclamation(t *testing.T) {
	name := uniqueName(t)
	cfg := ChannelConfig{SlotCount: 2, SlotSize: 8}
	tun := fastTunables()

	p, err := CreateProducer(name, cfg, tun)
	require.NoError(t, err)
	defer p.Destroy()

	w, err := p.AcquireWrite()
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	state := p.layout.SlotStateAt(p.seg.Bytes, 0)
	atomic.AddUint32(&state.Readers, 1) // simulate a reader that never released

	// write_index is now 1, so the next write targets slot id 1
	// (physical slot 1, uncontended); write again after that to come
	// back around to physical slot 0, which exercises the drain/evict
	// path against the stuck reader above.
	w2, err := p.AcquireWrite()
	require.NoError(t, err)
	require.NoError(t, w2.Commit())

	start := time.Now()
	w3, err := p.AcquireWrite()
	require.NoError(t, err)
	require.Less(t, time.Since(start), 200*time.Millisecond)
	require.NoError(t, w3.Commit())

	require.Zero(t, atomic.LoadUint32(&state.Readers))
	require.Greater(t, atomic.LoadUint64(&p.header.OverrunCount), uint64(0))
}

// scenario 4: schema mismatch.
func TestSchemaMismatch(t *testing.T) {
	name := uniqueName(t)
	var h1, h2 [32]byte
	h1[0] = 1
	h2[0] = 2

	cfg := ChannelConfig{SlotCount: 2, SlotSize: 8, SchemaValidation: true, DataBlockSchemaHash: h1}
	tun := fastTunables()

	p, err := CreateProducer(name, cfg, tun)
	require.NoError(t, err)
	defer p.Destroy()

	_, err = FindConsumer(name, p.Secret(), ExpectedSchema{DataBlockHash: h2}, cfg, tun)
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

// scenario 5: auth failure.
func TestAuthFailure(t *testing.T) {
	name := uniqueName(t)
	cfg := ChannelConfig{SlotCount: 2, SlotSize: 8}
	tun := fastTunables()

	p, err := CreateProducer(name, cfg, tun)
	require.NoError(t, err)
	defer p.Destroy()

	_, err = FindConsumer(name, p.Secret()+1, ExpectedSchema{}, cfg, tun)
	require.ErrorIs(t, err, ErrAuthFailed)
}

// scenario 6: integrity failure on external corruption.
func TestIntegrityFailureOnCorruption(t *testing.T) {
	name := uniqueName(t)
	cfg := ChannelConfig{SlotCount: 4, SlotSize: 8}
	tun := fastTunables()

	p, err := CreateProducer(name, cfg, tun)
	require.NoError(t, err)
	defer p.Destroy()

	w, err := p.AcquireWrite()
	require.NoError(t, err)
	copy(w.Payload(), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, w.Commit())

	c, err := FindConsumer(name, p.Secret(), ExpectedSchema{}, cfg, tun)
	require.NoError(t, err)
	defer c.Close()

	handles := c.Iterate()
	require.Len(t, handles, 1)

	// External process corrupts one byte after commit.
	handles[0].Payload[0] ^= 0xFF

	err = c.Validate(handles[0])
	require.ErrorIs(t, err, ErrIntegrityFailure)
	handles[0].Release()
}

func TestHeartbeatPoolExhausted(t *testing.T) {
	name := uniqueName(t)
	cfg := ChannelConfig{SlotCount: 2, SlotSize: 8}
	tun := fastTunables()

	p, err := CreateProducer(name, cfg, tun)
	require.NoError(t, err)
	defer p.Destroy()

	var consumers []*Consumer
	for i := 0; i < 8; i++ {
		c, err := FindConsumer(name, p.Secret(), ExpectedSchema{}, cfg, tun)
		require.NoError(t, err)
		consumers = append(consumers, c)
	}
	_, err = FindConsumer(name, p.Secret(), ExpectedSchema{}, cfg, tun)
	require.ErrorIs(t, err, ErrHeartbeatPoolExhausted)

	for _, c := range consumers {
		require.NoError(t, c.Close())
	}
}

func TestAcquireLatestBlocksUntilCommit(t *testing.T) {
	name := uniqueName(t)
	cfg := ChannelConfig{SlotCount: 4, SlotSize: 8}
	tun := fastTunables()

	p, err := CreateProducer(name, cfg, tun)
	require.NoError(t, err)
	defer p.Destroy()

	c, err := FindConsumer(name, p.Secret(), ExpectedSchema{}, cfg, tun)
	require.NoError(t, err)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rh, err := c.AcquireLatest(500)
		require.NoError(t, err)
		require.EqualValues(t, 0, rh.SlotID)
		rh.Release()
	}()

	time.Sleep(10 * time.Millisecond)
	w, err := p.AcquireWrite()
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AcquireLatest did not unblock after commit")
	}
}

func TestAcquireLatestTimesOutWithNoData(t *testing.T) {
	name := uniqueName(t)
	cfg := ChannelConfig{SlotCount: 2, SlotSize: 8}
	tun := fastTunables()

	p, err := CreateProducer(name, cfg, tun)
	require.NoError(t, err)
	defer p.Destroy()

	c, err := FindConsumer(name, p.Secret(), ExpectedSchema{}, cfg, tun)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.AcquireLatest(0)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestWithWriteSlotAbortsOnError(t *testing.T) {
	name := uniqueName(t)
	cfg := ChannelConfig{SlotCount: 2, SlotSize: 8}
	tun := fastTunables()

	p, err := CreateProducer(name, cfg, tun)
	require.NoError(t, err)
	defer p.Destroy()

	boom := fmt.Errorf("boom")
	err = p.WithWriteSlot(func(w *WriteHandle) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.EqualValues(t, 0, atomic.LoadUint64(&p.header.WriteIndex))
}

func TestProducerDestroyUnlinksSegment(t *testing.T) {
	name := uniqueName(t)
	_ = platform.UnlinkSegment(name)
	cfg := ChannelConfig{SlotCount: 2, SlotSize: 8}
	tun := fastTunables()

	p, err := CreateProducer(name, cfg, tun)
	require.NoError(t, err)
	require.NoError(t, p.Destroy())

	_, err = platform.OpenSegment(name)
	require.ErrorIs(t, err, platform.ErrNotFound)
}

// TestConcurrentConsumersNeverObserveTornPayload stands in for spec
// §8's "1 producer, K consumers for K∈{1,2,8}" property: every slot a
// consumer admits either validates cleanly against its checksum (and
// is then internally consistent byte-for-byte) or is reported invalid
// on Validate — never a silently mixed payload from two different
// commits.
func TestConcurrentConsumersNeverObserveTornPayload(t *testing.T) {
	for _, k := range []int{1, 2, 8} {
		t.Run(fmt.Sprintf("K=%d", k), func(t *testing.T) {
			name := uniqueName(t)
			cfg := ChannelConfig{SlotCount: 8, SlotSize: 64}
			tun := fastTunables()

			p, err := CreateProducer(name, cfg, tun)
			require.NoError(t, err)
			defer p.Destroy()

			var torn atomic.Bool
			stop := make(chan struct{})
			var wg sync.WaitGroup

			for i := 0; i < k; i++ {
				c, err := FindConsumer(name, p.Secret(), ExpectedSchema{}, cfg, tun)
				require.NoError(t, err)
				wg.Add(1)
				go func(c *Consumer) {
					defer wg.Done()
					defer c.Close()
					for {
						select {
						case <-stop:
							return
						default:
						}
						rh, err := c.AcquireLatest(20)
						if err != nil {
							continue
						}
						valid := c.Validate(rh) == nil
						payload := append([]byte(nil), rh.Payload...)
						rh.Release()
						if valid {
							for _, b := range payload {
								if b != payload[0] {
									torn.Store(true)
								}
							}
						}
					}
				}(c)
			}

			for n := 0; n < 64; n++ {
				err := p.WithWriteSlot(func(w *WriteHandle) error {
					for i := range w.Payload() {
						w.Payload()[i] = byte(n)
					}
					return nil
				})
				require.NoError(t, err)
			}

			time.Sleep(50 * time.Millisecond)
			close(stop)
			wg.Wait()

			require.False(t, torn.Load(), "a consumer observed a torn payload")
		})
	}
}
