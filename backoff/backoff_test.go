package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitProgressesThroughStages(t *testing.T) {
	b := New(Config{
		SpinIters:      2,
		ShortSleep:     time.Microsecond,
		LongMultiplier: time.Microsecond,
		LongCap:        time.Millisecond,
	})

	for i := 0; i < 10; i++ {
		start := time.Now()
		b.Wait()
		elapsed := time.Since(start)
		if i >= 4 {
			// long stage should never exceed the cap by more than scheduling noise
			require.LessOrEqual(t, elapsed, 10*time.Millisecond)
		}
	}
	require.Equal(t, 10, b.Iterations())
}

func TestResetRestartsSequence(t *testing.T) {
	b := New(DefaultConfig)
	b.Wait()
	b.Wait()
	require.Equal(t, 2, b.Iterations())
	b.Reset()
	require.Equal(t, 0, b.Iterations())
}
