// Package backoff implements the bounded staged backoff the hub
// uses at its two blocking points: a writer waiting for readers to
// drain, and a consumer waiting for a newer committed slot (spec §5).
//
// The sequence is: spin (runtime.Gosched) for a few iterations, then a
// short fixed sleep, then a longer sleep that grows with iteration
// count up to a cap. Every step is cheap and allocation-free so it can
// sit on the hot path.
package backoff

import (
	"runtime"
	"time"
)

// Config holds the tunables named in spec §6. Zero-value Config is
// invalid; use DefaultConfig.
type Config struct {
	SpinIters      int           // backoff_spin_iters
	ShortSleep     time.Duration // backoff_short_us
	LongMultiplier time.Duration // backoff_long_multiplier
	LongCap        time.Duration // ceiling on the longer-sleep stage
}

// DefaultConfig matches spec §6's stated defaults: 4 spin iterations,
// a 1µs short sleep, and a longer sleep of 10µs times the number of
// iterations spent in that stage (capped at 5ms).
var DefaultConfig = Config{
	SpinIters:      4,
	ShortSleep:     time.Microsecond,
	LongMultiplier: 10 * time.Microsecond,
	LongCap:        5 * time.Millisecond,
}

// Backoff is a single wait sequence. Create one per blocking call, call
// Wait in a loop until the condition is satisfied or the caller's own
// timeout expires; do not share a Backoff across unrelated waits.
type Backoff struct {
	cfg  Config
	iter int
}

// New returns a Backoff using cfg.
func New(cfg Config) *Backoff {
	return &Backoff{cfg: cfg}
}

// Reset starts the sequence over, e.g. after observing forward progress.
func (b *Backoff) Reset() {
	b.iter = 0
}

// Wait advances the backoff by one step and blocks for the corresponding
// duration (the spin stage blocks for ~0 time via Gosched).
func (b *Backoff) Wait() {
	switch {
	case b.iter < b.cfg.SpinIters:
		runtime.Gosched()
	case b.iter < b.cfg.SpinIters*2:
		time.Sleep(b.cfg.ShortSleep)
	default:
		n := b.iter - b.cfg.SpinIters*2 + 1
		d := time.Duration(n) * b.cfg.LongMultiplier
		if d > b.cfg.LongCap {
			d = b.cfg.LongCap
		}
		time.Sleep(d)
	}
	b.iter++
}

// Iterations reports how many Wait calls have been made since New/Reset.
func (b *Backoff) Iterations() int {
	return b.iter
}
