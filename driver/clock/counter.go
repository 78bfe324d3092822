package clock

import (
	"sync"

	"example.com/synctime/base/timebase"
)

const (
	nsPerSec  = timebase.NanosecondsPerSecond
	noMaxTick = ^uint64(0)
)

// TickSource is a free running hardware counter register. Ticks returns
// values in [0, max] and wraps to 0 after max.
type TickSource interface {
	Ticks() (uint64, error)
}

// CounterClock converts a wrapping tick counter into virtual local time. It
// must be sampled at least once per wrap period of the counter.
type CounterClock struct {
	mu      sync.Mutex
	src     TickSource
	freq    uint64
	scale   uint64
	chunk   uint64
	max     uint64
	last    uint64
	rem     uint64
	started bool
	vlt     timebase.VirtualLocalTime
}

var _ timebase.LocalClock = (*CounterClock)(nil)

// NewCounterClock returns a clock for src ticking at freq Hz behind a
// prescaler. A maxTicks of 0 means the counter uses the full 64 bit range.
func NewCounterClock(src TickSource, freq uint64, prescaler uint32, maxTicks uint64) *CounterClock {
	if freq == 0 {
		panic("invalid counter frequency")
	}
	if prescaler == 0 {
		prescaler = 1
	}
	if maxTicks == 0 {
		maxTicks = noMaxTick
	}
	scale := uint64(prescaler) * nsPerSec
	return &CounterClock{
		src:   src,
		freq:  freq,
		scale: scale,
		chunk: (noMaxTick - freq) / scale,
		max:   maxTicks,
	}
}

func (c *CounterClock) Now() (timebase.VirtualLocalTime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := c.src.Ticks()
	if err != nil {
		return 0, err
	}
	if raw > c.max {
		panic("unexpected tick counter value")
	}
	if !c.started {
		c.started = true
		c.last = raw
		return c.vlt, nil
	}
	var delta uint64
	if raw >= c.last {
		delta = raw - c.last
	} else {
		delta = c.max - c.last + raw + 1
	}
	c.last = raw
	c.vlt += timebase.VirtualLocalTime(c.nanoseconds(delta))
	return c.vlt, nil
}

// nanoseconds converts delta ticks and carries the division remainder over
// to the next conversion. Deltas are converted in chunks small enough for
// the scaled value plus remainder to fit 64 bits.
func (c *CounterClock) nanoseconds(delta uint64) uint64 {
	var ns uint64
	for delta != 0 {
		d := min(delta, c.chunk)
		delta -= d
		x := d*c.scale + c.rem
		ns += x / c.freq
		c.rem = x % c.freq
	}
	return ns
}
