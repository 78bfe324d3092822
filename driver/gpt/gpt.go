// Package gpt provides a software general purpose timer: free-running
// counters and one-shot notifications per channel, backed by the Go runtime
// timers.
package gpt

import (
	"errors"
	"math/bits"
	"sync"
	"time"
)

var (
	ErrRunning  = errors.New("gpt channel already running")
	ErrDisabled = errors.New("gpt channel notification disabled")
)

type Driver struct {
	start time.Time
	freq  uint64
	max   uint64

	mu       sync.Mutex
	channels map[uint8]*Channel
}

// New returns a driver counting at freq/prescaler ticks per second. Counters
// wrap after maxTicks; 0 means the full 64-bit range.
func New(freq uint64, prescaler uint32, maxTicks uint64) *Driver {
	if prescaler == 0 {
		prescaler = 1
	}
	f := freq / uint64(prescaler)
	if f == 0 {
		panic("gpt frequency below prescaler")
	}
	return &Driver{
		start:    time.Now(),
		freq:     f,
		max:      maxTicks,
		channels: make(map[uint8]*Channel),
	}
}

// Frequency returns the counter frequency after the prescaler.
func (d *Driver) Frequency() uint64 { return d.freq }

// Channel returns channel ch, creating it on first use.
func (d *Driver) Channel(ch uint8) *Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.channels[ch]
	if !ok {
		c = &Channel{drv: d, id: ch}
		d.channels[ch] = c
	}
	return c
}

func (d *Driver) ticks(elapsed time.Duration) uint64 {
	hi, lo := bits.Mul64(uint64(elapsed), d.freq)
	t, _ := bits.Div64(hi, lo, uint64(time.Second))
	if d.max != 0 {
		t %= d.max + 1
	}
	return t
}

// duration returns the time the counter needs for at least ns nanoseconds,
// rounded up to whole ticks.
func (d *Driver) duration(ns uint64) time.Duration {
	hi, lo := bits.Mul64(ns, d.freq)
	t, rem := bits.Div64(hi, lo, uint64(time.Second))
	if rem != 0 {
		t++
	}
	hi, lo = bits.Mul64(t, uint64(time.Second))
	v, _ := bits.Div64(hi, lo, d.freq)
	if v > uint64(1<<63-1) {
		v = 1<<63 - 1
	}
	return time.Duration(v)
}

type Channel struct {
	drv *Driver
	id  uint8

	mu      sync.Mutex
	notify  func()
	timer   *time.Timer
	running bool
	gen     uint64
}

func (c *Channel) ID() uint8 { return c.id }

// Ticks returns the free-running counter of the channel.
func (c *Channel) Ticks() (uint64, error) {
	return c.drv.ticks(time.Since(c.drv.start)), nil
}

func (c *Channel) EnableNotification(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = f
}

func (c *Channel) DisableNotification() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = nil
}

// Arm starts a one-shot period of ns nanoseconds. The notification runs on
// its own goroutine when the period elapses.
func (c *Channel) Arm(ns uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notify == nil {
		return ErrDisabled
	}
	if c.running {
		return ErrRunning
	}
	c.running = true
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.drv.duration(ns), func() { c.expire(gen) })
	return nil
}

func (c *Channel) expire(gen uint64) {
	c.mu.Lock()
	if !c.running || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.running = false
	f := c.notify
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

// Disarm cancels the running period. It returns false if the period already
// elapsed, in which case the notification runs or has run.
func (c *Channel) Disarm() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	c.timer.Stop()
	c.running = false
	return true
}

func (c *Channel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
