package gpt

import (
	"errors"
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	tests := []struct {
		freq uint64
		ns   uint64
		want time.Duration
	}{
		{1_000_000_000, 1500, 1500 * time.Nanosecond},
		{1_000_000, 1500, 2 * time.Microsecond},
		{1_000_000, 2000, 2 * time.Microsecond},
		{1000, 1, time.Millisecond},
		{1000, 0, 0},
	}
	for _, tt := range tests {
		d := New(tt.freq, 1, 0)
		if got := d.duration(tt.ns); got != tt.want {
			t.Errorf("duration(%d) at %d Hz = %v; want %v", tt.ns, tt.freq, got, tt.want)
		}
	}
}

func TestTicks(t *testing.T) {
	tests := []struct {
		freq      uint64
		prescaler uint32
		max       uint64
		elapsed   time.Duration
		want      uint64
	}{
		{1_000_000, 1, 0, time.Second, 1_000_000},
		{1_000_000, 4, 0, time.Second, 250_000},
		{1000, 1, 999, 1500 * time.Millisecond, 500},
		{1_000_000_000, 1, 0, 100 * 365 * 24 * time.Hour, uint64(100 * 365 * 24 * time.Hour)},
	}
	for _, tt := range tests {
		d := New(tt.freq, tt.prescaler, tt.max)
		if got := d.ticks(tt.elapsed); got != tt.want {
			t.Errorf("ticks(%v) = %d; want %d", tt.elapsed, got, tt.want)
		}
	}
}

func TestArm(t *testing.T) {
	c := New(1_000_000, 1, 0).Channel(2)
	if err := c.Arm(1000); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Arm without notification = %v; want %v", err, ErrDisabled)
	}
	fired := make(chan struct{}, 1)
	c.EnableNotification(func() { fired <- struct{}{} })
	if err := c.Arm(1000); err != nil {
		t.Fatalf("Arm() = %v", err)
	}
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatalf("notification did not run")
	}
	if c.Running() {
		t.Errorf("channel still running after expiry")
	}
	if c.Disarm() {
		t.Errorf("Disarm() after expiry = true; want false")
	}
}

func TestArmRunning(t *testing.T) {
	c := New(1000, 1, 0).Channel(0)
	c.EnableNotification(func() {})
	if err := c.Arm(uint64(time.Hour)); err != nil {
		t.Fatalf("Arm() = %v", err)
	}
	if err := c.Arm(1); !errors.Is(err, ErrRunning) {
		t.Errorf("second Arm() = %v; want %v", err, ErrRunning)
	}
	if !c.Disarm() {
		t.Errorf("Disarm() of a running channel = false; want true")
	}
	if c.Running() {
		t.Errorf("channel running after Disarm")
	}
	if err := c.Arm(uint64(time.Hour)); err != nil {
		t.Errorf("Arm after Disarm = %v", err)
	}
	c.Disarm()
}

func TestChannelIdentity(t *testing.T) {
	d := New(1000, 1, 0)
	if d.Channel(1) != d.Channel(1) {
		t.Errorf("Channel(1) returned different channels")
	}
	if d.Channel(1) == d.Channel(2) {
		t.Errorf("Channel(1) and Channel(2) are the same")
	}
}
