//go:build !linux

package clock

import (
	"time"

	"example.com/synctime/base/timebase"
)

const osTickHz = 1000

var start = time.Now()

type SystemClock struct{}

var _ timebase.LocalClock = SystemClock{}

func (SystemClock) Now() (timebase.VirtualLocalTime, error) {
	return timebase.VirtualLocalTime(time.Since(start)), nil
}

type OsTicks struct{}

var _ TickSource = OsTicks{}

func (OsTicks) Ticks() (uint64, error) {
	return uint64(time.Since(start) / (time.Second / osTickHz)), nil
}

func OsTickFrequency() (uint64, error) {
	return osTickHz, nil
}

const OsTickMax = ^uint64(0)
