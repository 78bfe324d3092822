//go:build linux

package clock

import (
	"golang.org/x/sys/unix"

	"github.com/tklauser/go-sysconf"

	"example.com/synctime/base/timebase"
	"example.com/synctime/base/unixutil"
)

// SystemClock samples CLOCK_MONOTONIC_RAW, which is not affected by NTP
// adjustments of the system clock.
type SystemClock struct{}

var _ timebase.LocalClock = SystemClock{}

func (SystemClock) Now() (timebase.VirtualLocalTime, error) {
	var ts unix.Timespec
	err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts)
	if err != nil {
		return 0, err
	}
	return timebase.VirtualLocalTime(unixutil.NsecFromTimespec(ts)), nil
}

// OsTicks is the kernel clock tick counter as returned by times(2).
type OsTicks struct{}

var _ TickSource = OsTicks{}

func (OsTicks) Ticks() (uint64, error) {
	var tms unix.Tms
	t, err := unix.Times(&tms)
	if err != nil {
		return 0, err
	}
	return uint64(t), nil
}

// OsTickFrequency returns the frequency of OsTicks in Hz.
func OsTickFrequency() (uint64, error) {
	n, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// OsTickMax is the largest value returned by OsTicks.
const OsTickMax = uint64(^uintptr(0))
