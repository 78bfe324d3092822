//go:build linux

package phc

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"example.com/synctime/base/timebase"
	"example.com/synctime/base/unixutil"
)

// Clock reads a PTP hardware clock, e.g. the clock of an Ethernet
// controller.
type Clock struct {
	// dev keeps the file, and hence the clock id, valid.
	dev *os.File
	id  int32
}

var _ timebase.LocalClock = (*Clock)(nil)

func Open(path string) (*Clock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	// See https://github.com/torvalds/linux/blob/master/tools/testing/selftests/ptp/testptp.c
	id := int32((^int(f.Fd()) << 3) | 3)
	c := &Clock{dev: f, id: id}
	if _, err := c.Now(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return c, nil
}

func (c *Clock) Now() (timebase.VirtualLocalTime, error) {
	var ts unix.Timespec
	err := unix.ClockGettime(c.id, &ts)
	if err != nil {
		return 0, err
	}
	return timebase.VirtualLocalTime(unixutil.NsecFromTimespec(ts)), nil
}

func (c *Clock) Close() error { return c.dev.Close() }
