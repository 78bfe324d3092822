//go:build !linux

package phc

import (
	"example.com/synctime/base/timebase"
)

type Clock struct{}

var _ timebase.LocalClock = (*Clock)(nil)

func Open(path string) (*Clock, error) {
	return nil, ErrUnsupported
}

func (c *Clock) Now() (timebase.VirtualLocalTime, error) {
	return 0, ErrUnsupported
}

func (c *Clock) Close() error { return nil }
