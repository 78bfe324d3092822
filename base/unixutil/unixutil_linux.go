package unixutil

import (
	"golang.org/x/sys/unix"
)

// NsecFromTimespec returns ts as an unsigned nanosecond count. Clock values
// before the clock's epoch are reported as 0.
func NsecFromTimespec(ts unix.Timespec) uint64 {
	nsec := int64(ts.Sec)*1e9 + int64(ts.Nsec)
	if nsec < 0 {
		return 0
	}
	return uint64(nsec)
}
