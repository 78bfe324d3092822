package timebase

// LocalClock is a source of virtual local time. Implementations must return
// non-decreasing values and must be safe for concurrent use.
type LocalClock interface {
	Now() (VirtualLocalTime, error)
}
