package measurements

import (
	"example.com/synctime/base/timebase"
)

// SyncHead is the record table header of a synchronized time base.
type SyncHead struct {
	TimeDomain  timebase.ID
	HWFrequency uint32
	HWPrescaler uint32
}

// SyncBlock is one sample taken directly after a synchronized time base
// accepted a new global time.
type SyncBlock struct {
	GlbSeconds          uint32
	GlbNanoseconds      uint32
	Status              timebase.Status
	VirtualLocalTimeLow uint32
	RateDeviation       timebase.RateDeviation
	LocSeconds          uint32
	LocNanoseconds      uint32
	PathDelay           uint32
}

type OffsetHead struct {
	TimeDomain timebase.ID
}

type OffsetBlock struct {
	GlbSeconds     uint32
	GlbNanoseconds uint32
	Status         timebase.Status
}
