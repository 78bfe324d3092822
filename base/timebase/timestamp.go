package timebase

import (
	"fmt"
)

const (
	NanosecondsPerSecond = 1_000_000_000

	// MaxSeconds is the largest value of the 48 bit seconds field.
	MaxSeconds = 1<<48 - 1

	MaxUserDataLength = 3
)

type (
	ID         uint16
	CustomerID uint16

	// RateDeviation is a rate deviation in ppm.
	RateDeviation int16

	// TimeDiff is a signed time difference in nanoseconds.
	TimeDiff int32
)

// TimeStamp is an instant on the global clock of a time base. The invariant
// Nanoseconds < 1e9 holds for every value produced by this module.
type TimeStamp struct {
	Nanoseconds uint32
	Seconds     uint32
	SecondsHi   uint16
	Status      Status
}

func NewTimeStamp(seconds uint64, nanoseconds uint32) TimeStamp {
	if seconds > MaxSeconds {
		panic("unexpected seconds value")
	}
	if nanoseconds >= NanosecondsPerSecond {
		panic("unexpected nanoseconds value")
	}
	return TimeStamp{
		Nanoseconds: nanoseconds,
		Seconds:     uint32(seconds),
		SecondsHi:   uint16(seconds >> 32),
	}
}

// Sec returns the full 48 bit seconds part.
func (t TimeStamp) Sec() uint64 {
	return uint64(t.SecondsHi)<<32 | uint64(t.Seconds)
}

func (t TimeStamp) Valid() bool {
	return t.Nanoseconds < NanosecondsPerSecond
}

func (t TimeStamp) String() string {
	return fmt.Sprintf("%d.%09ds[%s]", t.Sec(), t.Nanoseconds, t.Status)
}

type TimeStampExtended struct {
	Nanoseconds uint32
	Seconds     uint64
	Status      Status
}

func (t TimeStamp) Extended() TimeStampExtended {
	return TimeStampExtended{
		Nanoseconds: t.Nanoseconds,
		Seconds:     t.Sec(),
		Status:      t.Status,
	}
}

// VirtualLocalTime is a free running nanosecond counter without epoch. Only
// differences of two values of the same source are meaningful.
type VirtualLocalTime uint64

func NewVirtualLocalTime(lo, hi uint32) VirtualLocalTime {
	return VirtualLocalTime(uint64(hi)<<32 | uint64(lo))
}

func (t VirtualLocalTime) Lo() uint32 { return uint32(t) }

func (t VirtualLocalTime) Hi() uint32 { return uint32(t >> 32) }

// TimeTuple is the anchor from which the current time of a time base is
// extrapolated.
type TimeTuple struct {
	GlobalTime       TimeStamp
	VirtualLocalTime VirtualLocalTime
}

type UserData struct {
	Length uint8
	Bytes  [MaxUserDataLength]byte
}

func (d UserData) Valid() bool {
	return d.Length <= MaxUserDataLength
}

type Measurement struct {
	PathDelay uint32
}

// Offset is a signed offset of an offset time base relative to its
// underlying synchronized time base.
type Offset struct {
	Value    TimeStamp
	Negative bool
}
