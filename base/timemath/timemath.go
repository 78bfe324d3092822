package timemath

import (
	"errors"
	"math"
	"math/bits"

	"example.com/synctime/base/timebase"
)

const nsPerSec = timebase.NanosecondsPerSecond

var (
	ErrOverflow  = errors.New("arithmetic overflow")
	ErrUnderflow = errors.New("arithmetic underflow")
	ErrDivision  = errors.New("division by zero")
)

func fromParts(sec uint64, nsec uint32, status timebase.Status) (timebase.TimeStamp, error) {
	if sec > timebase.MaxSeconds {
		return timebase.TimeStamp{}, ErrOverflow
	}
	return timebase.TimeStamp{
		Nanoseconds: nsec,
		Seconds:     uint32(sec),
		SecondsHi:   uint16(sec >> 32),
		Status:      status,
	}, nil
}

// Sum returns a + b with the status of a.
func Sum(a, b timebase.TimeStamp) (timebase.TimeStamp, error) {
	nsec := a.Nanoseconds + b.Nanoseconds
	sec, carry := bits.Add64(a.Sec(), b.Sec(), 0)
	if carry != 0 {
		return timebase.TimeStamp{}, ErrOverflow
	}
	if nsec >= nsPerSec {
		nsec -= nsPerSec
		sec++
	}
	return fromParts(sec, nsec, a.Status)
}

// Sub returns a - b with the status of a. The caller must ensure a >= b.
func Sub(a, b timebase.TimeStamp) (timebase.TimeStamp, error) {
	if !GE(a, b) {
		return timebase.TimeStamp{}, ErrUnderflow
	}
	sec := a.Sec() - b.Sec()
	var nsec uint32
	if a.Nanoseconds >= b.Nanoseconds {
		nsec = a.Nanoseconds - b.Nanoseconds
	} else {
		nsec = a.Nanoseconds + nsPerSec - b.Nanoseconds
		sec--
	}
	return fromParts(sec, nsec, a.Status)
}

// GE reports whether a >= b. Status bits are ignored.
func GE(a, b timebase.TimeStamp) bool {
	sa, sb := a.Sec(), b.Sec()
	if sa != sb {
		return sa > sb
	}
	return a.Nanoseconds >= b.Nanoseconds
}

func Equal(a, b timebase.TimeStamp) bool {
	return a.Sec() == b.Sec() && a.Nanoseconds == b.Nanoseconds
}

// Diff returns |a - b| and whether a < b.
func Diff(a, b timebase.TimeStamp) (d timebase.TimeStamp, negative bool) {
	var err error
	if GE(a, b) {
		d, err = Sub(a, b)
	} else {
		d, err = Sub(b, a)
		negative = true
	}
	if err != nil {
		panic("unexpected subtraction failure")
	}
	d.Status = 0
	return d, negative
}

// Nanoseconds converts t into a nanosecond count.
func Nanoseconds(t timebase.TimeStamp) (uint64, error) {
	hi, lo := bits.Mul64(t.Sec(), nsPerSec)
	if hi != 0 {
		return 0, ErrOverflow
	}
	ns, carry := bits.Add64(lo, uint64(t.Nanoseconds), 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return ns, nil
}

// FromNanoseconds converts a nanosecond count into a time stamp. The result
// always fits the 48 bit seconds range.
func FromNanoseconds(ns uint64) timebase.TimeStamp {
	return timebase.TimeStamp{
		Nanoseconds: uint32(ns % nsPerSec),
		Seconds:     uint32(ns / nsPerSec),
		SecondsHi:   uint16((ns / nsPerSec) >> 32),
	}
}

func ToVirtualLocalTime(t timebase.TimeStamp) (timebase.VirtualLocalTime, error) {
	ns, err := Nanoseconds(t)
	return timebase.VirtualLocalTime(ns), err
}

func FromVirtualLocalTime(t timebase.VirtualLocalTime) timebase.TimeStamp {
	return FromNanoseconds(uint64(t))
}

func AddVirtualLocalTime(t timebase.VirtualLocalTime, ns uint64) (timebase.VirtualLocalTime, error) {
	sum, carry := bits.Add64(uint64(t), ns, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return timebase.VirtualLocalTime(sum), nil
}

// SubVirtualLocalTime returns a - b in nanoseconds.
func SubVirtualLocalTime(a, b timebase.VirtualLocalTime) (uint64, error) {
	if a < b {
		return 0, ErrUnderflow
	}
	return uint64(a - b), nil
}

// SaturatedDiff returns a - b in nanoseconds, saturated to the int32 range.
func SaturatedDiff(a, b timebase.TimeStamp) timebase.TimeDiff {
	d, negative := Diff(a, b)
	if d.Sec() > 2 {
		if negative {
			return math.MinInt32
		}
		return math.MaxInt32
	}
	ns := int64(d.Sec())*nsPerSec + int64(d.Nanoseconds)
	if negative {
		ns = -ns
	}
	switch {
	case ns > math.MaxInt32:
		return math.MaxInt32
	case ns < math.MinInt32:
		return math.MinInt32
	default:
		return timebase.TimeDiff(ns)
	}
}
