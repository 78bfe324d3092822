// Package shm publishes time base offsets to readers in other processes.
//
// A segment starts with a header of two words, the layout version and the
// number of entries, followed by one entry of eight 32-bit words per time
// base:
//
//	0 write begin counter
//	1 time base id | offset sign << 16 | status << 24
//	2 offset seconds
//	3 offset seconds hi
//	4 offset nanoseconds
//	5 rate deviation (ppm, two's complement)
//	6 reserved
//	7 write end counter
//
// The offset is the global time minus the virtual local time at the anchor.
// A single writer per entry increments the begin counter, writes the
// payload and then sets the end counter to the begin counter. Readers
// accept a snapshot only if begin and end were equal before the read and
// begin did not change during it.
package shm

import (
	"errors"
	"sync/atomic"

	"example.com/synctime/base/timebase"
)

const (
	Version = 1

	headerWords = 2
	entryWords  = 8

	maxReadRetries = 8
)

const (
	wBegin = iota
	wID
	wSec
	wSecHi
	wNsec
	wRate
	wReserved
	wEnd
)

var (
	ErrVersion  = errors.New("unexpected shared memory layout version")
	errNoSample = errors.New("shared memory entry temporarily unavailable")
)

type Entry struct {
	ID            timebase.ID
	Offset        timebase.Offset
	Status        timebase.Status
	RateDeviation timebase.RateDeviation
}

type Segment struct {
	words  []uint32
	n      int
	detach func() error
}

// SegmentSize returns the size in bytes of a segment with n entries.
func SegmentSize(n int) int {
	return 4 * (headerWords + n*entryWords)
}

// NewSegment returns a process-local segment with n entries.
func NewSegment(n int) *Segment {
	s := &Segment{words: make([]uint32, headerWords+n*entryWords), n: n}
	s.init()
	return s
}

func (s *Segment) init() {
	atomic.StoreUint32(&s.words[1], uint32(s.n))
	atomic.StoreUint32(&s.words[0], Version)
}

func (s *Segment) Len() int { return s.n }

func (s *Segment) entry(i int) []uint32 {
	if i < 0 || i >= s.n {
		panic("unexpected shared memory entry index")
	}
	off := headerWords + i*entryWords
	return s.words[off : off+entryWords]
}

// Write publishes e in entry i. Write must not be called concurrently for the
// same entry.
func (s *Segment) Write(i int, e Entry) {
	w := s.entry(i)
	seq := atomic.LoadUint32(&w[wBegin]) + 1
	atomic.StoreUint32(&w[wBegin], seq)

	id := uint32(e.ID)
	if e.Offset.Negative {
		id |= 1 << 16
	}
	id |= uint32(e.Status) << 24
	atomic.StoreUint32(&w[wID], id)
	atomic.StoreUint32(&w[wSec], e.Offset.Value.Seconds)
	atomic.StoreUint32(&w[wSecHi], uint32(e.Offset.Value.SecondsHi))
	atomic.StoreUint32(&w[wNsec], e.Offset.Value.Nanoseconds)
	atomic.StoreUint32(&w[wRate], uint32(int32(e.RateDeviation)))

	atomic.StoreUint32(&w[wEnd], seq)
}

// Read returns a consistent snapshot of entry i.
func (s *Segment) Read(i int) (Entry, error) {
	w := s.entry(i)
	for n := 0; n != maxReadRetries; n++ {
		b := atomic.LoadUint32(&w[wBegin])
		if atomic.LoadUint32(&w[wEnd]) != b {
			continue
		}
		id := atomic.LoadUint32(&w[wID])
		sec := atomic.LoadUint32(&w[wSec])
		secHi := atomic.LoadUint32(&w[wSecHi])
		nsec := atomic.LoadUint32(&w[wNsec])
		rate := atomic.LoadUint32(&w[wRate])
		if atomic.LoadUint32(&w[wBegin]) != b {
			continue
		}
		return Entry{
			ID: timebase.ID(id & 0xffff),
			Offset: timebase.Offset{
				Value: timebase.TimeStamp{
					Nanoseconds: nsec,
					Seconds:     sec,
					SecondsHi:   uint16(secHi),
				},
				Negative: id&(1<<16) != 0,
			},
			Status:        timebase.Status(id >> 24),
			RateDeviation: timebase.RateDeviation(int32(rate)),
		}, nil
	}
	return Entry{}, errNoSample
}

// Sequence returns the write end counter of entry i.
func (s *Segment) Sequence(i int) uint32 {
	return atomic.LoadUint32(&s.entry(i)[wEnd])
}

func (s *Segment) Close() error {
	if s.detach == nil {
		return nil
	}
	err := s.detach()
	s.detach = nil
	s.words = nil
	return err
}
