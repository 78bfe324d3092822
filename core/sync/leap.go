package sync

import (
	"math"

	"example.com/synctime/base/timebase"
	"example.com/synctime/base/timemath"
	"example.com/synctime/core/config"
)

type leapState struct {
	valid bool
	jump  timebase.TimeDiff
	// Remaining updates until the leap flags clear.
	future, past       uint16
	futureSet, pastSet bool
}

// detect compares the received time rx with the extrapolated time cur and
// reports whether a leap beyond the configured thresholds occurred.
func (l *leapState) detect(cfg *config.TimeBaseConfig, cur, rx timebase.TimeStamp) (future, past bool) {
	d, negative := timemath.Diff(rx, cur)
	ns, err := timemath.Nanoseconds(d)
	if err != nil {
		ns = math.MaxUint64
	}
	l.valid = true
	l.jump = timemath.SaturatedDiff(rx, cur)

	thf, thp := uint64(cfg.TimeLeapFutureThreshold.D()), uint64(cfg.TimeLeapPastThreshold.D())
	future = !negative && thf != 0 && ns > thf
	past = negative && thp != 0 && ns > thp
	l.futureSet = decay(&l.future, future, cfg.ClearTimeLeapCount)
	l.pastSet = decay(&l.past, past, cfg.ClearTimeLeapCount)
	return future, past
}

func decay(count *uint16, leap bool, clear uint16) bool {
	if leap {
		*count = clear
		return true
	}
	if *count == 0 {
		return false
	}
	*count--
	return *count != 0
}

func (l *leapState) status() timebase.Status {
	var st timebase.Status
	if l.futureSet {
		st |= timebase.StatusTimeLeapFuture
	}
	if l.pastSet {
		st |= timebase.StatusTimeLeapPast
	}
	return st
}

func (l *leapState) clear() {
	l.future, l.past = 0, 0
	l.futureSet, l.pastSet = false, false
}

// GetTimeLeap returns the signed difference between the received and the
// extrapolated global time of the last update of time base id.
func (e *Engine) GetTimeLeap(id timebase.ID) (timebase.TimeDiff, error) {
	s, err := e.slot(id)
	if err != nil {
		return 0, err
	}
	if config.IsPureID(id) {
		return 0, ErrInvalidTimeBaseID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.leap.valid {
		return 0, ErrNotAvailable
	}
	return s.leap.jump, nil
}
