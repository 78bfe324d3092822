package sync

import (
	"example.com/synctime/base/timebase"
	"example.com/synctime/base/timemath"
)

// offsetCorrection applies rate +/- roc from the anchor until end.
type offsetCorrection struct {
	active   bool
	roc      timemath.Factor
	negative bool
	end      timebase.VirtualLocalTime
}

// elapsed returns the global time passed elapsed nanoseconds of local time
// after the anchor v0.
func (oc *offsetCorrection) elapsed(rate timemath.Factor, v0 timebase.VirtualLocalTime,
	elapsed uint64) (uint64, error) {
	adj := rate.Adjust(oc.roc, oc.negative)
	span := uint64(oc.end - v0)
	if elapsed <= span {
		return adj.Scale(elapsed)
	}
	a, err := adj.Scale(span)
	if err != nil {
		return 0, err
	}
	b, err := rate.Scale(elapsed - span)
	if err != nil {
		return 0, err
	}
	if a+b < a {
		return 0, timemath.ErrOverflow
	}
	return a + b, nil
}

// currentLocked extrapolates the global time of a synchronized or pure time
// base at vlt. Samples older than the anchor yield the anchor.
func (s *slot) currentLocked(vlt timebase.VirtualLocalTime) (timebase.TimeStamp, error) {
	var elapsed uint64
	if vlt > s.anchor.VirtualLocalTime {
		elapsed = uint64(vlt - s.anchor.VirtualLocalTime)
	}
	var ns uint64
	var err error
	if s.oc.active {
		ns, err = s.oc.elapsed(s.rate.factor, s.anchor.VirtualLocalTime, elapsed)
	} else {
		ns, err = s.rate.factor.Scale(elapsed)
	}
	if err != nil {
		return timebase.TimeStamp{}, err
	}
	t, err := timemath.Sum(s.anchor.GlobalTime, timemath.FromNanoseconds(ns))
	if err != nil {
		return timebase.TimeStamp{}, err
	}
	t.Status = s.status
	return t, nil
}

func applyOffset(t timebase.TimeStamp, o timebase.Offset) (timebase.TimeStamp, error) {
	if o.Negative {
		return timemath.Sub(t, o.Value)
	}
	return timemath.Sum(t, o.Value)
}

// syncTime returns the current time of the synchronized time base of the
// offset time base s.
func (s *slot) syncTime(vlt timebase.VirtualLocalTime) (timebase.TimeStamp, error) {
	s.sync.mu.Lock()
	defer s.sync.mu.Unlock()
	return s.sync.currentLocked(vlt)
}

// offsetStatusLocked returns the status of the offset time base s given the
// status of its synchronized time base.
func (s *slot) offsetStatusLocked(base timebase.Status) timebase.Status {
	st := s.status
	if !base.Synchronized() {
		st &^= timebase.StatusGlobalTimeBase
	}
	return st
}

func (e *Engine) current(s *slot, vlt timebase.VirtualLocalTime) (timebase.TimeStamp, timebase.UserData, error) {
	if s.sync == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		t, err := s.currentLocked(vlt)
		if err != nil {
			return timebase.TimeStamp{}, timebase.UserData{}, overflow(err)
		}
		return t, s.userData, nil
	}

	base, err := s.syncTime(vlt)
	if err != nil {
		return timebase.TimeStamp{}, timebase.UserData{}, overflow(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := applyOffset(base, s.offset)
	if err != nil {
		return timebase.TimeStamp{}, timebase.UserData{}, overflow(err)
	}
	t.Status = s.offsetStatusLocked(base.Status)
	return t, s.userData, nil
}

// GetCurrentTime returns the current global time and user data of time base
// id.
func (e *Engine) GetCurrentTime(id timebase.ID) (timebase.TimeStamp, timebase.UserData, error) {
	s, err := e.slot(id)
	if err != nil {
		return timebase.TimeStamp{}, timebase.UserData{}, err
	}
	vlt, err := e.localTime(s)
	if err != nil {
		return timebase.TimeStamp{}, timebase.UserData{}, err
	}
	return e.current(s, vlt)
}

func (e *Engine) GetCurrentTimeExtended(id timebase.ID) (timebase.TimeStampExtended, timebase.UserData, error) {
	t, ud, err := e.GetCurrentTime(id)
	if err != nil {
		return timebase.TimeStampExtended{}, timebase.UserData{}, err
	}
	return t.Extended(), ud, nil
}

// BusGetCurrentTime returns the current global time together with the
// virtual local time it was computed for.
func (e *Engine) BusGetCurrentTime(id timebase.ID) (timebase.TimeTuple, timebase.UserData, error) {
	s, err := e.slot(id)
	if err != nil {
		return timebase.TimeTuple{}, timebase.UserData{}, err
	}
	vlt, err := e.localTime(s)
	if err != nil {
		return timebase.TimeTuple{}, timebase.UserData{}, err
	}
	t, ud, err := e.current(s, vlt)
	if err != nil {
		return timebase.TimeTuple{}, timebase.UserData{}, err
	}
	return timebase.TimeTuple{GlobalTime: t, VirtualLocalTime: vlt}, ud, nil
}

func (e *Engine) GetCurrentVirtualLocalTime(id timebase.ID) (timebase.VirtualLocalTime, error) {
	s, err := e.slot(id)
	if err != nil {
		return 0, err
	}
	return e.localTime(s)
}
