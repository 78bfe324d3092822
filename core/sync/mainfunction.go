package sync

import (
	"go.uber.org/zap"

	"example.com/synctime/base/timebase"
)

// MainFunction performs the periodic maintenance of all time bases: timeout
// supervision, completion of offset corrections, shared memory refresh,
// record table flushing and customer timer delivery.
func (e *Engine) MainFunction() {
	if !e.up.Load() {
		return
	}
	for _, s := range e.slots {
		e.tick(s)
		e.flushRecords(s)
	}
	e.tickTimers()
}

func (e *Engine) tick(s *slot) {
	vlt, err := e.localTime(s)
	if err != nil {
		e.log.Debug("failed to supervise time base", timeBaseField(s), zap.Error(err))
		return
	}
	var base timebase.TimeStamp
	var baseErr error
	if s.sync != nil {
		base, baseErr = s.syncTime(vlt)
	}

	s.mu.Lock()
	before := s.status
	after := before
	timedOut := false
	if s.entry.Role.Slave() && s.timeoutTicks != 0 &&
		before.Synchronized() && !before.Has(timebase.StatusTimeout) {
		s.sinceUpdate++
		if s.sinceUpdate >= s.timeoutTicks {
			after |= timebase.StatusTimeout
			timedOut = true
		}
	}
	s.status = after

	if s.oc.active && vlt >= s.oc.end {
		if g, err := s.currentLocked(s.oc.end); err == nil {
			g.Status = 0
			s.anchor = timebase.TimeTuple{GlobalTime: g, VirtualLocalTime: s.oc.end}
		}
		s.oc = offsetCorrection{}
	}

	var published bool
	if s.sync == nil {
		published = e.publishLocked(s, s.anchor.GlobalTime, s.anchor.VirtualLocalTime)
	} else if baseErr == nil {
		if cur, err := applyOffset(base, s.offset); err == nil {
			published = e.publishLocked(s, cur, vlt)
		}
	}
	r := e.resultLocked(s, before, after, 0)
	s.mu.Unlock()

	r.timedOut = timedOut
	r.published = published
	e.finish(s, r)
}
