package sync

import (
	"go.uber.org/zap"

	"example.com/synctime/base/timebase"
	coretb "example.com/synctime/core/timebase"
)

// result collects what happened during one locked update of a time base so
// that metrics, logging and notification can run after unlocking.
type result struct {
	before, after timebase.Status
	events        timebase.Events
	deviation     timebase.RateDeviation

	accepted        bool
	leapFuture      bool
	leapPast        bool
	jump            timebase.TimeDiff
	rate            rateResult
	rateUpdated     bool
	offsetCorrected bool
	timedOut        bool
	published       bool
}

// resultLocked computes the notification events of a status transition,
// masks them and accumulates them for polling.
func (e *Engine) resultLocked(s *slot, before, after timebase.Status, extra timebase.Events) result {
	ev := (timebase.StatusEvents(before, after) | extra) & s.cfg.NotificationMask
	s.pending |= ev
	return result{before: before, after: after, events: ev, deviation: s.rate.deviation}
}

func (e *Engine) finish(s *slot, r result) {
	lbl := label(s.entry.ID)
	if r.accepted {
		e.m.updates.WithLabelValues(lbl).Inc()
	}
	if r.leapFuture || r.leapPast {
		e.m.leaps.WithLabelValues(lbl).Inc()
		e.log.Info("time leap detected", timeBaseField(s),
			zap.Bool("future", r.leapFuture), zap.Int32("jump", int32(r.jump)))
	}
	if r.rate.completed != 0 {
		e.m.rateCorrections.WithLabelValues(lbl).Add(float64(r.rate.completed))
	}
	if r.rate.discarded != 0 {
		e.m.rateDiscarded.WithLabelValues(lbl).Add(float64(r.rate.discarded))
		e.log.Debug("discarded rate measurements", timeBaseField(s),
			zap.Int("count", r.rate.discarded))
	}
	if r.rateUpdated {
		e.m.rateDeviation.WithLabelValues(lbl).Set(float64(r.deviation))
	}
	if r.offsetCorrected {
		e.m.offsetCorrection.WithLabelValues(lbl).Inc()
	}
	if r.timedOut {
		e.m.timeouts.WithLabelValues(lbl).Inc()
		e.log.Info("time base timed out", timeBaseField(s))
	}
	if r.published {
		e.m.shmWrites.WithLabelValues(lbl).Inc()
	}
	if r.before != r.after {
		e.log.Debug("time base status changed", timeBaseField(s),
			zap.Stringer("from", r.before), zap.Stringer("to", r.after))
	}
	if r.events != 0 && e.cb.StatusNotification != nil {
		e.cb.StatusNotification(s.entry.ID, r.events)
	}
}

func (e *Engine) reject(s *slot, err error) error {
	e.m.rejected.WithLabelValues(label(s.entry.ID)).Inc()
	e.log.Debug("rejected global time update", timeBaseField(s), zap.Error(err))
	return err
}

// GetTimeBaseStatus returns the status of time base id. For offset time
// bases syncStatus is the status of the underlying synchronized time base;
// the GLOBAL_TIME_BASE bit of offsetStatus is only set if both are
// synchronized. For other time bases offsetStatus is zero.
func (e *Engine) GetTimeBaseStatus(id timebase.ID) (syncStatus, offsetStatus timebase.Status, err error) {
	s, err := e.slot(id)
	if err != nil {
		return 0, 0, err
	}
	if s.sync == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.status, 0, nil
	}
	s.sync.mu.Lock()
	base := s.sync.status
	s.sync.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return base, s.offsetStatusLocked(base), nil
}

// GetNotificationEvents returns and clears the events of time base id not
// yet read.
func (e *Engine) GetNotificationEvents(id timebase.ID) (timebase.Events, error) {
	s, err := e.slot(id)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.pending
	s.pending = 0
	return ev, nil
}

func (e *Engine) GetTimeBaseUpdateCounter(id timebase.ID) (uint8, error) {
	s, err := e.slot(id)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter, nil
}

// GetMasterConfig reports whether time base id is configured as system wide
// global time master.
func (e *Engine) GetMasterConfig(id timebase.ID) (bool, error) {
	s, err := e.slot(id)
	if err != nil {
		return false, err
	}
	return s.entry.Role == coretb.RoleMaster && s.cfg.SystemWideMaster, nil
}
