package sync

import (
	"errors"
	"slices"

	"go.uber.org/zap"

	"example.com/synctime/base/timebase"
	"example.com/synctime/base/timemath"
	"example.com/synctime/core/timer"
)

// StartTimer schedules a notification of customer c rel after the current
// time of time base id. A customer has at most one pending timer per time
// base.
func (e *Engine) StartTimer(id timebase.ID, c timebase.CustomerID, rel timebase.TimeStamp) error {
	s, err := e.slot(id)
	if err != nil {
		return err
	}
	if !rel.Valid() {
		return ErrInvalidTimestamp
	}
	if !s.hasTimers {
		return ErrServiceDisabled
	}
	if !slices.Contains(s.cfg.NotificationCustomers, c) {
		return ErrInvalidCustomer
	}
	vlt, err := e.localTime(s)
	if err != nil {
		return err
	}
	now, _, err := e.current(s, vlt)
	if err != nil {
		return err
	}
	rel.Status = 0
	err = e.sched.Start(id, c, now, rel)
	switch {
	case err == nil:
	case errors.Is(err, timer.ErrDuplicate):
		return ErrTimerPending
	case errors.Is(err, timer.ErrFull):
		return ErrTimerCapacity
	case errors.Is(err, timemath.ErrOverflow):
		return overflow(err)
	default:
		return err
	}
	e.m.timerStarts.WithLabelValues(label(id)).Inc()
	return nil
}

// TimerCallback handles the expiry of the hardware timer. Notifications are
// delivered by the next MainFunction.
func (e *Engine) TimerCallback() {
	if e.sched == nil {
		return
	}
	id, seq, ok := e.sched.Fired()
	if !ok || !e.up.Load() {
		return
	}
	s, err := e.slot(id)
	if err != nil {
		return
	}
	vlt, err := e.localTime(s)
	if err != nil {
		e.log.Info("failed to handle timer expiry", timeBaseField(s), zap.Error(err))
		return
	}
	now, _, err := e.current(s, vlt)
	if err != nil {
		e.log.Info("failed to handle timer expiry", timeBaseField(s), zap.Error(err))
		return
	}
	e.sched.Callback(seq, now)
}

func (e *Engine) tickTimers() {
	if e.sched == nil {
		return
	}
	now := make(map[timebase.ID]timebase.TimeStamp)
	for _, s := range e.slots {
		if !s.hasTimers {
			continue
		}
		vlt, err := e.localTime(s)
		if err != nil {
			continue
		}
		t, _, err := e.current(s, vlt)
		if err != nil {
			continue
		}
		now[s.entry.ID] = t
	}
	for _, x := range e.sched.Tick(now) {
		lbl := label(x.TimeBase)
		e.m.timerExpirations.WithLabelValues(lbl).Inc()
		e.m.timerDeviation.WithLabelValues(lbl).Set(float64(x.Deviation))
		if e.cb.CustomerExpired != nil {
			e.cb.CustomerExpired(x.TimeBase, x.Customer, x.Deviation)
		}
	}
}

// GetTimerDeviationStats returns statistics of the absolute deviation of
// delivered customer timer expirations in nanoseconds.
func (e *Engine) GetTimerDeviationStats() (timer.Stats, error) {
	if !e.up.Load() {
		return timer.Stats{}, ErrUninitialized
	}
	if e.sched == nil {
		return timer.Stats{}, ErrServiceDisabled
	}
	return e.sched.DeviationStats(), nil
}
