package sync

import (
	"example.com/synctime/base/timebase"
	"example.com/synctime/base/timemath"
	"example.com/synctime/core/measurements"
	coretb "example.com/synctime/core/timebase"
)

func validate(ts timebase.TimeStamp, ud *timebase.UserData) error {
	if !ts.Valid() {
		return ErrInvalidTimestamp
	}
	if ud != nil && !ud.Valid() {
		return ErrInvalidUserData
	}
	return nil
}

// BusSetGlobalTime accepts a global time received by a bus module. ts was
// valid at the virtual local time local. ud replaces the user data unless
// nil. On error the time base is left unchanged.
func (e *Engine) BusSetGlobalTime(id timebase.ID, ts timebase.TimeStamp, ud *timebase.UserData,
	m timebase.Measurement, local timebase.VirtualLocalTime) error {
	s, err := e.slot(id)
	if err != nil {
		return err
	}
	if err := validate(ts, ud); err != nil {
		return e.reject(s, err)
	}
	if !s.entry.Role.Slave() {
		return e.reject(s, ErrNotConnected)
	}
	var r result
	if s.sync != nil {
		r, err = e.busSetOffset(s, ts, ud, local)
	} else {
		r, err = e.busSet(s, ts, ud, m, local)
	}
	if err != nil {
		return e.reject(s, err)
	}
	e.finish(s, r)
	return nil
}

func receivedStatus(before, rx timebase.Status, leap timebase.Status) timebase.Status {
	after := before | timebase.StatusGlobalTimeBase
	after &^= timebase.StatusTimeout | timebase.StatusSyncToGateway | timebase.StatusTimeLeap
	return after | rx&timebase.StatusSyncToGateway | leap
}

func (e *Engine) busSet(s *slot, ts timebase.TimeStamp, ud *timebase.UserData,
	m timebase.Measurement, local timebase.VirtualLocalTime) (result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.status
	synced := before.Synchronized()
	var cur timebase.TimeStamp
	if synced {
		var err error
		cur, err = s.currentLocked(local)
		if err != nil {
			return result{}, overflow(err)
		}
	}
	rx := ts.Status
	ts.Status = 0

	anchor := timebase.TimeTuple{GlobalTime: ts, VirtualLocalTime: local}
	var oc offsetCorrection
	var leapFuture, leapPast bool
	if synced {
		leapFuture, leapPast = s.leap.detect(s.cfg, cur, ts)
		if !leapFuture && !leapPast {
			var ok bool
			oc, ok = s.offsetCorrectionFor(cur, ts, local)
			if ok {
				anchor.GlobalTime = cur
				anchor.GlobalTime.Status = 0
			}
		}
	}
	after := receivedStatus(before, rx, s.leap.status())

	restart := !synced || leapFuture || leapPast ||
		before.Has(timebase.StatusTimeout) ||
		before&timebase.StatusSyncToGateway != after&timebase.StatusSyncToGateway
	rr := s.rate.update(timebase.TimeTuple{GlobalTime: ts, VirtualLocalTime: local}, restart)

	s.anchor = anchor
	s.oc = oc
	s.status = after
	if ud != nil {
		s.userData = *ud
	}
	s.counter++
	s.sinceUpdate = 0
	if s.syncRecords != nil {
		s.syncRecords.Append(measurements.SyncBlock{
			GlbSeconds:          ts.Seconds,
			GlbNanoseconds:      ts.Nanoseconds,
			Status:              after,
			VirtualLocalTimeLow: local.Lo(),
			RateDeviation:       s.rate.deviation,
			LocSeconds:          cur.Seconds,
			LocNanoseconds:      cur.Nanoseconds,
			PathDelay:           m.PathDelay,
		})
	}

	extra := timebase.EventResync
	if rr.completed != 0 {
		extra |= timebase.EventRateCorrection
	}
	r := e.resultLocked(s, before, after, extra)
	r.accepted = true
	r.leapFuture, r.leapPast, r.jump = leapFuture, leapPast, s.leap.jump
	r.rate = rr
	r.rateUpdated = rr.completed != 0
	r.offsetCorrected = oc.active
	r.published = e.publishLocked(s, s.anchor.GlobalTime, s.anchor.VirtualLocalTime)
	return r, nil
}

// offsetCorrectionFor returns the correction absorbing the difference between
// the extrapolated time cur and the received time rx, if it is below the
// jump threshold.
func (s *slot) offsetCorrectionFor(cur, rx timebase.TimeStamp,
	local timebase.VirtualLocalTime) (offsetCorrection, bool) {
	threshold := uint64(s.cfg.OffsetCorrectionJumpThreshold.D())
	interval := uint64(s.cfg.OffsetCorrectionAdaptionInterval.D())
	if threshold == 0 || interval == 0 {
		return offsetCorrection{}, false
	}
	d, negative := timemath.Diff(rx, cur)
	ns, err := timemath.Nanoseconds(d)
	if err != nil || ns == 0 || ns >= threshold {
		return offsetCorrection{}, false
	}
	roc, err := timemath.Ratio(ns, interval)
	if err != nil {
		return offsetCorrection{}, false
	}
	end, err := timemath.AddVirtualLocalTime(local, interval)
	if err != nil {
		return offsetCorrection{}, false
	}
	return offsetCorrection{active: true, roc: roc, negative: negative, end: end}, true
}

func (e *Engine) busSetOffset(s *slot, ts timebase.TimeStamp, ud *timebase.UserData,
	local timebase.VirtualLocalTime) (result, error) {
	base, err := s.syncTime(local)
	if err != nil {
		return result{}, overflow(err)
	}
	base.Status = 0
	rx := ts.Status
	ts.Status = 0

	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.status
	var leapFuture, leapPast bool
	if before.Synchronized() {
		if cur, err := applyOffset(base, s.offset); err == nil {
			leapFuture, leapPast = s.leap.detect(s.cfg, cur, ts)
		}
	}
	after := receivedStatus(before, rx, s.leap.status())

	d, negative := timemath.Diff(ts, base)
	s.offset = timebase.Offset{Value: d, Negative: negative}
	s.status = after
	if ud != nil {
		s.userData = *ud
	}
	s.counter++
	s.sinceUpdate = 0
	if s.offsetRecords != nil {
		s.offsetRecords.Append(measurements.OffsetBlock{
			GlbSeconds:     ts.Seconds,
			GlbNanoseconds: ts.Nanoseconds,
			Status:         after,
		})
	}

	r := e.resultLocked(s, before, after, timebase.EventResync)
	r.accepted = true
	r.leapFuture, r.leapPast, r.jump = leapFuture, leapPast, s.leap.jump
	r.published = e.publishLocked(s, ts, local)
	return r, nil
}

// SetGlobalTime sets the global time of a master or pure time base and
// requests its transmission by incrementing the update counter.
func (e *Engine) SetGlobalTime(id timebase.ID, ts timebase.TimeStamp, ud *timebase.UserData) error {
	return e.setGlobalTime(id, ts, ud, true)
}

// UpdateGlobalTime is SetGlobalTime without a transmission request.
func (e *Engine) UpdateGlobalTime(id timebase.ID, ts timebase.TimeStamp, ud *timebase.UserData) error {
	return e.setGlobalTime(id, ts, ud, false)
}

func (e *Engine) master(id timebase.ID) (*slot, error) {
	s, err := e.slot(id)
	if err != nil {
		return nil, err
	}
	if s.entry.Role.Slave() && s.entry.Kind != coretb.KindPure {
		return nil, ErrAlreadyConnected
	}
	return s, nil
}

func (e *Engine) setGlobalTime(id timebase.ID, ts timebase.TimeStamp, ud *timebase.UserData, bump bool) error {
	s, err := e.master(id)
	if err != nil {
		return err
	}
	if err := validate(ts, ud); err != nil {
		return e.reject(s, err)
	}
	vlt, err := e.localTime(s)
	if err != nil {
		return e.reject(s, err)
	}
	ts.Status = 0
	if s.sync != nil {
		base, err := s.syncTime(vlt)
		if err != nil {
			return e.reject(s, overflow(err))
		}
		base.Status = 0
		d, negative := timemath.Diff(ts, base)
		e.originate(s, ud, bump, func() {
			s.offset = timebase.Offset{Value: d, Negative: negative}
		}, ts, vlt)
		return nil
	}
	e.originate(s, ud, bump, func() {
		s.anchor = timebase.TimeTuple{GlobalTime: ts, VirtualLocalTime: vlt}
		s.oc = offsetCorrection{}
	}, ts, vlt)
	return nil
}

// originate commits a locally originated global time. set stores the new
// time under the slot lock.
func (e *Engine) originate(s *slot, ud *timebase.UserData, bump bool, set func(),
	ts timebase.TimeStamp, vlt timebase.VirtualLocalTime) {
	s.mu.Lock()
	before := s.status
	set()
	after := before | timebase.StatusGlobalTimeBase
	after &^= timebase.StatusTimeout | timebase.StatusSyncToGateway | timebase.StatusTimeLeap
	s.status = after
	s.leap.clear()
	if ud != nil {
		s.userData = *ud
	}
	if bump {
		s.counter++
	}
	s.sinceUpdate = 0
	r := e.resultLocked(s, before, after, timebase.EventResync)
	r.accepted = true
	r.published = e.publishLocked(s, ts, vlt)
	s.mu.Unlock()
	e.finish(s, r)
}

// SetOffset sets the offset of master offset time base id relative to its
// synchronized time base.
func (e *Engine) SetOffset(id timebase.ID, offset timebase.TimeStamp, ud *timebase.UserData) error {
	s, err := e.master(id)
	if err != nil {
		return err
	}
	if s.sync == nil {
		return ErrInvalidTimeBaseID
	}
	if err := validate(offset, ud); err != nil {
		return e.reject(s, err)
	}
	vlt, err := e.localTime(s)
	if err != nil {
		return e.reject(s, err)
	}
	base, err := s.syncTime(vlt)
	if err != nil {
		return e.reject(s, overflow(err))
	}
	offset.Status = 0
	ts, err := timemath.Sum(base, offset)
	if err != nil {
		return e.reject(s, overflow(err))
	}
	e.originate(s, ud, true, func() {
		s.offset = timebase.Offset{Value: offset}
	}, ts, vlt)
	return nil
}

// GetOffset returns the offset of offset time base id relative to its
// synchronized time base.
func (e *Engine) GetOffset(id timebase.ID) (timebase.Offset, error) {
	s, err := e.slot(id)
	if err != nil {
		return timebase.Offset{}, err
	}
	if s.sync == nil {
		return timebase.Offset{}, ErrInvalidTimeBaseID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.offset
	o.Value.Status = s.status
	return o, nil
}

// SetUserData replaces the user data of master time base id.
func (e *Engine) SetUserData(id timebase.ID, ud timebase.UserData) error {
	s, err := e.master(id)
	if err != nil {
		return err
	}
	if !ud.Valid() {
		return ErrInvalidUserData
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userData = ud
	return nil
}

// TriggerTimeTransmission requests the transmission of master time base id
// by incrementing its update counter.
func (e *Engine) TriggerTimeTransmission(id timebase.ID) error {
	s, err := e.master(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return nil
}
