package sync

import (
	"math"

	"example.com/synctime/base/timebase"
	"example.com/synctime/base/timemath"
	"example.com/synctime/core/config"
	coretb "example.com/synctime/core/timebase"
)

type interval struct {
	active bool
	start  timebase.TimeTuple
}

// rateState holds the rate correction factor of a time base and the
// staggered measurement intervals of slave rate correction.
type rateState struct {
	factor    timemath.Factor
	deviation timebase.RateDeviation
	valid     bool

	intervals []interval
	duration  uint64
	maxDev    uint16
}

type rateResult struct {
	completed int
	discarded int
}

func newRateState(cfg *config.TimeBaseConfig) rateState {
	r := rateState{factor: timemath.FactorOne}
	if d := cfg.RateCorrectionMeasurementDuration.D(); d > 0 {
		r.intervals = make([]interval, cfg.RateCorrectionsPerMeasurementDuration)
		r.duration = uint64(d)
		r.maxDev = cfg.MaxRateDeviation
	}
	return r
}

func (r *rateState) restart(sample timebase.TimeTuple) {
	for i := range r.intervals {
		r.intervals[i] = interval{}
	}
	if len(r.intervals) != 0 {
		r.intervals[0] = interval{active: true, start: sample}
	}
}

func (r *rateState) startedAt(v timebase.VirtualLocalTime) bool {
	for _, iv := range r.intervals {
		if iv.active && iv.start.VirtualLocalTime == v {
			return true
		}
	}
	return false
}

// update feeds a received time tuple into the measurement intervals.
func (r *rateState) update(sample timebase.TimeTuple, restart bool) rateResult {
	var res rateResult
	if len(r.intervals) == 0 {
		return res
	}
	if restart {
		r.restart(sample)
		return res
	}

	v := sample.VirtualLocalTime
	for i := range r.intervals {
		iv := &r.intervals[i]
		if !iv.active {
			continue
		}
		if v <= iv.start.VirtualLocalTime {
			iv.active = false
			res.discarded++
			continue
		}
		elapsed := uint64(v - iv.start.VirtualLocalTime)
		if elapsed < r.duration {
			continue
		}
		iv.active = false
		if elapsed <= 2*r.duration && r.apply(iv.start, sample, elapsed) {
			res.completed++
		} else {
			res.discarded++
		}
		if !r.startedAt(v) {
			*iv = interval{active: true, start: sample}
		}
	}

	// Start the next interval once all running ones are staggered enough.
	stagger := r.duration / uint64(len(r.intervals))
	for i := range r.intervals {
		if r.intervals[i].active {
			continue
		}
		for _, o := range r.intervals {
			if o.active && uint64(v-o.start.VirtualLocalTime) < stagger {
				return res
			}
		}
		r.intervals[i] = interval{active: true, start: sample}
		break
	}
	return res
}

func (r *rateState) apply(start, end timebase.TimeTuple, elapsed uint64) bool {
	if !timemath.GE(end.GlobalTime, start.GlobalTime) {
		return false
	}
	dg, err := timemath.Sub(end.GlobalTime, start.GlobalTime)
	if err != nil {
		return false
	}
	ns, err := timemath.Nanoseconds(dg)
	if err != nil {
		return false
	}
	f, err := timemath.Ratio(ns, elapsed)
	if err != nil {
		return false
	}
	ppm := f.PPM()
	if r.maxDev != 0 && timemath.ClampPPM(ppm, r.maxDev) != ppm {
		return false
	}
	r.factor = f
	r.deviation = timebase.RateDeviation(timemath.ClampPPM(ppm, math.MaxInt16))
	r.valid = true
	return true
}

// SetRateCorrection sets the rate deviation of master time base id. The
// deviation is limited to the configured maximum.
func (e *Engine) SetRateCorrection(id timebase.ID, dev timebase.RateDeviation) error {
	s, err := e.slot(id)
	if err != nil {
		return err
	}
	if s.entry.Kind == coretb.KindOffset {
		return ErrInvalidTimeBaseID
	}
	if s.entry.Role != coretb.RoleMaster {
		return ErrAlreadyConnected
	}
	if !s.cfg.MasterRateCorrection {
		return ErrServiceDisabled
	}
	vlt, err := e.localTime(s)
	if err != nil {
		return err
	}

	ppm := timemath.ClampPPM(int32(dev), s.cfg.MasterRateDeviationMax)
	var r result
	err = func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		cur, err := s.currentLocked(vlt)
		if err != nil {
			return overflow(err)
		}
		cur.Status = 0
		s.anchor = timebase.TimeTuple{GlobalTime: cur, VirtualLocalTime: vlt}
		s.rate.factor = timemath.FactorFromPPM(ppm)
		s.rate.deviation = timebase.RateDeviation(ppm)
		s.rate.valid = true
		r = e.resultLocked(s, s.status, s.status, timebase.EventRateCorrection)
		r.rateUpdated = true
		r.published = e.publishLocked(s, s.anchor.GlobalTime, s.anchor.VirtualLocalTime)
		return nil
	}()
	if err != nil {
		return err
	}
	e.finish(s, r)
	return nil
}

// GetRateDeviation returns the current rate deviation of time base id in
// ppm.
func (e *Engine) GetRateDeviation(id timebase.ID) (timebase.RateDeviation, error) {
	s, err := e.slot(id)
	if err != nil {
		return 0, err
	}
	if len(s.rate.intervals) == 0 && !s.cfg.MasterRateCorrection {
		return 0, ErrServiceDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rate.valid {
		return 0, ErrNotAvailable
	}
	return s.rate.deviation, nil
}
