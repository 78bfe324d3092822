// Package sync implements the synchronized time-base manager: it keeps the
// global time of every configured time base, ingests time updates from bus
// modules and local masters, corrects rate and offset, detects time leaps
// and schedules customer timer notifications.
package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"example.com/synctime/base/timebase"
	"example.com/synctime/base/timemath"
	"example.com/synctime/base/zaplog"
	"example.com/synctime/core/config"
	"example.com/synctime/core/measurements"
	coretb "example.com/synctime/core/timebase"
	"example.com/synctime/core/timer"
	"example.com/synctime/driver/shm"
)

// Persister stores the global time of time bases across restarts.
type Persister interface {
	Load() (map[timebase.ID]timebase.TimeStamp, error)
	Store(map[timebase.ID]timebase.TimeStamp) error
}

// Publisher receives the offset of shared time bases. Write is never called
// concurrently for the same index.
type Publisher interface {
	Write(i int, e shm.Entry)
}

// Callbacks are invoked without holding any engine lock. Nil callbacks are
// skipped.
type Callbacks struct {
	StatusNotification func(id timebase.ID, ev timebase.Events)
	CustomerExpired    func(id timebase.ID, c timebase.CustomerID, deviation timebase.TimeDiff)
	SyncRecordBlock    func(id timebase.ID, b measurements.SyncBlock) error
	OffsetRecordBlock  func(id timebase.ID, b measurements.OffsetBlock) error
}

type Options struct {
	Log        *zap.Logger
	Registerer prometheus.Registerer

	// Clocks holds the local clock of every synchronized and pure time base.
	// Offset time bases use the clock of their synchronized time base.
	Clocks map[timebase.ID]timebase.LocalClock

	// Timer drives customer timers; without a timer StartTimer is disabled.
	Timer     timer.HardwareTimer
	Persister Persister
	Publisher Publisher
	Callbacks Callbacks
}

type Engine struct {
	log    *zap.Logger
	cfg    config.Config
	reg    *coretb.Registry
	slots  []*slot
	sched  *timer.Scheduler
	nvm    Persister
	pub    Publisher
	cb     Callbacks
	m      *engineMetrics
	period time.Duration

	up atomic.Bool
}

type slot struct {
	entry coretb.Entry
	cfg   *config.TimeBaseConfig
	clk   timebase.LocalClock
	// sync is the synchronized time base of an offset time base.
	sync *slot

	timeoutTicks  uint64
	hasTimers     bool
	syncRecords   *measurements.Table[measurements.SyncBlock]
	offsetRecords *measurements.Table[measurements.OffsetBlock]

	mu          sync.Mutex
	anchor      timebase.TimeTuple
	offset      timebase.Offset
	status      timebase.Status
	userData    timebase.UserData
	counter     uint8
	sinceUpdate uint64
	rate        rateState
	oc          offsetCorrection
	leap        leapState
	pending     timebase.Events
}

// NewEngine sets up all time bases of cfg. cfg must be valid. Time bases
// stored by the persister start from their stored global time, but remain
// unsynchronized until their first update.
func NewEngine(cfg config.Config, opts Options) (*Engine, error) {
	reg, err := coretb.NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = zaplog.Logger()
	}
	e := &Engine{
		log:    log,
		cfg:    cfg,
		reg:    reg,
		slots:  make([]*slot, reg.Len()),
		nvm:    opts.Persister,
		pub:    opts.Publisher,
		cb:     opts.Callbacks,
		m:      newEngineMetrics(opts.Registerer),
		period: cfg.MainFunctionPeriod.D(),
	}
	if e.period <= 0 {
		return nil, fmt.Errorf("invalid main function period %v", e.period)
	}
	if opts.Timer != nil {
		e.sched = timer.NewScheduler(opts.Timer, uint64(cfg.Timer.StartThreshold.D()))
	}

	for _, ent := range reg.Entries() {
		tb, _ := e.cfg.TimeBase(ent.ID)
		s := &slot{
			entry:        ent,
			cfg:          tb,
			timeoutTicks: ceilDiv(uint64(tb.Timeout.D()), uint64(e.period)),
			rate:         newRateState(tb),
		}
		if ent.Kind == coretb.KindOffset {
			s.sync = e.slots[ent.SyncIndex]
			s.clk = s.sync.clk
		} else {
			s.clk = opts.Clocks[ent.ID]
			if s.clk == nil {
				return nil, fmt.Errorf("no local clock for time base %d", ent.ID)
			}
		}
		if tb.RecordBlocks > 0 {
			if ent.Kind == coretb.KindOffset {
				s.offsetRecords = measurements.NewTable[measurements.OffsetBlock](tb.RecordBlocks)
			} else {
				s.syncRecords = measurements.NewTable[measurements.SyncBlock](tb.RecordBlocks)
			}
		}
		if e.sched != nil && len(tb.NotificationCustomers) != 0 {
			e.sched.AddList(timer.NewList(ent.ID, cfg.Timer.Capacity))
			s.hasTimers = true
		}
		vlt, err := s.clk.Now()
		if err != nil {
			return nil, fmt.Errorf("failed to read local time of time base %d: %w", ent.ID, err)
		}
		s.anchor.VirtualLocalTime = vlt
		e.slots[ent.Index] = s
	}

	e.restore()
	e.up.Store(true)
	return e, nil
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

func (e *Engine) restore() {
	if e.nvm == nil {
		return
	}
	stored, err := e.nvm.Load()
	if err != nil {
		e.log.Error("failed to restore global times", zap.Error(err))
		return
	}
	for _, s := range e.slots {
		ts, ok := stored[s.entry.ID]
		if !ok || !s.cfg.NVM {
			continue
		}
		ts.Status = 0
		if s.sync != nil {
			d, negative := timemath.Diff(ts, s.sync.anchor.GlobalTime)
			s.offset = timebase.Offset{Value: d, Negative: negative}
		} else {
			s.anchor.GlobalTime = ts
		}
		e.log.Info("restored global time", timeBaseField(s), zap.Stringer("time", ts))
	}
}

func (e *Engine) slot(id timebase.ID) (*slot, error) {
	if !e.up.Load() {
		return nil, ErrUninitialized
	}
	ent, err := e.reg.Lookup(id)
	if err != nil {
		return nil, ErrInvalidTimeBaseID
	}
	return e.slots[ent.Index], nil
}

// Registry returns the time bases managed by e.
func (e *Engine) Registry() *coretb.Registry { return e.reg }

func timeBaseField(s *slot) zap.Field {
	return zap.Uint16("time_base", uint16(s.entry.ID))
}

func overflow(err error) error {
	return fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
}

func (e *Engine) localTime(s *slot) (timebase.VirtualLocalTime, error) {
	vlt, err := s.clk.Now()
	if err != nil {
		return 0, fmt.Errorf("failed to read local time: %w", err)
	}
	return vlt, nil
}

// Run calls MainFunction once per main function period until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.MainFunction()
		}
	}
}

// Shutdown stops the hardware timer and stores the global time of all
// synchronized time bases configured for persistence. All later calls fail
// with ErrUninitialized.
func (e *Engine) Shutdown() error {
	if !e.up.CompareAndSwap(true, false) {
		return ErrUninitialized
	}
	if e.sched != nil {
		e.sched.Stop()
	}
	if e.nvm == nil {
		return nil
	}
	ts := make(map[timebase.ID]timebase.TimeStamp)
	for _, s := range e.slots {
		if !s.cfg.NVM {
			continue
		}
		vlt, err := e.localTime(s)
		if err != nil {
			return err
		}
		t, _, err := e.current(s, vlt)
		if err != nil {
			return err
		}
		if !t.Status.Synchronized() {
			continue
		}
		t.Status = 0
		ts[s.entry.ID] = t
	}
	if err := e.nvm.Store(ts); err != nil {
		return fmt.Errorf("failed to store global times: %w", err)
	}
	return nil
}

func (e *Engine) publishLocked(s *slot, g timebase.TimeStamp, v timebase.VirtualLocalTime) bool {
	if e.pub == nil || !s.cfg.ShareData {
		return false
	}
	d, negative := timemath.Diff(g, timemath.FromVirtualLocalTime(v))
	e.pub.Write(s.entry.Index, shm.Entry{
		ID:            s.entry.ID,
		Offset:        timebase.Offset{Value: d, Negative: negative},
		Status:        s.status,
		RateDeviation: s.rate.deviation,
	})
	return true
}
