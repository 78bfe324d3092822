package sync_test

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"example.com/synctime/base/timebase"
	"example.com/synctime/base/timemath"
	"example.com/synctime/core/config"
	"example.com/synctime/core/measurements"
	"example.com/synctime/core/sync"
	"example.com/synctime/driver/shm"
)

type manualClock struct {
	ns atomic.Uint64
}

func (c *manualClock) Now() (timebase.VirtualLocalTime, error) {
	return timebase.VirtualLocalTime(c.ns.Load()), nil
}

func (c *manualClock) Set(d time.Duration) { c.ns.Store(uint64(d)) }

func (c *manualClock) Advance(d time.Duration) { c.ns.Add(uint64(d)) }

type fakeTimer struct {
	armed bool
	ns    uint64
	arms  int
}

func (t *fakeTimer) Arm(ns uint64) error {
	if t.armed {
		return errors.New("timer busy")
	}
	t.armed = true
	t.ns = ns
	t.arms++
	return nil
}

func (t *fakeTimer) Disarm() bool {
	stopped := t.armed
	t.armed = false
	return stopped
}

type memPersister struct {
	stored map[timebase.ID]timebase.TimeStamp
}

func (p *memPersister) Load() (map[timebase.ID]timebase.TimeStamp, error) {
	return p.stored, nil
}

func (p *memPersister) Store(m map[timebase.ID]timebase.TimeStamp) error {
	p.stored = m
	return nil
}

func newConfig(t *testing.T, tbs ...config.TimeBaseConfig) config.Config {
	t.Helper()
	cfg := config.Config{TimeBases: tbs}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

func newEngine(t *testing.T, cfg config.Config, clk *manualClock, opts sync.Options) *sync.Engine {
	t.Helper()
	opts.Clocks = make(map[timebase.ID]timebase.LocalClock)
	for _, tb := range cfg.TimeBases {
		if !config.IsOffsetID(tb.ID) {
			opts.Clocks[tb.ID] = clk
		}
	}
	e, err := sync.NewEngine(cfg, opts)
	if err != nil {
		t.Fatalf("NewEngine() = %v", err)
	}
	return e
}

func ts(sec uint64, nsec uint32) timebase.TimeStamp {
	return timebase.NewTimeStamp(sec, nsec)
}

func vlt(d time.Duration) timebase.VirtualLocalTime {
	return timebase.VirtualLocalTime(d)
}

func currentTime(t *testing.T, e *sync.Engine, id timebase.ID) timebase.TimeStamp {
	t.Helper()
	now, _, err := e.GetCurrentTime(id)
	if err != nil {
		t.Fatalf("GetCurrentTime(%d) = %v", id, err)
	}
	return now
}

func checkTime(t *testing.T, e *sync.Engine, id timebase.ID, want timebase.TimeStamp) {
	t.Helper()
	if got := currentTime(t, e, id); !timemath.Equal(got, want) {
		t.Errorf("GetCurrentTime(%d) = %v; want %v", id, got, want)
	}
}

func busSet(t *testing.T, e *sync.Engine, id timebase.ID, g timebase.TimeStamp, local time.Duration) {
	t.Helper()
	err := e.BusSetGlobalTime(id, g, nil, timebase.Measurement{}, vlt(local))
	if err != nil {
		t.Fatalf("BusSetGlobalTime(%d, %v, %v) = %v", id, g, local, err)
	}
}

func TestRateCorrection(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:                                    0,
		Role:                                  config.RoleSlave,
		RateCorrectionMeasurementDuration:     config.Duration(100 * time.Millisecond),
		RateCorrectionsPerMeasurementDuration: 1,
		MaxRateDeviation:                      1000,
	})
	clk := &manualClock{}
	e := newEngine(t, cfg, clk, sync.Options{})

	busSet(t, e, 0, ts(100, 0), 0)
	if _, err := e.GetRateDeviation(0); !errors.Is(err, sync.ErrNotAvailable) {
		t.Errorf("GetRateDeviation before measurement = %v; want %v", err, sync.ErrNotAvailable)
	}
	clk.Set(50 * time.Millisecond)
	checkTime(t, e, 0, ts(100, 50_000_000))

	busSet(t, e, 0, ts(100, 100_000_000), 100*time.Millisecond)
	if dev, err := e.GetRateDeviation(0); err != nil || dev != 0 {
		t.Errorf("GetRateDeviation() = %d, %v; want 0, nil", dev, err)
	}

	// Global time runs 1000 ppm faster than local time.
	busSet(t, e, 0, ts(100, 200_100_000), 200*time.Millisecond)
	if dev, err := e.GetRateDeviation(0); err != nil || dev != 1000 {
		t.Errorf("GetRateDeviation() = %d, %v; want 1000, nil", dev, err)
	}
	clk.Set(300 * time.Millisecond)
	got := currentTime(t, e, 0)
	if got.Sec() != 100 || got.Nanoseconds < 300_199_000 || got.Nanoseconds > 300_201_000 {
		t.Errorf("GetCurrentTime(0) = %v; want about 100.300200000", got)
	}

	// 5000 ppm exceeds the maximum and is rejected.
	busSet(t, e, 0, ts(100, 300_600_000), 300*time.Millisecond)
	if dev, err := e.GetRateDeviation(0); err != nil || dev != 1000 {
		t.Errorf("GetRateDeviation() after rejected measurement = %d, %v; want 1000, nil", dev, err)
	}
}

func TestMonotonicExtrapolation(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:                                    1,
		RateCorrectionMeasurementDuration:     config.Duration(time.Second),
		RateCorrectionsPerMeasurementDuration: 4,
	})
	clk := &manualClock{}
	e := newEngine(t, cfg, clk, sync.Options{})
	busSet(t, e, 1, ts(10, 0), 0)
	busSet(t, e, 1, ts(11, 3_000), time.Second)
	var prev timebase.TimeStamp
	for i := 0; i != 100; i++ {
		clk.Set(time.Second + time.Duration(i)*7*time.Millisecond)
		now := currentTime(t, e, 1)
		if !timemath.GE(now, prev) {
			t.Fatalf("GetCurrentTime went backwards: %v after %v", now, prev)
		}
		prev = now
	}
}

func TestTimeLeap(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:                      2,
		TimeLeapFutureThreshold: config.Duration(5 * time.Second),
		ClearTimeLeapCount:      2,
		NotificationMask:        timebase.AllEvents,
	})
	clk := &manualClock{}
	e := newEngine(t, cfg, clk, sync.Options{})

	busSet(t, e, 2, ts(100, 0), 0)
	if _, err := e.GetTimeLeap(2); !errors.Is(err, sync.ErrNotAvailable) {
		t.Errorf("GetTimeLeap after first update = %v; want %v", err, sync.ErrNotAvailable)
	}
	if ev, _ := e.GetNotificationEvents(2); ev != timebase.EventGlobalTime|timebase.EventResync {
		t.Errorf("events after first update = %#x", ev)
	}

	busSet(t, e, 2, ts(120, 0), time.Millisecond)
	if leap, err := e.GetTimeLeap(2); err != nil || leap != math.MaxInt32 {
		t.Errorf("GetTimeLeap() = %d, %v; want %d, nil", leap, err, math.MaxInt32)
	}
	tests := []struct {
		g      timebase.TimeStamp
		local  time.Duration
		leap   bool
		events timebase.Events
	}{
		{ts(120, 0), time.Millisecond, true, 0},
		{ts(120, 1_000_000), 2 * time.Millisecond, true, timebase.EventResync},
		{ts(120, 2_000_000), 3 * time.Millisecond, false, timebase.EventResync | timebase.EventTimeLeapFutureGone},
	}
	ev, _ := e.GetNotificationEvents(2)
	if want := timebase.EventTimeLeapFuture | timebase.EventResync; ev != want {
		t.Errorf("events after leap = %#x; want %#x", ev, want)
	}
	for i, tt := range tests {
		if i != 0 {
			busSet(t, e, 2, tt.g, tt.local)
			if ev, _ := e.GetNotificationEvents(2); ev != tt.events {
				t.Errorf("events after update %d = %#x; want %#x", i, ev, tt.events)
			}
		}
		st, _, err := e.GetTimeBaseStatus(2)
		if err != nil {
			t.Fatalf("GetTimeBaseStatus() = %v", err)
		}
		if got := st.Has(timebase.StatusTimeLeapFuture); got != tt.leap {
			t.Errorf("TIMELEAP_FUTURE after update %d = %v; want %v", i, got, tt.leap)
		}
	}
	if leap, err := e.GetTimeLeap(2); err != nil || leap != 0 {
		t.Errorf("GetTimeLeap() = %d, %v; want 0, nil", leap, err)
	}
}

func TestTimeLeapThreshold(t *testing.T) {
	tests := []struct {
		g            timebase.TimeStamp
		future, past bool
	}{
		{ts(101, 0), false, false},
		{ts(101, 1), true, false},
		{ts(99, 0), false, false},
		{ts(98, 999_999_999), false, true},
	}
	for _, tt := range tests {
		cfg := newConfig(t, config.TimeBaseConfig{
			ID:                      3,
			TimeLeapFutureThreshold: config.Duration(time.Second),
			TimeLeapPastThreshold:   config.Duration(time.Second),
		})
		e := newEngine(t, cfg, &manualClock{}, sync.Options{})
		busSet(t, e, 3, ts(100, 0), 0)
		busSet(t, e, 3, tt.g, 0)
		st, _, _ := e.GetTimeBaseStatus(3)
		if st.Has(timebase.StatusTimeLeapFuture) != tt.future || st.Has(timebase.StatusTimeLeapPast) != tt.past {
			t.Errorf("status after update to %v = %v; want future %v, past %v", tt.g, st, tt.future, tt.past)
		}
	}
}

func TestOffsetCorrection(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:                               4,
		OffsetCorrectionJumpThreshold:    config.Duration(time.Second),
		OffsetCorrectionAdaptionInterval: config.Duration(time.Second),
	})
	clk := &manualClock{}
	e := newEngine(t, cfg, clk, sync.Options{})
	busSet(t, e, 4, ts(100, 0), 0)
	// Received time is 500ms behind the extrapolated 101s.
	busSet(t, e, 4, ts(100, 500_000_000), time.Second)

	tests := []struct {
		local time.Duration
		want  timebase.TimeStamp
	}{
		{time.Second, ts(101, 0)},
		{1500 * time.Millisecond, ts(101, 250_000_000)},
		{2 * time.Second, ts(101, 500_000_000)},
		{3 * time.Second, ts(102, 500_000_000)},
	}
	for _, tt := range tests {
		clk.Set(tt.local)
		checkTime(t, e, 4, tt.want)
	}

	clk.Set(2500 * time.Millisecond)
	e.MainFunction()
	checkTime(t, e, 4, ts(102, 0))
	clk.Set(3 * time.Second)
	checkTime(t, e, 4, ts(102, 500_000_000))

	// Beyond the jump threshold the time is set directly.
	busSet(t, e, 4, ts(110, 0), 3*time.Second)
	checkTime(t, e, 4, ts(110, 0))
}

func TestTimeout(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:               5,
		Timeout:          config.Duration(25 * time.Millisecond),
		NotificationMask: timebase.EventTimeoutOccurred | timebase.EventTimeoutRemoved,
	})
	var events []timebase.Events
	e := newEngine(t, cfg, &manualClock{}, sync.Options{
		Callbacks: sync.Callbacks{
			StatusNotification: func(id timebase.ID, ev timebase.Events) {
				events = append(events, ev)
			},
		},
	})
	e.MainFunction()
	e.MainFunction()
	e.MainFunction()
	if st, _, _ := e.GetTimeBaseStatus(5); st.Has(timebase.StatusTimeout) {
		t.Errorf("unsynchronized time base timed out")
	}

	busSet(t, e, 5, ts(1, 0), 0)
	for i := 0; i != 3; i++ {
		if st, _, _ := e.GetTimeBaseStatus(5); st.Has(timebase.StatusTimeout) {
			t.Errorf("time base timed out after %d periods", i)
		}
		e.MainFunction()
	}
	if st, _, _ := e.GetTimeBaseStatus(5); !st.Has(timebase.StatusTimeout) {
		t.Errorf("time base did not time out")
	}
	busSet(t, e, 5, ts(2, 0), 0)
	want := []timebase.Events{timebase.EventTimeoutOccurred, timebase.EventTimeoutRemoved}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestCustomerTimers(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:                    6,
		Role:                  config.RoleMaster,
		NotificationCustomers: []timebase.CustomerID{1, 2},
	}, config.TimeBaseConfig{
		ID:   7,
		Role: config.RoleMaster,
	})
	type expiry struct {
		ID        timebase.ID
		Customer  timebase.CustomerID
		Deviation timebase.TimeDiff
	}
	var expired []expiry
	clk := &manualClock{}
	hw := &fakeTimer{}
	e := newEngine(t, cfg, clk, sync.Options{
		Timer: hw,
		Callbacks: sync.Callbacks{
			CustomerExpired: func(id timebase.ID, c timebase.CustomerID, d timebase.TimeDiff) {
				expired = append(expired, expiry{id, c, d})
			},
		},
	})
	if err := e.SetGlobalTime(6, ts(100, 0), nil); err != nil {
		t.Fatalf("SetGlobalTime() = %v", err)
	}

	if err := e.StartTimer(6, 1, ts(0, 10_000_000)); err != nil {
		t.Fatalf("StartTimer(6, 1) = %v", err)
	}
	if !hw.armed || hw.ns != 10_000_000 {
		t.Fatalf("hardware timer armed = %v for %d ns; want true for 10000000 ns", hw.armed, hw.ns)
	}
	if err := e.StartTimer(6, 2, ts(0, 20_000_000)); err != nil {
		t.Fatalf("StartTimer(6, 2) = %v", err)
	}
	if hw.arms != 1 {
		t.Errorf("hardware timer armed %d times; want 1", hw.arms)
	}

	errTests := []struct {
		id   timebase.ID
		c    timebase.CustomerID
		want error
	}{
		{6, 1, sync.ErrTimerPending},
		{6, 9, sync.ErrInvalidCustomer},
		{7, 1, sync.ErrServiceDisabled},
		{99, 1, sync.ErrInvalidTimeBaseID},
	}
	for _, tt := range errTests {
		if err := e.StartTimer(tt.id, tt.c, ts(1, 0)); !errors.Is(err, tt.want) {
			t.Errorf("StartTimer(%d, %d) = %v; want %v", tt.id, tt.c, err, tt.want)
		}
	}

	clk.Advance(10 * time.Millisecond)
	hw.armed = false
	e.TimerCallback()
	e.MainFunction()
	if hw.arms != 2 || !hw.armed || hw.ns != 10_000_000 {
		t.Errorf("pending timer: armed %v, %d times, for %d ns; want true, 2, 10000000",
			hw.armed, hw.arms, hw.ns)
	}

	clk.Advance(10 * time.Millisecond)
	hw.armed = false
	e.TimerCallback()
	e.MainFunction()

	want := []expiry{{6, 1, 0}, {6, 2, 0}}
	if diff := cmp.Diff(want, expired); diff != "" {
		t.Errorf("expirations mismatch (-want +got):\n%s", diff)
	}
	stats, err := e.GetTimerDeviationStats()
	if err != nil || stats.Count != 2 {
		t.Errorf("GetTimerDeviationStats() = %+v, %v; want 2 samples", stats, err)
	}
}

func TestStaleTimerCallback(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:                    6,
		Role:                  config.RoleMaster,
		NotificationCustomers: []timebase.CustomerID{1, 2},
	})
	type expiry struct {
		ID        timebase.ID
		Customer  timebase.CustomerID
		Deviation timebase.TimeDiff
	}
	var expired []expiry
	clk := &manualClock{}
	hw := &fakeTimer{}
	e := newEngine(t, cfg, clk, sync.Options{
		Timer: hw,
		Callbacks: sync.Callbacks{
			CustomerExpired: func(id timebase.ID, c timebase.CustomerID, d timebase.TimeDiff) {
				expired = append(expired, expiry{id, c, d})
			},
		},
	})
	if err := e.SetGlobalTime(6, ts(100, 0), nil); err != nil {
		t.Fatalf("SetGlobalTime() = %v", err)
	}
	if err := e.StartTimer(6, 1, ts(0, 10_000_000)); err != nil {
		t.Fatalf("StartTimer(6, 1) = %v", err)
	}
	if err := e.StartTimer(6, 2, ts(0, 30_000_000)); err != nil {
		t.Fatalf("StartTimer(6, 2) = %v", err)
	}

	// The timer of customer 1 fires while a jump of the time base is applied,
	// and its callback only runs after the main function rearmed the timer.
	hw.armed = false
	if err := e.SetGlobalTime(6, ts(100, 15_000_000), nil); err != nil {
		t.Fatalf("SetGlobalTime() = %v", err)
	}
	e.MainFunction()
	if !hw.armed || hw.ns != 15_000_000 {
		t.Fatalf("hardware timer armed = %v for %d ns; want true for 15000000 ns", hw.armed, hw.ns)
	}
	e.TimerCallback()
	e.MainFunction()
	want := []expiry{{6, 1, 5_000_000}}
	if diff := cmp.Diff(want, expired); diff != "" {
		t.Fatalf("expirations after late callback mismatch (-want +got):\n%s", diff)
	}

	clk.Advance(15 * time.Millisecond)
	hw.armed = false
	e.TimerCallback()
	e.MainFunction()
	want = append(want, expiry{6, 2, 0})
	if diff := cmp.Diff(want, expired); diff != "" {
		t.Errorf("expirations mismatch (-want +got):\n%s", diff)
	}
}

func TestOverdueTimer(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:                    8,
		NotificationCustomers: []timebase.CustomerID{3},
	})
	var deviation timebase.TimeDiff
	n := 0
	e := newEngine(t, cfg, &manualClock{}, sync.Options{
		Timer: &fakeTimer{},
		Callbacks: sync.Callbacks{
			CustomerExpired: func(id timebase.ID, c timebase.CustomerID, d timebase.TimeDiff) {
				deviation = d
				n++
			},
		},
	})
	busSet(t, e, 8, ts(100, 0), 0)
	if err := e.StartTimer(8, 3, ts(10, 0)); err != nil {
		t.Fatalf("StartTimer() = %v", err)
	}
	e.MainFunction()
	if n != 0 {
		t.Fatalf("timer expired early")
	}
	// A leap of the time base makes the timer overdue.
	busSet(t, e, 8, ts(111, 0), 0)
	e.MainFunction()
	if n != 1 || deviation != 1_000_000_000 {
		t.Errorf("expirations = %d, deviation %d; want 1, 1000000000", n, deviation)
	}
}

func TestOffsetTimeBase(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:   0,
		Role: config.RoleMaster,
	}, config.TimeBaseConfig{
		ID:             16,
		Role:           config.RoleMaster,
		SyncTimeBaseID: 0,
	}, config.TimeBaseConfig{
		ID:             17,
		SyncTimeBaseID: 0,
	})
	clk := &manualClock{}
	e := newEngine(t, cfg, clk, sync.Options{})

	if err := e.SetOffset(16, ts(5, 0), nil); err != nil {
		t.Fatalf("SetOffset() = %v", err)
	}
	syncSt, offSt, err := e.GetTimeBaseStatus(16)
	if err != nil || syncSt.Synchronized() || offSt.Synchronized() {
		t.Errorf("GetTimeBaseStatus(16) = %v, %v, %v; want unsynchronized", syncSt, offSt, err)
	}

	if err := e.SetGlobalTime(0, ts(100, 0), nil); err != nil {
		t.Fatalf("SetGlobalTime() = %v", err)
	}
	checkTime(t, e, 16, ts(105, 0))
	clk.Advance(time.Second)
	checkTime(t, e, 16, ts(106, 0))
	syncSt, offSt, _ = e.GetTimeBaseStatus(16)
	if !syncSt.Synchronized() || !offSt.Synchronized() {
		t.Errorf("GetTimeBaseStatus(16) = %v, %v; want both synchronized", syncSt, offSt)
	}
	o, err := e.GetOffset(16)
	if err != nil || o.Negative || !timemath.Equal(o.Value, ts(5, 0)) {
		t.Errorf("GetOffset(16) = %+v, %v; want 5s", o, err)
	}

	busSet(t, e, 17, ts(91, 0), time.Second)
	o, _ = e.GetOffset(17)
	if !o.Negative || !timemath.Equal(o.Value, ts(10, 0)) {
		t.Errorf("GetOffset(17) = %+v; want -10s", o)
	}
	clk.Advance(time.Second)
	checkTime(t, e, 17, ts(92, 0))

	if _, err := e.GetOffset(0); !errors.Is(err, sync.ErrInvalidTimeBaseID) {
		t.Errorf("GetOffset(0) = %v; want %v", err, sync.ErrInvalidTimeBaseID)
	}
	if err := e.SetOffset(0, ts(1, 0), nil); !errors.Is(err, sync.ErrInvalidTimeBaseID) {
		t.Errorf("SetOffset(0) = %v; want %v", err, sync.ErrInvalidTimeBaseID)
	}
}

func TestErrors(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:   0,
		Role: config.RoleMaster,
	}, config.TimeBaseConfig{
		ID: 1,
	}, config.TimeBaseConfig{
		ID: 32,
	})
	e := newEngine(t, cfg, &manualClock{}, sync.Options{})
	bad := &timebase.UserData{Length: 4}
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"BusSetGlobalTime(master)", e.BusSetGlobalTime(0, ts(1, 0), nil, timebase.Measurement{}, 0), sync.ErrNotConnected},
		{"SetGlobalTime(slave)", e.SetGlobalTime(1, ts(1, 0), nil), sync.ErrAlreadyConnected},
		{"SetGlobalTime(invalid id)", e.SetGlobalTime(128, ts(1, 0), nil), sync.ErrInvalidTimeBaseID},
		{"SetGlobalTime(unconfigured id)", e.SetGlobalTime(2, ts(1, 0), nil), sync.ErrInvalidTimeBaseID},
		{"SetGlobalTime(pure)", e.SetGlobalTime(32, ts(1, 0), nil), nil},
		{"BusSetGlobalTime(pure)", e.BusSetGlobalTime(32, ts(1, 0), nil, timebase.Measurement{}, 0), sync.ErrNotConnected},
		{"BusSetGlobalTime(invalid ns)", e.BusSetGlobalTime(1, timebase.TimeStamp{Nanoseconds: 1e9}, nil, timebase.Measurement{}, 0), sync.ErrInvalidTimestamp},
		{"BusSetGlobalTime(user data)", e.BusSetGlobalTime(1, ts(1, 0), bad, timebase.Measurement{}, 0), sync.ErrInvalidUserData},
		{"SetUserData(slave)", e.SetUserData(1, timebase.UserData{}), sync.ErrAlreadyConnected},
		{"SetUserData(invalid)", e.SetUserData(0, *bad), sync.ErrInvalidUserData},
		{"SetRateCorrection(disabled)", e.SetRateCorrection(0, 10), sync.ErrServiceDisabled},
		{"SetRateCorrection(slave)", e.SetRateCorrection(1, 10), sync.ErrAlreadyConnected},
		{"TriggerTimeTransmission(slave)", e.TriggerTimeTransmission(1), sync.ErrAlreadyConnected},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) || (tt.want == nil && tt.err != nil) {
			t.Errorf("%s = %v; want %v", tt.name, tt.err, tt.want)
		}
	}
	if _, err := e.GetRateDeviation(1); !errors.Is(err, sync.ErrServiceDisabled) {
		t.Errorf("GetRateDeviation(1) = %v; want %v", err, sync.ErrServiceDisabled)
	}
	if _, err := e.GetTimeLeap(32); !errors.Is(err, sync.ErrInvalidTimeBaseID) {
		t.Errorf("GetTimeLeap(32) = %v; want %v", err, sync.ErrInvalidTimeBaseID)
	}
	if _, err := e.GetTimerDeviationStats(); !errors.Is(err, sync.ErrServiceDisabled) {
		t.Errorf("GetTimerDeviationStats() = %v; want %v", err, sync.ErrServiceDisabled)
	}
}

func TestUserDataAndCounter(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:               0,
		Role:             config.RoleMaster,
		SystemWideMaster: true,
	}, config.TimeBaseConfig{
		ID: 1,
	})
	e := newEngine(t, cfg, &manualClock{}, sync.Options{})
	ud := timebase.UserData{Length: 2, Bytes: [3]byte{0xaa, 0xbb}}
	if err := e.SetGlobalTime(0, ts(1, 0), &ud); err != nil {
		t.Fatalf("SetGlobalTime() = %v", err)
	}
	if err := e.UpdateGlobalTime(0, ts(2, 0), nil); err != nil {
		t.Fatalf("UpdateGlobalTime() = %v", err)
	}
	if c, _ := e.GetTimeBaseUpdateCounter(0); c != 1 {
		t.Errorf("GetTimeBaseUpdateCounter() = %d; want 1", c)
	}
	_, got, _ := e.GetCurrentTime(0)
	if diff := cmp.Diff(ud, got); diff != "" {
		t.Errorf("user data mismatch (-want +got):\n%s", diff)
	}
	for i := 0; i != 255; i++ {
		if err := e.TriggerTimeTransmission(0); err != nil {
			t.Fatalf("TriggerTimeTransmission() = %v", err)
		}
	}
	if c, _ := e.GetTimeBaseUpdateCounter(0); c != 0 {
		t.Errorf("GetTimeBaseUpdateCounter() after wrap = %d; want 0", c)
	}

	rx := timebase.UserData{Length: 1, Bytes: [3]byte{7}}
	if err := e.BusSetGlobalTime(1, ts(5, 0), &rx, timebase.Measurement{}, 0); err != nil {
		t.Fatalf("BusSetGlobalTime() = %v", err)
	}
	tt, got, err := e.BusGetCurrentTime(1)
	if err != nil || got != rx || !timemath.Equal(tt.GlobalTime, ts(5, 0)) {
		t.Errorf("BusGetCurrentTime(1) = %v, %v, %v", tt, got, err)
	}
	if c, _ := e.GetTimeBaseUpdateCounter(1); c != 1 {
		t.Errorf("GetTimeBaseUpdateCounter(1) = %d; want 1", c)
	}

	for _, tc := range []struct {
		id   timebase.ID
		want bool
	}{{0, true}, {1, false}} {
		if got, _ := e.GetMasterConfig(tc.id); got != tc.want {
			t.Errorf("GetMasterConfig(%d) = %v; want %v", tc.id, got, tc.want)
		}
	}
}

func TestSetRateCorrection(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:                     0,
		Role:                   config.RoleMaster,
		MasterRateCorrection:   true,
		MasterRateDeviationMax: 100,
	})
	clk := &manualClock{}
	e := newEngine(t, cfg, clk, sync.Options{})
	if err := e.SetGlobalTime(0, ts(100, 0), nil); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		dev, want timebase.RateDeviation
	}{
		{500, 100},
		{-500, -100},
		{42, 42},
		{100, 100},
	}
	for _, tt := range tests {
		if err := e.SetRateCorrection(0, tt.dev); err != nil {
			t.Fatalf("SetRateCorrection(%d) = %v", tt.dev, err)
		}
		if got, err := e.GetRateDeviation(0); err != nil || got != tt.want {
			t.Errorf("SetRateCorrection(%d): GetRateDeviation() = %d, %v; want %d", tt.dev, got, err, tt.want)
		}
	}
	clk.Advance(time.Second)
	now := currentTime(t, e, 0)
	if now.Sec() != 101 || now.Nanoseconds < 99_990 || now.Nanoseconds > 100_010 {
		t.Errorf("GetCurrentTime(0) = %v; want about 101.000100000", now)
	}
}

func TestRecordTable(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:           9,
		RecordBlocks: 2,
	})
	var blocks []measurements.SyncBlock
	e := newEngine(t, cfg, &manualClock{}, sync.Options{
		Callbacks: sync.Callbacks{
			SyncRecordBlock: func(id timebase.ID, b measurements.SyncBlock) error {
				blocks = append(blocks, b)
				return nil
			},
		},
	})
	for i := uint32(1); i <= 3; i++ {
		err := e.BusSetGlobalTime(9, ts(uint64(i), 0), nil, timebase.Measurement{PathDelay: i}, vlt(time.Duration(i)))
		if err != nil {
			t.Fatal(err)
		}
	}
	e.MainFunction()
	if len(blocks) != 2 || blocks[0].GlbSeconds != 2 || blocks[1].GlbSeconds != 3 || blocks[1].PathDelay != 3 {
		t.Errorf("record blocks = %+v; want the last two updates", blocks)
	}
	h, err := e.GetSyncTimeRecordHead(9)
	if want := (measurements.SyncHead{TimeDomain: 9, HWFrequency: 1e9, HWPrescaler: 1}); err != nil || h != want {
		t.Errorf("GetSyncTimeRecordHead(9) = %+v, %v; want %+v", h, err, want)
	}
	if _, err := e.GetOffsetTimeRecordHead(9); !errors.Is(err, sync.ErrInvalidTimeBaseID) {
		t.Errorf("GetOffsetTimeRecordHead(9) = %v; want %v", err, sync.ErrInvalidTimeBaseID)
	}
}

func TestSharedMemory(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:        10,
		ShareData: true,
	})
	seg := shm.NewSegment(len(cfg.TimeBases))
	e := newEngine(t, cfg, &manualClock{}, sync.Options{Publisher: seg})
	busSet(t, e, 10, ts(100, 0), 50*time.Nanosecond)
	got, err := seg.Read(0)
	if err != nil {
		t.Fatalf("Read(0) = %v", err)
	}
	want := shm.Entry{
		ID:     10,
		Offset: timebase.Offset{Value: ts(99, 999_999_950)},
		Status: timebase.StatusGlobalTimeBase,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("shared entry mismatch (-want +got):\n%s", diff)
	}
	seq := seg.Sequence(0)
	e.MainFunction()
	if seg.Sequence(0) != seq+1 {
		t.Errorf("MainFunction did not refresh the shared entry")
	}
}

func TestPersistence(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:   0,
		Role: config.RoleMaster,
		NVM:  true,
	}, config.TimeBaseConfig{
		ID: 1,
	})
	clk := &manualClock{}
	p := &memPersister{}
	e := newEngine(t, cfg, clk, sync.Options{Persister: p})
	if err := e.SetGlobalTime(0, ts(100, 0), nil); err != nil {
		t.Fatal(err)
	}
	busSet(t, e, 1, ts(50, 0), 0)
	clk.Advance(time.Second)
	if err := e.Shutdown(); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if _, _, err := e.GetCurrentTime(0); !errors.Is(err, sync.ErrUninitialized) {
		t.Errorf("GetCurrentTime after Shutdown = %v; want %v", err, sync.ErrUninitialized)
	}
	if err := e.Shutdown(); !errors.Is(err, sync.ErrUninitialized) {
		t.Errorf("second Shutdown() = %v; want %v", err, sync.ErrUninitialized)
	}
	want := map[timebase.ID]timebase.TimeStamp{0: ts(101, 0)}
	if diff := cmp.Diff(want, p.stored); diff != "" {
		t.Errorf("stored times mismatch (-want +got):\n%s", diff)
	}

	e = newEngine(t, cfg, clk, sync.Options{Persister: p})
	now := currentTime(t, e, 0)
	if !timemath.Equal(now, ts(101, 0)) || now.Status.Synchronized() {
		t.Errorf("GetCurrentTime after restore = %v; want unsynchronized 101s", now)
	}
}

func TestNotificationMask(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{
		ID:               11,
		NotificationMask: timebase.EventGlobalTime,
	})
	var events []timebase.Events
	e := newEngine(t, cfg, &manualClock{}, sync.Options{
		Callbacks: sync.Callbacks{
			StatusNotification: func(id timebase.ID, ev timebase.Events) {
				events = append(events, ev)
			},
		},
	})
	busSet(t, e, 11, ts(1, 0), 0)
	busSet(t, e, 11, ts(2, 0), time.Second)
	if diff := cmp.Diff([]timebase.Events{timebase.EventGlobalTime}, events); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
	if ev, _ := e.GetNotificationEvents(11); ev != timebase.EventGlobalTime {
		t.Errorf("GetNotificationEvents() = %#x; want %#x", ev, timebase.EventGlobalTime)
	}
	if ev, _ := e.GetNotificationEvents(11); ev != 0 {
		t.Errorf("second GetNotificationEvents() = %#x; want 0", ev)
	}
}

func TestLifecycle(t *testing.T) {
	cfg := newConfig(t, config.TimeBaseConfig{ID: 0, Role: config.RoleMaster})
	clk := &manualClock{}
	clk.Set(time.Second)
	e := newEngine(t, cfg, clk, sync.Options{})

	if err := e.SetGlobalTime(0, ts(1<<40, 5), nil); err != nil {
		t.Fatalf("SetGlobalTime() = %v", err)
	}
	clk.Advance(2 * time.Second)
	if v, err := e.GetCurrentVirtualLocalTime(0); err != nil || v != vlt(3*time.Second) {
		t.Errorf("GetCurrentVirtualLocalTime(0) = %v, %v; want %v", v, err, vlt(3*time.Second))
	}
	x, _, err := e.GetCurrentTimeExtended(0)
	want := timebase.TimeStampExtended{
		Seconds:     1<<40 + 2,
		Nanoseconds: 5,
		Status:      timebase.StatusGlobalTimeBase,
	}
	if err != nil {
		t.Fatalf("GetCurrentTimeExtended(0) = %v", err)
	}
	if diff := cmp.Diff(want, x); diff != "" {
		t.Errorf("GetCurrentTimeExtended(0) mismatch (-want +got):\n%s", diff)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v; want %v", err, context.Canceled)
	}

	if err := e.Shutdown(); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if _, _, err := e.GetCurrentTime(0); !errors.Is(err, sync.ErrUninitialized) {
		t.Errorf("GetCurrentTime after Shutdown = %v; want %v", err, sync.ErrUninitialized)
	}
	if err := e.Shutdown(); !errors.Is(err, sync.ErrUninitialized) {
		t.Errorf("second Shutdown() = %v; want %v", err, sync.ErrUninitialized)
	}
}
