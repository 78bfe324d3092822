package timer

import (
	"errors"
	"slices"
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"

	"example.com/synctime/base/timebase"
	"example.com/synctime/base/timemath"
)

// Deviations are int32 nanoseconds, so their absolute value always fits.
const maxTrackedDeviation = 10_000_000_000

var ErrNoList = errors.New("time base has no timer list")

// HardwareTimer is a one-shot timer. Arm must fire the timer callback once
// after ns nanoseconds. Disarm reports whether it stopped the timer before it
// fired; after a false result the callback is still delivered.
type HardwareTimer interface {
	Arm(ns uint64) error
	Disarm() bool
}

// Expiry is a customer notification produced by Tick.
type Expiry struct {
	TimeBase  timebase.ID
	Customer  timebase.CustomerID
	Deviation timebase.TimeDiff
}

type Stats struct {
	Count int64
	Min   int64
	Max   int64
	Mean  float64
	P50   int64
	P99   int64
}

type armedPoint struct {
	list *List
	slot int
	seq  uint64
	// fired is set once the hardware callback reached the scheduler.
	fired bool
}

// Scheduler arbitrates a single hardware timer across the expiry lists of
// several time bases. Callers sample the current time of each time base
// before calling into the scheduler.
type Scheduler struct {
	mu        sync.Mutex
	hw        HardwareTimer
	threshold uint64
	lists     []*List
	armed     *armedPoint
	seq       uint64
	// stale counts hardware callbacks still in flight for disarmed points.
	stale int
	hist  *hdrhistogram.Histogram
}

// NewScheduler returns a scheduler that arms hw for points due within
// threshold nanoseconds.
func NewScheduler(hw HardwareTimer, threshold uint64) *Scheduler {
	if hw == nil {
		panic("hardware timer must not be nil")
	}
	return &Scheduler{
		hw:        hw,
		threshold: threshold,
		hist:      hdrhistogram.New(1, maxTrackedDeviation, 3),
	}
}

func (s *Scheduler) AddList(l *List) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listLocked(l.ID) != nil {
		panic("timer list already added")
	}
	i := len(s.lists)
	for i > 0 && s.lists[i-1].ID > l.ID {
		i--
	}
	s.lists = slices.Insert(s.lists, i, l)
}

func (s *Scheduler) listLocked(id timebase.ID) *List {
	for _, l := range s.lists {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func (s *Scheduler) HasList(id timebase.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(id) != nil
}

// Start schedules a notification for customer c of time base id, rel after
// now.
func (s *Scheduler) Start(id timebase.ID, c timebase.CustomerID, now, rel timebase.TimeStamp) error {
	expire, err := timemath.Sum(now, rel)
	if err != nil {
		return err
	}
	expire.Status = 0
	relNs, err := timemath.Nanoseconds(rel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.listLocked(id)
	if l == nil {
		return ErrNoList
	}
	slot, err := l.Insert(c, expire)
	if err != nil {
		return err
	}
	if relNs < s.threshold {
		if a := s.armed; a != nil && a.list == l && !timemath.GE(expire, l.Point(a.slot).Expire) {
			s.preemptLocked()
		}
		s.armLocked(l, slot, relNs)
	}
	return nil
}

func (s *Scheduler) armLocked(l *List, slot int, ns uint64) {
	p := l.Point(slot)
	if s.armed != nil {
		p.State = PendingStart
		return
	}
	if err := s.hw.Arm(ns); err != nil {
		p.State = PendingStart
		return
	}
	p.State = Armed
	s.seq++
	s.armed = &armedPoint{list: l, slot: slot, seq: s.seq}
}

// disarmLocked stops the hardware timer for the armed point.
func (s *Scheduler) disarmLocked() {
	if !s.hw.Disarm() && !s.armed.fired {
		s.stale++
	}
	s.armed = nil
}

// preemptLocked returns the armed point to PendingStart.
func (s *Scheduler) preemptLocked() {
	s.armed.list.Point(s.armed.slot).State = PendingStart
	s.disarmLocked()
}

// Fired must be called first by every hardware timer callback. It returns
// the time base and arm sequence of the point the timer fired for, or false
// if the callback belongs to a point that was disarmed in the meantime.
func (s *Scheduler) Fired() (timebase.ID, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale > 0 {
		s.stale--
		return 0, 0, false
	}
	if s.armed == nil {
		return 0, 0, false
	}
	s.armed.fired = true
	return s.armed.list.ID, s.armed.seq, true
}

// Callback marks the point armed as seq expired. now is the current time of
// the time base returned by Fired. Callbacks for a point that is no longer
// armed are ignored.
func (s *Scheduler) Callback(seq uint64, now timebase.TimeStamp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed == nil || s.armed.seq != seq {
		return
	}
	p := s.armed.list.Point(s.armed.slot)
	p.State = Expired
	p.Deviation = timemath.SaturatedDiff(now, p.Expire)
	s.armed = nil
}

// Tick delivers expired points, retries pending hardware timer starts and
// arms points that came within the start threshold. now holds the current
// time of each time base; lists without an entry are skipped.
func (s *Scheduler) Tick(now map[timebase.ID]timebase.TimeStamp) []Expiry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Expiry
	deliver := func(l *List, slot int) {
		p := l.Remove(slot)
		out = append(out, Expiry{TimeBase: l.ID, Customer: p.Customer, Deviation: p.Deviation})
		d := int64(p.Deviation)
		if d < 0 {
			d = -d
		}
		if err := s.hist.RecordValue(d); err != nil {
			panic("unexpected timer deviation")
		}
	}

	// Expired by the hardware timer.
	for _, l := range s.lists {
		for _, slot := range l.Slots() {
			if l.Point(slot).State == Expired {
				deliver(l, slot)
			}
		}
	}

	type candidate struct {
		list *List
		slot int
		ns   uint64
	}
	var due []candidate
	var armedNs uint64
	armedKnown := false
	for _, l := range s.lists {
		t, ok := now[l.ID]
		if !ok {
			continue
		}
		for _, slot := range l.Slots() {
			p := l.Point(slot)
			if timemath.GE(t, p.Expire) {
				// Overdue, e.g. after a leap of the time base.
				if p.State == Armed {
					s.disarmLocked()
				}
				p.Deviation = timemath.SaturatedDiff(t, p.Expire)
				deliver(l, slot)
				continue
			}
			d, _ := timemath.Sub(p.Expire, t)
			ns, err := timemath.Nanoseconds(d)
			if p.State == Armed {
				armedNs, armedKnown = ns, err == nil
				continue
			}
			if err != nil || ns >= s.threshold {
				p.State = Waiting
				break
			}
			due = append(due, candidate{list: l, slot: slot, ns: ns})
		}
	}
	if len(due) == 0 {
		return out
	}

	// The hardware timer serves the nearest deadline over all lists.
	next := 0
	for i, c := range due {
		if c.ns < due[next].ns {
			next = i
		}
	}
	if s.armed != nil && armedKnown && due[next].ns < armedNs {
		s.preemptLocked()
	}
	for i, c := range due {
		if i != next {
			c.list.Point(c.slot).State = PendingStart
		}
	}
	s.armLocked(due[next].list, due[next].slot, due[next].ns)
	return out
}

// Stop disarms the hardware timer. The armed point goes back to pending.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed == nil {
		return
	}
	s.preemptLocked()
}

func (s *Scheduler) DeviationStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hist.TotalCount() == 0 {
		return Stats{}
	}
	return Stats{
		Count: s.hist.TotalCount(),
		Min:   s.hist.Min(),
		Max:   s.hist.Max(),
		Mean:  s.hist.Mean(),
		P50:   s.hist.ValueAtQuantile(50),
		P99:   s.hist.ValueAtQuantile(99),
	}
}
