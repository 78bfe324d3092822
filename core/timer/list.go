package timer

import (
	"errors"

	"example.com/synctime/base/timebase"
	"example.com/synctime/base/timemath"
)

const none = -1

var (
	ErrDuplicate = errors.New("timer already pending")
	ErrFull      = errors.New("no free timer slot")
)

// State is the life cycle state of a pending expiry point.
type State uint8

const (
	// Waiting points are further away than the start threshold.
	Waiting State = iota
	// PendingStart points are due for the hardware timer, which is busy.
	PendingStart
	Armed
	// Expired points await delivery by the next tick.
	Expired
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case PendingStart:
		return "pending"
	case Armed:
		return "armed"
	case Expired:
		return "expired"
	default:
		return "invalid"
	}
}

// Point is one customer expiry point. Expire is absolute time on the clock
// of the owning time base.
type Point struct {
	Customer  timebase.CustomerID
	Expire    timebase.TimeStamp
	State     State
	Deviation timebase.TimeDiff

	used       bool
	prev, next int
}

// List is an expiry ordered doubly linked list over a fixed arena of points.
// Links are arena indices.
type List struct {
	ID    timebase.ID
	nodes []Point
	head  int
	tail  int
	n     int
}

func NewList(id timebase.ID, capacity int) *List {
	if capacity <= 0 {
		panic("invalid timer list capacity")
	}
	return &List{
		ID:    id,
		nodes: make([]Point, capacity),
		head:  none,
		tail:  none,
	}
}

func (l *List) Len() int { return l.n }

func (l *List) Cap() int { return len(l.nodes) }

func (l *List) Head() int { return l.head }

func (l *List) Next(i int) int { return l.nodes[i].next }

func (l *List) Point(i int) *Point {
	if !l.nodes[i].used {
		panic("unexpected access to free timer slot")
	}
	return &l.nodes[i]
}

// Find returns the slot of the pending point of customer c or -1.
func (l *List) Find(c timebase.CustomerID) int {
	for i := l.head; i != none; i = l.nodes[i].next {
		if l.nodes[i].Customer == c {
			return i
		}
	}
	return none
}

// Insert adds a point for customer c. Points with equal expiry keep their
// insertion order.
func (l *List) Insert(c timebase.CustomerID, expire timebase.TimeStamp) (int, error) {
	if l.Find(c) != none {
		return none, ErrDuplicate
	}
	slot := none
	for i := range l.nodes {
		if !l.nodes[i].used {
			slot = i
			break
		}
	}
	if slot == none {
		return none, ErrFull
	}
	// New points usually expire last, so search from the tail.
	after := l.tail
	for after != none && !timemath.GE(expire, l.nodes[after].Expire) {
		after = l.nodes[after].prev
	}
	p := &l.nodes[slot]
	*p = Point{
		Customer: c,
		Expire:   expire,
		used:     true,
		prev:     after,
	}
	if after == none {
		p.next = l.head
		l.head = slot
	} else {
		p.next = l.nodes[after].next
		l.nodes[after].next = slot
	}
	if p.next == none {
		l.tail = slot
	} else {
		l.nodes[p.next].prev = slot
	}
	l.n++
	return slot, nil
}

func (l *List) Remove(i int) Point {
	p := l.Point(i)
	if p.prev == none {
		l.head = p.next
	} else {
		l.nodes[p.prev].next = p.next
	}
	if p.next == none {
		l.tail = p.prev
	} else {
		l.nodes[p.next].prev = p.prev
	}
	removed := *p
	*p = Point{}
	l.n--
	return removed
}

// Slots returns the arena indices in list order.
func (l *List) Slots() []int {
	s := make([]int, 0, l.n)
	for i := l.head; i != none; i = l.nodes[i].next {
		s = append(s, i)
	}
	return s
}
