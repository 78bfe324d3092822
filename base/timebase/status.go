package timebase

import (
	"strings"
)

// Status is the status byte of a time base.
type Status uint8

const (
	StatusTimeout        Status = 0x01
	StatusSyncToGateway  Status = 0x04
	StatusGlobalTimeBase Status = 0x08
	StatusTimeLeapFuture Status = 0x10
	StatusTimeLeapPast   Status = 0x20

	StatusTimeLeap = StatusTimeLeapFuture | StatusTimeLeapPast
)

func (s Status) Has(f Status) bool { return s&f == f }

func (s Status) Synchronized() bool { return s.Has(StatusGlobalTimeBase) }

func (s Status) String() string {
	var b strings.Builder
	for _, f := range []struct {
		s Status
		n string
	}{
		{StatusGlobalTimeBase, "GLOBAL_TIME_BASE"},
		{StatusTimeout, "TIMEOUT"},
		{StatusSyncToGateway, "SYNC_TO_GATEWAY"},
		{StatusTimeLeapFuture, "TIMELEAP_FUTURE"},
		{StatusTimeLeapPast, "TIMELEAP_PAST"},
	} {
		if s.Has(f.s) {
			if b.Len() != 0 {
				b.WriteByte('|')
			}
			b.WriteString(f.n)
		}
	}
	return b.String()
}

// Events is a set of status notification events.
type Events uint32

const (
	EventGlobalTime         Events = 0x001
	EventTimeoutOccurred    Events = 0x002
	EventTimeoutRemoved     Events = 0x004
	EventTimeLeapFuture     Events = 0x008
	EventTimeLeapFutureGone Events = 0x010
	EventTimeLeapPast       Events = 0x020
	EventTimeLeapPastGone   Events = 0x040
	EventSyncToSubdomain    Events = 0x080
	EventSyncToGlobalMaster Events = 0x100
	EventResync             Events = 0x200
	EventRateCorrection     Events = 0x400
	AllEvents               Events = 0x7ff
)

// StatusEvents returns the events implied by a status transition.
func StatusEvents(before, after Status) Events {
	var ev Events
	changed := func(f Status) (set, cleared bool) {
		return !before.Has(f) && after.Has(f), before.Has(f) && !after.Has(f)
	}
	if set, _ := changed(StatusGlobalTimeBase); set {
		ev |= EventGlobalTime
	}
	if set, cleared := changed(StatusTimeout); set {
		ev |= EventTimeoutOccurred
	} else if cleared {
		ev |= EventTimeoutRemoved
	}
	if set, cleared := changed(StatusTimeLeapFuture); set {
		ev |= EventTimeLeapFuture
	} else if cleared {
		ev |= EventTimeLeapFutureGone
	}
	if set, cleared := changed(StatusTimeLeapPast); set {
		ev |= EventTimeLeapPast
	} else if cleared {
		ev |= EventTimeLeapPastGone
	}
	if set, cleared := changed(StatusSyncToGateway); set {
		ev |= EventSyncToSubdomain
	} else if cleared {
		ev |= EventSyncToGlobalMaster
	}
	return ev
}
