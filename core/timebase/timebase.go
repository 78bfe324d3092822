package timebase

import (
	"errors"
	"fmt"

	"example.com/synctime/base/timebase"
	"example.com/synctime/core/config"
)

type Kind uint8

const (
	KindSync Kind = iota
	KindOffset
	KindPure
)

func (k Kind) String() string {
	switch k {
	case KindSync:
		return "sync"
	case KindOffset:
		return "offset"
	case KindPure:
		return "pure"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

type Role uint8

const (
	RoleMaster Role = iota
	RoleSlave
	RoleGateway
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return config.RoleMaster
	case RoleSlave:
		return config.RoleSlave
	case RoleGateway:
		return config.RoleGateway
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Slave reports whether time bases with role r receive their time from a bus.
func (r Role) Slave() bool { return r != RoleMaster }

var ErrInvalidID = errors.New("invalid time base id")

// Entry describes one configured time base. Index is dense over all time
// bases; sync bases come first, then offset bases, then pure bases.
// SyncIndex is the index of the underlying sync base of an offset base and
// -1 otherwise.
type Entry struct {
	ID        timebase.ID
	Kind      Kind
	Role      Role
	Index     int
	SyncIndex int
}

type Registry struct {
	entries []Entry
	byID    map[timebase.ID]int
}

func NewRegistry(cfg config.Config) (*Registry, error) {
	r := &Registry{byID: make(map[timebase.ID]int, len(cfg.TimeBases))}
	for _, k := range []Kind{KindSync, KindOffset, KindPure} {
		for _, tb := range cfg.TimeBases {
			kind, ok := kindOf(tb.ID)
			if !ok {
				return nil, fmt.Errorf("%w: %d", ErrInvalidID, tb.ID)
			}
			if kind != k {
				continue
			}
			if _, ok := r.byID[tb.ID]; ok {
				return nil, fmt.Errorf("%w: %d configured twice", ErrInvalidID, tb.ID)
			}
			role, err := parseRole(tb.Role)
			if err != nil {
				return nil, err
			}
			r.byID[tb.ID] = len(r.entries)
			r.entries = append(r.entries, Entry{
				ID:        tb.ID,
				Kind:      kind,
				Role:      role,
				Index:     len(r.entries),
				SyncIndex: -1,
			})
		}
	}
	for i := range r.entries {
		e := &r.entries[i]
		if e.Kind != KindOffset {
			continue
		}
		tb, _ := cfg.TimeBase(e.ID)
		idx, ok := r.byID[tb.SyncTimeBaseID]
		if !ok || r.entries[idx].Kind != KindSync {
			return nil, fmt.Errorf("%w: offset time base %d refers to %d",
				ErrInvalidID, e.ID, tb.SyncTimeBaseID)
		}
		e.SyncIndex = idx
	}
	return r, nil
}

func kindOf(id timebase.ID) (Kind, bool) {
	switch {
	case config.IsSyncID(id):
		return KindSync, true
	case config.IsOffsetID(id):
		return KindOffset, true
	case config.IsPureID(id):
		return KindPure, true
	default:
		return 0, false
	}
}

func parseRole(s string) (Role, error) {
	switch s {
	case config.RoleMaster:
		return RoleMaster, nil
	case config.RoleSlave, "":
		return RoleSlave, nil
	case config.RoleGateway:
		return RoleGateway, nil
	default:
		return 0, fmt.Errorf("invalid role %q", s)
	}
}

func (r *Registry) Lookup(id timebase.ID) (Entry, error) {
	idx, ok := r.byID[id]
	if !ok {
		return Entry{}, ErrInvalidID
	}
	return r.entries[idx], nil
}

func (r *Registry) Entry(index int) Entry {
	if index < 0 || index >= len(r.entries) {
		panic("unexpected time base index")
	}
	return r.entries[index]
}

func (r *Registry) Len() int { return len(r.entries) }

// Entries returns all time bases in index order.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}
