package race

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrBadTransition = errors.New("race: invalid entity transition")

// State is an entity's lifecycle stage. Transitions only move forward one
// step at a time: Pending -> Falling -> Finished -> Removed.
type State uint8

const (
	Pending State = iota
	Falling
	Finished
	Removed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Falling:
		return "FALLING"
	case Finished:
		return "FINISHED"
	case Removed:
		return "REMOVED"
	default:
		return fmt.Sprintf("STATE(%d)", uint8(s))
	}
}

// EntityID is the participant's 1-based display index.
type EntityID int

// Entity is one participant. ID and Name stay valid after removal so the rank
// list can refer to them post-mortem.
type Entity struct {
	ID    EntityID
	Name  string
	State State

	ReleasedAt time.Duration
	FinishedAt time.Duration
	RemovedAt  time.Duration
}

func (e *Entity) Active() bool { return e.State == Falling || e.State == Finished }

func (e *Entity) advance(from, to State, now time.Duration) error {
	if e.State != from {
		return fmt.Errorf("%w: entity %d is %s, want %s", ErrBadTransition, e.ID, e.State, from)
	}
	e.State = to
	switch to {
	case Falling:
		e.ReleasedAt = now
	case Finished:
		e.FinishedAt = now
	case Removed:
		e.RemovedAt = now
	}
	return nil
}

// Release marks the entity's body as inserted into the simulated world.
func (e *Entity) Release(now time.Duration) error { return e.advance(Pending, Falling, now) }

// Finish records the single allowed finish.
func (e *Entity) Finish(now time.Duration) error { return e.advance(Falling, Finished, now) }

// Remove records that the body left the simulated world.
func (e *Entity) Remove(now time.Duration) error { return e.advance(Finished, Removed, now) }

// Roster holds every entity of one race, in display order.
type Roster struct {
	order []*Entity
}

// NewRoster creates one Pending entity per name, capped at max (max <= 0
// means uncapped). Blank names fall back to "Player N".
func NewRoster(names []string, max int) *Roster {
	if max > 0 && len(names) > max {
		names = names[:max]
	}
	r := &Roster{order: make([]*Entity, 0, len(names))}
	for i, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			n = fmt.Sprintf("Player %d", i+1)
		}
		r.order = append(r.order, &Entity{ID: EntityID(i + 1), Name: n})
	}
	return r
}

func (r *Roster) Len() int { return len(r.order) }

// Get resolves an entity by id.
func (r *Roster) Get(id EntityID) (*Entity, bool) {
	i := int(id) - 1
	if r == nil || i < 0 || i >= len(r.order) {
		return nil, false
	}
	return r.order[i], true
}

// All returns the entities in display order. The slice must not be modified.
func (r *Roster) All() []*Entity {
	if r == nil {
		return nil
	}
	return r.order
}

// Count returns how many entities are in state st.
func (r *Roster) Count(st State) int {
	n := 0
	for _, e := range r.All() {
		if e.State == st {
			n++
		}
	}
	return n
}
