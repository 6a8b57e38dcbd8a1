package race

import (
	"time"

	"balldrop.ai/internal/sim/sched"
)

// Deferrer schedules work on the simulation clock.
type Deferrer interface {
	Now() time.Duration
	After(delay time.Duration, fn func()) sched.Handle
}

// Celebrator receives the cosmetic side effect of a ranked finish.
type Celebrator interface {
	Celebrate(e *Entity, r Rank)
}

// Outcome describes what a single finish-trigger contact did.
type Outcome struct {
	Entity *Entity
	// Ignored is set when the contact was a repeat or referenced an unknown
	// or inactive entity. Nothing changed.
	Ignored bool
	Ranked  bool
	Rank    Rank
	// TopReached is set on the one contact that filled the rank list.
	TopReached bool
}

// Arbiter turns finish-trigger contacts into ranks. A body may touch the
// trigger many times while it overlaps; only its first contact counts.
type Arbiter struct {
	roster   *Roster
	ranks    *RankList
	deferrer Deferrer
	delay    time.Duration

	// Remove detaches the entity's body from the simulated world. It runs
	// from the deferred action, never from inside a collision callback.
	remove     func(e *Entity)
	celebrator Celebrator
	onRemoved  func(e *Entity)
}

type ArbiterConfig struct {
	Roster       *Roster
	Ranks        *RankList
	Deferrer     Deferrer
	RemovalDelay time.Duration
	Remove       func(e *Entity)
	Celebrator   Celebrator
	// OnRemoved is called after an entity transitions to Removed.
	OnRemoved func(e *Entity)
}

func NewArbiter(cfg ArbiterConfig) *Arbiter {
	return &Arbiter{
		roster:     cfg.Roster,
		ranks:      cfg.Ranks,
		deferrer:   cfg.Deferrer,
		delay:      cfg.RemovalDelay,
		remove:     cfg.Remove,
		celebrator: cfg.Celebrator,
		onRemoved:  cfg.OnRemoved,
	}
}

func (a *Arbiter) Ranks() *RankList { return a.ranks }

// OnTrigger handles one collision-start between the finish trigger and the
// body of entity id, at simulation time now.
func (a *Arbiter) OnTrigger(id EntityID, now time.Duration) Outcome {
	e, ok := a.roster.Get(id)
	if !ok || e.State != Falling {
		return Outcome{Entity: e, Ignored: true}
	}
	if err := e.Finish(now); err != nil {
		return Outcome{Entity: e, Ignored: true}
	}

	out := Outcome{Entity: e}
	if r, ok := a.ranks.Append(e, now); ok {
		out.Ranked = true
		out.Rank = r
		out.TopReached = a.ranks.Full()
		if a.celebrator != nil {
			a.celebrator.Celebrate(e, r)
		}
	}

	a.scheduleRemoval(e)
	return out
}

func (a *Arbiter) scheduleRemoval(e *Entity) {
	finish := func() {
		if e.State != Finished {
			return
		}
		if a.remove != nil {
			a.remove(e)
		}
		now := e.FinishedAt
		if a.deferrer != nil {
			now = a.deferrer.Now()
		}
		_ = e.Remove(now)
		if a.onRemoved != nil {
			a.onRemoved(e)
		}
	}
	if a.deferrer == nil {
		finish()
		return
	}
	a.deferrer.After(a.delay, finish)
}
