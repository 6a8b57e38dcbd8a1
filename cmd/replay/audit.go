package main

import (
	"fmt"

	"balldrop.ai/internal/persistence/snapshot"
	"balldrop.ai/internal/sim/race"
	"balldrop.ai/internal/sim/world"
)

// auditor checks one race's event stream against the finish-order rules.
type auditor struct {
	raceID  string
	winners int

	lastTick   uint64
	finished   map[race.EntityID]bool
	removed    map[race.EntityID]bool
	ranks      map[int]race.EntityID
	ranked     int
	topReached int
	completed  int
	events     int
}

func newAuditor(raceID string, winners int) *auditor {
	return &auditor{
		raceID:   raceID,
		winners:  winners,
		finished: map[race.EntityID]bool{},
		removed:  map[race.EntityID]bool{},
		ranks:    map[int]race.EntityID{},
	}
}

func (a *auditor) add(e world.LogEntry) error {
	if e.RaceID != a.raceID {
		return nil
	}
	a.events++
	if e.Tick < a.lastTick {
		return fmt.Errorf("tick %d after tick %d", e.Tick, a.lastTick)
	}
	a.lastTick = e.Tick
	if a.completed > 0 && e.Kind != world.SigShake && e.Kind != world.SigShakeEnd {
		return fmt.Errorf("tick %d: %s after race_complete", e.Tick, e.Kind)
	}

	switch e.Kind {
	case world.SigFinished:
		if a.finished[e.Entity] {
			return fmt.Errorf("tick %d: entity %d finished twice", e.Tick, e.Entity)
		}
		if a.removed[e.Entity] {
			return fmt.Errorf("tick %d: entity %d finished after removal", e.Tick, e.Entity)
		}
		a.finished[e.Entity] = true
		if e.Rank == 0 {
			return nil
		}
		if e.Rank < 1 || e.Rank > a.winners {
			return fmt.Errorf("tick %d: rank %d outside 1..%d", e.Tick, e.Rank, a.winners)
		}
		if e.Rank != a.ranked+1 {
			return fmt.Errorf("tick %d: rank %d assigned after %d ranks", e.Tick, e.Rank, a.ranked)
		}
		a.ranks[e.Rank] = e.Entity
		a.ranked++
	case world.SigRemoved:
		a.removed[e.Entity] = true
	case world.SigTopReached:
		a.topReached++
		if a.topReached > 1 {
			return fmt.Errorf("tick %d: top_reached emitted twice", e.Tick)
		}
		if a.ranked == 0 {
			return fmt.Errorf("tick %d: top_reached with no ranked finishers", e.Tick)
		}
	case world.SigRaceComplete:
		a.completed++
	}
	return nil
}

// check compares the stream with the final snapshot's rank list.
func (a *auditor) check(snap snapshot.CourseV1) error {
	if a.ranked > len(snap.Participants) && len(snap.Participants) > 0 {
		return fmt.Errorf("%d ranks for %d participants", a.ranked, len(snap.Participants))
	}
	if a.completed > 0 && a.topReached == 0 && a.ranked > 0 {
		return fmt.Errorf("race completed without top_reached")
	}
	if len(snap.Ranks) == 0 {
		return nil
	}
	if len(snap.Ranks) != a.ranked {
		return fmt.Errorf("snapshot has %d ranks, event log has %d", len(snap.Ranks), a.ranked)
	}
	for _, r := range snap.Ranks {
		if got, ok := a.ranks[r.Position]; !ok || int(got) != r.Entity {
			return fmt.Errorf("rank %d: snapshot entity %d, event log entity %d", r.Position, r.Entity, got)
		}
	}
	return nil
}
