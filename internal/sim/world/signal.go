package world

import (
	"time"

	"balldrop.ai/internal/sim/race"
)

// SignalKind names a lifecycle signal for the presentation layer.
type SignalKind string

const (
	SigCourseBuilt  SignalKind = "course_built"
	SigCountdown    SignalKind = "countdown"
	SigRaceStarted  SignalKind = "race_started"
	SigReleased     SignalKind = "released"
	SigFinished     SignalKind = "finished"
	SigRemoved      SignalKind = "removed"
	SigTopReached   SignalKind = "top_reached"
	SigShake        SignalKind = "shake"
	SigShakeEnd     SignalKind = "shake_end"
	SigRaceComplete SignalKind = "race_complete"
)

// Signal is one lifecycle event. Entity, Name and Rank are set for
// per-entity signals; Rank is 0 for a finisher that did not make the list.
type Signal struct {
	Kind   SignalKind
	Tick   uint64
	At     time.Duration
	Entity race.EntityID
	Name   string
	Rank   int
	Text   string
}

func (s *Simulation) emit(sig Signal) {
	sig.Tick = s.tick
	sig.At = s.sched.Now()
	s.signals = append(s.signals, sig)
}

func (s *Simulation) emitEntity(kind SignalKind, e *race.Entity, rank int) {
	s.emit(Signal{Kind: kind, Entity: e.ID, Name: e.Name, Rank: rank})
}

// Drain returns the signals emitted since the last call.
func (s *Simulation) Drain() []Signal {
	out := s.signals
	s.signals = nil
	return out
}

// LogEntry is the durable form of a signal: one JSONL line in a race's event
// log and one row in the results index.
type LogEntry struct {
	RaceID string        `json:"race_id"`
	Tick   uint64        `json:"tick"`
	AtMs   int64         `json:"at_ms"`
	Kind   SignalKind    `json:"kind"`
	Entity race.EntityID `json:"entity,omitempty"`
	Name   string        `json:"name,omitempty"`
	Rank   int           `json:"rank,omitempty"`
	Text   string        `json:"text,omitempty"`
}

func (s Signal) Entry(raceID string) LogEntry {
	return LogEntry{
		RaceID: raceID,
		Tick:   s.Tick,
		AtMs:   s.At.Milliseconds(),
		Kind:   s.Kind,
		Entity: s.Entity,
		Name:   s.Name,
		Rank:   s.Rank,
		Text:   s.Text,
	}
}
