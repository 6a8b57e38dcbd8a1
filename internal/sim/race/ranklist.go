package race

import "time"

// Rank is one recorded finish.
type Rank struct {
	Position int           `json:"position"`
	EntityID EntityID      `json:"entity_id"`
	Name     string        `json:"name"`
	At       time.Duration `json:"at"`
}

// RankList is the append-only, size-capped record of finish arrivals.
// An entity appears at most once; the list is only cleared by building a new
// simulation.
type RankList struct {
	k       int
	entries []Rank
	seen    map[EntityID]struct{}
}

func NewRankList(k int) *RankList {
	if k < 0 {
		k = 0
	}
	return &RankList{
		k:       k,
		entries: make([]Rank, 0, k),
		seen:    make(map[EntityID]struct{}, k),
	}
}

// Append records e in arrival order. It returns false if the list is full or
// e is already ranked.
func (l *RankList) Append(e *Entity, at time.Duration) (Rank, bool) {
	if e == nil || l.Full() {
		return Rank{}, false
	}
	if _, dup := l.seen[e.ID]; dup {
		return Rank{}, false
	}
	r := Rank{Position: len(l.entries) + 1, EntityID: e.ID, Name: e.Name, At: at}
	l.entries = append(l.entries, r)
	l.seen[e.ID] = struct{}{}
	return r, true
}

func (l *RankList) Len() int   { return len(l.entries) }
func (l *RankList) Cap() int   { return l.k }
func (l *RankList) Full() bool { return len(l.entries) >= l.k }

func (l *RankList) Contains(id EntityID) bool {
	_, ok := l.seen[id]
	return ok
}

// Entries returns a copy of the ranks in arrival order.
func (l *RankList) Entries() []Rank {
	out := make([]Rank, len(l.entries))
	copy(out, l.entries)
	return out
}

// Last returns the most recent rank.
func (l *RankList) Last() (Rank, bool) {
	if len(l.entries) == 0 {
		return Rank{}, false
	}
	return l.entries[len(l.entries)-1], true
}
