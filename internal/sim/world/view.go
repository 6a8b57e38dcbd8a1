package world

import (
	"time"

	"balldrop.ai/internal/sim/actuator"
	"balldrop.ai/internal/sim/geom"
	"balldrop.ai/internal/sim/race"
)

type BallView struct {
	ID        race.EntityID
	Name      string
	State     race.State
	Pos       geom.Vec
	Rank      int
	Highlight bool
}

type ActuatorView struct {
	Kind  actuator.Kind
	Pivot geom.Vec
	Angle float64
	Phase string
}

// View is a read-only copy of everything the presentation layer draws.
type View struct {
	ID        string
	Tick      uint64
	Now       time.Duration
	Phase     Phase
	Camera    geom.Rect
	Gravity   geom.Vec
	Shaking   bool
	Leader    race.EntityID
	Balls     []BallView
	Actuators []ActuatorView
	Ranks     []race.Rank
	Winners   int
}

// Snapshot copies the current state. Removed balls are omitted.
func (s *Simulation) Snapshot() View {
	v := View{
		ID:      s.cfg.ID,
		Tick:    s.tick,
		Now:     s.sched.Now(),
		Phase:   s.phase,
		Camera:  s.camera.View(),
		Gravity: s.Gravity(),
		Shaking: s.Shaking(),
		Leader:  s.leader,
		Ranks:   s.Ranks(),
		Winners: s.cfg.Winners,
	}
	rankOf := make(map[race.EntityID]int, len(v.Ranks))
	for _, r := range v.Ranks {
		rankOf[r.EntityID] = r.Position
	}
	v.Balls = make([]BallView, 0, len(s.balls))
	for _, b := range s.balls {
		if !b.inSpace {
			continue
		}
		v.Balls = append(v.Balls, BallView{
			ID:        b.entity.ID,
			Name:      b.entity.Name,
			State:     b.entity.State,
			Pos:       fromVec(b.body.Position()),
			Rank:      rankOf[b.entity.ID],
			Highlight: b.entity.ID == s.highlight,
		})
	}
	v.Actuators = make([]ActuatorView, 0, len(s.rotors))
	for _, r := range s.rotors {
		av := ActuatorView{Kind: r.act.Kind(), Pivot: r.pivot, Angle: r.body.Angle()}
		if f, ok := r.act.(*actuator.Flipper); ok {
			av.Phase = f.Phase().String()
		}
		v.Actuators = append(v.Actuators, av)
	}
	return v
}
