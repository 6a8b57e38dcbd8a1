package world

import (
	"math"

	"github.com/jakecoffman/cp"

	"balldrop.ai/internal/sim/actuator"
	"balldrop.ai/internal/sim/course"
	"balldrop.ai/internal/sim/geom"
)

const spinnerMass = 40.0

func vec(v geom.Vec) cp.Vector { return cp.Vector{X: v.X, Y: v.Y} }

func fromVec(v cp.Vector) geom.Vec { return geom.Vec{X: v.X, Y: v.Y} }

func rectBB(r geom.Rect) cp.BB { return cp.BB{L: r.X, B: r.Y, R: r.X + r.W, T: r.Y + r.H} }

// staticBody adds a static body for one role. Every shape of that role hangs
// off it, so the role table stays small.
func (s *Simulation) staticBody(kind RoleKind) *cp.Body {
	b := s.space.AddBody(cp.NewStaticBody())
	s.roles[b] = Role{Kind: kind}
	return b
}

func (s *Simulation) addStatic(shape *cp.Shape, m course.Material) {
	shape.SetElasticity(m.Elasticity)
	shape.SetFriction(m.Friction)
	shape.SetFilter(staticFilter)
	s.space.AddShape(shape)
}

// buildCourse turns the generated layout into physics bodies. Obstacle
// topology is fixed from here on; only actuator bodies move.
func (s *Simulation) buildCourse() {
	l := &s.layout
	wallMat := course.Material{Elasticity: 0.1, Friction: 0.1}

	walls := s.staticBody(RoleWall)
	for _, r := range l.Walls {
		s.addStatic(cp.NewBox2(walls, rectBB(r), 0), wallMat)
	}
	s.addStatic(cp.NewBox2(walls, rectBB(l.Floor), 0), wallMat)

	obstacles := s.staticBody(RoleObstacle)
	for _, p := range l.Pegs {
		s.addStatic(cp.NewCircle(obstacles, p.R, vec(p.C)), l.PegMaterial)
	}
	for _, b := range l.Bars() {
		a, c := b.Endpoints()
		s.addStatic(cp.NewSegment(obstacles, vec(a), vec(c), b.Thick/2), l.BarMaterial)
	}

	finish := s.staticBody(RoleFinish)
	sensor := cp.NewBox2(finish, rectBB(l.Finish), 0)
	sensor.SetSensor(!s.cfg.Policy.FinishSolid)
	sensor.SetCollisionType(finishType)
	s.addStatic(sensor, wallMat)

	for _, sp := range l.Spinners {
		s.addSpinner(sp)
	}
	for _, f := range l.Flippers {
		s.addFlipper(f)
	}

	h := s.space.NewCollisionHandler(ballType, finishType)
	h.BeginFunc = func(arb *cp.Arbiter, _ *cp.Space, _ interface{}) bool {
		a, b := arb.Bodies()
		for _, body := range [2]*cp.Body{a, b} {
			if r, ok := s.roles.lookup(body); ok && r.Kind == RoleEntity {
				s.onFinishContact(r.Entity)
			}
		}
		return true
	}
}

// addSpinner builds a hub with radial spokes as one compound body pinned to
// the static world at its pivot.
func (s *Simulation) addSpinner(sp course.SpinnerSpot) {
	arm := sp.SpokeLen / 2
	moment := cp.MomentForCircle(spinnerMass/2, 0, sp.HubR, cp.Vector{})
	for i := 0; i < sp.Spokes; i++ {
		tip := cp.ForAngle(2 * math.Pi * float64(i) / float64(sp.Spokes)).Mult(arm)
		moment += cp.MomentForSegment(spinnerMass/2/float64(sp.Spokes), cp.Vector{}, tip, sp.SpokeThick/2)
	}
	body := s.space.AddBody(cp.NewBody(spinnerMass, moment))
	body.SetPosition(vec(sp.Pivot))
	s.roles[body] = Role{Kind: RoleActuator}

	hub := cp.NewCircle(body, sp.HubR, cp.Vector{})
	s.addActuatorShape(hub)
	for i := 0; i < sp.Spokes; i++ {
		tip := cp.ForAngle(2 * math.Pi * float64(i) / float64(sp.Spokes)).Mult(arm)
		s.addActuatorShape(cp.NewSegment(body, cp.Vector{}, tip, sp.SpokeThick/2))
	}
	s.space.AddConstraint(cp.NewPivotJoint(s.space.StaticBody, body, vec(sp.Pivot)))

	a := actuator.NewSpinner(body, sp.Omega)
	s.actuators.Add(a)
	s.rotors = append(s.rotors, rotor{act: a, body: body, pivot: sp.Pivot})
}

// addFlipper builds a kinematic bar hinged at its pivot. The control law sets
// its angular velocity; the engine integrates the angle.
func (s *Simulation) addFlipper(f course.FlipperSpot) {
	body := s.space.AddBody(cp.NewKinematicBody())
	body.SetPosition(vec(f.Pivot))
	body.SetAngle(f.Base)
	s.roles[body] = Role{Kind: RoleActuator}
	s.addActuatorShape(cp.NewSegment(body, cp.Vector{}, cp.Vector{X: f.Len}, f.Thick/2))

	ft := s.cfg.Flipper
	a := actuator.NewFlipper(body, actuator.FlipperConfig{
		Base:       f.Base,
		MaxDelta:   f.MaxDelta,
		Dir:        f.Dir,
		KickRate:   ft.KickRate,
		ReturnRate: ft.ReturnRate,
		Tolerance:  ft.Tolerance,
		IdleMin:    ft.IdleMin,
		IdleMax:    ft.IdleMax,
	}, s.rng, s.sched.Now())
	s.actuators.Add(a)
	s.rotors = append(s.rotors, rotor{act: a, body: body, pivot: f.Pivot})
}

func (s *Simulation) addActuatorShape(shape *cp.Shape) {
	shape.SetElasticity(0.3)
	shape.SetFriction(0.2)
	shape.SetFilter(actuatorFilter)
	s.space.AddShape(shape)
}

// newBall creates the entity's body at its spawn slot without inserting it
// into the space.
func (s *Simulation) newBall(at geom.Vec) (*cp.Body, *cp.Shape) {
	bc := s.cfg.Ball
	body := cp.NewBody(bc.Mass, cp.MomentForCircle(bc.Mass, 0, bc.R, cp.Vector{}))
	body.SetPosition(vec(at))
	shape := cp.NewCircle(body, bc.R, cp.Vector{})
	shape.SetElasticity(bc.Elasticity)
	shape.SetFriction(bc.Friction)
	shape.SetCollisionType(ballType)
	shape.SetFilter(ballFilter)
	return body, shape
}

// spawnFit is how many columns fit across the world and how many rows fit
// between the top wall and the spawn point, at the configured spacing.
func (s *Simulation) spawnFit() (cols, rows int) {
	bc := s.cfg.Ball
	cols = max(1, int((s.layout.W-2*bc.R)/bc.Spacing)+1)
	rows = max(1, int((s.layout.Spawn.Y-bc.R)/bc.Spacing)+1)
	return cols, rows
}

// spawnCapacity is the most balls the spawn cluster holds without overlap.
func (s *Simulation) spawnCapacity() int {
	cols, rows := s.spawnFit()
	return cols * rows
}

// spawnSlots lays the spawn cluster: rows of up to Cols balls centred on the
// spawn point, stacked upward. When Cols would stack rows into the top wall
// the rows widen instead, up to the world width.
func (s *Simulation) spawnSlots(n int) []geom.Vec {
	bc := s.cfg.Ball
	fitCols, fitRows := s.spawnFit()
	cols := max(1, min(bc.Cols, fitCols))
	if cols*fitRows < n {
		cols = min(fitCols, (n+fitRows-1)/fitRows)
	}
	spawn := s.layout.Spawn
	out := make([]geom.Vec, n)
	for i := range out {
		col, row := i%cols, i/cols
		out[i] = geom.Vec{
			X: spawn.X - float64(cols-1)/2*bc.Spacing + float64(col)*bc.Spacing,
			Y: spawn.Y - float64(row)*bc.Spacing,
		}
	}
	return out
}
