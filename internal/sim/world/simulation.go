package world

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jakecoffman/cp"

	"balldrop.ai/internal/sim/actuator"
	"balldrop.ai/internal/sim/camera"
	"balldrop.ai/internal/sim/course"
	"balldrop.ai/internal/sim/geom"
	"balldrop.ai/internal/sim/race"
	"balldrop.ai/internal/sim/sched"
)

var (
	ErrClosed         = errors.New("world: simulation closed")
	ErrAlreadyStarted = errors.New("world: race already started")
	ErrNoParticipants = errors.New("world: no participants")
	ErrNotStarted     = errors.New("world: race not started")
	ErrShakeActive    = errors.New("world: shake already running")
)

type Phase string

const (
	PhaseBuilt     Phase = "BUILT"
	PhaseCountdown Phase = "COUNTDOWN"
	PhaseRunning   Phase = "RUNNING"
	PhaseComplete  Phase = "COMPLETE"
	PhaseClosed    Phase = "CLOSED"
)

type ball struct {
	entity  *race.Entity
	body    *cp.Body
	shape   *cp.Shape
	inSpace bool
}

type rotor struct {
	act   actuator.Actuator
	body  *cp.Body
	pivot geom.Vec
}

// Simulation is one built course and at most one race on it. It is not safe
// for concurrent use: the owner calls every method from a single goroutine.
// Reset means Close and construct a new Simulation; a closed Simulation
// never mutates again.
type Simulation struct {
	cfg    Config
	rng    *rand.Rand
	layout course.Layout

	space       *cp.Space
	roles       roleTable
	actuators   *actuator.Set
	rotors      []rotor
	sched       *sched.Scheduler
	dt          time.Duration
	tick        uint64
	phase       Phase
	baseGravity cp.Vector

	roster    *race.Roster
	ranks     *race.RankList
	arbiter   *race.Arbiter
	balls     []*ball
	highlight race.EntityID
	camera    *camera.Tracker
	leader    race.EntityID

	shake   sched.Handle
	signals []Signal
	closed  bool
}

// New generates the course from cfg.Seed and builds it in a fresh physics
// space. The only error is a rejected configuration.
func New(cfg Config) (*Simulation, error) {
	cfg.applyDefaults()
	v, err := course.ParseVariant(string(cfg.Course.Variant))
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	cfg.Course.Variant = v

	s := &Simulation{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		roles:     roleTable{},
		actuators: actuator.NewSet(),
		sched:     sched.New(),
		dt:        time.Second / time.Duration(cfg.TickRateHz),
		phase:     PhaseBuilt,
	}
	s.layout = course.Generate(cfg.W, cfg.H, cfg.Course, s.rng)

	s.space = cp.NewSpace()
	s.space.Iterations = uint(cfg.Iterations)
	s.baseGravity = cp.Vector{X: 0, Y: cfg.Gravity}
	s.space.SetGravity(s.baseGravity)
	s.space.SetDamping(cfg.Damping)
	s.buildCourse()

	s.camera = camera.NewTracker(camera.Config{
		WorldW: s.layout.W,
		WorldH: s.layout.H,
		ViewW:  cfg.Camera.ViewW,
		ViewH:  cfg.Camera.ViewH,
		Follow: cfg.Camera.Follow,
		Lerp:   cfg.Camera.Lerp,
		HomeY:  s.layout.Spawn.Y,
	})
	s.emit(Signal{Kind: SigCourseBuilt, Text: s.layout.Digest()})
	return s, nil
}

// Start creates one entity per name, runs the countdown and then releases the
// balls, staggered or all at once. The field is capped at MaxParticipants and
// at the number of balls the spawn cluster holds without overlap.
func (s *Simulation) Start(names []string) error {
	if s.closed {
		return ErrClosed
	}
	if s.roster != nil {
		return ErrAlreadyStarted
	}
	roster := race.NewRoster(names, min(s.cfg.MaxParticipants, s.spawnCapacity()))
	if roster.Len() == 0 {
		return ErrNoParticipants
	}
	s.roster = roster
	s.ranks = race.NewRankList(s.cfg.Winners)
	s.arbiter = race.NewArbiter(race.ArbiterConfig{
		Roster:       roster,
		Ranks:        s.ranks,
		Deferrer:     s.sched,
		RemovalDelay: s.cfg.RemovalDelay,
		Remove:       s.detach,
		Celebrator:   s,
		OnRemoved:    s.onRemoved,
	})

	slots := s.spawnSlots(roster.Len())
	s.balls = make([]*ball, roster.Len())
	for i, e := range roster.All() {
		body, shape := s.newBall(slots[i])
		s.balls[i] = &ball{entity: e, body: body, shape: shape}
		s.roles[body] = Role{Kind: RoleEntity, Entity: e.ID}
	}

	s.phase = PhaseCountdown
	labels := s.cfg.Countdown
	step := s.cfg.CountdownStep
	if step <= 0 {
		labels = nil
	}
	if len(labels) > 0 {
		s.sched.Repeat(0, step, len(labels), func(i int) {
			s.emit(Signal{Kind: SigCountdown, Text: labels[i]})
		})
	}
	s.sched.After(time.Duration(len(labels))*step, s.release)
	return nil
}

func (s *Simulation) release() {
	s.phase = PhaseRunning
	s.emit(Signal{Kind: SigRaceStarted, Text: fmt.Sprintf("%d", len(s.balls))})
	if !s.cfg.Stagger || len(s.balls) == 1 {
		for _, b := range s.balls {
			s.insert(b)
		}
		return
	}
	s.sched.Repeat(0, s.cfg.StaggerInterval, len(s.balls), func(i int) {
		s.insert(s.balls[i])
	})
}

func (s *Simulation) insert(b *ball) {
	if b.inSpace || b.entity.State != race.Pending {
		return
	}
	s.space.AddBody(b.body)
	s.space.AddShape(b.shape)
	b.inSpace = true
	_ = b.entity.Release(s.sched.Now())
	s.emitEntity(SigReleased, b.entity, 0)
}

// detach takes a finished ball out of the space. It runs from a scheduled
// action after the step, never inside a collision callback.
func (s *Simulation) detach(e *race.Entity) {
	b := s.ball(e.ID)
	if b == nil || !b.inSpace {
		return
	}
	s.space.RemoveShape(b.shape)
	s.space.RemoveBody(b.body)
	b.inSpace = false
	delete(s.roles, b.body)
}

func (s *Simulation) onFinishContact(id race.EntityID) {
	out := s.arbiter.OnTrigger(id, s.sched.Now()+s.dt)
	if out.Ignored {
		return
	}
	rank := 0
	if out.Ranked {
		rank = out.Rank.Position
		if b := s.ball(id); b != nil {
			s.camera.Hold(b.body.Position().Y)
		}
	}
	s.emitEntity(SigFinished, out.Entity, rank)
	if out.TopReached {
		s.emit(Signal{Kind: SigTopReached, Text: fmt.Sprintf("%d", s.ranks.Len())})
	}
}

// Celebrate marks the newest ranked finisher for the presentation layer.
func (s *Simulation) Celebrate(e *race.Entity, _ race.Rank) {
	s.highlight = e.ID
}

func (s *Simulation) onRemoved(e *race.Entity) {
	s.emitEntity(SigRemoved, e, 0)
	if s.roster.Count(race.Removed) == s.roster.Len() {
		s.phase = PhaseComplete
		s.emit(Signal{Kind: SigRaceComplete, Text: fmt.Sprintf("%d", s.ranks.Len())})
	}
}

// Shake runs a bounded burst sequence: sideways gravity alternating every
// burst, jittered vertical gravity and a random upward kick per ball, then
// the baseline gravity is restored. Only one shake runs at a time.
func (s *Simulation) Shake() error {
	if s.closed {
		return ErrClosed
	}
	if s.roster == nil {
		return ErrNotStarted
	}
	if s.sched.Active(s.shake) {
		return ErrShakeActive
	}
	sc := s.cfg.Shake
	n := sc.Bursts
	s.emit(Signal{Kind: SigShake, Text: fmt.Sprintf("%d", n)})
	s.shake = s.sched.Repeat(0, sc.Interval, n+1, func(i int) {
		if i == n {
			s.space.SetGravity(s.baseGravity)
			s.emit(Signal{Kind: SigShakeEnd})
			return
		}
		s.burst(i)
	})
	return nil
}

func (s *Simulation) burst(i int) {
	sc := s.cfg.Shake
	g := s.cfg.Gravity
	sign := 1.0
	if i%2 == 1 {
		sign = -1
	}
	s.space.SetGravity(cp.Vector{
		X: sign * sc.GravityX * g,
		Y: g * (1 + sc.GravityJitter*(s.rng.Float64()*2-1)),
	})
	for _, b := range s.balls {
		if !b.inSpace {
			continue
		}
		dv := cp.Vector{
			X: (s.rng.Float64()*2 - 1) * sc.ImpulseX,
			Y: -(sc.ImpulseUpMin + s.rng.Float64()*(sc.ImpulseUpMax-sc.ImpulseUpMin)),
		}
		b.body.ApplyImpulseAtWorldPoint(dv.Mult(b.body.Mass()), b.body.Position())
	}
}

// Step advances one fixed tick: actuators re-assert their control laws, the
// engine integrates and reports finish contacts, due scheduled actions run,
// and the camera follows the leader.
func (s *Simulation) Step() error {
	if s.closed {
		return ErrClosed
	}
	s.actuators.Update(s.sched.Now(), s.dt)
	s.space.Step(s.dt.Seconds())
	s.sched.Advance(s.dt)
	s.updateCamera()
	s.tick++
	return nil
}

func (s *Simulation) updateCamera() {
	var (
		best  *ball
		bestY float64
	)
	for _, b := range s.balls {
		if !b.inSpace {
			continue
		}
		st := b.entity.State
		if st != race.Falling && !(st == race.Finished && s.cfg.Policy.LeaderIncludesFinished) {
			continue
		}
		if y := b.body.Position().Y; best == nil || y > bestY {
			best, bestY = b, y
		}
	}
	if best == nil {
		s.leader = 0
		s.camera.Update(geom.Vec{}, false)
		return
	}
	s.leader = best.entity.ID
	s.camera.Update(fromVec(best.body.Position()), true)
}

// Close tears the simulation down. Every pending delayed action is dropped
// and nothing will mutate this simulation again.
func (s *Simulation) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.phase = PhaseClosed
	s.sched.Close()
}

func (s *Simulation) ball(id race.EntityID) *ball {
	i := int(id) - 1
	if i < 0 || i >= len(s.balls) {
		return nil
	}
	return s.balls[i]
}

func (s *Simulation) ID() string            { return s.cfg.ID }
func (s *Simulation) Config() Config        { return s.cfg }
func (s *Simulation) Layout() course.Layout { return s.layout }
func (s *Simulation) Tick() uint64          { return s.tick }
func (s *Simulation) Now() time.Duration    { return s.sched.Now() }
func (s *Simulation) Phase() Phase          { return s.phase }
func (s *Simulation) Closed() bool          { return s.closed }
func (s *Simulation) Started() bool         { return s.roster != nil }
func (s *Simulation) Camera() geom.Rect     { return s.camera.View() }
func (s *Simulation) Leader() race.EntityID { return s.leader }
func (s *Simulation) Gravity() geom.Vec     { return fromVec(s.space.Gravity()) }

// Pending is the number of delayed actions still queued.
func (s *Simulation) Pending() int { return s.sched.Pending() }

// Shaking reports whether a shake sequence is still running.
func (s *Simulation) Shaking() bool { return s.sched.Active(s.shake) }

// Ranks returns the rank list in arrival order.
func (s *Simulation) Ranks() []race.Rank {
	if s.ranks == nil {
		return nil
	}
	return s.ranks.Entries()
}

// Entities returns the race entities in display order.
func (s *Simulation) Entities() []*race.Entity { return s.roster.All() }

// Position reports where entity id's ball currently is.
func (s *Simulation) Position(id race.EntityID) (geom.Vec, bool) {
	b := s.ball(id)
	if b == nil {
		return geom.Vec{}, false
	}
	return fromVec(b.body.Position()), true
}

// RoleOf resolves a body handle to its race role.
func (s *Simulation) RoleOf(b *cp.Body) (Role, bool) { return s.roles.lookup(b) }
