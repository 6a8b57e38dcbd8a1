// Package actuator holds the control laws for the bodies that keep the course
// moving: spinners that never stop and flippers that kick on a random timer.
// Both are re-asserted every tick because the physics engine's own damping
// and contact impulses would otherwise settle them.
package actuator

import "time"

// Rotor is the part of a rigid body a control law drives. *cp.Body
// satisfies it.
type Rotor interface {
	Angle() float64
	SetAngle(a float64)
	AngularVelocity() float64
	SetAngularVelocity(w float64)
}

// Kind names an actuator type on the wire and in logs.
type Kind string

const (
	KindSpinner Kind = "SPINNER"
	KindFlipper Kind = "FLIPPER"
)

// Actuator applies its control law once per tick, before integration.
type Actuator interface {
	Kind() Kind
	Body() Rotor
	Update(now, dt time.Duration)
}

// Set is every actuator of one simulation.
type Set struct {
	items []Actuator
}

func NewSet() *Set { return &Set{} }

func (s *Set) Add(a Actuator) {
	if a != nil {
		s.items = append(s.items, a)
	}
}

func (s *Set) Len() int { return len(s.items) }

// All returns the actuators in insertion order. The slice must not be modified.
func (s *Set) All() []Actuator { return s.items }

// Update re-asserts every control law.
func (s *Set) Update(now, dt time.Duration) {
	for _, a := range s.items {
		a.Update(now, dt)
	}
}

// Spinner is forced to a constant angular velocity every tick regardless of
// collision impulses.
type Spinner struct {
	body   Rotor
	target float64
}

func NewSpinner(body Rotor, target float64) *Spinner {
	body.SetAngularVelocity(target)
	return &Spinner{body: body, target: target}
}

func (s *Spinner) Kind() Kind      { return KindSpinner }
func (s *Spinner) Body() Rotor     { return s.body }
func (s *Spinner) Target() float64 { return s.target }

func (s *Spinner) Update(now, dt time.Duration) {
	s.body.SetAngularVelocity(s.target)
}
