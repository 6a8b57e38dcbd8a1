package actuator

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Phase is a flipper's control state.
type Phase uint8

const (
	Idle Phase = iota
	Kick
	Return
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "IDLE"
	case Kick:
		return "KICK"
	case Return:
		return "RETURN"
	default:
		return fmt.Sprintf("PHASE(%d)", uint8(p))
	}
}

type FlipperConfig struct {
	Base     float64 // resting angle
	MaxDelta float64 // kick amplitude, radians
	Dir      float64 // +1 or -1: which way the kick rotates

	KickRate   float64 // rad/s toward the kicked angle
	ReturnRate float64 // rad/s back to Base
	Tolerance  float64 // radians

	IdleMin time.Duration
	IdleMax time.Duration
}

// Flipper cycles Idle -> Kick -> Return -> Idle. The idle wait is a deadline
// on the simulation clock drawn uniformly from [IdleMin, IdleMax], so nothing
// outlives the simulation that owns it.
type Flipper struct {
	body  Rotor
	cfg   FlipperConfig
	rng   *rand.Rand
	phase Phase

	deadline time.Duration
	cycles   int
}

// NewFlipper snaps body to its base angle and draws the first idle deadline
// relative to now.
func NewFlipper(body Rotor, cfg FlipperConfig, rng *rand.Rand, now time.Duration) *Flipper {
	if cfg.Dir >= 0 {
		cfg.Dir = 1
	} else {
		cfg.Dir = -1
	}
	cfg.MaxDelta = math.Abs(cfg.MaxDelta)
	cfg.Tolerance = math.Abs(cfg.Tolerance)
	if cfg.IdleMax < cfg.IdleMin {
		cfg.IdleMin, cfg.IdleMax = cfg.IdleMax, cfg.IdleMin
	}
	f := &Flipper{body: body, cfg: cfg, rng: rng}
	f.rest(now)
	return f
}

func (f *Flipper) Kind() Kind              { return KindFlipper }
func (f *Flipper) Body() Rotor             { return f.body }
func (f *Flipper) Phase() Phase            { return f.phase }
func (f *Flipper) Deadline() time.Duration { return f.deadline }
func (f *Flipper) Cycles() int             { return f.cycles }
func (f *Flipper) Config() FlipperConfig   { return f.cfg }
func (f *Flipper) KickTarget() float64     { return f.cfg.Base + f.cfg.Dir*f.cfg.MaxDelta }
func (f *Flipper) Offset() float64         { return f.body.Angle() - f.cfg.Base }

// Update drives the flipper for one tick of length dt starting at now.
func (f *Flipper) Update(now, dt time.Duration) {
	switch f.phase {
	case Idle:
		f.body.SetAngularVelocity(0)
		if now < f.deadline {
			return
		}
		f.phase = Kick
		fallthrough
	case Kick:
		if f.drive(f.KickTarget(), f.cfg.KickRate, dt) {
			f.phase = Return
		}
	case Return:
		if f.drive(f.cfg.Base, f.cfg.ReturnRate, dt) {
			f.cycles++
			f.rest(now)
		}
	}
}

// drive sets the angular velocity that moves the body toward target at rate
// without overshooting it within dt. It reports whether the body is already
// within tolerance, in which case the velocity is zeroed.
func (f *Flipper) drive(target, rate float64, dt time.Duration) bool {
	remaining := target - f.body.Angle()
	if math.Abs(remaining) <= f.cfg.Tolerance {
		f.body.SetAngularVelocity(0)
		return true
	}
	w := math.Copysign(math.Abs(rate), remaining)
	if secs := dt.Seconds(); secs > 0 && math.Abs(w)*secs > math.Abs(remaining) {
		w = remaining / secs
	}
	f.body.SetAngularVelocity(w)
	return false
}

func (f *Flipper) rest(now time.Duration) {
	f.body.SetAngle(f.cfg.Base)
	f.body.SetAngularVelocity(0)
	f.phase = Idle
	f.deadline = now + f.drawIdle()
}

func (f *Flipper) drawIdle() time.Duration {
	span := f.cfg.IdleMax - f.cfg.IdleMin
	if span <= 0 || f.rng == nil {
		return f.cfg.IdleMin
	}
	return f.cfg.IdleMin + time.Duration(f.rng.Int63n(int64(span)+1))
}
