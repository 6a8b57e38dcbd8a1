package camera

import (
	"math"

	"balldrop.ai/internal/sim/geom"
)

type Config struct {
	WorldW, WorldH float64
	ViewW, ViewH   float64

	// Follow tracks the leader horizontally. When off, x stays at the world
	// centre; y always follows.
	Follow bool
	// Lerp in (0,1] smooths the view toward its target each update.
	// 0 or 1 jumps straight to the target.
	Lerp float64
	// HomeY is the target depth when there is no leader.
	HomeY float64
}

// Tracker computes a world-clamped view rectangle following the race leader.
type Tracker struct {
	cfg   Config
	view  geom.Rect
	holdY float64
	held  bool
}

func NewTracker(cfg Config) *Tracker {
	t := &Tracker{cfg: cfg}
	t.view = t.clampedAround(geom.Vec{X: cfg.WorldW / 2, Y: cfg.HomeY})
	return t
}

func (t *Tracker) View() geom.Rect { return t.view }

func (t *Tracker) Config() Config { return t.cfg }

// Hold keeps the followed target from rising above depth y. It is used to
// keep the latest finisher in view while following.
func (t *Tracker) Hold(y float64) {
	if !t.held || y > t.holdY {
		t.holdY = y
	}
	t.held = true
}

// Target resolves the point the view should centre on.
func (t *Tracker) Target(leader geom.Vec, ok bool) geom.Vec {
	target := geom.Vec{X: t.cfg.WorldW / 2, Y: t.cfg.HomeY}
	if ok {
		target.Y = leader.Y
		if t.cfg.Follow {
			target.X = leader.X
		}
	}
	if t.cfg.Follow && t.held {
		target.Y = math.Max(target.Y, t.holdY)
	}
	return target
}

// Update moves the view toward the leader and returns it. Pass ok=false when
// there is no active entity.
func (t *Tracker) Update(leader geom.Vec, ok bool) geom.Rect {
	want := t.clampedAround(t.Target(leader, ok))
	if l := t.cfg.Lerp; l > 0 && l < 1 {
		want.X = t.view.X + (want.X-t.view.X)*l
		want.Y = t.view.Y + (want.Y-t.view.Y)*l
	}
	want.X = ClampOrigin(want.X+want.W/2, want.W, t.cfg.WorldW)
	want.Y = ClampOrigin(want.Y+want.H/2, want.H, t.cfg.WorldH)
	t.view = want
	return want
}

func (t *Tracker) clampedAround(c geom.Vec) geom.Rect {
	return geom.Rect{
		X: ClampOrigin(c.X, t.cfg.ViewW, t.cfg.WorldW),
		Y: ClampOrigin(c.Y, t.cfg.ViewH, t.cfg.WorldH),
		W: t.cfg.ViewW,
		H: t.cfg.ViewH,
	}
}

// ClampOrigin returns the view origin on one axis for a view of size centred
// on target, kept inside [0, world-size]. A view larger than the world pins
// to 0. NaN targets pin to 0 as well.
func ClampOrigin(target, size, world float64) float64 {
	hi := math.Max(0, world-size)
	o := target - size/2
	if math.IsNaN(o) {
		return 0
	}
	return geom.Clamp(o, 0, hi)
}
