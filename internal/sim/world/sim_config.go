package world

import (
	"time"

	"balldrop.ai/internal/sim/course"
)

type BallConfig struct {
	R          float64
	Mass       float64
	Elasticity float64
	Friction   float64
	// Cols and Spacing shape the spawn cluster: Cols balls per row, rows
	// stacked upward from the spawn point.
	Cols    int
	Spacing float64
}

type ShakeConfig struct {
	Bursts   int
	Interval time.Duration
	// GravityX is the sideways gravity during a burst, as a fraction of the
	// baseline; its sign alternates every burst.
	GravityX float64
	// GravityJitter randomizes vertical gravity by up to this fraction.
	GravityJitter float64
	// Per-ball velocity kicks, in units/s: sideways in [-ImpulseX, ImpulseX],
	// upward in [ImpulseUpMin, ImpulseUpMax].
	ImpulseX     float64
	ImpulseUpMin float64
	ImpulseUpMax float64
}

type FlipperTiming struct {
	KickRate   float64
	ReturnRate float64
	Tolerance  float64
	IdleMin    time.Duration
	IdleMax    time.Duration
}

type CameraConfig struct {
	ViewW  float64
	ViewH  float64
	Follow bool
	Lerp   float64
}

// Policy holds the behaviours observed variants disagree on.
type Policy struct {
	// LeaderIncludesFinished lets a finished ball that has not been removed
	// yet stay the camera leader.
	LeaderIncludesFinished bool
	// FinishSolid makes the finish volume a solid box instead of a sensor.
	FinishSolid bool
}

type Config struct {
	ID         string
	Seed       int64
	W, H       float64
	TickRateHz int

	Gravity    float64
	Damping    float64
	Iterations int

	Course course.Options
	Ball   BallConfig

	MaxParticipants int
	Winners         int

	Stagger         bool
	StaggerInterval time.Duration

	// Countdown labels are emitted CountdownStep apart; release follows the
	// last one by another step. No labels means release on the next tick.
	Countdown     []string
	CountdownStep time.Duration

	RemovalDelay time.Duration
	Shake        ShakeConfig
	Flipper      FlipperTiming
	Camera       CameraConfig
	Policy       Policy
}

// DefaultConfig is the classic race.
func DefaultConfig() Config {
	return Config{
		W:          1100,
		H:          12000,
		TickRateHz: 60,
		Gravity:    1000,
		Damping:    0.4,
		Iterations: 10,
		Course:     course.DefaultOptions(),
		Ball: BallConfig{
			R:          13,
			Mass:       1,
			Elasticity: 0.25,
			Friction:   0.02,
			Cols:       11,
			Spacing:    26,
		},
		MaxParticipants: 55,
		Winners:         5,
		Stagger:         true,
		StaggerInterval: 110 * time.Millisecond,
		Countdown:       []string{"3", "2", "1", "GO!"},
		CountdownStep:   850 * time.Millisecond,
		RemovalDelay:    200 * time.Millisecond,
		Shake: ShakeConfig{
			Bursts:        14,
			Interval:      55 * time.Millisecond,
			GravityX:      0.38,
			GravityJitter: 0.10,
			ImpulseX:      167,
			ImpulseUpMin:  83,
			ImpulseUpMax:  333,
		},
		Flipper: FlipperTiming{
			KickRate:   14,
			ReturnRate: 5,
			Tolerance:  0.02,
			IdleMin:    800 * time.Millisecond,
			IdleMax:    2500 * time.Millisecond,
		},
		Camera: CameraConfig{
			ViewW:  1100,
			ViewH:  800,
			Follow: false,
			Lerp:   0.2,
		},
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if !(c.W > 0) {
		c.W = d.W
	}
	if !(c.H > 0) {
		c.H = d.H
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = d.TickRateHz
	}
	if c.Gravity <= 0 {
		c.Gravity = d.Gravity
	}
	if c.Damping <= 0 || c.Damping > 1 {
		c.Damping = d.Damping
	}
	if c.Iterations <= 0 {
		c.Iterations = d.Iterations
	}
	if c.Ball.R <= 0 {
		c.Ball.R = d.Ball.R
	}
	if c.Ball.Mass <= 0 {
		c.Ball.Mass = d.Ball.Mass
	}
	if c.Ball.Cols <= 0 {
		c.Ball.Cols = d.Ball.Cols
	}
	if c.Ball.Spacing < 2*c.Ball.R {
		c.Ball.Spacing = 2 * c.Ball.R
	}
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = d.MaxParticipants
	}
	if c.Winners <= 0 {
		c.Winners = d.Winners
	}
	if c.StaggerInterval <= 0 {
		c.StaggerInterval = d.StaggerInterval
	}
	if c.RemovalDelay < 0 {
		c.RemovalDelay = 0
	}
	if c.Shake.Interval <= 0 {
		c.Shake.Interval = d.Shake.Interval
	}
	if c.Flipper.KickRate <= 0 {
		c.Flipper.KickRate = d.Flipper.KickRate
	}
	if c.Flipper.ReturnRate <= 0 {
		c.Flipper.ReturnRate = d.Flipper.ReturnRate
	}
	if c.Flipper.Tolerance <= 0 {
		c.Flipper.Tolerance = d.Flipper.Tolerance
	}
	if c.Camera.ViewW <= 0 {
		c.Camera.ViewW = d.Camera.ViewW
	}
	if c.Camera.ViewH <= 0 {
		c.Camera.ViewH = d.Camera.ViewH
	}
}
