package tuning

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"balldrop.ai/internal/sim/course"
	"balldrop.ai/internal/sim/world"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	World    WorldTuning    `yaml:"world"`
	Course   course.Options `yaml:"course"`
	Balls    BallTuning     `yaml:"balls"`
	Race     RaceTuning     `yaml:"race"`
	Shake    ShakeTuning    `yaml:"shake"`
	Flippers FlipperTuning  `yaml:"flippers"`
	Camera   CameraTuning   `yaml:"camera"`
	Policy   PolicyTuning   `yaml:"policy"`
}

type WorldTuning struct {
	W          float64 `yaml:"w"`
	H          float64 `yaml:"h"`
	TickRateHz int     `yaml:"tick_rate_hz"`
	Gravity    float64 `yaml:"gravity"`
	Damping    float64 `yaml:"damping"`
	Iterations int     `yaml:"iterations"`
}

type BallTuning struct {
	R          float64 `yaml:"r"`
	Mass       float64 `yaml:"mass"`
	Elasticity float64 `yaml:"elasticity"`
	Friction   float64 `yaml:"friction"`
	Cols       int     `yaml:"cols"`
	Spacing    float64 `yaml:"spacing"`
}

type RaceTuning struct {
	MaxParticipants int      `yaml:"max_participants"`
	Winners         int      `yaml:"winners"`
	Stagger         bool     `yaml:"stagger"`
	StaggerMs       int      `yaml:"stagger_ms"`
	Countdown       []string `yaml:"countdown"`
	CountdownStepMs int      `yaml:"countdown_step_ms"`
	RemovalDelayMs  int      `yaml:"removal_delay_ms"`
}

type ShakeTuning struct {
	Bursts        int     `yaml:"bursts"`
	IntervalMs    int     `yaml:"interval_ms"`
	GravityX      float64 `yaml:"gravity_x"`
	GravityJitter float64 `yaml:"gravity_jitter"`
	ImpulseX      float64 `yaml:"impulse_x"`
	ImpulseUpMin  float64 `yaml:"impulse_up_min"`
	ImpulseUpMax  float64 `yaml:"impulse_up_max"`
}

type FlipperTuning struct {
	KickRate   float64 `yaml:"kick_rate"`
	ReturnRate float64 `yaml:"return_rate"`
	Tolerance  float64 `yaml:"tolerance"`
	IdleMinMs  int     `yaml:"idle_min_ms"`
	IdleMaxMs  int     `yaml:"idle_max_ms"`
}

type CameraTuning struct {
	ViewW  float64 `yaml:"view_w"`
	ViewH  float64 `yaml:"view_h"`
	Follow bool    `yaml:"follow"`
	Lerp   float64 `yaml:"lerp"`
}

type PolicyTuning struct {
	LeaderIncludesFinished bool `yaml:"leader_includes_finished"`
	FinishSolid            bool `yaml:"finish_solid"`
}

const ProtocolVersion = "1.0"

// MaxParticipants is the hard ceiling on one race's field.
const MaxParticipants = 55

func ms(d time.Duration) int { return int(d / time.Millisecond) }

// Defaults mirrors world.DefaultConfig.
func Defaults() Tuning {
	c := world.DefaultConfig()
	return Tuning{
		ProtocolVersion: ProtocolVersion,
		World: WorldTuning{
			W:          c.W,
			H:          c.H,
			TickRateHz: c.TickRateHz,
			Gravity:    c.Gravity,
			Damping:    c.Damping,
			Iterations: c.Iterations,
		},
		Course: c.Course,
		Balls: BallTuning{
			R:          c.Ball.R,
			Mass:       c.Ball.Mass,
			Elasticity: c.Ball.Elasticity,
			Friction:   c.Ball.Friction,
			Cols:       c.Ball.Cols,
			Spacing:    c.Ball.Spacing,
		},
		Race: RaceTuning{
			MaxParticipants: c.MaxParticipants,
			Winners:         c.Winners,
			Stagger:         c.Stagger,
			StaggerMs:       ms(c.StaggerInterval),
			Countdown:       append([]string(nil), c.Countdown...),
			CountdownStepMs: ms(c.CountdownStep),
			RemovalDelayMs:  ms(c.RemovalDelay),
		},
		Shake: ShakeTuning{
			Bursts:        c.Shake.Bursts,
			IntervalMs:    ms(c.Shake.Interval),
			GravityX:      c.Shake.GravityX,
			GravityJitter: c.Shake.GravityJitter,
			ImpulseX:      c.Shake.ImpulseX,
			ImpulseUpMin:  c.Shake.ImpulseUpMin,
			ImpulseUpMax:  c.Shake.ImpulseUpMax,
		},
		Flippers: FlipperTuning{
			KickRate:   c.Flipper.KickRate,
			ReturnRate: c.Flipper.ReturnRate,
			Tolerance:  c.Flipper.Tolerance,
			IdleMinMs:  ms(c.Flipper.IdleMin),
			IdleMaxMs:  ms(c.Flipper.IdleMax),
		},
		Camera: CameraTuning{
			ViewW:  c.Camera.ViewW,
			ViewH:  c.Camera.ViewH,
			Follow: c.Camera.Follow,
			Lerp:   c.Camera.Lerp,
		},
		Policy: PolicyTuning{
			LeaderIncludesFinished: c.Policy.LeaderIncludesFinished,
			FinishSolid:            c.Policy.FinishSolid,
		},
	}
}

// Load reads a tuning file over Defaults. A course variant named in the file
// selects that preset first, so the file only needs to list what it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := Parse(raw, &t); err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse decodes raw over t and validates the result.
func Parse(raw []byte, t *Tuning) error {
	var head struct {
		Course struct {
			Variant string `yaml:"variant"`
		} `yaml:"course"`
	}
	if err := yaml.Unmarshal(raw, &head); err != nil {
		return fmt.Errorf("tuning.yaml: %w", err)
	}
	if head.Course.Variant != "" {
		v, err := course.ParseVariant(head.Course.Variant)
		if err != nil {
			return fmt.Errorf("tuning.yaml: %w", err)
		}
		t.Course = course.Preset(v)
	}
	if err := yaml.Unmarshal(raw, t); err != nil {
		return fmt.Errorf("tuning.yaml: %w", err)
	}
	return t.Validate()
}

var ErrInvalid = errors.New("invalid tuning")

func invalid(field string, format string, args ...any) error {
	return fmt.Errorf("%w: %s %s", ErrInvalid, field, fmt.Sprintf(format, args...))
}

func positive(v float64) bool { return v > 0 && !math.IsInf(v, 0) }

// Validate rejects values the simulation cannot run with. Every problem is
// reported, joined into one error.
func (t Tuning) Validate() error {
	var errs []error
	check := func(ok bool, field, format string, args ...any) {
		if !ok {
			errs = append(errs, invalid(field, format, args...))
		}
	}

	w := t.World
	check(positive(w.W), "world.w", "must be > 0, got %v", w.W)
	check(positive(w.H), "world.h", "must be > 0, got %v", w.H)
	check(w.TickRateHz >= 1 && w.TickRateHz <= 1000, "world.tick_rate_hz", "must be in [1,1000], got %d", w.TickRateHz)
	check(positive(w.Gravity), "world.gravity", "must be > 0, got %v", w.Gravity)
	check(w.Damping > 0 && w.Damping <= 1, "world.damping", "must be in (0,1], got %v", w.Damping)
	check(w.Iterations >= 1, "world.iterations", "must be >= 1, got %d", w.Iterations)

	c := t.Course
	if _, err := course.ParseVariant(string(c.Variant)); err != nil {
		errs = append(errs, invalid("course.variant", "%v", err))
	}
	check(c.Deflectors.LenMin <= c.Deflectors.LenMax, "course.deflectors", "len_min %v > len_max %v", c.Deflectors.LenMin, c.Deflectors.LenMax)
	check(c.Deflectors.AngleMin <= c.Deflectors.AngleMax, "course.deflectors", "angle_min %v > angle_max %v", c.Deflectors.AngleMin, c.Deflectors.AngleMax)
	check(c.Deflectors.Count >= 0 && c.Deflectors.Attempts >= 0, "course.deflectors", "count and attempts must be >= 0")
	check(c.Deflectors.MinDistance >= 0, "course.deflectors.min_distance", "must be >= 0, got %v", c.Deflectors.MinDistance)
	check(c.Pegs.Rows >= 0 && c.Pegs.Cols >= 0, "course.pegs", "rows and cols must be >= 0")
	for _, f := range append(append([]float64(nil), c.Spinners.At...), c.Flippers.At...) {
		check(f > 0 && f < 1, "course.spinners/flippers.at", "fractions must be in (0,1), got %v", f)
	}
	check(c.Flippers.MaxDelta >= 0, "course.flippers.max_delta", "must be >= 0, got %v", c.Flippers.MaxDelta)

	b := t.Balls
	check(positive(b.R), "balls.r", "must be > 0, got %v", b.R)
	check(positive(b.Mass), "balls.mass", "must be > 0, got %v", b.Mass)
	check(b.Cols >= 1, "balls.cols", "must be >= 1, got %d", b.Cols)
	check(b.Spacing >= 2*b.R, "balls.spacing", "must be >= 2*r (%v), got %v", 2*b.R, b.Spacing)

	r := t.Race
	check(r.MaxParticipants >= 1 && r.MaxParticipants <= MaxParticipants, "race.max_participants", "must be in [1,%d], got %d", MaxParticipants, r.MaxParticipants)
	check(r.Winners >= 1, "race.winners", "must be >= 1, got %d", r.Winners)
	check(!r.Stagger || r.StaggerMs > 0, "race.stagger_ms", "must be > 0 when stagger is on, got %d", r.StaggerMs)
	check(len(r.Countdown) == 0 || r.CountdownStepMs > 0, "race.countdown_step_ms", "must be > 0 with a countdown, got %d", r.CountdownStepMs)
	check(r.RemovalDelayMs >= 0, "race.removal_delay_ms", "must be >= 0, got %d", r.RemovalDelayMs)

	s := t.Shake
	check(s.Bursts >= 0, "shake.bursts", "must be >= 0, got %d", s.Bursts)
	check(s.IntervalMs > 0, "shake.interval_ms", "must be > 0, got %d", s.IntervalMs)
	check(s.GravityJitter >= 0 && s.GravityJitter < 1, "shake.gravity_jitter", "must be in [0,1), got %v", s.GravityJitter)
	check(s.ImpulseUpMin <= s.ImpulseUpMax, "shake", "impulse_up_min %v > impulse_up_max %v", s.ImpulseUpMin, s.ImpulseUpMax)

	f := t.Flippers
	check(positive(f.KickRate) && positive(f.ReturnRate), "flippers", "kick_rate and return_rate must be > 0")
	check(f.Tolerance > 0, "flippers.tolerance", "must be > 0, got %v", f.Tolerance)
	check(f.IdleMinMs >= 0 && f.IdleMinMs <= f.IdleMaxMs, "flippers", "need 0 <= idle_min_ms <= idle_max_ms, got %d..%d", f.IdleMinMs, f.IdleMaxMs)

	cam := t.Camera
	check(positive(cam.ViewW) && positive(cam.ViewH), "camera", "view size must be > 0, got %vx%v", cam.ViewW, cam.ViewH)
	check(cam.Lerp >= 0 && cam.Lerp <= 1, "camera.lerp", "must be in [0,1], got %v", cam.Lerp)

	return errors.Join(errs...)
}

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// WorldConfig converts the tuning into a simulation config for one race.
func (t Tuning) WorldConfig(id string, seed int64) world.Config {
	return world.Config{
		ID:         id,
		Seed:       seed,
		W:          t.World.W,
		H:          t.World.H,
		TickRateHz: t.World.TickRateHz,
		Gravity:    t.World.Gravity,
		Damping:    t.World.Damping,
		Iterations: t.World.Iterations,
		Course:     t.Course,
		Ball: world.BallConfig{
			R:          t.Balls.R,
			Mass:       t.Balls.Mass,
			Elasticity: t.Balls.Elasticity,
			Friction:   t.Balls.Friction,
			Cols:       t.Balls.Cols,
			Spacing:    t.Balls.Spacing,
		},
		MaxParticipants: t.Race.MaxParticipants,
		Winners:         t.Race.Winners,
		Stagger:         t.Race.Stagger,
		StaggerInterval: millis(t.Race.StaggerMs),
		Countdown:       append([]string(nil), t.Race.Countdown...),
		CountdownStep:   millis(t.Race.CountdownStepMs),
		RemovalDelay:    millis(t.Race.RemovalDelayMs),
		Shake: world.ShakeConfig{
			Bursts:        t.Shake.Bursts,
			Interval:      millis(t.Shake.IntervalMs),
			GravityX:      t.Shake.GravityX,
			GravityJitter: t.Shake.GravityJitter,
			ImpulseX:      t.Shake.ImpulseX,
			ImpulseUpMin:  t.Shake.ImpulseUpMin,
			ImpulseUpMax:  t.Shake.ImpulseUpMax,
		},
		Flipper: world.FlipperTiming{
			KickRate:   t.Flippers.KickRate,
			ReturnRate: t.Flippers.ReturnRate,
			Tolerance:  t.Flippers.Tolerance,
			IdleMin:    millis(t.Flippers.IdleMinMs),
			IdleMax:    millis(t.Flippers.IdleMaxMs),
		},
		Camera: world.CameraConfig{
			ViewW:  t.Camera.ViewW,
			ViewH:  t.Camera.ViewH,
			Follow: t.Camera.Follow,
			Lerp:   t.Camera.Lerp,
		},
		Policy: world.Policy{
			LeaderIncludesFinished: t.Policy.LeaderIncludesFinished,
			FinishSolid:            t.Policy.FinishSolid,
		},
	}
}
