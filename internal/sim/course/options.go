package course

import (
	"fmt"
	"math"
	"strings"
)

// Variant names a preset of Options. Variants are parameterizations of the
// one generator, never separate code paths.
type Variant string

const (
	Classic  Variant = "classic"
	Funnel   Variant = "funnel"
	Gauntlet Variant = "gauntlet"
)

func Variants() []Variant { return []Variant{Classic, Funnel, Gauntlet} }

func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case "":
		return Classic, nil
	case Classic, Funnel, Gauntlet:
		return v, nil
	default:
		return "", fmt.Errorf("course: unknown variant %q", s)
	}
}

type Material struct {
	Elasticity float64 `yaml:"elasticity" json:"elasticity"`
	Friction   float64 `yaml:"friction" json:"friction"`
}

type PegOptions struct {
	R       float64 `yaml:"r"`
	MarginX float64 `yaml:"margin_x"`
	Edge    float64 `yaml:"edge"`
	Top     float64 `yaml:"top"`
	Rows    int     `yaml:"rows"`
	Cols    int     `yaml:"cols"`
	RowGap  float64 `yaml:"row_gap"`

	Material Material `yaml:"material"`
}

type DeflectorOptions struct {
	Count       int     `yaml:"count"`
	LenMin      float64 `yaml:"len_min"`
	LenMax      float64 `yaml:"len_max"`
	Thick       float64 `yaml:"thick"`
	AngleMin    float64 `yaml:"angle_min"`
	AngleMax    float64 `yaml:"angle_max"`
	MinDistance float64 `yaml:"min_distance"`
	Attempts    int     `yaml:"attempts"`
	MarginX     float64 `yaml:"margin_x"`
	// BottomGap keeps the band clear above the finish line.
	BottomGap float64 `yaml:"bottom_gap"`
	// Clearance is the free space a deflector keeps from every kicker. Keep
	// it above a ball diameter.
	Clearance float64 `yaml:"clearance"`

	Material Material `yaml:"material"`
}

// KickerOptions places bars along both side walls. Step <= 0 disables them.
type KickerOptions struct {
	Step  float64 `yaml:"step"`
	Len   float64 `yaml:"len"`
	Thick float64 `yaml:"thick"`
	Angle float64 `yaml:"angle"`
	Top   float64 `yaml:"top"`
}

type FunnelOptions struct {
	Enabled bool    `yaml:"enabled"`
	Gap     float64 `yaml:"gap"`
	Depth   float64 `yaml:"depth"`
	Lip     float64 `yaml:"lip"`
	Thick   float64 `yaml:"thick"`
}

type SpinnerOptions struct {
	// At lists pivot depths as fractions of the finish line depth.
	At         []float64 `yaml:"at"`
	HubR       float64   `yaml:"hub_r"`
	SpokeLen   float64   `yaml:"spoke_len"`
	SpokeThick float64   `yaml:"spoke_thick"`
	Spokes     int       `yaml:"spokes"`
	Omega      float64   `yaml:"omega"`
}

type FlipperOptions struct {
	// At lists depths, as fractions of the finish line depth, where a
	// left/right pair of flippers is placed.
	At       []float64 `yaml:"at"`
	Len      float64   `yaml:"len"`
	Thick    float64   `yaml:"thick"`
	Base     float64   `yaml:"base"`
	MaxDelta float64   `yaml:"max_delta"`
	Inset    float64   `yaml:"inset"`
}

// FinishOptions sizes the trigger volume. Y <= 0 or a Y that does not fit
// the world places the line at the same relative depth as the classic course.
type FinishOptions struct {
	Y    float64 `yaml:"y"`
	H    float64 `yaml:"h"`
	WPad float64 `yaml:"w_pad"`
}

// Options configures Generate. Zero-valued geometry falls back to
// DefaultOptions; zero counts and empty placement lists mean none.
type Options struct {
	Variant   Variant `yaml:"variant"`
	WallThick float64 `yaml:"wall_thick"`
	StartY    float64 `yaml:"start_y"`

	FloorDepth float64 `yaml:"floor_depth"`
	FloorH     float64 `yaml:"floor_h"`
	FloorPad   float64 `yaml:"floor_pad"`

	Pegs       PegOptions       `yaml:"pegs"`
	Deflectors DeflectorOptions `yaml:"deflectors"`
	Kickers    KickerOptions    `yaml:"kickers"`
	Funnel     FunnelOptions    `yaml:"funnel"`
	Spinners   SpinnerOptions   `yaml:"spinners"`
	Flippers   FlipperOptions   `yaml:"flippers"`
	Finish     FinishOptions    `yaml:"finish"`
}

// DefaultOptions is the classic course on the 1100x12000 world.
func DefaultOptions() Options {
	return Options{
		Variant:    Classic,
		WallThick:  80,
		StartY:     180,
		FloorDepth: 240,
		FloorH:     120,
		FloorPad:   600,
		Pegs: PegOptions{
			R:        10,
			MarginX:  90,
			Edge:     20,
			Top:      320,
			Rows:     11,
			Cols:     12,
			RowGap:   80,
			Material: Material{Elasticity: 0.15, Friction: 0.15},
		},
		Deflectors: DeflectorOptions{
			Count:       18,
			LenMin:      70,
			LenMax:      130,
			Thick:       14,
			AngleMin:    0.55,
			AngleMax:    1.10,
			MinDistance: 220,
			Attempts:    600,
			MarginX:     140,
			BottomGap:   420,
			Clearance:   30,
			Material:    Material{Elasticity: 0.05, Friction: 0.12},
		},
		Kickers: KickerOptions{
			Step:  900,
			Len:   90,
			Thick: 12,
			Angle: 0.6,
			Top:   1400,
		},
		Funnel: FunnelOptions{
			Gap:   260,
			Depth: 520,
			Lip:   90,
			Thick: 16,
		},
		Spinners: SpinnerOptions{
			At:         []float64{5200.0 / 11500.0},
			HubR:       30,
			SpokeLen:   240,
			SpokeThick: 16,
			Spokes:     6,
			Omega:      8.4,
		},
		Flippers: FlipperOptions{
			Len:      150,
			Thick:    14,
			Base:     0.45,
			MaxDelta: 0.9,
			Inset:    0.2,
		},
		Finish: FinishOptions{
			Y:    11500,
			H:    40,
			WPad: 160,
		},
	}
}

// Preset returns DefaultOptions adjusted for v.
func Preset(v Variant) Options {
	o := DefaultOptions()
	o.Variant = v
	switch v {
	case Funnel:
		o.Funnel.Enabled = true
		o.Deflectors.Count = 14
	case Gauntlet:
		o.Funnel.Enabled = true
		o.Deflectors.Count = 24
		o.Deflectors.MinDistance = 200
		o.Kickers.Step = 700
		o.Spinners.At = []float64{0.28, 0.52, 0.80}
		o.Flippers.At = []float64{0.40, 0.66}
	}
	return o
}

// withDefaults fills zero-valued geometry from DefaultOptions so a partially
// specified config still produces a sensible course.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Variant == "" {
		o.Variant = d.Variant
	}
	def(&o.WallThick, d.WallThick)
	def(&o.StartY, d.StartY)
	def(&o.FloorDepth, d.FloorDepth)
	def(&o.FloorH, d.FloorH)
	def(&o.FloorPad, d.FloorPad)

	def(&o.Pegs.R, d.Pegs.R)
	def(&o.Pegs.RowGap, d.Pegs.RowGap)
	def(&o.Deflectors.LenMin, d.Deflectors.LenMin)
	def(&o.Deflectors.LenMax, d.Deflectors.LenMax)
	def(&o.Deflectors.Thick, d.Deflectors.Thick)
	def(&o.Deflectors.Clearance, d.Deflectors.Clearance)
	if o.Deflectors.Attempts <= 0 {
		o.Deflectors.Attempts = d.Deflectors.Attempts
	}
	if o.Deflectors.LenMax < o.Deflectors.LenMin {
		o.Deflectors.LenMin, o.Deflectors.LenMax = o.Deflectors.LenMax, o.Deflectors.LenMin
	}
	o.Deflectors.AngleMin = math.Abs(o.Deflectors.AngleMin)
	o.Deflectors.AngleMax = math.Abs(o.Deflectors.AngleMax)
	if o.Deflectors.AngleMax < o.Deflectors.AngleMin {
		o.Deflectors.AngleMin, o.Deflectors.AngleMax = o.Deflectors.AngleMax, o.Deflectors.AngleMin
	}
	def(&o.Kickers.Len, d.Kickers.Len)
	def(&o.Kickers.Thick, d.Kickers.Thick)
	def(&o.Funnel.Gap, d.Funnel.Gap)
	def(&o.Funnel.Depth, d.Funnel.Depth)
	def(&o.Funnel.Thick, d.Funnel.Thick)
	def(&o.Spinners.HubR, d.Spinners.HubR)
	def(&o.Spinners.SpokeLen, d.Spinners.SpokeLen)
	def(&o.Spinners.SpokeThick, d.Spinners.SpokeThick)
	if o.Spinners.Spokes <= 0 {
		o.Spinners.Spokes = d.Spinners.Spokes
	}
	def(&o.Flippers.Len, d.Flippers.Len)
	def(&o.Flippers.Thick, d.Flippers.Thick)
	def(&o.Flippers.Inset, d.Flippers.Inset)
	def(&o.Finish.H, d.Finish.H)
	return o
}

func def(v *float64, d float64) {
	if *v <= 0 {
		*v = d
	}
}
