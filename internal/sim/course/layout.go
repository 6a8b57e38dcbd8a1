package course

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"

	"balldrop.ai/internal/sim/geom"
)

type Peg struct {
	C geom.Vec `json:"c"`
	R float64  `json:"r"`
}

// Bar is a thick line segment centred on C, rotated by Angle radians
// (clockwise on screen, since y grows downward).
type Bar struct {
	C     geom.Vec `json:"c"`
	Len   float64  `json:"len"`
	Thick float64  `json:"thick"`
	Angle float64  `json:"angle"`
}

// Endpoints returns the two ends of the bar's centre line.
func (b Bar) Endpoints() (geom.Vec, geom.Vec) {
	h := geom.ForAngle(b.Angle).Scale(b.Len / 2)
	return b.C.Sub(h), b.C.Add(h)
}

// SpinnerSpot is a multi-armed rotor pinned at Pivot.
type SpinnerSpot struct {
	Pivot      geom.Vec `json:"pivot"`
	HubR       float64  `json:"hub_r"`
	SpokeLen   float64  `json:"spoke_len"`
	SpokeThick float64  `json:"spoke_thick"`
	Spokes     int      `json:"spokes"`
	Omega      float64  `json:"omega"`
}

// Reach is the distance from the pivot to the farthest point of the rotor.
func (s SpinnerSpot) Reach() float64 {
	return math.Max(s.HubR, s.SpokeLen/2+s.SpokeThick/2)
}

// FlipperSpot is a bar hinged at Pivot, resting at angle Base and kicking
// by MaxDelta in direction Dir.
type FlipperSpot struct {
	Pivot    geom.Vec `json:"pivot"`
	Len      float64  `json:"len"`
	Thick    float64  `json:"thick"`
	Base     float64  `json:"base"`
	MaxDelta float64  `json:"max_delta"`
	Dir      float64  `json:"dir"`
}

// Tip is the free end of the flipper at its resting angle.
func (f FlipperSpot) Tip() geom.Vec {
	return f.Pivot.Add(geom.ForAngle(f.Base).Scale(f.Len))
}

type Stats struct {
	DeflectorsRequested int `json:"deflectors_requested"`
	DeflectorsPlaced    int `json:"deflectors_placed"`
	DeflectorAttempts   int `json:"deflector_attempts"`
	PegsDropped         int `json:"pegs_dropped"`
	SpinnersDropped     int `json:"spinners_dropped"`
	FlippersDropped     int `json:"flippers_dropped"`
}

// Layout is a generated course. It is pure geometry: the world package turns
// it into physics bodies.
type Layout struct {
	Variant Variant `json:"variant"`
	W       float64 `json:"w"`
	H       float64 `json:"h"`

	// Walls are the four boundary boxes; they sit outside [0,W]x[0,H].
	Walls []geom.Rect `json:"walls"`
	// Floor is the hidden catch floor below the world.
	Floor geom.Rect `json:"floor"`

	Pegs       []Peg         `json:"pegs"`
	Deflectors []Bar         `json:"deflectors"`
	Kickers    []Bar         `json:"kickers"`
	Funnel     []Bar         `json:"funnel"`
	Spinners   []SpinnerSpot `json:"spinners"`
	Flippers   []FlipperSpot `json:"flippers"`

	Finish geom.Rect `json:"finish"`
	Spawn  geom.Vec  `json:"spawn"`

	PegMaterial Material `json:"peg_material"`
	BarMaterial Material `json:"bar_material"`

	Stats Stats `json:"stats"`
}

// Bars returns every static bar in the layout: deflectors, kickers and funnel
// walls.
func (l Layout) Bars() []Bar {
	out := make([]Bar, 0, len(l.Deflectors)+len(l.Kickers)+len(l.Funnel))
	out = append(out, l.Deflectors...)
	out = append(out, l.Kickers...)
	return append(out, l.Funnel...)
}

// Digest is a stable hash of the layout's geometry. Two layouts generated
// from the same size, options and seed have the same digest.
func (l Layout) Digest() string {
	h := sha256.New()
	var tmp [8]byte
	writeF := func(v float64) {
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
		h.Write(tmp[:])
	}
	writeRect := func(r geom.Rect) {
		writeF(r.X)
		writeF(r.Y)
		writeF(r.W)
		writeF(r.H)
	}

	h.Write([]byte(l.Variant))
	writeF(l.W)
	writeF(l.H)
	for _, r := range l.Walls {
		writeRect(r)
	}
	writeRect(l.Floor)
	writeRect(l.Finish)
	for _, p := range l.Pegs {
		writeF(p.C.X)
		writeF(p.C.Y)
		writeF(p.R)
	}
	for _, group := range [][]Bar{l.Deflectors, l.Kickers, l.Funnel} {
		writeCount(h, &tmp, len(group))
		for _, b := range group {
			writeF(b.C.X)
			writeF(b.C.Y)
			writeF(b.Len)
			writeF(b.Thick)
			writeF(b.Angle)
		}
	}
	writeCount(h, &tmp, len(l.Spinners))
	for _, s := range l.Spinners {
		writeF(s.Pivot.X)
		writeF(s.Pivot.Y)
		writeF(s.SpokeLen)
		writeF(float64(s.Spokes))
		writeF(s.Omega)
	}
	writeCount(h, &tmp, len(l.Flippers))
	for _, f := range l.Flippers {
		writeF(f.Pivot.X)
		writeF(f.Pivot.Y)
		writeF(f.Len)
		writeF(f.Base)
		writeF(f.Dir)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeCount(h hash.Hash, tmp *[8]byte, n int) {
	binary.LittleEndian.PutUint64(tmp[:], uint64(n))
	h.Write(tmp[:])
}
