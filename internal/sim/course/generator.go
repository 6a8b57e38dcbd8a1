package course

import (
	"math"
	"math/rand"

	"balldrop.ai/internal/sim/geom"
)

// classicFinishFrac is the finish line depth of the classic 12000-unit world
// relative to its height. Worlds whose configured finish does not fit use it.
const classicFinishFrac = 11500.0 / 12000.0

// Generate builds a course for a w x h world. It never fails: when the world
// is too small for the requested density it returns a sparser course and
// records what was dropped in Layout.Stats.
func Generate(w, h float64, opts Options, rng *rand.Rand) Layout {
	if !(w > 0) {
		w = 1
	}
	if !(h > 0) {
		h = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	o := opts.withDefaults()
	g := &generator{
		o:   o,
		rng: rng,
		l: Layout{
			Variant:     o.Variant,
			W:           w,
			H:           h,
			PegMaterial: o.Pegs.Material,
			BarMaterial: o.Deflectors.Material,
		},
	}
	g.walls()
	g.finish()
	g.pegs()
	g.spinners()
	g.flippers()
	g.funnel()
	g.kickers()
	g.deflectors()
	return g.l
}

type generator struct {
	o   Options
	rng *rand.Rand
	l   Layout

	finishY   float64
	pegBottom float64
	funnelTop float64
	// avoid holds actuator pivots with their clearance radius.
	avoid []Peg
}

func (g *generator) walls() {
	w, h, t := g.l.W, g.l.H, g.o.WallThick
	g.l.Walls = []geom.Rect{
		{X: -t, Y: -t, W: w + 2*t, H: t},
		{X: -t, Y: h, W: w + 2*t, H: t},
		{X: -t, Y: -t, W: t, H: h + 2*t},
		{X: w, Y: -t, W: t, H: h + 2*t},
	}
	g.l.Floor = geom.RectAround(geom.Vec{X: w / 2, Y: h + g.o.FloorDepth}, w+g.o.FloorPad, g.o.FloorH)
}

func (g *generator) finish() {
	w, h := g.l.W, g.l.H
	fh := math.Min(g.o.Finish.H, h/10)
	y := g.o.Finish.Y
	if y <= 0 || y+fh/2 > h {
		y = h * classicFinishFrac
	}
	y = geom.Clamp(y, fh/2, h-fh/2)
	g.finishY = y

	fw := w
	if g.o.Funnel.Enabled && g.o.Finish.WPad > 0 && g.o.Finish.WPad < w {
		fw = w - g.o.Finish.WPad
	}
	g.l.Finish = geom.RectAround(geom.Vec{X: w / 2, Y: y}, fw, fh)
	g.l.Spawn = geom.Vec{X: w / 2, Y: math.Min(g.o.StartY, y/2)}
	g.pegBottom = g.l.Spawn.Y
	g.funnelTop = y
}

// pegs lays a staggered grid: odd rows shift by half a column gap, and x is
// clamped away from the side walls.
func (g *generator) pegs() {
	p := g.o.Pegs
	w := g.l.W
	if p.Rows <= 0 || p.Cols <= 0 {
		return
	}
	lo, hi := p.R+p.Edge, w-p.R-p.Edge
	limit := g.finishY - g.l.Finish.H - p.R
	if hi < lo {
		g.l.Stats.PegsDropped = p.Rows * p.Cols
		return
	}

	x0, colGap := w/2, 0.0
	if p.Cols > 1 {
		x0 = p.MarginX
		usable := w - 2*p.MarginX
		if usable <= 0 {
			x0, usable = lo, hi-lo
		}
		colGap = usable / float64(p.Cols-1)
	}

	y := p.Top
	for r := 0; r < p.Rows; r++ {
		if y < p.R || y > limit {
			g.l.Stats.PegsDropped += (p.Rows - r) * p.Cols
			break
		}
		offset := 0.0
		if r%2 == 1 {
			offset = colGap / 2
		}
		for c := 0; c < p.Cols; c++ {
			x := geom.Clamp(x0+float64(c)*colGap+offset, lo, hi)
			g.l.Pegs = append(g.l.Pegs, Peg{C: geom.Vec{X: x, Y: y}, R: p.R})
		}
		g.pegBottom = y + p.R
		y += p.RowGap
	}
}

// spinners places rotors on the centre line. A rotor whose sweep would leave
// the playfield between the peg field and the finish line is dropped.
func (g *generator) spinners() {
	s := g.o.Spinners
	for _, at := range s.At {
		spot := SpinnerSpot{
			Pivot:      geom.Vec{X: g.l.W / 2, Y: at * g.finishY},
			HubR:       s.HubR,
			SpokeLen:   s.SpokeLen,
			SpokeThick: s.SpokeThick,
			Spokes:     s.Spokes,
			Omega:      s.Omega,
		}
		reach := spot.Reach()
		if !g.clearOfField(spot.Pivot, reach) {
			g.l.Stats.SpinnersDropped++
			continue
		}
		g.l.Spinners = append(g.l.Spinners, spot)
		g.avoid = append(g.avoid, Peg{C: spot.Pivot, R: reach})
	}
}

// flippers places mirrored pairs: the left one kicks counter-clockwise and
// the right one clockwise, so both swing their tips upward.
func (g *generator) flippers() {
	f := g.o.Flippers
	w := g.l.W
	for _, at := range f.At {
		y := at * g.finishY
		left := FlipperSpot{
			Pivot: geom.Vec{X: w * f.Inset, Y: y}, Len: f.Len, Thick: f.Thick,
			Base: f.Base, MaxDelta: math.Abs(f.MaxDelta), Dir: -1,
		}
		right := FlipperSpot{
			Pivot: geom.Vec{X: w * (1 - f.Inset), Y: y}, Len: f.Len, Thick: f.Thick,
			Base: math.Pi - f.Base, MaxDelta: math.Abs(f.MaxDelta), Dir: 1,
		}
		if !g.flipperFits(left) || !g.flipperFits(right) || left.Tip().X >= right.Tip().X {
			g.l.Stats.FlippersDropped += 2
			continue
		}
		g.l.Flippers = append(g.l.Flippers, left, right)
		g.avoid = append(g.avoid, Peg{C: left.Pivot, R: f.Len}, Peg{C: right.Pivot, R: f.Len})
	}
}

func (g *generator) flipperFits(f FlipperSpot) bool {
	if !g.clearOfField(f.Pivot, f.Thick/2) {
		return false
	}
	for _, a := range []float64{f.Base, f.Base + f.Dir*f.MaxDelta} {
		tip := f.Pivot.Add(geom.ForAngle(a).Scale(f.Len))
		if !g.clearOfField(tip, f.Thick/2) {
			return false
		}
	}
	return true
}

// clearOfField reports whether a disc of radius r at c sits inside the world
// below the peg field and above the finish line.
func (g *generator) clearOfField(c geom.Vec, r float64) bool {
	return c.X-r >= 0 && c.X+r <= g.l.W &&
		c.Y-r >= g.pegBottom && c.Y+r <= g.finishY-g.l.Finish.H
}

// funnel adds two steep walls above the finish that leave a centred gap.
func (g *generator) funnel() {
	f := g.o.Funnel
	if !f.Enabled {
		return
	}
	w := g.l.W
	lipY := g.finishY - g.l.Finish.H/2 - f.Lip
	topY := g.finishY - f.Depth
	gapL, gapR := w/2-f.Gap/2, w/2+f.Gap/2
	if gapL <= f.Thick || topY < g.pegBottom || lipY <= topY {
		return
	}
	g.l.Funnel = []Bar{
		barBetween(geom.Vec{X: f.Thick, Y: topY}, geom.Vec{X: gapL, Y: lipY}, f.Thick),
		barBetween(geom.Vec{X: gapR, Y: lipY}, geom.Vec{X: w - f.Thick, Y: topY}, f.Thick),
	}
	g.funnelTop = topY
}

// band is the vertical span shared by deflectors and kickers.
func (g *generator) band() (top, bottom float64) {
	top = g.pegBottom + g.o.Pegs.RowGap*1.2
	bottom = g.finishY - g.o.Deflectors.BottomGap
	if len(g.l.Funnel) > 0 {
		bottom = math.Min(bottom, g.funnelTop-g.o.Deflectors.MinDistance/2)
	}
	return top, bottom
}

// deflectors rejection-samples short bars. A sample is rejected when either
// end leaves the world, its centre is within MinDistance of an accepted
// deflector or of an actuator's sweep, or it leaves less than Clearance of
// free space to a kicker. Sampling stops at Count accepted or
// after Attempts tries, whichever comes first.
func (g *generator) deflectors() {
	d := g.o.Deflectors
	w, h := g.l.W, g.l.H
	g.l.Stats.DeflectorsRequested = d.Count
	top, bottom := g.band()
	if d.Count <= 0 || bottom <= top {
		return
	}
	xlo, xhi := d.MarginX, w-d.MarginX
	if xhi <= xlo {
		xlo, xhi = 0, w
	}
	minD2 := d.MinDistance * d.MinDistance

	for g.l.Stats.DeflectorAttempts < d.Attempts && len(g.l.Deflectors) < d.Count {
		g.l.Stats.DeflectorAttempts++

		length := d.LenMin + g.rng.Float64()*(d.LenMax-d.LenMin)
		x := xlo + g.rng.Float64()*(xhi-xlo)
		y := top + g.rng.Float64()*(bottom-top)
		sign := 1.0
		if g.rng.Float64() < 0.5 {
			sign = -1
		}
		angle := sign * (d.AngleMin + g.rng.Float64()*(d.AngleMax-d.AngleMin))

		bar := Bar{C: geom.Vec{X: x, Y: y}, Len: length, Thick: d.Thick, Angle: angle}
		if !barInside(bar, w, h) || g.tooClose(bar.C, minD2) || g.crowdsKicker(bar) {
			continue
		}
		g.l.Deflectors = append(g.l.Deflectors, bar)
	}
	g.l.Stats.DeflectorsPlaced = len(g.l.Deflectors)
}

func (g *generator) tooClose(c geom.Vec, minD2 float64) bool {
	for _, b := range g.l.Deflectors {
		if c.Dist2(b.C) < minD2 {
			return true
		}
	}
	for _, a := range g.avoid {
		clear := g.o.Deflectors.MinDistance + a.R
		if c.Dist2(a.C) < clear*clear {
			return true
		}
	}
	return false
}

func (g *generator) crowdsKicker(b Bar) bool {
	for _, k := range g.l.Kickers {
		if barGap(b, k) < g.o.Deflectors.Clearance {
			return true
		}
	}
	return false
}

// barGap is the free space between the surfaces of two bars; negative when
// they overlap.
func barGap(a, b Bar) float64 {
	a0, a1 := a.Endpoints()
	b0, b1 := b.Endpoints()
	return segmentDist(a0, a1, b0, b1) - (a.Thick+b.Thick)/2
}

func segmentDist(p0, p1, q0, q1 geom.Vec) float64 {
	if segmentsCross(p0, p1, q0, q1) {
		return 0
	}
	return math.Sqrt(math.Min(
		math.Min(pointSegDist2(p0, q0, q1), pointSegDist2(p1, q0, q1)),
		math.Min(pointSegDist2(q0, p0, p1), pointSegDist2(q1, p0, p1)),
	))
}

func pointSegDist2(p, a, b geom.Vec) float64 {
	ab := b.Sub(a)
	l2 := ab.X*ab.X + ab.Y*ab.Y
	if l2 == 0 {
		return p.Dist2(a)
	}
	t := geom.Clamp(((p.X-a.X)*ab.X+(p.Y-a.Y)*ab.Y)/l2, 0, 1)
	return p.Dist2(a.Add(ab.Scale(t)))
}

func segmentsCross(p0, p1, q0, q1 geom.Vec) bool {
	cross := func(o, a, b geom.Vec) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}
	d1, d2 := cross(q0, q1, p0), cross(q0, q1, p1)
	d3, d4 := cross(p0, p1, q0), cross(p0, p1, q1)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

// kickers places bars at a fixed step along both side walls, each sloping
// down toward the centre. The right margin runs half a step below the left
// so the tilts alternate going down the course.
func (g *generator) kickers() {
	k := g.o.Kickers
	if k.Step <= 0 {
		return
	}
	w, h := g.l.W, g.l.H
	top, bottom := g.band()
	if k.Top > top {
		top = k.Top
	}
	half := k.Len / 2
	dx := math.Cos(k.Angle) * half
	if k.Thick+2*dx >= w/2 {
		return
	}
	for y := top; y <= bottom; y += k.Step {
		left := Bar{C: geom.Vec{X: k.Thick + dx, Y: y}, Len: k.Len, Thick: k.Thick, Angle: k.Angle}
		if barInside(left, w, h) {
			g.l.Kickers = append(g.l.Kickers, left)
		}
		ry := y + k.Step/2
		if ry > bottom {
			continue
		}
		right := Bar{C: geom.Vec{X: w - k.Thick - dx, Y: ry}, Len: k.Len, Thick: k.Thick, Angle: -k.Angle}
		if barInside(right, w, h) {
			g.l.Kickers = append(g.l.Kickers, right)
		}
	}
}

func barBetween(a, b geom.Vec, thick float64) Bar {
	d := b.Sub(a)
	return Bar{
		C:     a.Add(d.Scale(0.5)),
		Len:   math.Hypot(d.X, d.Y),
		Thick: thick,
		Angle: math.Atan2(d.Y, d.X),
	}
}

// barInside reports whether both ends of b, widened by half its thickness,
// lie inside [0,w]x[0,h].
func barInside(b Bar, w, h float64) bool {
	a, c := b.Endpoints()
	r := b.Thick / 2
	for _, p := range []geom.Vec{a, c} {
		if p.X-r < 0 || p.X+r > w || p.Y-r < 0 || p.Y+r > h {
			return false
		}
	}
	return true
}
