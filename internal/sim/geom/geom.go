package geom

import "math"

// Vec is a 2D point in world units. Y grows downward.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec) Add(o Vec) Vec { return Vec{X: v.X + o.X, Y: v.Y + o.Y} }

func (v Vec) Sub(o Vec) Vec { return Vec{X: v.X - o.X, Y: v.Y - o.Y} }

func (v Vec) Scale(s float64) Vec { return Vec{X: v.X * s, Y: v.Y * s} }

// Dist2 is the squared distance between v and o.
func (v Vec) Dist2(o Vec) float64 {
	dx, dy := v.X-o.X, v.Y-o.Y
	return dx*dx + dy*dy
}

// Within reports whether v lies inside [0,w]x[0,h].
func (v Vec) Within(w, h float64) bool {
	return v.X >= 0 && v.X <= w && v.Y >= 0 && v.Y <= h
}

// ForAngle returns the unit vector at angle a (radians, clockwise on screen).
func ForAngle(a float64) Vec { return Vec{X: math.Cos(a), Y: math.Sin(a)} }

// Rect is an axis-aligned rectangle given by its top-left origin and size.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (r Rect) Center() Vec { return Vec{X: r.X + r.W/2, Y: r.Y + r.H/2} }

// RectAround returns the rectangle of size (w, h) centred on c.
func RectAround(c Vec, w, h float64) Rect {
	return Rect{X: c.X - w/2, Y: c.Y - h/2, W: w, H: h}
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
