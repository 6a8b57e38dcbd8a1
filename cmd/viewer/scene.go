package main

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/gdamore/tcell/v2"

	"balldrop.ai/internal/protocol"
	"balldrop.ai/internal/sim/world"
)

// canvas is the part of tcell.Screen the scene draws on.
type canvas interface {
	SetContent(x, y int, primary rune, combining []rune, style tcell.Style)
	Size() (int, int)
}

const (
	sidebarW  = 24
	bannerFor = 1500 // ms of race time a banner stays up
)

var (
	styleWall    = tcell.StyleDefault.Foreground(tcell.ColorGray)
	stylePeg     = tcell.StyleDefault.Foreground(tcell.ColorDarkCyan)
	styleBar     = tcell.StyleDefault.Foreground(tcell.ColorSilver)
	styleActor   = tcell.StyleDefault.Foreground(tcell.ColorOrange)
	styleFinish  = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleBall    = tcell.StyleDefault.Foreground(tcell.ColorWhite)
	styleLeader  = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	styleRanked  = tcell.StyleDefault.Foreground(tcell.ColorGreen).Bold(true)
	styleHilite  = tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorYellow)
	styleHeader  = tcell.StyleDefault.Foreground(tcell.ColorWhite).Bold(true)
	styleDim     = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleBanner  = tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorWhite).Bold(true)
	styleShaking = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
)

// scene is the viewer's copy of the race: the static course from the
// bootstrap and the latest frame.
type scene struct {
	boot  protocol.BootstrapResponse
	frame protocol.FrameMsg
	ready bool

	// follow draws the server camera; otherwise the whole course is fitted.
	follow bool
	status string

	banner   string
	bannerAt int64
}

func newScene() *scene { return &scene{follow: true, status: "connecting"} }

func (s *scene) setBootstrap(b protocol.BootstrapResponse) {
	s.boot = b
	s.frame = protocol.FrameMsg{}
	s.ready = true
	s.banner = ""
}

// apply takes a frame and reports whether its race differs from the
// bootstrap, in which case the caller refetches the course.
func (s *scene) apply(f protocol.FrameMsg) (stale bool) {
	s.frame = f
	for _, sig := range f.Signals {
		if text := bannerText(sig); text != "" {
			s.banner = text
			s.bannerAt = f.NowMs
		}
	}
	return !s.ready || f.RaceID != s.boot.RaceID
}

func bannerText(sig protocol.SignalInfo) string {
	switch world.SignalKind(sig.Kind) {
	case world.SigCountdown:
		return sig.Text
	case world.SigRaceStarted:
		return "GO"
	case world.SigFinished:
		if sig.Rank > 0 {
			return fmt.Sprintf("#%d %s", sig.Rank, sig.Name)
		}
	case world.SigTopReached:
		return "TOP " + sig.Text + " DECIDED"
	case world.SigShake:
		return "SHAKE!"
	case world.SigRaceComplete:
		return "RACE COMPLETE"
	}
	return ""
}

// viewport is the world rectangle mapped onto the course area.
func (s *scene) viewport() protocol.Rect {
	c := s.frame.Camera
	if s.follow && c.W > 0 && c.H > 0 {
		return c
	}
	return protocol.Rect{W: s.boot.WorldParams.W, H: s.boot.WorldParams.H}
}

type projection struct {
	view       protocol.Rect
	cols, rows int
	ox, oy     int
}

func (p projection) cell(x, y float64) (int, int, bool) {
	if p.view.W <= 0 || p.view.H <= 0 {
		return 0, 0, false
	}
	cx := int(math.Floor((x - p.view.X) / p.view.W * float64(p.cols)))
	cy := int(math.Floor((y - p.view.Y) / p.view.H * float64(p.rows)))
	if cx < 0 || cy < 0 || cx >= p.cols || cy >= p.rows {
		return 0, 0, false
	}
	return cx + p.ox, cy + p.oy, true
}

func (s *scene) draw(c canvas) {
	w, h := c.Size()
	blank(c, w, h)
	s.drawHeader(c, w)
	if !s.ready {
		put(c, 1, 2, s.status, styleDim, w)
		return
	}

	courseW := w - sidebarW
	if courseW < 10 {
		courseW = w
	}
	p := projection{view: s.viewport(), cols: courseW, rows: h - 1, ox: 0, oy: 1}
	s.drawCourse(c, p)
	s.drawActuators(c, p)
	s.drawBalls(c, p)
	if courseW < w {
		s.drawRanks(c, courseW+1, w)
	}
	if s.banner != "" && s.frame.NowMs-s.bannerAt <= bannerFor {
		text := " " + s.banner + " "
		put(c, (courseW-len(text))/2, h/2, text, styleBanner, courseW)
	}
}

func (s *scene) drawHeader(c canvas, w int) {
	f := s.frame
	head := fmt.Sprintf("balldrop %s  %s  tick %d  %d/%d ranked", shortID(s.boot.RaceID), f.Phase, f.Tick, len(f.Ranks), f.Winners)
	if !s.follow {
		head += "  [course]"
	}
	put(c, 0, 0, head, styleHeader, w)
	if f.Shaking {
		put(c, w-8, 0, "SHAKING", styleShaking, w)
	}
}

func (s *scene) drawCourse(c canvas, p projection) {
	co := s.boot.Course
	for _, r := range co.Walls {
		fillRect(c, p, r, '#', styleWall)
	}
	for _, b := range co.Bars {
		line(c, p, b.A[0], b.A[1], b.B[0], b.B[1], '=', styleBar)
	}
	for _, peg := range co.Pegs {
		if x, y, ok := p.cell(peg.X, peg.Y); ok {
			c.SetContent(x, y, '.', nil, stylePeg)
		}
	}
	f := co.Finish
	line(c, p, f.X, f.Y+f.H/2, f.X+f.W, f.Y+f.H/2, '-', styleFinish)
}

// drawActuators places spinner spokes and flipper bars at the frame's angles.
// Frames list spinners first, then flippers, in course order.
func (s *scene) drawActuators(c canvas, p projection) {
	co := s.boot.Course
	acts := s.frame.Actuators
	for i, sp := range co.Spinners {
		angle := 0.0
		if i < len(acts) {
			angle = acts[i].Angle
		}
		n := sp.Spokes
		if n <= 0 {
			n = 1
		}
		for k := 0; k < n; k++ {
			a := angle + 2*math.Pi*float64(k)/float64(n)
			line(c, p, sp.Pivot[0], sp.Pivot[1], sp.Pivot[0]+sp.Reach*math.Cos(a), sp.Pivot[1]+sp.Reach*math.Sin(a), '*', styleActor)
		}
	}
	for i, fl := range co.Flippers {
		angle := fl.Base
		if j := len(co.Spinners) + i; j < len(acts) {
			angle = acts[j].Angle
		}
		line(c, p, fl.Pivot[0], fl.Pivot[1], fl.Pivot[0]+fl.Len*math.Cos(angle), fl.Pivot[1]+fl.Len*math.Sin(angle), '/', styleActor)
	}
}

func (s *scene) drawBalls(c canvas, p projection) {
	for _, b := range s.frame.Balls {
		if b.State == "REMOVED" {
			continue
		}
		x, y, ok := p.cell(b.Pos[0], b.Pos[1])
		if !ok {
			continue
		}
		st := styleBall
		switch {
		case b.Highlight:
			st = styleHilite
		case b.Rank > 0:
			st = styleRanked
		case b.ID == s.frame.Leader:
			st = styleLeader
		}
		c.SetContent(x, y, initial(b.Name), nil, st)
	}
}

func (s *scene) drawRanks(c canvas, x0, w int) {
	put(c, x0, 1, fmt.Sprintf("TOP %d", s.frame.Winners), styleHeader, w)
	y := 2
	for _, r := range s.frame.Ranks {
		put(c, x0, y, fmt.Sprintf("%2d %-12s %5.2fs", r.Position, clip(r.Name, 12), float64(r.AtMs)/1000), styleRanked, w)
		y++
	}
	for i := len(s.frame.Ranks); i < s.frame.Winners; i++ {
		put(c, x0, y, fmt.Sprintf("%2d ...", i+1), styleDim, w)
		y++
	}
	y++
	falling := 0
	for _, b := range s.frame.Balls {
		if b.State == "FALLING" {
			falling++
		}
	}
	put(c, x0, y, fmt.Sprintf("%d falling", falling), styleDim, w)
}

func blank(c canvas, w, h int) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c.SetContent(x, y, ' ', nil, tcell.StyleDefault)
		}
	}
}

func put(c canvas, x, y int, text string, st tcell.Style, maxX int) {
	if x < 0 {
		x = 0
	}
	for _, r := range text {
		if x >= maxX {
			return
		}
		c.SetContent(x, y, r, nil, st)
		x++
	}
}

func fillRect(c canvas, p projection, r protocol.Rect, ch rune, st tcell.Style) {
	if p.view.W <= 0 || p.view.H <= 0 {
		return
	}
	x0, y0 := cellFloor(p, r.X, r.Y)
	x1, y1 := cellFloor(p, r.X+r.W, r.Y+r.H)
	for y := max(y0, p.oy); y <= min(y1, p.oy+p.rows-1); y++ {
		for x := max(x0, p.ox); x <= min(x1, p.ox+p.cols-1); x++ {
			c.SetContent(x, y, ch, nil, st)
		}
	}
}

// cellFloor maps a point without clipping.
func cellFloor(p projection, x, y float64) (int, int) {
	cx := int(math.Floor((x - p.view.X) / p.view.W * float64(p.cols)))
	cy := int(math.Floor((y - p.view.Y) / p.view.H * float64(p.rows)))
	return cx + p.ox, cy + p.oy
}

// line samples the segment at half-cell steps.
func line(c canvas, p projection, ax, ay, bx, by float64, ch rune, st tcell.Style) {
	if p.view.W <= 0 || p.view.H <= 0 {
		return
	}
	dx := (bx - ax) / p.view.W * float64(p.cols)
	dy := (by - ay) / p.view.H * float64(p.rows)
	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))*2)) + 1
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		if x, y, ok := p.cell(ax+(bx-ax)*t, ay+(by-ay)*t); ok {
			c.SetContent(x, y, ch, nil, st)
		}
	}
}

func initial(name string) rune {
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
	}
	return 'o'
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
