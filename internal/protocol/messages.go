package protocol

import (
	"balldrop.ai/internal/sim/course"
	"balldrop.ai/internal/sim/geom"
	"balldrop.ai/internal/sim/world"
)

// SUBSCRIBE (client -> server). First message on the observer WS connection;
// can be re-sent to change settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// MaxFPS caps frames per second for this client; 0 means every tick.
	MaxFPS int `json:"max_fps,omitempty"`
	// Actuators asks for spinner and flipper angles in frames.
	Actuators bool `json:"actuators,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap: the static course, sent once.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	RaceID          string      `json:"race_id"`
	Phase           string      `json:"phase"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	Course          CourseInfo  `json:"course"`
	Participants    []string    `json:"participants"`
}

type WorldParams struct {
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	TickRateHz int     `json:"tick_rate_hz"`
	Seed       int64   `json:"seed"`
	Gravity    float64 `json:"gravity"`
	Winners    int     `json:"winners"`
	BallR      float64 `json:"ball_r"`
}

type CourseInfo struct {
	Variant  string        `json:"variant"`
	Digest   string        `json:"digest"`
	Walls    []Rect        `json:"walls"`
	Pegs     []Circle      `json:"pegs"`
	Bars     []Segment     `json:"bars"`
	Spinners []SpinnerInfo `json:"spinners"`
	Flippers []FlipperInfo `json:"flippers"`
	Finish   Rect          `json:"finish"`
	Spawn    [2]float64    `json:"spawn"`
}

type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type Circle struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	R float64 `json:"r"`
}

type Segment struct {
	A     [2]float64 `json:"a"`
	B     [2]float64 `json:"b"`
	Thick float64    `json:"thick"`
}

type SpinnerInfo struct {
	Pivot  [2]float64 `json:"pivot"`
	Reach  float64    `json:"reach"`
	Spokes int        `json:"spokes"`
}

type FlipperInfo struct {
	Pivot [2]float64 `json:"pivot"`
	Len   float64    `json:"len"`
	Base  float64    `json:"base"`
}

// FRAME (server -> client). Sent every tick, or at the subscriber's MaxFPS.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RaceID          string `json:"race_id"`
	Tick            uint64 `json:"tick"`
	NowMs           int64  `json:"now_ms"`
	Phase           string `json:"phase"`

	Camera  Rect       `json:"camera"`
	Gravity [2]float64 `json:"gravity"`
	Shaking bool       `json:"shaking"`
	Leader  int        `json:"leader,omitempty"`

	Balls     []BallState     `json:"balls"`
	Actuators []ActuatorState `json:"actuators,omitempty"`
	Ranks     []RankEntry     `json:"ranks"`
	Winners   int             `json:"winners"`
	Signals   []SignalInfo    `json:"signals,omitempty"`
}

type BallState struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	State     string     `json:"state"`
	Pos       [2]float64 `json:"pos"`
	Rank      int        `json:"rank,omitempty"`
	Highlight bool       `json:"highlight,omitempty"`
}

type ActuatorState struct {
	Kind  string  `json:"kind"`
	Angle float64 `json:"angle"`
	Phase string  `json:"phase,omitempty"`
}

type RankEntry struct {
	Position int    `json:"position"`
	ID       int    `json:"id"`
	Name     string `json:"name"`
	AtMs     int64  `json:"at_ms"`
}

type SignalInfo struct {
	Kind   string `json:"kind"`
	Tick   uint64 `json:"tick"`
	Entity int    `json:"entity,omitempty"`
	Name   string `json:"name,omitempty"`
	Rank   int    `json:"rank,omitempty"`
	Text   string `json:"text,omitempty"`
}

// ERROR (server -> client).
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}

func pt(v geom.Vec) [2]float64 { return [2]float64{v.X, v.Y} }

func rect(r geom.Rect) Rect { return Rect{X: r.X, Y: r.Y, W: r.W, H: r.H} }

// NewBootstrap describes the course and field of s.
func NewBootstrap(s *world.Simulation) BootstrapResponse {
	cfg := s.Config()
	l := s.Layout()
	return BootstrapResponse{
		ProtocolVersion: Version,
		RaceID:          cfg.ID,
		Phase:           string(s.Phase()),
		Tick:            s.Tick(),
		WorldParams: WorldParams{
			W:          l.W,
			H:          l.H,
			TickRateHz: cfg.TickRateHz,
			Seed:       cfg.Seed,
			Gravity:    cfg.Gravity,
			Winners:    cfg.Winners,
			BallR:      cfg.Ball.R,
		},
		Course:       NewCourseInfo(l),
		Participants: participantNames(s),
	}
}

func participantNames(s *world.Simulation) []string {
	out := []string{}
	for _, e := range s.Entities() {
		out = append(out, e.Name)
	}
	return out
}

func NewCourseInfo(l course.Layout) CourseInfo {
	ci := CourseInfo{
		Variant:  string(l.Variant),
		Digest:   l.Digest(),
		Walls:    make([]Rect, 0, len(l.Walls)+1),
		Pegs:     make([]Circle, 0, len(l.Pegs)),
		Bars:     []Segment{},
		Spinners: make([]SpinnerInfo, 0, len(l.Spinners)),
		Flippers: make([]FlipperInfo, 0, len(l.Flippers)),
		Finish:   rect(l.Finish),
		Spawn:    pt(l.Spawn),
	}
	for _, w := range l.Walls {
		ci.Walls = append(ci.Walls, rect(w))
	}
	ci.Walls = append(ci.Walls, rect(l.Floor))
	for _, p := range l.Pegs {
		ci.Pegs = append(ci.Pegs, Circle{X: p.C.X, Y: p.C.Y, R: p.R})
	}
	for _, b := range l.Bars() {
		a, c := b.Endpoints()
		ci.Bars = append(ci.Bars, Segment{A: pt(a), B: pt(c), Thick: b.Thick})
	}
	for _, sp := range l.Spinners {
		ci.Spinners = append(ci.Spinners, SpinnerInfo{Pivot: pt(sp.Pivot), Reach: sp.Reach(), Spokes: sp.Spokes})
	}
	for _, f := range l.Flippers {
		ci.Flippers = append(ci.Flippers, FlipperInfo{Pivot: pt(f.Pivot), Len: f.Len, Base: f.Base})
	}
	return ci
}

// NewFrame converts a simulation view and the signals drained with it.
func NewFrame(v world.View, sigs []world.Signal, actuators bool) FrameMsg {
	f := FrameMsg{
		Type:            TypeFrame,
		ProtocolVersion: Version,
		RaceID:          v.ID,
		Tick:            v.Tick,
		NowMs:           v.Now.Milliseconds(),
		Phase:           string(v.Phase),
		Camera:          rect(v.Camera),
		Gravity:         pt(v.Gravity),
		Shaking:         v.Shaking,
		Leader:          int(v.Leader),
		Balls:           make([]BallState, 0, len(v.Balls)),
		Ranks:           make([]RankEntry, 0, len(v.Ranks)),
		Winners:         v.Winners,
	}
	for _, b := range v.Balls {
		f.Balls = append(f.Balls, BallState{
			ID:        int(b.ID),
			Name:      b.Name,
			State:     b.State.String(),
			Pos:       pt(b.Pos),
			Rank:      b.Rank,
			Highlight: b.Highlight,
		})
	}
	if actuators {
		for _, a := range v.Actuators {
			f.Actuators = append(f.Actuators, ActuatorState{Kind: string(a.Kind), Angle: a.Angle, Phase: a.Phase})
		}
	}
	for _, r := range v.Ranks {
		f.Ranks = append(f.Ranks, RankEntry{Position: r.Position, ID: int(r.EntityID), Name: r.Name, AtMs: r.At.Milliseconds()})
	}
	for _, s := range sigs {
		f.Signals = append(f.Signals, SignalInfo{
			Kind:   string(s.Kind),
			Tick:   s.Tick,
			Entity: int(s.Entity),
			Name:   s.Name,
			Rank:   s.Rank,
			Text:   s.Text,
		})
	}
	return f
}
