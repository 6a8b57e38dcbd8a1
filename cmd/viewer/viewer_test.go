package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"

	"balldrop.ai/internal/protocol"
)

type grid struct {
	w, h  int
	cells map[[2]int]rune
}

func newGrid(w, h int) *grid { return &grid{w: w, h: h, cells: map[[2]int]rune{}} }

func (g *grid) SetContent(x, y int, r rune, _ []rune, _ tcell.Style) {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		panic("draw outside the screen")
	}
	g.cells[[2]int{x, y}] = r
}
func (g *grid) Size() (int, int) { return g.w, g.h }

func (g *grid) row(y int) string {
	var b strings.Builder
	for x := 0; x < g.w; x++ {
		r := g.cells[[2]int{x, y}]
		if r == 0 {
			r = ' '
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (g *grid) count(r rune) int {
	n := 0
	for _, c := range g.cells {
		if c == r {
			n++
		}
	}
	return n
}

func testBootstrap() protocol.BootstrapResponse {
	return protocol.BootstrapResponse{
		ProtocolVersion: protocol.Version,
		RaceID:          "abc-123",
		Phase:           "BUILT",
		WorldParams:     protocol.WorldParams{W: 600, H: 900, TickRateHz: 60, Winners: 2, BallR: 13},
		Course: protocol.CourseInfo{
			Walls:    []protocol.Rect{{X: 0, Y: 0, W: 10, H: 900}, {X: 590, Y: 0, W: 10, H: 900}},
			Pegs:     []protocol.Circle{{X: 300, Y: 300, R: 5}},
			Bars:     []protocol.Segment{{A: [2]float64{100, 500}, B: [2]float64{250, 550}, Thick: 8}},
			Spinners: []protocol.SpinnerInfo{{Pivot: [2]float64{450, 400}, Reach: 60, Spokes: 4}},
			Flippers: []protocol.FlipperInfo{{Pivot: [2]float64{150, 650}, Len: 80}},
			Finish:   protocol.Rect{X: 0, Y: 860, W: 600, H: 10},
		},
		Participants: []string{"ada", "grace"},
	}
}

func testFrame(raceID string) protocol.FrameMsg {
	return protocol.FrameMsg{
		Type:      protocol.TypeFrame,
		RaceID:    raceID,
		Tick:      120,
		NowMs:     2000,
		Phase:     "RUNNING",
		Camera:    protocol.Rect{X: 0, Y: 0, W: 600, H: 900},
		Winners:   2,
		Actuators: []protocol.ActuatorState{{Kind: "SPINNER", Angle: 0.3}, {Kind: "FLIPPER", Angle: 0.5}},
		Balls: []protocol.BallState{
			{ID: 1, Name: "ada", State: "FINISHED", Pos: [2]float64{300, 865}, Rank: 1},
			{ID: 2, Name: "grace", State: "FALLING", Pos: [2]float64{320, 200}},
			{ID: 3, Name: "linus", State: "REMOVED", Pos: [2]float64{50, 50}},
		},
		Ranks:   []protocol.RankEntry{{Position: 1, ID: 1, Name: "ada", AtMs: 1900}},
		Signals: []protocol.SignalInfo{{Kind: "finished", Entity: 1, Name: "ada", Rank: 1}},
	}
}

func TestScene_DrawsCourseBallsAndRanks(t *testing.T) {
	s := newScene()
	g := newGrid(84, 30)
	s.draw(g)
	if !strings.Contains(g.row(2), "connecting") {
		t.Fatalf("waiting screen: %q", g.row(2))
	}

	s.setBootstrap(testBootstrap())
	if stale := s.apply(testFrame("abc-123")); stale {
		t.Fatalf("frame for the bootstrapped race reported stale")
	}
	s.draw(g)

	if !strings.Contains(g.row(0), "abc") || !strings.Contains(g.row(0), "RUNNING") || !strings.Contains(g.row(0), "1/2 ranked") {
		t.Fatalf("header: %q", g.row(0))
	}
	if g.cells[[2]int{30, 28}] != 'A' || g.cells[[2]int{32, 7}] != 'G' || g.count('L') != 0 {
		t.Fatalf("balls: ada=%q grace=%q removed drawn=%d", g.cells[[2]int{30, 28}], g.cells[[2]int{32, 7}], g.count('L'))
	}
	for _, r := range []rune{'#', '.', '=', '*', '/', '-'} {
		if g.count(r) == 0 {
			t.Fatalf("nothing drawn with %q", r)
		}
	}
	sidebar := g.row(2)[60:]
	if !strings.Contains(sidebar, "ada") || !strings.Contains(sidebar, "1.90s") {
		t.Fatalf("rank row: %q", sidebar)
	}
	if !strings.Contains(g.row(3)[60:], "2 ...") {
		t.Fatalf("open rank slot: %q", g.row(3))
	}
	if !strings.Contains(g.row(15), "#1 ada") {
		t.Fatalf("banner: %q", g.row(15))
	}

	// The banner expires with race time.
	f := testFrame("abc-123")
	f.Signals = nil
	f.NowMs = 2000 + bannerFor + 1
	s.apply(f)
	s.draw(g)
	if strings.Contains(g.row(15), "#1 ada") {
		t.Fatalf("stale banner: %q", g.row(15))
	}

	if stale := s.apply(testFrame("new-race")); !stale {
		t.Fatalf("frame for another race not reported stale")
	}
}

func TestScene_FollowUsesCamera(t *testing.T) {
	s := newScene()
	s.setBootstrap(testBootstrap())
	f := testFrame("abc-123")
	f.Camera = protocol.Rect{X: 0, Y: 600, W: 600, H: 300}
	s.apply(f)
	if v := s.viewport(); v != f.Camera {
		t.Fatalf("follow viewport %+v", v)
	}
	s.follow = false
	if v := s.viewport(); v.W != 600 || v.H != 900 || v.Y != 0 {
		t.Fatalf("course viewport %+v", v)
	}
	// Drawing on a tiny screen stays in bounds.
	s.draw(newGrid(12, 4))
}

func TestScene_DrawsOnSimulationScreen(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer screen.Fini()
	screen.SetSize(80, 24)

	s := newScene()
	s.setBootstrap(testBootstrap())
	s.apply(testFrame("abc-123"))
	s.draw(screen)
	screen.Show()
}

func TestInitialAndClip(t *testing.T) {
	if initial("  ada") != 'A' || initial("#7") != '7' || initial("") != 'o' {
		t.Fatalf("initial")
	}
	if clip("grace hopper", 5) != "grac~" || clip("ada", 5) != "ada" {
		t.Fatalf("clip")
	}
}

func TestClient_BootstrapAndStream(t *testing.T) {
	boot := testBootstrap()
	var noRace atomic.Bool
	upgrader := websocket.Upgrader{}
	subs := make(chan protocol.SubscribeMsg, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observer/bootstrap", func(rw http.ResponseWriter, r *http.Request) {
		if noRace.Load() {
			rw.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(rw).Encode(protocol.NewError(protocol.ErrNoRace, "no race"))
			return
		}
		_ = json.NewEncoder(rw).Encode(boot)
	})
	mux.HandleFunc("/v1/observer/ws", func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub protocol.SubscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subs <- sub
		_ = conn.WriteJSON(testFrame("abc-123"))
		_, _, _ = conn.ReadMessage()
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := newClient(ts.URL+"/", 15)
	c.retry = 10 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := c.bootstrap(ctx)
	if err != nil || got.RaceID != "abc-123" || len(got.Course.Spinners) != 1 {
		t.Fatalf("bootstrap: %+v %v", got, err)
	}
	noRace.Store(true)
	if _, err := c.bootstrap(ctx); !errors.Is(err, errNoRace) {
		t.Fatalf("no race: %v", err)
	}

	go c.streamLoop(ctx, true)
	select {
	case sub := <-subs:
		if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version || sub.MaxFPS != 15 || !sub.Actuators {
			t.Fatalf("subscribe: %+v", sub)
		}
	case <-ctx.Done():
		t.Fatalf("no subscribe")
	}
	for {
		select {
		case u := <-c.updates:
			if u.frame == nil {
				continue
			}
			if u.frame.RaceID != "abc-123" || len(u.frame.Balls) != 3 {
				t.Fatalf("frame: %+v", u.frame)
			}
			return
		case <-ctx.Done():
			t.Fatalf("no frame")
		}
	}
}

func TestClient_WSURL(t *testing.T) {
	for base, want := range map[string]string{
		"http://127.0.0.1:8080":     "ws://127.0.0.1:8080/v1/observer/ws",
		"https://race.example/api/": "wss://race.example/api/v1/observer/ws",
	} {
		got, err := newClient(base, 0).wsURL()
		if err != nil || got != want {
			t.Fatalf("wsURL(%q) = %q, %v", base, got, err)
		}
	}
}
