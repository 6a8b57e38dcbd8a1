package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"balldrop.ai/internal/protocol"
	"balldrop.ai/internal/sim/course"
	"balldrop.ai/internal/sim/world"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// validate round-trips v through JSON so the schema sees exactly what a
// client would.
func validate(t *testing.T, s *jsonschema.Schema, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := s.Validate(doc); err != nil {
		t.Fatalf("validate: %v\n%s", err, b)
	}
}

func gauntlet(t *testing.T) *world.Simulation {
	t.Helper()
	cfg := world.DefaultConfig()
	cfg.ID = "race-schema"
	cfg.Seed = 9
	cfg.Course = course.Preset(course.Gauntlet)
	s, err := world.New(cfg)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSchemas_ValidateSamples(t *testing.T) {
	var sub any
	_ = json.Unmarshal([]byte(`{"type":"SUBSCRIBE","protocol_version":"1.0","max_fps":30,"actuators":true}`), &sub)
	if err := compile(t, "subscribe.schema.json").Validate(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var bad any
	_ = json.Unmarshal([]byte(`{"type":"SUBSCRIBE","protocol_version":"1.0","follow":7}`), &bad)
	if err := compile(t, "subscribe.schema.json").Validate(bad); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}

	validate(t, compile(t, "error.schema.json"), protocol.NewError(protocol.ErrShakeActive, "shake already active"))
}

func TestSchemas_BootstrapAndFrames(t *testing.T) {
	s := gauntlet(t)
	bootSchema := compile(t, "bootstrap.schema.json")
	frameSchema := compile(t, "frame.schema.json")

	validate(t, bootSchema, protocol.NewBootstrap(s))
	validate(t, frameSchema, protocol.NewFrame(s.Snapshot(), s.Drain(), true))

	if err := s.Start([]string{"Ada", "Grace", "Linus", "Ken"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	l := s.Layout()
	rotors := len(l.Spinners) + len(l.Flippers)
	boot := protocol.NewBootstrap(s)
	if len(boot.Participants) != 4 || len(boot.Course.Spinners) != len(l.Spinners) || len(boot.Course.Flippers) != len(l.Flippers) {
		t.Fatalf("bootstrap: %+v", boot)
	}
	validate(t, bootSchema, boot)

	sawBalls := false
	for i := 0; i < 400; i++ {
		if err := s.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
		f := protocol.NewFrame(s.Snapshot(), s.Drain(), true)
		if f.Type != protocol.TypeFrame || f.Tick != s.Tick() {
			t.Fatalf("frame header: %+v", f)
		}
		if len(f.Balls) > 0 {
			sawBalls = true
		}
		if len(f.Actuators) != rotors {
			t.Fatalf("actuators: got %d want %d", len(f.Actuators), rotors)
		}
		validate(t, frameSchema, f)
	}
	if !sawBalls {
		t.Fatalf("no balls in any frame")
	}
}

func TestNewFrame_OmitsActuatorsUnlessAsked(t *testing.T) {
	s := gauntlet(t)
	f := protocol.NewFrame(s.Snapshot(), nil, false)
	if len(s.Layout().Spinners) == 0 {
		t.Fatalf("gauntlet placed no spinners")
	}
	if f.Actuators != nil {
		t.Fatalf("actuators sent without subscription: %d", len(f.Actuators))
	}
}

func TestResults_SplitsWinners(t *testing.T) {
	fin := []protocol.Finisher{
		{Entity: 3, Name: "c", Rank: 1, Tick: 10, AtMs: 166},
		{Entity: 1, Name: "a", Rank: 2, Tick: 12, AtMs: 200},
		{Entity: 2, Name: "b", Rank: 0, Tick: 15, AtMs: 250},
	}
	r := protocol.NewResults(protocol.RaceSummary{RaceID: "r1", Variant: "classic", Winners: 2, CreatedAt: "2026-05-01T00:00:00Z"}, fin)
	if len(r.Winners) != 2 || r.Winners[0].Name != "c" || r.Winners[1].Name != "a" {
		t.Fatalf("winners: %+v", r.Winners)
	}
	validate(t, compile(t, "results.schema.json"), r)

	empty := protocol.NewResults(protocol.RaceSummary{RaceID: "r2", Winners: 5}, nil)
	validate(t, compile(t, "results.schema.json"), empty)
}
