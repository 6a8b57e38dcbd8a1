package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"balldrop.ai/internal/persistence/indexdb"
	"balldrop.ai/internal/protocol"
	"balldrop.ai/internal/sim/course"
	"balldrop.ai/internal/sim/runner"
	"balldrop.ai/internal/sim/tuning"
	"balldrop.ai/internal/sim/world"
	"balldrop.ai/internal/transport/observer"
)

type testServer struct {
	mux *http.ServeMux
	idx *indexdb.SQLiteIndex
	rn  *runner.Runner
}

func newTestServer(t *testing.T, admin bool) *testServer {
	t.Helper()
	dataDir := t.TempDir()
	idx, err := openIndex(dataDir, false)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	tune := tuning.Defaults()
	tune.World.W, tune.World.H = 600, 900
	tune.Course = course.Options{Variant: course.Classic}
	logger := log.New(io.Discard, "", 0)
	rn, err := runner.New(runner.Options{DataDir: dataDir, Tuning: tune, Index: idx, Logger: logger})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rn.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	api := &raceAPI{runner: rn, idx: idx, log: logger, names: []string{"Ada", "Grace"}}
	mux := newMux(api, observer.NewServer(rn, logger), nil, muxOptions{admin: admin})
	return &testServer{mux: mux, idx: idx, rn: rn}
}

func (s *testServer) do(t *testing.T, method, path, body, remote string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	return rr
}

const local = "127.0.0.1:5555"

func decodeAs[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v body=%s", v, err, rr.Body.String())
	}
	return v
}

func TestAdminRace_Lifecycle(t *testing.T) {
	s := newTestServer(t, true)

	rr := s.do(t, http.MethodPost, "/admin/v1/race/start", "", local)
	if e := decodeAs[protocol.ErrorMsg](t, rr); rr.Code != http.StatusConflict || e.Code != protocol.ErrNoRace {
		t.Fatalf("start before build: %d %+v", rr.Code, e)
	}

	rr = s.do(t, http.MethodPost, "/admin/v1/race/build", `{"seed":7,"variant":"pachinko"}`, local)
	if e := decodeAs[protocol.ErrorMsg](t, rr); rr.Code != http.StatusBadRequest || e.Code != protocol.ErrInvalidConfig {
		t.Fatalf("unknown variant: %d %+v", rr.Code, e)
	}
	rr = s.do(t, http.MethodPost, "/admin/v1/race/build", `{"seed":`, local)
	if e := decodeAs[protocol.ErrorMsg](t, rr); rr.Code != http.StatusBadRequest || e.Code != protocol.ErrBadRequest {
		t.Fatalf("bad json: %d %+v", rr.Code, e)
	}

	rr = s.do(t, http.MethodPost, "/admin/v1/race/build", `{"seed":7,"variant":"classic"}`, local)
	built := decodeAs[commandResponse](t, rr)
	if rr.Code != http.StatusOK || !built.OK || built.Status.Seed != 7 || built.Status.Phase != world.PhaseBuilt {
		t.Fatalf("build: %d %+v", rr.Code, built)
	}
	raceID := built.Status.RaceID

	rr = s.do(t, http.MethodPost, "/admin/v1/race/shake", "", local)
	if e := decodeAs[protocol.ErrorMsg](t, rr); rr.Code != http.StatusConflict || e.Code != protocol.ErrNotStarted {
		t.Fatalf("shake before start: %d %+v", rr.Code, e)
	}

	// An empty body falls back to the configured names.
	rr = s.do(t, http.MethodPost, "/admin/v1/race/start", "", local)
	started := decodeAs[commandResponse](t, rr)
	if rr.Code != http.StatusOK || started.Status.Participants != 2 || started.Status.RaceID != raceID {
		t.Fatalf("start: %d %+v", rr.Code, started)
	}
	rr = s.do(t, http.MethodPost, "/admin/v1/race/start", `{"names":["Linus"]}`, local)
	if e := decodeAs[protocol.ErrorMsg](t, rr); rr.Code != http.StatusConflict || e.Code != protocol.ErrAlreadyStarted {
		t.Fatalf("second start: %d %+v", rr.Code, e)
	}

	rr = s.do(t, http.MethodGet, "/admin/v1/state", "", local)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), raceID) {
		t.Fatalf("state: %d %s", rr.Code, rr.Body.String())
	}

	rr = s.do(t, http.MethodPost, "/admin/v1/race/reset", "", local)
	reset := decodeAs[commandResponse](t, rr)
	if rr.Code != http.StatusOK || reset.Status.RaceID == raceID || reset.Status.Seed != 7 || reset.Status.Phase != world.PhaseBuilt {
		t.Fatalf("reset: %d %+v", rr.Code, reset)
	}

	// The replaced race is closed and indexed.
	var res protocol.ResultsResponse
	deadline := time.Now().Add(5 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.idx.Sync(ctx)
		cancel()
		rr = s.do(t, http.MethodGet, "/v1/races/"+raceID+"/results", "", "10.0.0.9:1234")
		if rr.Code == http.StatusOK {
			res = decodeAs[protocol.ResultsResponse](t, rr)
			// The build-time snapshot lands first with no participants.
			if res.Race.Participants == 2 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("results never indexed: %d %s", rr.Code, rr.Body.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if res.Race.RaceID != raceID || res.Race.Seed != 7 || res.Race.Participants != 2 || res.Winners == nil || res.Finishers == nil {
		t.Fatalf("results: %+v", res)
	}

	rr = s.do(t, http.MethodGet, "/v1/races", "", "10.0.0.9:1234")
	list := decodeAs[[]protocol.RaceSummary](t, rr)
	found := false
	for _, r := range list {
		found = found || r.RaceID == raceID
	}
	if rr.Code != http.StatusOK || !found {
		t.Fatalf("race list: %d %+v", rr.Code, list)
	}
}

func TestAdminRoutes_LoopbackAndMethod(t *testing.T) {
	s := newTestServer(t, true)

	if rr := s.do(t, http.MethodPost, "/admin/v1/race/build", "", "10.0.0.9:1234"); rr.Code != http.StatusForbidden {
		t.Fatalf("remote build: %d", rr.Code)
	}
	if rr := s.do(t, http.MethodGet, "/admin/v1/state", "", "10.0.0.9:1234"); rr.Code != http.StatusForbidden {
		t.Fatalf("remote state: %d", rr.Code)
	}
	if rr := s.do(t, http.MethodGet, "/admin/v1/race/build", "", local); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET build: %d", rr.Code)
	}
	if s.rn.Status().RaceID != "" {
		t.Fatalf("rejected request built a race")
	}

	off := newTestServer(t, false)
	if rr := off.do(t, http.MethodPost, "/admin/v1/race/build", "", local); rr.Code != http.StatusNotFound {
		t.Fatalf("admin disabled: %d", rr.Code)
	}
}

func TestPublicRoutes(t *testing.T) {
	s := newTestServer(t, false)

	if rr := s.do(t, http.MethodGet, "/healthz", "", "10.0.0.9:1234"); rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}

	rr := s.do(t, http.MethodGet, "/metrics", "", "10.0.0.9:1234")
	for _, name := range []string{"balldrop_race_tick", "balldrop_races_total", "balldrop_frames_dropped_total", "balldrop_index_written_total"} {
		if !strings.Contains(rr.Body.String(), name) {
			t.Fatalf("metrics missing %s:\n%s", name, rr.Body.String())
		}
	}

	rr = s.do(t, http.MethodGet, "/v1/observer/bootstrap", "", "10.0.0.9:1234")
	if e := decodeAs[protocol.ErrorMsg](t, rr); rr.Code != http.StatusNotFound || e.Code != protocol.ErrNoRace {
		t.Fatalf("bootstrap without race: %d %+v", rr.Code, e)
	}

	rr = s.do(t, http.MethodGet, "/v1/races/nope/results", "", "10.0.0.9:1234")
	if e := decodeAs[protocol.ErrorMsg](t, rr); rr.Code != http.StatusNotFound || e.Code != protocol.ErrNotFound {
		t.Fatalf("unknown race: %d %+v", rr.Code, e)
	}
	if rr := s.do(t, http.MethodGet, "/v1/races/x/winners", "", "10.0.0.9:1234"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown sub path: %d", rr.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	for _, tc := range []struct {
		err    error
		status int
	}{
		{runner.ErrNoRace, http.StatusConflict},
		{runner.ErrStopped, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{fmt.Errorf("wrap: %w", world.ErrShakeActive), http.StatusConflict},
		{world.ErrNoParticipants, http.StatusBadRequest},
		{world.ErrClosed, http.StatusServiceUnavailable},
		{tuning.ErrInvalid, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	} {
		if got := httpStatus(errorCode(tc.err)); got != tc.status {
			t.Fatalf("%v: status %d, want %d", tc.err, got, tc.status)
		}
	}
}

func TestLoadNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.txt")
	body := "# field\nAda\n\n  Grace  \n" + strings.Repeat("x", 40) + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	names, err := loadNames(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(names) != 3 || names[0] != "Ada" || names[1] != "Grace" || len(names[2]) != 32 {
		t.Fatalf("names: %q", names)
	}

	many := make([]string, tuning.MaxParticipants+10)
	for i := range many {
		many[i] = fmt.Sprintf("p%d", i)
	}
	if got := cleanNames(many); len(got) != tuning.MaxParticipants {
		t.Fatalf("cleanNames kept %d", len(got))
	}
}
