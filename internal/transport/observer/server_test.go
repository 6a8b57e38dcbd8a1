package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"balldrop.ai/internal/protocol"
	"balldrop.ai/internal/sim/runner"
)

type fakeSource struct {
	boot    protocol.BootstrapResponse
	bootErr error
	joins   chan runner.ObserverJoin
	subs    chan runner.ObserverSubscribe
	leaves  chan string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		joins:  make(chan runner.ObserverJoin, 4),
		subs:   make(chan runner.ObserverSubscribe, 4),
		leaves: make(chan string, 4),
	}
}

func (f *fakeSource) Bootstrap(context.Context) (protocol.BootstrapResponse, error) {
	return f.boot, f.bootErr
}
func (f *fakeSource) JoinObserver(req runner.ObserverJoin) bool      { f.joins <- req; return true }
func (f *fakeSource) SubscribeObserver(req runner.ObserverSubscribe) { f.subs <- req }
func (f *fakeSource) LeaveObserver(id string)                        { f.leaves <- id }

func newTestServer(t *testing.T, src Source) *httptest.Server {
	t.Helper()
	s := NewServer(src, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/ws", s.WSHandler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		var zero T
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

func TestBootstrap(t *testing.T) {
	src := newFakeSource()
	src.boot = protocol.BootstrapResponse{ProtocolVersion: protocol.Version, RaceID: "r1"}
	ts := newTestServer(t, src)

	resp, err := http.Get(ts.URL + "/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var got protocol.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil || resp.StatusCode != http.StatusOK || got.RaceID != "r1" {
		t.Fatalf("bootstrap: status=%d body=%+v err=%v", resp.StatusCode, got, err)
	}

	src.bootErr = runner.ErrNoRace
	resp2, err := http.Get(ts.URL + "/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	var e protocol.ErrorMsg
	_ = json.NewDecoder(resp2.Body).Decode(&e)
	if resp2.StatusCode != http.StatusNotFound || e.Code != protocol.ErrNoRace {
		t.Fatalf("no race: status=%d err=%+v", resp2.StatusCode, e)
	}

	post, err := http.Post(ts.URL+"/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post status %d", post.StatusCode)
	}
}

func TestWS_SubscribeStreamsFrames(t *testing.T) {
	src := newFakeSource()
	ts := newTestServer(t, src)
	conn := dial(t, ts)

	if err := conn.WriteJSON(protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, MaxFPS: 500, Actuators: true}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	join := recv(t, src.joins)
	if join.SessionID == "" || join.MaxFPS != 240 || !join.Actuators {
		t.Fatalf("join: %+v", join)
	}

	join.Out <- []byte(`{"type":"FRAME","tick":1}`)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil || string(msg) != `{"type":"FRAME","tick":1}` {
		t.Fatalf("frame: %q %v", msg, err)
	}

	if err := conn.WriteJSON(protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, MaxFPS: 5}); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	sub := recv(t, src.subs)
	if sub.SessionID != join.SessionID || sub.MaxFPS != 5 || sub.Actuators {
		t.Fatalf("subscribe update: %+v", sub)
	}

	_ = conn.Close()
	if id := recv(t, src.leaves); id != join.SessionID {
		t.Fatalf("leave %q, want %q", id, join.SessionID)
	}
}

func TestWS_RejectsBadHandshake(t *testing.T) {
	src := newFakeSource()
	ts := newTestServer(t, src)
	conn := dial(t, ts)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO","protocol_version":"1.0"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e protocol.ErrorMsg
	if err := json.Unmarshal(msg, &e); err != nil || e.Type != protocol.TypeError || e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("error message: %s", msg)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("connection should be closed")
	}
	select {
	case j := <-src.joins:
		t.Fatalf("bad handshake joined: %+v", j)
	default:
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:5000":  false,
		"example.com:80": false,
		"":               false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q) = %v", addr, got)
		}
	}
}
