package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"balldrop.ai/internal/protocol"
	"balldrop.ai/internal/sim/runner"
)

// Source is the race a Server streams. *runner.Runner implements it.
type Source interface {
	Bootstrap(ctx context.Context) (protocol.BootstrapResponse, error)
	JoinObserver(req runner.ObserverJoin) bool
	SubscribeObserver(req runner.ObserverSubscribe)
	LeaveObserver(sessionID string)
}

const maxFPSCap = 240

type Server struct {
	src Source
	log *log.Logger
	// LoopbackOnly refuses non-local clients.
	LoopbackOnly bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(src Source, logger *log.Logger) *Server {
	return &Server{
		src: src,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			// Observers are read-only; any origin may watch.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.LoopbackOnly && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		resp, err := s.src.Bootstrap(ctx)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			status, code := http.StatusServiceUnavailable, protocol.ErrBusy
			if errors.Is(err, runner.ErrNoRace) {
				status, code = http.StatusNotFound, protocol.ErrNoRace
			}
			rw.WriteHeader(status)
			_ = json.NewEncoder(rw).Encode(protocol.NewError(code, err.Error()))
			return
		}
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

const (
	subscribeWait = 5 * time.Second
	pongWait      = 60 * time.Second
	pingEvery     = pongWait * 9 / 10
	writeWait     = 5 * time.Second
)

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.LoopbackOnly && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// The first message must be SUBSCRIBE.
		_ = conn.SetReadDeadline(time.Now().Add(subscribeWait))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, err := decodeSubscribe(msg)
		if err != nil {
			s.reject(conn, websocket.ClosePolicyViolation, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
			return
		}

		sess := &session{id: fmt.Sprintf("O%d", s.nextID.Add(1)), conn: conn, out: make(chan []byte, 8)}
		if !s.src.JoinObserver(runner.ObserverJoin{SessionID: sess.id, Out: sess.out, MaxFPS: sub.MaxFPS, Actuators: sub.Actuators}) {
			s.reject(conn, websocket.CloseTryAgainLater, protocol.NewError(protocol.ErrBusy, "server busy"))
			return
		}
		defer s.src.LeaveObserver(sess.id)
		s.printf("observer %s joined remote=%s max_fps=%d", sess.id, r.RemoteAddr, sub.MaxFPS)

		done := make(chan struct{})
		wrote := make(chan struct{})
		go func() {
			defer close(wrote)
			sess.writeLoop(done)
		}()
		sess.readLoop(func(sub protocol.SubscribeMsg) {
			s.src.SubscribeObserver(runner.ObserverSubscribe{SessionID: sess.id, MaxFPS: sub.MaxFPS, Actuators: sub.Actuators})
		})
		close(done)
		select {
		case <-wrote:
		case <-time.After(500 * time.Millisecond):
		}
		s.printf("observer %s left", sess.id)
	}
}

// session is one subscribed websocket. readLoop runs on the handler
// goroutine; writeLoop owns every data write.
type session struct {
	id   string
	conn *websocket.Conn
	out  chan []byte
}

// readLoop applies SUBSCRIBE updates until the peer goes away. Pongs extend
// the read deadline.
func (ss *session) readLoop(resubscribe func(protocol.SubscribeMsg)) {
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_ = ss.conn.SetReadDeadline(time.Now().Add(pongWait))
		_, msg, err := ss.conn.ReadMessage()
		if err != nil {
			return
		}
		if sub, err := decodeSubscribe(msg); err == nil {
			resubscribe(sub)
		}
	}
}

// writeLoop forwards frames and keeps the connection alive with pings. A
// closed out channel means the runner stopped.
func (ss *session) writeLoop(done <-chan struct{}) {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-done:
			ss.closeWith(websocket.CloseNormalClosure, "bye")
			return
		case b, ok := <-ss.out:
			if !ok {
				ss.closeWith(websocket.CloseGoingAway, "race server stopping")
				return
			}
			_ = ss.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ss.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := ss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (ss *session) closeWith(code int, text string) {
	_ = ss.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func (s *Server) reject(conn *websocket.Conn, closeCode int, msg protocol.ErrorMsg) {
	if b, err := json.Marshal(msg); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, b)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, msg.Message), time.Now().Add(time.Second))
}

func decodeSubscribe(msg []byte) (protocol.SubscribeMsg, error) {
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, fmt.Errorf("bad subscribe: %w", err)
	}
	if sub.Type != protocol.TypeSubscribe {
		return sub, fmt.Errorf("expected %s, got %q", protocol.TypeSubscribe, sub.Type)
	}
	if sub.ProtocolVersion != protocol.Version {
		return sub, fmt.Errorf("protocol_version %q not supported", sub.ProtocolVersion)
	}
	normalizeSubscribe(&sub)
	return sub, nil
}

func normalizeSubscribe(sub *protocol.SubscribeMsg) {
	sub.MaxFPS = min(max(sub.MaxFPS, 0), maxFPSCap)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
