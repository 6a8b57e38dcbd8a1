package runner

import (
	"encoding/json"

	"balldrop.ai/internal/protocol"
	"balldrop.ai/internal/sim/world"
)

// ObserverJoin registers a frame subscriber. Out is owned by the runner from
// then on: it is closed when the runner shuts down.
type ObserverJoin struct {
	SessionID string
	Out       chan []byte
	MaxFPS    int
	Actuators bool
}

type ObserverSubscribe struct {
	SessionID string
	MaxFPS    int
	Actuators bool
}

type observerClient struct {
	out       chan []byte
	every     uint64
	actuators bool
	lastTick  uint64
	sent      bool
	// Signals not yet delivered because the client's frame rate skipped
	// the ticks they happened on.
	pending []world.Signal
}

// JoinObserver reports false when the runner is too busy to take the session.
func (r *Runner) JoinObserver(req ObserverJoin) bool {
	select {
	case r.obsJoin <- req:
		return true
	default:
		return false
	}
}

// SubscribeObserver updates a session's settings. Updates are dropped under
// load; the client may resend.
func (r *Runner) SubscribeObserver(req ObserverSubscribe) {
	select {
	case r.obsSub <- req:
	default:
	}
}

func (r *Runner) LeaveObserver(sessionID string) {
	select {
	case r.obsLeave <- sessionID:
	case <-r.done:
	}
}

func (r *Runner) frameEvery(maxFPS int) uint64 {
	hz := r.opts.Tuning.World.TickRateHz
	if maxFPS <= 0 || maxFPS >= hz {
		return 1
	}
	return uint64((hz + maxFPS - 1) / maxFPS)
}

func (r *Runner) handleObserverJoin(req ObserverJoin) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	if old, ok := r.observers[req.SessionID]; ok {
		close(old.out)
	}
	o := &observerClient{out: req.Out, every: r.frameEvery(req.MaxFPS), actuators: req.Actuators}
	r.observers[req.SessionID] = o
	r.metrics.observers.Store(int64(len(r.observers)))
	if r.sim != nil {
		r.sendFrame(o, r.sim.Snapshot())
	}
}

func (r *Runner) handleObserverSubscribe(req ObserverSubscribe) {
	o, ok := r.observers[req.SessionID]
	if !ok {
		return
	}
	o.every = r.frameEvery(req.MaxFPS)
	o.actuators = req.Actuators
}

func (r *Runner) handleObserverLeave(sessionID string) {
	if _, ok := r.observers[sessionID]; !ok {
		return
	}
	delete(r.observers, sessionID)
	r.metrics.observers.Store(int64(len(r.observers)))
}

// broadcast sends the current frame, with every signal since the last
// broadcast, to each observer whose frame interval has elapsed.
func (r *Runner) broadcast() {
	sigs := r.outbox
	r.outbox = nil
	if r.sim == nil || len(r.observers) == 0 {
		return
	}
	v := r.sim.Snapshot()
	for _, o := range r.observers {
		o.pending = append(o.pending, sigs...)
		if o.sent && v.Tick-o.lastTick < o.every && v.Phase != world.PhaseClosed {
			continue
		}
		r.sendFrame(o, v)
	}
}

func (r *Runner) sendFrame(o *observerClient, v world.View) {
	b, err := json.Marshal(protocol.NewFrame(v, o.pending, o.actuators))
	if err != nil {
		r.log.Printf("frame encode: %v", err)
		return
	}
	o.pending = o.pending[:0]
	o.lastTick = v.Tick
	o.sent = true
	r.metrics.frames.Add(1)
	if !sendLatest(o.out, b) {
		r.metrics.framesDropped.Add(1)
	}
}

// sendLatest delivers b, dropping the oldest queued frame if the client is
// behind. It reports whether b went out without a drop.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}
