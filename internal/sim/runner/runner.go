package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"balldrop.ai/internal/persistence/snapshot"
	"balldrop.ai/internal/protocol"
	"balldrop.ai/internal/sim/course"
	"balldrop.ai/internal/sim/tuning"
	"balldrop.ai/internal/sim/world"
)

var (
	ErrNoRace  = errors.New("runner: no race built")
	ErrStopped = errors.New("runner: stopped")
)

// Index receives every durable signal and course snapshot. indexdb.SQLiteIndex
// implements it.
type Index interface {
	WriteEvent(e world.LogEntry) error
	RecordSnapshot(path string, snap snapshot.CourseV1)
}

// Mirror uploads finished race directories off-box. r2s3.Mirror implements it.
type Mirror interface {
	EnqueueDir(dir string) int
}

type Options struct {
	// DataDir holds races/<race_id>/ and archives/.
	DataDir string
	Tuning  tuning.Tuning
	Index   Index
	Mirror  Mirror
	Logger  *log.Logger
	// Now stamps snapshots and archives; it also seeds builds that ask for
	// seed 0.
	Now func() time.Time
}

// BuildRequest selects the next course. Seed 0 picks a fresh seed; an empty
// Variant keeps the tuning's course options.
type BuildRequest struct {
	Seed    int64  `json:"seed,omitempty"`
	Variant string `json:"variant,omitempty"`
}

// Status is a copy of the current race state, safe to read from any
// goroutine.
type Status struct {
	RaceID       string      `json:"race_id"`
	Phase        world.Phase `json:"phase"`
	Tick         uint64      `json:"tick"`
	Seed         int64       `json:"seed"`
	Variant      string      `json:"variant"`
	Digest       string      `json:"digest"`
	Participants int         `json:"participants"`
	Ranked       int         `json:"ranked"`
	Winners      int         `json:"winners"`
	Shaking      bool        `json:"shaking"`
}

type cmdKind int

const (
	cmdBuild cmdKind = iota
	cmdStart
	cmdShake
	cmdReset
	cmdBootstrap
)

func (k cmdKind) String() string {
	switch k {
	case cmdBuild:
		return "build"
	case cmdStart:
		return "start"
	case cmdShake:
		return "shake"
	case cmdReset:
		return "reset"
	case cmdBootstrap:
		return "bootstrap"
	default:
		return fmt.Sprintf("cmd(%d)", int(k))
	}
}

type command struct {
	kind  cmdKind
	build BuildRequest
	names []string
	resp  chan result
}

type result struct {
	status Status
	boot   protocol.BootstrapResponse
	err    error
}

// Runner owns the current Simulation. Run is the only goroutine that touches
// it; operator commands and observer sessions reach it over channels and are
// applied between ticks.
type Runner struct {
	opts Options
	log  *log.Logger

	cmds     chan command
	obsJoin  chan ObserverJoin
	obsSub   chan ObserverSubscribe
	obsLeave chan string
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// Owned by the Run goroutine.
	sim       *world.Simulation
	digest    string
	last      BuildRequest
	rec       *recorder
	outbox    []world.Signal
	observers map[string]*observerClient

	snapCh chan snapJob
	snapWG sync.WaitGroup

	status  atomic.Pointer[Status]
	metrics counters
}

func New(opts Options) (*Runner, error) {
	if err := opts.Tuning.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Runner{
		opts:      opts,
		log:       opts.Logger,
		cmds:      make(chan command, 16),
		obsJoin:   make(chan ObserverJoin, 16),
		obsSub:    make(chan ObserverSubscribe, 64),
		obsLeave:  make(chan string, 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		observers: map[string]*observerClient{},
		snapCh:    make(chan snapJob, 8),
	}
	r.status.Store(&Status{})
	r.snapWG.Add(1)
	go r.snapshotWriter()
	return r, nil
}

func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	defer r.shutdown()

	interval := time.Second / time.Duration(r.opts.Tuning.World.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case cmd := <-r.cmds:
			r.handle(cmd)
		case req := <-r.obsJoin:
			r.handleObserverJoin(req)
		case req := <-r.obsSub:
			r.handleObserverSubscribe(req)
		case id := <-r.obsLeave:
			r.handleObserverLeave(id)
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Runner) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

// Status returns the state published after the last tick or command.
func (r *Runner) Status() Status { return *r.status.Load() }

func (r *Runner) Build(ctx context.Context, req BuildRequest) (Status, error) {
	res, err := r.do(ctx, command{kind: cmdBuild, build: req})
	return res.status, err
}

func (r *Runner) Start(ctx context.Context, names []string) (Status, error) {
	res, err := r.do(ctx, command{kind: cmdStart, names: names})
	return res.status, err
}

func (r *Runner) Shake(ctx context.Context) (Status, error) {
	res, err := r.do(ctx, command{kind: cmdShake})
	return res.status, err
}

// Reset closes the current race and builds a fresh course from the last
// build request.
func (r *Runner) Reset(ctx context.Context) (Status, error) {
	res, err := r.do(ctx, command{kind: cmdReset})
	return res.status, err
}

func (r *Runner) Bootstrap(ctx context.Context) (protocol.BootstrapResponse, error) {
	res, err := r.do(ctx, command{kind: cmdBootstrap})
	return res.boot, err
}

func (r *Runner) do(ctx context.Context, cmd command) (result, error) {
	cmd.resp = make(chan result, 1)
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return result{}, ErrStopped
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
	select {
	case res := <-cmd.resp:
		return res, res.err
	case <-r.done:
		return result{}, ErrStopped
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

func (r *Runner) handle(cmd command) {
	var res result
	switch cmd.kind {
	case cmdBuild:
		res.err = r.build(cmd.build)
	case cmdReset:
		if r.sim == nil {
			res.err = ErrNoRace
		} else {
			res.err = r.build(r.last)
		}
	case cmdStart:
		if r.sim == nil {
			res.err = ErrNoRace
		} else if res.err = r.sim.Start(cmd.names); res.err == nil {
			r.record(r.sim.Drain())
			r.queueSnapshot()
		}
	case cmdShake:
		if r.sim == nil {
			res.err = ErrNoRace
		} else if res.err = r.sim.Shake(); res.err == nil {
			r.record(r.sim.Drain())
		}
	case cmdBootstrap:
		if r.sim == nil {
			res.err = ErrNoRace
		} else {
			res.boot = protocol.NewBootstrap(r.sim)
		}
	}
	if res.err != nil {
		r.metrics.commandErrors.Add(1)
		r.log.Printf("%s rejected: %v", cmd.kind, res.err)
	}
	r.publish()
	res.status = r.Status()
	if cmd.resp != nil {
		cmd.resp <- res
	}
}

// build constructs the next Simulation first, so a rejected request leaves
// the current race untouched.
func (r *Runner) build(req BuildRequest) error {
	tune := r.opts.Tuning
	if req.Variant != "" {
		v, err := course.ParseVariant(req.Variant)
		if err != nil {
			return fmt.Errorf("%w: %v", tuning.ErrInvalid, err)
		}
		tune.Course = course.Preset(v)
	}
	seed := req.Seed
	if seed == 0 {
		seed = r.opts.Now().UnixNano()
	}
	id := uuid.NewString()
	sim, err := world.New(tune.WorldConfig(id, seed))
	if err != nil {
		return err
	}

	r.finish()
	r.sim = sim
	r.digest = sim.Layout().Digest()
	r.last = req
	r.rec = newRecorder(r.opts.DataDir, id)
	r.metrics.races.Add(1)
	r.record(sim.Drain())
	r.queueSnapshot()
	r.log.Printf("race %s built variant=%s seed=%d digest=%s", id, sim.Layout().Variant, seed, r.digest)
	return nil
}

// finish closes the current race: final snapshot, event log closed, then the
// race directory handed to the snapshot writer for archiving and mirroring.
func (r *Runner) finish() {
	if r.sim == nil {
		return
	}
	snap := r.capture()
	r.sim.Close()
	r.record(r.sim.Drain())
	r.broadcast()
	if err := r.rec.close(); err != nil {
		r.log.Printf("race %s close event log: %v", r.rec.raceID, err)
	}
	r.snapCh <- snapJob{dir: r.rec.dir, snap: snap, final: true}
	r.log.Printf("race %s closed tick=%d ranked=%d", r.rec.raceID, snap.Header.Tick, len(snap.Ranks))
	r.sim = nil
	r.rec = nil
}

func (r *Runner) tick() {
	if r.sim == nil {
		return
	}
	start := time.Now()
	if err := r.sim.Step(); err != nil {
		r.log.Printf("step: %v", err)
		return
	}
	r.metrics.stepNanos.Store(time.Since(start).Nanoseconds())
	sigs := r.sim.Drain()
	r.record(sigs)
	for _, s := range sigs {
		if s.Kind == world.SigRaceComplete {
			r.queueSnapshot()
		}
	}
	r.broadcast()
	r.publish()
}

func (r *Runner) publish() {
	if r.sim == nil {
		r.status.Store(&Status{})
		return
	}
	cfg := r.sim.Config()
	st := &Status{
		RaceID:       cfg.ID,
		Phase:        r.sim.Phase(),
		Tick:         r.sim.Tick(),
		Seed:         cfg.Seed,
		Variant:      string(cfg.Course.Variant),
		Digest:       r.digest,
		Participants: len(r.sim.Entities()),
		Ranked:       len(r.sim.Ranks()),
		Winners:      cfg.Winners,
		Shaking:      r.sim.Shaking(),
	}
	r.status.Store(st)
}

// shutdown closes the current race and waits for pending snapshot work.
func (r *Runner) shutdown() {
	r.finish()
	for id, o := range r.observers {
		close(o.out)
		delete(r.observers, id)
	}
	close(r.snapCh)
	r.snapWG.Wait()
	r.publish()
}
