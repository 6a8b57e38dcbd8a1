package sched

import (
	"container/heap"
	"time"
)

// Scheduler runs delayed actions against the simulation clock instead of the
// wall clock. It is owned by a single simulation and must only be touched from
// that simulation's loop goroutine.
//
// Close cancels everything that is still pending and bumps the epoch, so an
// action captured by a torn-down simulation can never run against its
// replacement.
type Scheduler struct {
	now    time.Duration
	seq    uint64
	nextID uint64
	epoch  uint64
	closed bool

	queue     taskQueue
	cancelled map[uint64]struct{}
	live      map[uint64]int // group id -> queued tasks
}

// Handle identifies a scheduled action or series. The zero Handle is inert.
type Handle struct {
	id    uint64
	epoch uint64
}

func (h Handle) Valid() bool { return h.id != 0 }

type task struct {
	at    time.Duration
	seq   uint64
	group uint64
	epoch uint64
	fn    func()
}

func New() *Scheduler {
	return &Scheduler{
		epoch:     1,
		cancelled: map[uint64]struct{}{},
		live:      map[uint64]int{},
	}
}

// Now is the current simulation time.
func (s *Scheduler) Now() time.Duration { return s.now }

// Epoch changes every time the scheduler is closed.
func (s *Scheduler) Epoch() uint64 { return s.epoch }

func (s *Scheduler) Closed() bool { return s.closed }

// After runs fn once, delay after the current simulation time.
func (s *Scheduler) After(delay time.Duration, fn func()) Handle {
	if s.closed || fn == nil {
		return Handle{}
	}
	id := s.newGroup()
	s.push(id, s.now+clampDelay(delay), fn)
	return Handle{id: id, epoch: s.epoch}
}

// Repeat runs fn(i) for i in [0,count): the first call delay after now, then
// every interval. Cancelling the handle stops the remainder of the series.
func (s *Scheduler) Repeat(delay, interval time.Duration, count int, fn func(i int)) Handle {
	if s.closed || fn == nil || count <= 0 {
		return Handle{}
	}
	id := s.newGroup()
	interval = clampDelay(interval)
	var step func(i int) func()
	step = func(i int) func() {
		return func() {
			fn(i)
			if i+1 < count && !s.closed {
				if _, gone := s.cancelled[id]; !gone {
					s.push(id, s.now+interval, step(i+1))
				}
			}
		}
	}
	s.push(id, s.now+clampDelay(delay), step(0))
	return Handle{id: id, epoch: s.epoch}
}

// Cancel stops a pending action or series. It reports whether anything was
// still pending.
func (s *Scheduler) Cancel(h Handle) bool {
	if !h.Valid() || h.epoch != s.epoch || s.closed {
		return false
	}
	if s.live[h.id] == 0 {
		return false
	}
	s.cancelled[h.id] = struct{}{}
	return true
}

// Active reports whether h still has work queued.
func (s *Scheduler) Active(h Handle) bool {
	if !h.Valid() || h.epoch != s.epoch || s.closed {
		return false
	}
	if _, gone := s.cancelled[h.id]; gone {
		return false
	}
	return s.live[h.id] > 0
}

// Pending is the number of queued, non-cancelled actions.
func (s *Scheduler) Pending() int {
	n := 0
	for id, c := range s.live {
		if _, gone := s.cancelled[id]; gone {
			continue
		}
		n += c
	}
	return n
}

// Advance moves the clock forward by dt and runs every action that has come
// due, in deadline order (ties in scheduling order). Actions scheduled while
// advancing run in the same call when their deadline is already reached.
// It returns the number of actions run.
func (s *Scheduler) Advance(dt time.Duration) int {
	if s.closed {
		return 0
	}
	target := s.now + clampDelay(dt)
	ran := 0
	for len(s.queue) > 0 && !s.closed {
		next := s.queue[0]
		if next.at > target {
			break
		}
		heap.Pop(&s.queue)
		if _, gone := s.cancelled[next.group]; gone || next.epoch != s.epoch {
			s.release(next.group)
			continue
		}
		if next.at > s.now {
			s.now = next.at
		}
		next.fn()
		ran++
		if !s.closed {
			s.release(next.group)
		}
	}
	if !s.closed {
		s.now = target
	}
	return ran
}

// Close drops all pending work and refuses new work.
func (s *Scheduler) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.epoch++
	s.queue = nil
	s.cancelled = map[uint64]struct{}{}
	s.live = map[uint64]int{}
}

func (s *Scheduler) newGroup() uint64 {
	s.nextID++
	return s.nextID
}

func (s *Scheduler) push(group uint64, at time.Duration, fn func()) {
	s.seq++
	s.live[group]++
	heap.Push(&s.queue, &task{at: at, seq: s.seq, group: group, epoch: s.epoch, fn: fn})
}

func (s *Scheduler) release(group uint64) {
	if s.live[group] <= 1 {
		delete(s.live, group)
		delete(s.cancelled, group)
		return
	}
	s.live[group]--
}

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*task)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
