package sched

import (
	"testing"
	"time"
)

func TestAfter_RunsAtDeadlineInOrder(t *testing.T) {
	s := New()
	var got []string
	s.After(30*time.Millisecond, func() { got = append(got, "c") })
	s.After(10*time.Millisecond, func() { got = append(got, "a") })
	s.After(10*time.Millisecond, func() { got = append(got, "b") })

	if n := s.Advance(5 * time.Millisecond); n != 0 {
		t.Fatalf("nothing due yet, ran %d", n)
	}
	if n := s.Advance(10 * time.Millisecond); n != 2 {
		t.Fatalf("expected 2 due actions, ran %d", n)
	}
	if n := s.Advance(20 * time.Millisecond); n != 1 {
		t.Fatalf("expected 1 due action, ran %d", n)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if s.Now() != 35*time.Millisecond {
		t.Fatalf("clock mismatch: %v", s.Now())
	}
}

func TestRepeat_BoundedSeriesAndCancel(t *testing.T) {
	s := New()
	var calls []int
	h := s.Repeat(0, 110*time.Millisecond, 5, func(i int) { calls = append(calls, i) })

	for i := 0; i < 100; i++ {
		s.Advance(16 * time.Millisecond)
	}
	if len(calls) != 5 {
		t.Fatalf("expected 5 calls, got %v", calls)
	}
	for i, c := range calls {
		if c != i {
			t.Fatalf("calls out of order: %v", calls)
		}
	}
	if s.Active(h) {
		t.Fatalf("series should be finished")
	}

	calls = nil
	h = s.Repeat(55*time.Millisecond, 55*time.Millisecond, 14, func(i int) { calls = append(calls, i) })
	s.Advance(120 * time.Millisecond)
	if !s.Cancel(h) {
		t.Fatalf("expected cancel to find pending work")
	}
	s.Advance(time.Second)
	if len(calls) != 2 {
		t.Fatalf("expected 2 bursts before cancel, got %v", calls)
	}
	if s.Pending() != 0 {
		t.Fatalf("pending after cancel: %d", s.Pending())
	}
}

func TestRepeat_CancelFromInsideSeries(t *testing.T) {
	s := New()
	var h Handle
	calls := 0
	h = s.Repeat(0, time.Millisecond, 10, func(i int) {
		calls++
		if i == 2 {
			s.Cancel(h)
		}
	})
	s.Advance(time.Second)
	if calls != 3 {
		t.Fatalf("expected series to stop after 3 calls, got %d", calls)
	}
}

func TestClose_DropsPendingAndRefusesNewWork(t *testing.T) {
	s := New()
	fired := 0
	s.After(10*time.Millisecond, func() { fired++ })
	h := s.Repeat(0, 10*time.Millisecond, 10, func(int) { fired++ })
	s.Advance(0)
	if fired != 1 {
		t.Fatalf("expected first repeat to fire, got %d", fired)
	}
	epoch := s.Epoch()

	s.Close()
	if s.Epoch() == epoch {
		t.Fatalf("epoch should change on close")
	}
	if s.Pending() != 0 {
		t.Fatalf("pending after close: %d", s.Pending())
	}
	if s.Cancel(h) {
		t.Fatalf("cancel after close should be a no-op")
	}
	if got := s.After(0, func() { fired++ }); got.Valid() {
		t.Fatalf("closed scheduler accepted work")
	}
	if n := s.Advance(time.Second); n != 0 {
		t.Fatalf("closed scheduler ran %d actions", n)
	}
	if fired != 1 {
		t.Fatalf("actions fired after close: %d", fired)
	}
}

func TestClose_FromInsideAction(t *testing.T) {
	s := New()
	fired := 0
	s.After(time.Millisecond, func() { s.Close() })
	s.After(2*time.Millisecond, func() { fired++ })
	s.Advance(time.Second)
	if fired != 0 {
		t.Fatalf("action ran after close: %d", fired)
	}
}
