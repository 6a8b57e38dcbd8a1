package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"balldrop.ai/internal/persistence/snapshot"
	"balldrop.ai/internal/sim/tuning"
	"balldrop.ai/internal/sim/world"
)

func openTestIndex(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "index", "races.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx, dbPath
}

func syncIndex(t *testing.T, idx *SQLiteIndex) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func TestSQLiteIndex_RecordsRaceAndFinishers(t *testing.T) {
	idx, _ := openTestIndex(t)
	ctx := context.Background()

	snap := snapshot.CourseV1{
		Header:       snapshot.Header{Version: snapshot.Version, RaceID: "r1"},
		CreatedAt:    "2026-05-01T12:00:00Z",
		Config:       world.DefaultConfig(),
		Digest:       "d1",
		Participants: []string{"Ada", "Grace", "Linus"},
	}
	snap.Config.Seed = 42
	snap.Config.Winners = 2
	idx.RecordSnapshot("/data/races/r1/course.snap.zst", snap)

	events := []world.LogEntry{
		{RaceID: "r1", Tick: 0, Kind: world.SigRaceStarted},
		{RaceID: "r1", Tick: 80, AtMs: 1333, Kind: world.SigFinished, Entity: 3, Name: "Linus", Rank: 1},
		{RaceID: "r1", Tick: 81, AtMs: 1350, Kind: world.SigFinished, Entity: 1, Name: "Ada", Rank: 2},
		{RaceID: "r1", Tick: 81, AtMs: 1350, Kind: world.SigTopReached, Text: "2"},
		{RaceID: "r1", Tick: 90, AtMs: 1500, Kind: world.SigFinished, Entity: 2, Name: "Grace"},
		// A duplicate finish for the same entity never replaces the first row.
		{RaceID: "r1", Tick: 91, AtMs: 1516, Kind: world.SigFinished, Entity: 3, Name: "Linus", Rank: 9},
	}
	for _, e := range events {
		if err := idx.WriteEvent(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	syncIndex(t, idx)

	r, ok, err := idx.Race(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("race: ok=%v err=%v", ok, err)
	}
	if r.Seed != 42 || r.Winners != 2 || r.Participants != 3 || r.Variant != "classic" || r.CompletedAt != "" {
		t.Fatalf("race row: %+v", r)
	}

	fs, err := idx.Finishers(ctx, "r1")
	if err != nil {
		t.Fatalf("finishers: %v", err)
	}
	want := []FinisherRow{
		{Entity: 3, Name: "Linus", Rank: 1, Tick: 80, AtMs: 1333},
		{Entity: 1, Name: "Ada", Rank: 2, Tick: 81, AtMs: 1350},
		{Entity: 2, Name: "Grace", Rank: 0, Tick: 90, AtMs: 1500},
	}
	if len(fs) != len(want) {
		t.Fatalf("finishers: got %+v", fs)
	}
	for i := range want {
		if fs[i] != want[i] {
			t.Fatalf("finisher %d: got %+v want %+v", i, fs[i], want[i])
		}
	}

	// Completion arrives as a signal and as a final snapshot; the first wins.
	_ = idx.WriteEvent(world.LogEntry{RaceID: "r1", Tick: 120, Kind: world.SigRaceComplete})
	snap.Complete = true
	idx.RecordSnapshot("/data/races/r1/course.snap.zst", snap)
	syncIndex(t, idx)
	r, _, _ = idx.Race(ctx, "r1")
	if r.CompletedAt == "" {
		t.Fatalf("race not marked complete: %+v", r)
	}
	if st := idx.Stats(); st.Written == 0 || st.DropEventTotal != 0 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestSQLiteIndex_RacesNewestFirst(t *testing.T) {
	idx, _ := openTestIndex(t)
	for i, id := range []string{"a", "b", "c"} {
		idx.RecordSnapshot("", snapshot.CourseV1{
			Header:    snapshot.Header{RaceID: id},
			CreatedAt: time.Date(2026, 1, 1, i, 0, 0, 0, time.UTC).Format(time.RFC3339Nano),
			Config:    world.DefaultConfig(),
		})
	}
	syncIndex(t, idx)
	races, err := idx.Races(context.Background(), 2)
	if err != nil {
		t.Fatalf("races: %v", err)
	}
	if len(races) != 2 || races[0].RaceID != "c" || races[1].RaceID != "b" {
		t.Fatalf("races: %+v", races)
	}
	if _, ok, err := idx.Race(context.Background(), "zzz"); ok || err != nil {
		t.Fatalf("missing race: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteIndex_UpsertTuning(t *testing.T) {
	idx, dbPath := openTestIndex(t)
	if err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	var digest, raw string
	if err := db.QueryRow(`SELECT digest,json FROM configs WHERE name='tuning'`).Scan(&digest, &raw); err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(digest) != 64 || raw == "" {
		t.Fatalf("digest=%q json=%d bytes", digest, len(raw))
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqEvent}

	_ = s.WriteEvent(world.LogEntry{RaceID: "r", Tick: 2})
	s.RecordSnapshot("/tmp/course.snap.zst", snapshot.CourseV1{})

	st := s.Stats()
	if st.DropEventTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.QueueLen != 1 {
		t.Fatalf("queue len %d want 1", st.QueueLen)
	}

	var nilIdx *SQLiteIndex
	if err := nilIdx.WriteEvent(world.LogEntry{}); err != nil {
		t.Fatalf("nil index should accept writes: %v", err)
	}
	nilIdx.RecordSnapshot("", snapshot.CourseV1{})
	if nilIdx.Stats() != (Stats{}) {
		t.Fatalf("nil index stats")
	}
}
