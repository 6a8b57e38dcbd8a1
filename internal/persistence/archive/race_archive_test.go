package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"balldrop.ai/internal/persistence/snapshot"
)

func TestArchiveRace_CopiesCompletedSnapshot(t *testing.T) {
	dataDir := t.TempDir()
	src := filepath.Join(dataDir, "races", "r1", "course.snap.zst")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	want := []byte("dummy")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	snap := snapshot.CourseV1{
		Header:   snapshot.Header{Version: 1, RaceID: "r1", Tick: 700},
		Digest:   "abc",
		Complete: true,
		Ranks:    []snapshot.RankV1{{Position: 1, Entity: 4, Name: "Ada", AtMs: 9000}},
	}
	now := time.Date(2026, 7, 4, 9, 30, 0, 0, time.UTC)

	archivedPath, ok, err := ArchiveRace(dataDir, src, snap, now)
	if err != nil || !ok {
		t.Fatalf("archive: ok=%v err=%v", ok, err)
	}
	if wantPath := filepath.Join(dataDir, "archives", "2026-07-04", "r1", "course.snap.zst"); archivedPath != wantPath {
		t.Fatalf("archived to %s, want %s", archivedPath, wantPath)
	}
	got, err := os.ReadFile(archivedPath)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("archived content mismatch: got=%q want=%q", got, want)
	}

	raw, err := os.ReadFile(filepath.Join(filepath.Dir(archivedPath), "meta.json"))
	if err != nil {
		t.Fatalf("expected meta.json: %v", err)
	}
	var meta RaceArchiveMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("meta.json: %v", err)
	}
	if meta.RaceID != "r1" || len(meta.Winners) != 1 || meta.Winners[0].Name != "Ada" {
		t.Fatalf("meta: %+v", meta)
	}
}

func TestArchiveRace_SkipsIncomplete(t *testing.T) {
	dataDir := t.TempDir()
	_, ok, err := ArchiveRace(dataDir, "missing", snapshot.CourseV1{Header: snapshot.Header{RaceID: "r2"}}, time.Now())
	if err != nil || ok {
		t.Fatalf("incomplete race archived: ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "archives")); !os.IsNotExist(err) {
		t.Fatalf("archives dir created for an incomplete race")
	}
}
