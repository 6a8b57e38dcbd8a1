package r2s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMirror_UploadsArchivedRace(t *testing.T) {
	var (
		mu   sync.Mutex
		puts = map[string]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), sigV4Algorithm+" Credential=AK/") {
			http.Error(w, "unsigned", http.StatusForbidden)
			return
		}
		if r.Header.Get("x-amz-content-sha256") == "" {
			http.Error(w, "no payload hash", http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts[r.URL.Path] = string(b)
		mu.Unlock()
	}))
	defer srv.Close()

	client, err := New(srv.URL, "results", "AK", "SECRET")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dataDir := t.TempDir()
	raceDir := filepath.Join(dataDir, "archives", "2026-07-04", "r1")
	files := map[string]string{
		"course.snap.zst":                       "snap",
		"meta.json":                             `{"race_id":"r1"}`,
		"events/events-2026-07-04-09.jsonl.zst": "log",
	}
	for name, body := range files {
		p := filepath.Join(raceDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	m := NewMirror(client, MirrorOptions{DataDir: dataDir, Prefix: "/balldrop/", Workers: 2, QueueCapacity: 8, EnqueueWait: 10 * time.Millisecond})
	if n := m.EnqueueDir(raceDir); n != len(files) {
		t.Fatalf("enqueued %d files, want %d", n, len(files))
	}
	m.Close()

	st := m.Stats()
	if st.UploadSuccessTotal != uint64(len(files)) || st.UploadFailTotal != 0 {
		t.Fatalf("stats: %+v", st)
	}
	var keys []string
	mu.Lock()
	for k := range puts {
		keys = append(keys, k)
	}
	mu.Unlock()
	sort.Strings(keys)
	want := []string{
		"/results/balldrop/archives/2026-07-04/r1/course.snap.zst",
		"/results/balldrop/archives/2026-07-04/r1/events/events-2026-07-04-09.jsonl.zst",
		"/results/balldrop/archives/2026-07-04/r1/meta.json",
	}
	if strings.Join(keys, "\n") != strings.Join(want, "\n") {
		t.Fatalf("uploaded keys:\n%s\nwant:\n%s", strings.Join(keys, "\n"), strings.Join(want, "\n"))
	}
	if puts[want[2]] != `{"race_id":"r1"}` {
		t.Fatalf("meta body %q", puts[want[2]])
	}
}

func TestMirror_ObjectKeyStaysInsideDataDir(t *testing.T) {
	dataDir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "x.txt")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := &Mirror{dataDir: dataDir}
	if _, err := m.objectKey(outside); err == nil {
		t.Fatalf("expected a path outside the data dir to be rejected")
	}
	if got := normalizeObjectKey(`\a\..\..\b`); got != "b" {
		t.Fatalf("escaping key normalized to %q", got)
	}
	if got := normalizeObjectKey(" / "); got != "" {
		t.Fatalf("empty key normalized to %q", got)
	}
	if got := normalizeObjectKey("/races//r1/./meta.json"); got != "races/r1/meta.json" {
		t.Fatalf("normalized %q", got)
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New("r2.example.com", "b", "", "s"); err == nil {
		t.Fatalf("expected missing access key to fail")
	}
	c, err := New("r2.example.com/", "b", "a", "s")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Endpoint() != "https://r2.example.com" {
		t.Fatalf("endpoint %q", c.Endpoint())
	}
	if _, err := New("ftp://r2.example.com", "b", "a", "s"); err == nil {
		t.Fatalf("expected a non-http endpoint to fail")
	}
}

type flakyUploader struct {
	mu    sync.Mutex
	calls map[string]int
	fails int
}

func (f *flakyUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if f.calls[key] <= f.fails {
		return errors.New("503")
	}
	return nil
}

func TestMirror_RetriesThenCounts(t *testing.T) {
	dataDir := t.TempDir()
	p := filepath.Join(dataDir, "races", "r1", "meta.json")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	up := &flakyUploader{calls: map[string]int{}, fails: 2}
	m := NewMirror(up, MirrorOptions{DataDir: dataDir, Attempts: 3, Backoff: time.Millisecond})
	if !m.Enqueue(p) {
		t.Fatalf("enqueue refused")
	}
	if m.Enqueue(filepath.Join(t.TempDir(), "x")) {
		t.Fatalf("file outside the data dir was queued")
	}
	m.Close()
	st := m.Stats()
	if st.UploadSuccessTotal != 1 || st.SkippedTotal != 1 || st.EnqueuedTotal != 1 {
		t.Fatalf("stats: %+v", st)
	}
	if up.calls["races/r1/meta.json"] != 3 {
		t.Fatalf("calls: %v", up.calls)
	}

	up = &flakyUploader{calls: map[string]int{}, fails: 5}
	m = NewMirror(up, MirrorOptions{DataDir: dataDir, Attempts: 2, Backoff: time.Millisecond})
	m.Enqueue(p)
	m.Close()
	if st := m.Stats(); st.UploadFailTotal != 1 || st.LastErrorUnix == 0 {
		t.Fatalf("stats after failure: %+v", st)
	}
}

func TestContentTypeFor(t *testing.T) {
	for key, want := range map[string]string{
		"a/course.snap.zst":       "application/zstd",
		"a/events/e-01.jsonl.zst": "application/zstd",
		"a/meta.json":             "application/json",
		"a/notes":                 "application/octet-stream",
	} {
		if got := contentTypeFor(key); got != want {
			t.Fatalf("contentTypeFor(%q) = %q", key, got)
		}
	}
}
