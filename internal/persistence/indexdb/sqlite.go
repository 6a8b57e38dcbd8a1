package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"balldrop.ai/internal/persistence/snapshot"
	"balldrop.ai/internal/sim/tuning"
	"balldrop.ai/internal/sim/world"
)

// SQLiteIndex is a queryable read model of races and results. Writes are
// queued to one writer goroutine and dropped when it falls behind; the JSONL
// event logs remain the source of truth.
type SQLiteIndex struct {
	db  *sql.DB
	rdb *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvent    atomic.Uint64
	dropSnapshot atomic.Uint64
	written      atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSnapshot
	reqSync
)

type req struct {
	kind reqKind

	event    world.LogEntry
	snapshot raceRow
	done     chan struct{}
}

type raceRow struct {
	RaceID       string
	Seed         int64
	Variant      string
	Digest       string
	Participants int
	Winners      int
	CreatedAt    string
	Complete     bool
	Path         string
}

// RaceRow is one race as stored in the index.
type RaceRow struct {
	RaceID       string `json:"race_id"`
	Seed         int64  `json:"seed"`
	Variant      string `json:"variant"`
	Digest       string `json:"digest"`
	Participants int    `json:"participants"`
	Winners      int    `json:"winners"`
	CreatedAt    string `json:"created_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
	SnapshotPath string `json:"snapshot_path,omitempty"`
}

// FinisherRow is one entity crossing the finish. Rank is 0 for finishers
// that arrived after the rank list was full.
type FinisherRow struct {
	Entity int    `json:"entity"`
	Name   string `json:"name"`
	Rank   int    `json:"rank"`
	Tick   uint64 `json:"tick"`
	AtMs   int64  `json:"at_ms"`
}

type Stats struct {
	Written           uint64 `json:"written"`
	DropEventTotal    uint64 `json:"drop_event_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	QueueLen          int    `json:"queue_len"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Readers get their own pool; WAL lets them run beside the writer's
	// open transaction.
	rdb, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=query_only(1)")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	rdb.SetMaxOpenConns(4)

	s := &SQLiteIndex{
		db:  db,
		rdb: rdb,
		ch:  make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS races (
			race_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			variant TEXT NOT NULL,
			digest TEXT NOT NULL,
			participants INTEGER NOT NULL,
			winners INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			completed_at TEXT,
			snapshot_path TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_races_created ON races(created_at);`,
		`CREATE TABLE IF NOT EXISTS finishers (
			race_id TEXT NOT NULL,
			entity INTEGER NOT NULL,
			name TEXT NOT NULL,
			rank INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			at_ms INTEGER NOT NULL,
			PRIMARY KEY (race_id, entity)
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			race_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			kind TEXT NOT NULL,
			entity INTEGER NOT NULL,
			name TEXT NOT NULL,
			rank INTEGER NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY (race_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(race_id, kind);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = errors.Join(s.db.Close(), s.rdb.Close())
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		Written:           s.written.Load(),
		DropEventTotal:    s.dropEvent.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		QueueLen:          len(s.ch),
	}
}

func (s *SQLiteIndex) WriteEvent(e world.LogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: e}:
	default:
		s.dropEvent.Add(1)
	}
	return nil
}

// RecordSnapshot upserts the race row described by a course snapshot.
func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.CourseV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := raceRow{
		RaceID:       snap.Header.RaceID,
		Seed:         snap.Config.Seed,
		Variant:      string(snap.Config.Course.Variant),
		Digest:       snap.Digest,
		Participants: len(snap.Participants),
		Winners:      snap.Config.Winners,
		CreatedAt:    snap.CreatedAt,
		Complete:     snap.Complete,
		Path:         path,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// Sync blocks until every write queued before it is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertTuning stores the tuning actually applied, as canonical JSON.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"tuning", hex.EncodeToString(sum[:]), string(b), nowStamp()); err != nil {
		return err
	}
	return tx.Commit()
}
