package indexdb

import (
	"context"
	"database/sql"
	"time"

	"balldrop.ai/internal/sim/world"
)

const (
	batchMaxOps  = 500
	batchMaxWait = time.Second
)

// batch groups queued writes into one transaction, committed every
// batchMaxOps statements or batchMaxWait, whichever comes first.
type batch struct {
	db      *sql.DB
	written func()

	insertEvent    *sql.Stmt
	insertFinisher *sql.Stmt
	completeRace   *sql.Stmt
	upsertRace     *sql.Stmt

	tx     *sql.Tx
	ops    int
	opened time.Time
	// seq numbers events per race in arrival order.
	seq map[string]int
}

func newBatch(db *sql.DB, written func()) *batch {
	b := &batch{db: db, written: written, seq: map[string]int{}}
	b.insertEvent, _ = db.Prepare(`INSERT OR REPLACE INTO events(race_id,seq,tick,kind,entity,name,rank,text) VALUES(?,?,?,?,?,?,?,?)`)
	b.insertFinisher, _ = db.Prepare(`INSERT OR IGNORE INTO finishers(race_id,entity,name,rank,tick,at_ms) VALUES(?,?,?,?,?,?)`)
	b.completeRace, _ = db.Prepare(`UPDATE races SET completed_at=COALESCE(completed_at,?) WHERE race_id=?`)
	b.upsertRace, _ = db.Prepare(`INSERT INTO races(` + raceColumns + `)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(race_id) DO UPDATE SET
			digest=excluded.digest,
			participants=excluded.participants,
			winners=excluded.winners,
			completed_at=COALESCE(races.completed_at, excluded.completed_at),
			snapshot_path=excluded.snapshot_path`)
	return b
}

func (b *batch) close() {
	b.commit()
	for _, st := range []*sql.Stmt{b.insertEvent, b.insertFinisher, b.completeRace, b.upsertRace} {
		if st != nil {
			_ = st.Close()
		}
	}
}

func (b *batch) begin() bool {
	if b.tx != nil {
		return true
	}
	tx, err := b.db.BeginTx(context.Background(), nil)
	if err != nil {
		time.Sleep(50 * time.Millisecond)
		return false
	}
	b.tx, b.ops, b.opened = tx, 0, time.Now()
	return true
}

func (b *batch) commit() {
	if b.tx != nil {
		_ = b.tx.Commit()
		b.tx = nil
	}
}

// exec runs st inside the open transaction. A failed statement discards
// the whole batch.
func (b *batch) exec(st *sql.Stmt, args ...any) bool {
	if st == nil || b.tx == nil {
		return false
	}
	if _, err := b.tx.Stmt(st).Exec(args...); err != nil {
		_ = b.tx.Rollback()
		b.tx = nil
		return false
	}
	b.ops++
	b.written()
	return true
}

func (b *batch) due() bool {
	return b.tx != nil && (b.ops >= batchMaxOps || time.Since(b.opened) >= batchMaxWait)
}

func (b *batch) event(e world.LogEntry) {
	n := b.seq[e.RaceID]
	b.seq[e.RaceID] = n + 1
	if !b.exec(b.insertEvent, e.RaceID, n, int64(e.Tick), string(e.Kind), int(e.Entity), e.Name, e.Rank, e.Text) {
		return
	}
	switch e.Kind {
	case world.SigFinished:
		b.exec(b.insertFinisher, e.RaceID, int(e.Entity), e.Name, e.Rank, int64(e.Tick), e.AtMs)
	case world.SigRaceComplete:
		b.exec(b.completeRace, nowStamp(), e.RaceID)
	}
}

func (b *batch) race(r raceRow) {
	var completed any
	if r.Complete {
		completed = nowStamp()
	}
	b.exec(b.upsertRace, r.RaceID, r.Seed, r.Variant, r.Digest, r.Participants, r.Winners, r.CreatedAt, completed, r.Path)
}

func (s *SQLiteIndex) loop() {
	b := newBatch(s.db, func() { s.written.Add(1) })
	defer b.close()
	for r := range s.ch {
		if r.kind == reqSync {
			b.commit()
			close(r.done)
			continue
		}
		if !b.begin() {
			continue
		}
		switch r.kind {
		case reqEvent:
			b.event(r.event)
		case reqSnapshot:
			b.race(r.snapshot)
		}
		if b.due() {
			b.commit()
		}
	}
}

func nowStamp() string { return time.Now().UTC().Format(time.RFC3339Nano) }
