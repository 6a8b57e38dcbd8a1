package indexdb

import (
	"context"
	"database/sql"
	"errors"
)

const raceColumns = `race_id,seed,variant,digest,participants,winners,created_at,completed_at,snapshot_path`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRace(sc rowScanner) (RaceRow, error) {
	var (
		r         RaceRow
		completed sql.NullString
	)
	err := sc.Scan(&r.RaceID, &r.Seed, &r.Variant, &r.Digest, &r.Participants, &r.Winners, &r.CreatedAt, &completed, &r.SnapshotPath)
	r.CompletedAt = completed.String
	return r, err
}

func (s *SQLiteIndex) Race(ctx context.Context, raceID string) (RaceRow, bool, error) {
	r, err := scanRace(s.rdb.QueryRowContext(ctx, `SELECT `+raceColumns+` FROM races WHERE race_id=?`, raceID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return RaceRow{}, false, nil
	case err != nil:
		return RaceRow{}, false, err
	}
	return r, true, nil
}

// Races lists the most recent races first.
func (s *SQLiteIndex) Races(ctx context.Context, limit int) ([]RaceRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.rdb.QueryContext(ctx, `SELECT `+raceColumns+` FROM races ORDER BY created_at DESC, race_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RaceRow
	for rows.Next() {
		r, err := scanRace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Finishers returns ranked finishers by position, then the rest by arrival.
func (s *SQLiteIndex) Finishers(ctx context.Context, raceID string) ([]FinisherRow, error) {
	rows, err := s.rdb.QueryContext(ctx,
		`SELECT entity,name,rank,tick,at_ms FROM finishers WHERE race_id=? ORDER BY rank=0, rank, at_ms, entity`,
		raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FinisherRow
	for rows.Next() {
		var (
			f    FinisherRow
			tick int64
		)
		if err := rows.Scan(&f.Entity, &f.Name, &f.Rank, &tick, &f.AtMs); err != nil {
			return nil, err
		}
		f.Tick = uint64(tick)
		out = append(out, f)
	}
	return out, rows.Err()
}
