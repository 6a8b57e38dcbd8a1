package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"balldrop.ai/internal/persistence/snapshot"
)

type RaceArchiveMeta struct {
	RaceID    string            `json:"race_id"`
	Seed      int64             `json:"seed"`
	Variant   string            `json:"variant"`
	Digest    string            `json:"digest"`
	Tick      uint64            `json:"tick"`
	Snapshot  string            `json:"snapshot"`
	CreatedAt string            `json:"created_at"`
	Winners   []snapshot.RankV1 `json:"winners"`
}

// ArchiveRace copies a completed race's snapshot into
// `dataDir/archives/<YYYY-MM-DD>/<race_id>/` next to a meta.json listing the
// winners. Incomplete races are not archived.
func ArchiveRace(dataDir, snapshotPath string, snap snapshot.CourseV1, now time.Time) (archivedPath string, archived bool, err error) {
	if !snap.Complete || snap.Header.RaceID == "" {
		return "", false, nil
	}
	day := now.UTC().Format("2006-01-02")
	archiveDir := filepath.Join(dataDir, "archives", day, snap.Header.RaceID)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, fmt.Errorf("archive %s: %w", snap.Header.RaceID, err)
	}

	meta := RaceArchiveMeta{
		RaceID:    snap.Header.RaceID,
		Seed:      snap.Config.Seed,
		Variant:   string(snap.Config.Course.Variant),
		Digest:    snap.Digest,
		Tick:      snap.Header.Tick,
		Snapshot:  filepath.Base(dst),
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
		Winners:   snap.Ranks,
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
