package runner

import (
	"os"
	"path/filepath"

	"balldrop.ai/internal/persistence/archive"
	persistlog "balldrop.ai/internal/persistence/log"
	"balldrop.ai/internal/persistence/snapshot"
	"balldrop.ai/internal/sim/world"
)

// recorder is the per-race durable state: races/<race_id>/ holding the course
// snapshot and the hourly event log.
type recorder struct {
	raceID string
	dir    string
	events *persistlog.EventLogger
}

func RaceDir(dataDir, raceID string) string { return filepath.Join(dataDir, "races", raceID) }

func newRecorder(dataDir, raceID string) *recorder {
	dir := RaceDir(dataDir, raceID)
	return &recorder{raceID: raceID, dir: dir, events: persistlog.NewEventLogger(dir)}
}

func (rec *recorder) close() error { return rec.events.Close() }

type snapJob struct {
	dir   string
	snap  snapshot.CourseV1
	final bool
}

// record persists signals and queues them for the next frame. Write errors
// are counted and logged; they never stop the race.
func (r *Runner) record(sigs []world.Signal) {
	if len(sigs) == 0 {
		return
	}
	r.outbox = append(r.outbox, sigs...)
	if r.rec == nil {
		return
	}
	for _, s := range sigs {
		r.metrics.signals.Add(1)
		e := s.Entry(r.rec.raceID)
		if err := r.rec.events.WriteEvent(e); err != nil {
			if r.metrics.eventErrors.Add(1) == 1 {
				r.log.Printf("race %s event log: %v", r.rec.raceID, err)
			}
		}
		if r.opts.Index != nil {
			_ = r.opts.Index.WriteEvent(e)
		}
	}
}

func (r *Runner) capture() snapshot.CourseV1 {
	return snapshot.Capture(r.rec.raceID, r.sim, r.opts.Now())
}

// queueSnapshot hands the current course to the snapshot writer, dropping
// it when the writer is behind. The final snapshot goes through finish.
func (r *Runner) queueSnapshot() {
	if r.sim == nil || r.rec == nil {
		return
	}
	job := snapJob{dir: r.rec.dir, snap: r.capture()}
	select {
	case r.snapCh <- job:
	default:
		r.metrics.snapshotDrops.Add(1)
	}
}

func (r *Runner) snapshotWriter() {
	defer r.snapWG.Done()
	for job := range r.snapCh {
		path := snapshot.PathFor(job.dir)
		if err := snapshot.WriteSnapshot(path, job.snap); err != nil {
			r.log.Printf("snapshot write: %v", err)
			continue
		}
		r.metrics.snapshots.Add(1)
		if r.opts.Index != nil {
			r.opts.Index.RecordSnapshot(path, job.snap)
		}
		if !job.final {
			continue
		}

		archivedPath, ok, err := archive.ArchiveRace(r.opts.DataDir, path, job.snap, r.opts.Now())
		if err != nil {
			r.log.Printf("archive race %s: %v", job.snap.Header.RaceID, err)
		} else if ok {
			r.metrics.archived.Add(1)
		}
		if r.opts.Mirror == nil {
			continue
		}
		n := r.opts.Mirror.EnqueueDir(job.dir)
		if ok {
			n += r.opts.Mirror.EnqueueDir(filepath.Dir(archivedPath))
		}
		r.log.Printf("race %s mirror queued=%d", job.snap.Header.RaceID, n)
	}
}

// RaceDirs lists the race directories under dataDir, for tools that scan
// past races.
func RaceDirs(dataDir string) ([]string, error) {
	ents, err := os.ReadDir(filepath.Join(dataDir, "races"))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() {
			out = append(out, filepath.Join(dataDir, "races", e.Name()))
		}
	}
	return out, nil
}
