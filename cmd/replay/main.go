package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "balldrop.ai/internal/persistence/log"
	"balldrop.ai/internal/persistence/snapshot"
	"balldrop.ai/internal/sim/world"
)

func main() {
	var (
		raceDir   = flag.String("race", "", "race directory (data/races/<race_id>); sets -snapshot and -events")
		snapPath  = flag.String("snapshot", "", "path to course.snap.zst")
		eventsDir = flag.String("events", "", "events dir containing events-*.jsonl.zst (optional)")
	)
	flag.Parse()

	if *raceDir != "" {
		if *snapPath == "" {
			*snapPath = snapshot.PathFor(*raceDir)
		}
		if *eventsDir == "" {
			*eventsDir = persistlog.EventsDir(*raceDir)
		}
	}
	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot or -race")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d race=%s tick=%d seed=%d variant=%s pegs=%d bars=%d spinners=%d flippers=%d participants=%d ranks=%d complete=%v\n",
		snap.Header.Version, snap.Header.RaceID, snap.Header.Tick, snap.Config.Seed, snap.Config.Course.Variant,
		snap.Pegs, snap.Deflectors+snap.Kickers+snap.Funnel, snap.Spinners, snap.Flippers,
		len(snap.Participants), len(snap.Ranks), snap.Complete)

	if err := verifyCourse(snap); err != nil {
		fmt.Fprintln(os.Stderr, "course:", err)
		os.Exit(1)
	}
	fmt.Printf("course ok: digest=%s\n", snap.Digest)

	if *eventsDir == "" {
		return
	}
	a, files, err := auditEvents(snap, *eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "audit:", err)
		os.Exit(1)
	}
	fmt.Printf("audit ok: files=%d events=%d finished=%d ranked=%d/%d top_reached=%v complete=%v\n",
		files, a.events, len(a.finished), a.ranked, a.winners, a.topReached == 1, a.completed == 1)
}

// verifyCourse rebuilds the course from the recorded config and compares
// layout digests.
func verifyCourse(snap snapshot.CourseV1) error {
	s, err := world.New(snap.Config)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	defer s.Close()
	if d := s.Layout().Digest(); d != snap.Digest {
		return fmt.Errorf("digest mismatch: rebuilt %s, snapshot %s", d, snap.Digest)
	}
	return nil
}

func auditEvents(snap snapshot.CourseV1, dir string) (*auditor, int, error) {
	files, err := persistlog.ListEventFiles(dir)
	if err != nil {
		return nil, 0, err
	}
	if len(files) == 0 {
		return nil, 0, fmt.Errorf("no events files found in %s", dir)
	}
	a := newAuditor(snap.Header.RaceID, snap.Config.Winners)
	for _, path := range files {
		if err := persistlog.ReadEvents(path, a.add); err != nil {
			return nil, 0, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	if err := a.check(snap); err != nil {
		return nil, 0, err
	}
	return a, len(files), nil
}
