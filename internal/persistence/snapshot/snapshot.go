package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"balldrop.ai/internal/sim/world"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	RaceID  string `json:"race_id"`
	Tick    uint64 `json:"tick"`
}

// CourseV1 is everything needed to rebuild a race's course and to audit its
// result: the applied config (seed included), the layout digest, the field
// and, once finishers arrive, the rank list.
type CourseV1 struct {
	Header Header `json:"header"`

	CreatedAt string       `json:"created_at"`
	Config    world.Config `json:"config"`
	Digest    string       `json:"digest"`

	Pegs       int     `json:"pegs"`
	Deflectors int     `json:"deflectors"`
	Kickers    int     `json:"kickers"`
	Funnel     int     `json:"funnel"`
	Spinners   int     `json:"spinners"`
	Flippers   int     `json:"flippers"`
	FinishY    float64 `json:"finish_y"`

	Participants []string `json:"participants,omitempty"`
	Ranks        []RankV1 `json:"ranks,omitempty"`
	Complete     bool     `json:"complete"`
}

type RankV1 struct {
	Position int    `json:"position"`
	Entity   int    `json:"entity"`
	Name     string `json:"name"`
	AtMs     int64  `json:"at_ms"`
}

// Capture copies the course and race state of s.
func Capture(raceID string, s *world.Simulation, at time.Time) CourseV1 {
	l := s.Layout()
	snap := CourseV1{
		Header:     Header{Version: Version, RaceID: raceID, Tick: s.Tick()},
		CreatedAt:  at.UTC().Format(time.RFC3339Nano),
		Config:     s.Config(),
		Digest:     l.Digest(),
		Pegs:       len(l.Pegs),
		Deflectors: len(l.Deflectors),
		Kickers:    len(l.Kickers),
		Funnel:     len(l.Funnel),
		Spinners:   len(l.Spinners),
		Flippers:   len(l.Flippers),
		FinishY:    l.Finish.Center().Y,
		Complete:   s.Phase() == world.PhaseComplete,
	}
	for _, e := range s.Entities() {
		snap.Participants = append(snap.Participants, e.Name)
	}
	for _, r := range s.Ranks() {
		snap.Ranks = append(snap.Ranks, RankV1{
			Position: r.Position,
			Entity:   int(r.EntityID),
			Name:     r.Name,
			AtMs:     r.At.Milliseconds(),
		})
	}
	return snap
}

func WriteSnapshot(path string, snap CourseV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ReadHeader reads only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	err := read(path, func(br *bufio.Reader) error {
		line, err := br.ReadBytes('\n')
		if err != nil {
			return err
		}
		return json.Unmarshal(line, &h)
	})
	return h, err
}

func ReadSnapshot(path string) (CourseV1, error) {
	var snap CourseV1
	err := read(path, func(br *bufio.Reader) error {
		// The header is repeated inside the gob body.
		if _, err := br.ReadBytes('\n'); err != nil {
			return err
		}
		if err := gob.NewDecoder(br).Decode(&snap); err != nil {
			return fmt.Errorf("gob decode: %w", err)
		}
		return nil
	})
	if err == nil && snap.Header.Version != Version {
		err = fmt.Errorf("snapshot version %d not supported", snap.Header.Version)
	}
	return snap, err
}

func read(path string, fn func(*bufio.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	return fn(bufio.NewReaderSize(dec, 64*1024))
}

// PathFor is where a race's snapshot lives under its race directory.
func PathFor(raceDir string) string { return filepath.Join(raceDir, "course.snap.zst") }
