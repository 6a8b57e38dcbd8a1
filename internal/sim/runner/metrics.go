package runner

import (
	"sync/atomic"
	"time"
)

type counters struct {
	races         atomic.Uint64
	signals       atomic.Uint64
	eventErrors   atomic.Uint64
	commandErrors atomic.Uint64
	snapshots     atomic.Uint64
	snapshotDrops atomic.Uint64
	archived      atomic.Uint64
	frames        atomic.Uint64
	framesDropped atomic.Uint64
	observers     atomic.Int64
	stepNanos     atomic.Int64
}

// Metrics is a point-in-time copy of the runner's counters.
type Metrics struct {
	Races         uint64  `json:"races"`
	Signals       uint64  `json:"signals"`
	EventErrors   uint64  `json:"event_errors"`
	CommandErrors uint64  `json:"command_errors"`
	Snapshots     uint64  `json:"snapshots"`
	SnapshotDrops uint64  `json:"snapshot_drops"`
	Archived      uint64  `json:"archived"`
	Frames        uint64  `json:"frames"`
	FramesDropped uint64  `json:"frames_dropped"`
	Observers     int     `json:"observers"`
	StepMS        float64 `json:"step_ms"`
}

func (r *Runner) Metrics() Metrics {
	c := &r.metrics
	return Metrics{
		Races:         c.races.Load(),
		Signals:       c.signals.Load(),
		EventErrors:   c.eventErrors.Load(),
		CommandErrors: c.commandErrors.Load(),
		Snapshots:     c.snapshots.Load(),
		SnapshotDrops: c.snapshotDrops.Load(),
		Archived:      c.archived.Load(),
		Frames:        c.frames.Load(),
		FramesDropped: c.framesDropped.Load(),
		Observers:     int(c.observers.Load()),
		StepMS:        float64(c.stepNanos.Load()) / float64(time.Millisecond),
	}
}
