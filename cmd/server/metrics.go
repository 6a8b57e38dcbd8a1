package main

import (
	"fmt"
	"io"

	"balldrop.ai/internal/persistence/indexdb"
	"balldrop.ai/internal/persistence/r2s3"
	"balldrop.ai/internal/sim/runner"
)

// Minimal Prometheus text exposition; one HELP/TYPE pair per family.

func family(w io.Writer, name, kind, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func sample(w io.Writer, name, kind, help string, v any) {
	family(w, name, kind, help)
	switch v := v.(type) {
	case float64:
		fmt.Fprintf(w, "%s %.3f\n", name, v)
	default:
		fmt.Fprintf(w, "%s %d\n", name, v)
	}
}

func writeRaceMetrics(w io.Writer, st runner.Status, m runner.Metrics) {
	family(w, "balldrop_race_tick", "gauge", "Current tick of the live race.")
	fmt.Fprintf(w, "balldrop_race_tick{race=%q,phase=%q} %d\n", st.RaceID, st.Phase, st.Tick)
	sample(w, "balldrop_race_participants", "gauge", "Balls in the live race.", st.Participants)
	sample(w, "balldrop_race_ranked", "gauge", "Ranked finishers in the live race.", st.Ranked)

	sample(w, "balldrop_races_total", "counter", "Races built since boot.", m.Races)
	sample(w, "balldrop_signals_total", "counter", "Durable signals recorded.", m.Signals)
	sample(w, "balldrop_event_log_errors_total", "counter", "Event log write failures.", m.EventErrors)
	sample(w, "balldrop_command_errors_total", "counter", "Rejected operator commands.", m.CommandErrors)
	sample(w, "balldrop_snapshots_total", "counter", "Course snapshots written.", m.Snapshots)
	sample(w, "balldrop_snapshot_drops_total", "counter", "Snapshots dropped because the writer was behind.", m.SnapshotDrops)
	sample(w, "balldrop_archived_total", "counter", "Races archived.", m.Archived)
	sample(w, "balldrop_frames_total", "counter", "Frames sent to observers.", m.Frames)
	sample(w, "balldrop_frames_dropped_total", "counter", "Stale frames replaced before delivery.", m.FramesDropped)
	sample(w, "balldrop_observers", "gauge", "Connected observers.", m.Observers)
	sample(w, "balldrop_step_ms", "gauge", "Duration of the last simulation step in milliseconds.", m.StepMS)
}

func writeIndexMetrics(w io.Writer, s indexdb.Stats) {
	sample(w, "balldrop_index_written_total", "counter", "Rows written to the results index.", s.Written)
	family(w, "balldrop_index_dropped_total", "counter", "Index writes dropped because the queue was full.")
	fmt.Fprintf(w, "balldrop_index_dropped_total{kind=\"event\"} %d\n", s.DropEventTotal)
	fmt.Fprintf(w, "balldrop_index_dropped_total{kind=\"snapshot\"} %d\n", s.DropSnapshotTotal)
	sample(w, "balldrop_index_queue_len", "gauge", "Pending index writes.", s.QueueLen)
}

func writeR2MirrorMetrics(w io.Writer, s r2s3.Stats) {
	sample(w, "balldrop_mirror_queue_depth", "gauge", "Files waiting for upload.", s.QueueDepth)
	sample(w, "balldrop_mirror_queue_capacity", "gauge", "Upload queue capacity.", s.QueueCapacity)
	sample(w, "balldrop_mirror_enqueued_total", "counter", "Files accepted for upload.", s.EnqueuedTotal)
	sample(w, "balldrop_mirror_queue_saturated_total", "counter", "Enqueues that found the queue full.", s.QueueSaturatedTotal)
	sample(w, "balldrop_mirror_dropped_total", "counter", "Files dropped after the enqueue wait ran out.", s.DroppedTotal)
	sample(w, "balldrop_mirror_skipped_total", "counter", "Files refused because they sit outside the data dir.", s.SkippedTotal)
	sample(w, "balldrop_mirror_upload_success_total", "counter", "Successful uploads.", s.UploadSuccessTotal)
	sample(w, "balldrop_mirror_upload_fail_total", "counter", "Uploads that failed every attempt.", s.UploadFailTotal)
	sample(w, "balldrop_mirror_last_success_unix", "gauge", "Unix time of the last successful upload.", s.LastSuccessUnix)
	sample(w, "balldrop_mirror_last_error_unix", "gauge", "Unix time of the last failed upload.", s.LastErrorUnix)
}
