package log

import (
	"path/filepath"

	"balldrop.ai/internal/sim/world"
)

const eventsPrefix = "events"

// EventLogger records the durable signals of one race under <raceDir>/events.
type EventLogger struct{ w *SegmentWriter }

func NewEventLogger(raceDir string) *EventLogger {
	return &EventLogger{w: NewSegmentWriter(EventsDir(raceDir), eventsPrefix)}
}

func EventsDir(raceDir string) string { return filepath.Join(raceDir, "events") }

func (l *EventLogger) WriteEvent(e world.LogEntry) error { return l.w.Write(e) }
func (l *EventLogger) Lines() uint64                     { return l.w.Lines() }
func (l *EventLogger) Close() error                      { return l.w.Close() }

// ListEventFiles returns the event segments in dir, oldest first.
func ListEventFiles(dir string) ([]string, error) { return listSegments(dir, eventsPrefix) }

// ReadEvents streams the entries of one event segment to fn in write order.
func ReadEvents(path string, fn func(world.LogEntry) error) error {
	return readSegment(path, fn)
}
