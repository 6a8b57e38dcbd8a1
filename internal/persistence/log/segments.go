// Package log stores race signals as zstd-compressed JSON lines, split into
// hourly segments.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	segmentExt    = ".jsonl.zst"
	hourLayout    = "2006-01-02-15"
	maxSegmentRow = 50_000
)

// SegmentWriter appends JSON values to <dir>/<prefix>-<hour>[.<n>].jsonl.zst.
// A new segment starts when the UTC hour changes or the current one holds
// maxRows lines. Each Write ends a zstd block, so a crash loses at most the
// value being written.
type SegmentWriter struct {
	dir     string
	prefix  string
	maxRows uint64
	now     func() time.Time

	mu    sync.Mutex
	hour  string
	seq   int
	rows  uint64
	total uint64
	f     *os.File
	zw    *zstd.Encoder
	bw    *bufio.Writer
	enc   *json.Encoder
}

func NewSegmentWriter(dir, prefix string) *SegmentWriter {
	return &SegmentWriter{dir: dir, prefix: prefix, maxRows: maxSegmentRow, now: time.Now}
}

func (w *SegmentWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format(hourLayout)
	switch {
	case w.enc == nil || hour != w.hour:
		if err := w.openLocked(hour, 0); err != nil {
			return err
		}
	case w.rows >= w.maxRows:
		if err := w.openLocked(hour, w.seq+1); err != nil {
			return err
		}
	}
	// Encode appends the newline.
	if err := w.enc.Encode(v); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if err := w.zw.Flush(); err != nil {
		return err
	}
	w.rows++
	w.total++
	return nil
}

// Lines counts every value written, across segments.
func (w *SegmentWriter) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

func (w *SegmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *SegmentWriter) openLocked(hour string, seq int) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.segmentPath(hour, seq), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.zw = f, zw
	w.bw = bufio.NewWriterSize(zw, 32*1024)
	w.enc = json.NewEncoder(w.bw)
	w.hour, w.seq, w.rows = hour, seq, 0
	return nil
}

func (w *SegmentWriter) closeLocked() error {
	if w.f == nil {
		return nil
	}
	_ = w.bw.Flush()
	err := w.zw.Close()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f, w.zw, w.bw, w.enc = nil, nil, nil, nil
	return err
}

func (w *SegmentWriter) segmentPath(hour string, seq int) string {
	name := w.prefix + "-" + hour
	if seq > 0 {
		name += "." + strconv.Itoa(seq)
	}
	return filepath.Join(w.dir, name+segmentExt)
}

type segmentName struct {
	path string
	hour string
	seq  int
}

// listSegments returns prefix segments in dir in write order.
func listSegments(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var segs []segmentName
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		stem, ok := strings.CutSuffix(e.Name(), segmentExt)
		if !ok {
			continue
		}
		stem, ok = strings.CutPrefix(stem, prefix+"-")
		if !ok {
			continue
		}
		hour, seq := stem, 0
		if i := strings.IndexByte(stem, '.'); i >= 0 {
			n, err := strconv.Atoi(stem[i+1:])
			if err != nil {
				continue
			}
			hour, seq = stem[:i], n
		}
		segs = append(segs, segmentName{path: filepath.Join(dir, e.Name()), hour: hour, seq: seq})
	}
	sort.Slice(segs, func(i, j int) bool {
		if segs[i].hour != segs[j].hour {
			return segs[i].hour < segs[j].hour
		}
		return segs[i].seq < segs[j].seq
	})
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.path
	}
	return out, nil
}

// readSegment decodes each line of one segment into a fresh T.
func readSegment[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), n, err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return sc.Err()
}
