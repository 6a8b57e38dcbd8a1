package r2s3

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader stores one local file under an object key. *Client implements it.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type MirrorOptions struct {
	// DataDir is the root object keys are made relative to.
	DataDir string
	Prefix  string
	Workers int
	// QueueCapacity bounds pending uploads; Enqueue waits at most
	// EnqueueWait for room before dropping the file.
	QueueCapacity int
	EnqueueWait   time.Duration
	Attempts      int
	Backoff       time.Duration
	Logger        *log.Logger
}

func (o *MirrorOptions) defaults() {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 2048
	}
	if o.EnqueueWait <= 0 {
		o.EnqueueWait = 25 * time.Millisecond
	}
	if o.Attempts <= 0 {
		o.Attempts = 4
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	o.Prefix = strings.Trim(strings.ReplaceAll(o.Prefix, "\\", "/"), "/")
}

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	SkippedTotal        uint64
	UploadSuccessTotal  uint64
	UploadFailTotal     uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

type upload struct {
	key   string
	local string
}

// Mirror copies finished race files to object storage from a small worker
// pool. Enqueue never blocks the caller for longer than EnqueueWait.
type Mirror struct {
	up      Uploader
	dataDir string
	opts    MirrorOptions

	queue chan upload
	wg    sync.WaitGroup

	enqueued  atomic.Uint64
	saturated atomic.Uint64
	dropped   atomic.Uint64
	skipped   atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	lastOK    atomic.Int64
	lastErr   atomic.Int64
}

func NewMirror(up Uploader, opts MirrorOptions) *Mirror {
	opts.defaults()
	m := &Mirror{
		up:      up,
		dataDir: opts.DataDir,
		opts:    opts,
		queue:   make(chan upload, opts.QueueCapacity),
	}
	m.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go m.worker()
	}
	return m
}

// Enqueue queues one file. The object key is fixed here so a file outside
// the data dir is refused before it takes a queue slot.
func (m *Mirror) Enqueue(localPath string) bool {
	if m == nil || m.up == nil {
		return false
	}
	key, err := m.objectKey(localPath)
	if err != nil {
		m.skipped.Add(1)
		m.printf("mirror skip local=%s err=%v", localPath, err)
		return false
	}
	m.enqueued.Add(1)
	job := upload{key: key, local: localPath}

	select {
	case m.queue <- job:
		return true
	default:
	}
	m.saturated.Add(1)
	timer := time.NewTimer(m.opts.EnqueueWait)
	defer timer.Stop()
	select {
	case m.queue <- job:
		return true
	case <-timer.C:
		n := m.dropped.Add(1)
		m.printf("mirror drop key=%s reason=queue_saturated dropped_total=%d", key, n)
		return false
	}
}

// EnqueueDir queues every regular file under dir: a race's snapshot,
// meta.json and event logs. It returns how many were queued.
func (m *Mirror) EnqueueDir(dir string) int {
	if m == nil || m.up == nil {
		return 0
	}
	n := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && m.Enqueue(p) {
			n++
		}
		return nil
	})
	if err != nil {
		m.printf("mirror walk dir=%s err=%v", dir, err)
	}
	return n
}

// Close drains the queue and waits for in-flight uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.queue)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.queue),
		QueueCapacity:       cap(m.queue),
		EnqueuedTotal:       m.enqueued.Load(),
		QueueSaturatedTotal: m.saturated.Load(),
		DroppedTotal:        m.dropped.Load(),
		SkippedTotal:        m.skipped.Load(),
		UploadSuccessTotal:  m.succeeded.Load(),
		UploadFailTotal:     m.failed.Load(),
		LastSuccessUnix:     m.lastOK.Load(),
		LastErrorUnix:       m.lastErr.Load(),
	}
}

func (m *Mirror) worker() {
	defer m.wg.Done()
	for job := range m.queue {
		if err := m.put(job); err != nil {
			m.failed.Add(1)
			m.lastErr.Store(time.Now().Unix())
			m.printf("mirror upload failed key=%s err=%v", job.key, err)
			continue
		}
		m.succeeded.Add(1)
		m.lastOK.Store(time.Now().Unix())
	}
}

// put retries with quadratic backoff.
func (m *Mirror) put(job upload) error {
	var err error
	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, job.key, job.local)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < m.opts.Attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
		}
	}
	return fmt.Errorf("after %d attempts: %w", m.opts.Attempts, err)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	local, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, local)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside data dir %s", local, base)
	}
	return path.Join(m.opts.Prefix, rel), nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Printf(format, args...)
	}
}
