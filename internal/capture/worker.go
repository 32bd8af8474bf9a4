package capture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/gunshot-logger/internal/eventlog"
	"github.com/oszuidwest/gunshot-logger/internal/metrics"
	"github.com/oszuidwest/gunshot-logger/internal/notify"
	"github.com/oszuidwest/gunshot-logger/internal/util"
)

// TargetResolver returns the storage root for the next capture.
type TargetResolver interface {
	Resolve() (string, error)
}

// CounterStore persists the next file number.
type CounterStore interface {
	Load() int
	Save(value int) error
}

// Uploader mirrors a saved capture elsewhere.
type Uploader interface {
	Enqueue(localPath string) error
}

// WorkerConfig holds the persistence settings.
type WorkerConfig struct {
	Floors         Floors
	DequeueTimeout time.Duration
	CaptureDir     string // directory under the storage root
	FilePrefix     string
	ThresholdDB    float64 // recorded with capture events
}

// WorkerDeps are the collaborators of a Worker. Events and Uploader are optional.
type WorkerDeps struct {
	Queue    *Queue
	Target   TargetResolver
	Counter  CounterStore
	Notifier notify.Notifier
	Events   *eventlog.Logger
	Metrics  *metrics.Metrics
	Uploader Uploader
	Logger   *slog.Logger
}

// Worker drains the detection queue and writes each valid snapshot to a
// numbered WAV file. A capture that fails is reported and skipped; the
// counter only advances after a file has been written.
type Worker struct {
	cfg  WorkerConfig
	deps WorkerDeps

	counter  atomic.Int64
	saved    atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
}

// NewWorker returns a worker whose counter starts at the persisted value.
func NewWorker(cfg WorkerConfig, deps WorkerDeps) *Worker {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	w := &Worker{cfg: cfg, deps: deps}
	w.counter.Store(int64(deps.Counter.Load()))
	w.deps.Metrics.FileCounter.Set(float64(w.counter.Load()))
	return w
}

// FileName returns the capture file name for counter n.
func FileName(prefix string, n int) string {
	return fmt.Sprintf("%s_%03d.wav", prefix, n)
}

// Run processes snapshots until stop is closed. Stop is observed within one
// dequeue timeout. Snapshots already queued at that point are written for at
// most one more dequeue timeout; whatever remains is reported as dropped.
// Shutdown therefore takes at most two dequeue timeouts plus the write in
// progress.
func (w *Worker) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			w.drain(time.Now().Add(w.cfg.DequeueTimeout))
			return
		default:
		}

		if snap, ok := w.deps.Queue.Dequeue(w.cfg.DequeueTimeout); ok {
			_ = w.Process(snap) //nolint:errcheck // Outcome is reported by Process
		}
	}
}

// drain writes queued snapshots until the queue is empty or deadline passes.
// The first queued snapshot is always written.
func (w *Worker) drain(deadline time.Time) {
	for first := true; ; first = false {
		if !first && time.Now().After(deadline) {
			w.abandon()
			return
		}
		snap, ok := w.deps.Queue.Dequeue(0)
		if !ok {
			return
		}
		_ = w.Process(snap) //nolint:errcheck // Outcome is reported by Process
	}
}

// abandon empties the queue, reporting each snapshot as dropped.
func (w *Worker) abandon() {
	n := 0
	for {
		snap, ok := w.deps.Queue.Dequeue(0)
		if !ok {
			break
		}
		n++
		w.deps.Metrics.CapturesDropped.Inc()
		_ = w.deps.Events.LogCapture(eventlog.CaptureDropped, snap.ID.String(), "not written before shutdown", &eventlog.CaptureDetails{
			LevelDB:     snap.Level,
			ThresholdDB: w.cfg.ThresholdDB,
			Samples:     len(snap.Samples),
			Reason:      "shutdown",
		})
	}
	if n > 0 {
		w.deps.Logger.Warn("captures not written before shutdown", "count", n)
	}
}

// Process validates and persists one snapshot. The returned error describes
// why the snapshot was not saved; it has already been reported.
func (w *Worker) Process(snap Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while persisting capture: %v", r)
			w.fail(snap, notify.KeyPersistFailed, "persist", err)
		}
	}()

	if err := Validate(snap.Samples, w.cfg.Floors); err != nil {
		w.reject(snap, err)
		return err
	}

	root, err := w.deps.Target.Resolve()
	if err != nil {
		w.fail(snap, notify.KeyStorageMissing, "storage_missing", err)
		return err
	}

	dir := filepath.Join(root, w.cfg.CaptureDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		err = util.WrapError("create capture directory", err)
		w.fail(snap, notify.KeyPersistFailed, "persist", err)
		return err
	}

	n := int(w.counter.Load())
	name := FileName(w.cfg.FilePrefix, n)
	path := filepath.Join(dir, name)

	start := time.Now()
	size, err := WriteWAVFile(path, snap.Samples, snap.Format)
	if err != nil {
		w.fail(snap, notify.KeyPersistFailed, "persist", err)
		return err
	}
	w.deps.Metrics.WriteDuration.Observe(time.Since(start).Seconds())

	next := n + 1
	w.counter.Store(int64(next))
	w.deps.Metrics.FileCounter.Set(float64(next))
	if err := w.deps.Counter.Save(next); err != nil {
		w.deps.Notifier.Error(notify.KeyCounterFailed, "failed to persist file counter", "file_counter", next, "error", err)
	}

	w.saved.Add(1)
	w.deps.Metrics.CapturesSaved.Inc()
	w.deps.Logger.Info(
		fmt.Sprintf("%s detected due to decibel reading of %.1f dB", strings.TrimSuffix(name, ".wav"), snap.Level),
		"path", path,
		"capture_id", snap.ID,
		"duration", snap.Duration(),
		"size_bytes", size,
	)
	_ = w.deps.Events.LogCapture(eventlog.CaptureSaved, snap.ID.String(), "", &eventlog.CaptureDetails{
		LevelDB:     snap.Level,
		ThresholdDB: w.cfg.ThresholdDB,
		Filename:    name,
		Path:        path,
		SizeBytes:   size,
		Samples:     len(snap.Samples),
		Counter:     n,
	})

	if w.deps.Uploader != nil {
		_ = w.deps.Uploader.Enqueue(path) //nolint:errcheck // A full upload queue is reported by the uploader
	}
	return nil
}

func (w *Worker) reject(snap Snapshot, err error) {
	reason := RejectReason(err)
	w.rejected.Add(1)
	w.deps.Metrics.CapturesRejected.WithLabelValues(reason).Inc()
	w.deps.Notifier.Warn("reject_"+reason, "capture rejected", "capture_id", snap.ID, "level_db", snap.Level, "error", err)
	_ = w.deps.Events.LogCapture(eventlog.CaptureRejected, snap.ID.String(), "", &eventlog.CaptureDetails{
		LevelDB: snap.Level,
		Samples: len(snap.Samples),
		Reason:  reason,
		Error:   err.Error(),
	})
}

func (w *Worker) fail(snap Snapshot, key, reason string, err error) {
	w.failed.Add(1)
	w.deps.Metrics.CaptureFailures.WithLabelValues(reason).Inc()
	w.deps.Notifier.Error(key, "failed to persist capture", "capture_id", snap.ID, "level_db", snap.Level, "error", err)
	_ = w.deps.Events.LogCapture(eventlog.CaptureFailed, snap.ID.String(), "", &eventlog.CaptureDetails{
		LevelDB: snap.Level,
		Samples: len(snap.Samples),
		Reason:  reason,
		Error:   err.Error(),
	})
}

// Counter returns the number that will be assigned to the next saved capture.
func (w *Worker) Counter() int {
	return int(w.counter.Load())
}

// PersistCounter writes the current counter to the store.
func (w *Worker) PersistCounter() error {
	return w.deps.Counter.Save(w.Counter())
}

// Stats returns the saved, rejected and failed totals.
func (w *Worker) Stats() (saved, rejected, failed int64) {
	return w.saved.Load(), w.rejected.Load(), w.failed.Load()
}
