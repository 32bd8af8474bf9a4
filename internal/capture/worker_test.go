package capture

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/gunshot-logger/internal/metrics"
	"github.com/oszuidwest/gunshot-logger/internal/notify"
	"github.com/oszuidwest/gunshot-logger/internal/state"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Count(substr string) int {
	return strings.Count(b.String(), substr)
}

type staticTarget struct {
	dir string
	err error
}

func (s staticTarget) Resolve() (string, error) {
	return s.dir, s.err
}

type recordingUploader struct {
	mu    sync.Mutex
	paths []string
}

func (u *recordingUploader) Enqueue(p string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, p)
	return nil
}

type workerFixture struct {
	worker  *Worker
	queue   *Queue
	store   *state.CounterStore
	metrics *metrics.Metrics
	logs    *syncBuffer
	root    string
}

func newWorkerFixture(t *testing.T, target TargetResolver, uploader Uploader) *workerFixture {
	t.Helper()
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	root := t.TempDir()
	if target == nil {
		target = staticTarget{dir: root}
	}

	f := &workerFixture{
		queue:   NewQueue(4),
		store:   state.NewCounterStore(filepath.Join(t.TempDir(), "gunshot_state.json"), logger),
		metrics: metrics.New(),
		logs:    logs,
		root:    root,
	}
	deps := WorkerDeps{
		Queue:    f.queue,
		Target:   target,
		Counter:  f.store,
		Notifier: notify.NewRateLimiter(logger, time.Minute),
		Metrics:  f.metrics,
		Logger:   logger,
	}
	if uploader != nil {
		deps.Uploader = uploader
	}
	f.worker = NewWorker(WorkerConfig{
		Floors:         testFloors,
		DequeueTimeout: 20 * time.Millisecond,
		CaptureDir:     "gunshots",
		FilePrefix:     "gunshot",
		ThresholdDB:    -15,
	}, deps)
	return f
}

func loudSnapshot(level float64) Snapshot {
	samples := make([]float32, 4800)
	for i := range samples {
		samples[i] = 0.3
	}
	return NewSnapshot(samples, level, time.Now(), time.Now(), testFormat)
}

func TestWorker_SavesValidCapture(t *testing.T) {
	uploader := &recordingUploader{}
	f := newWorkerFixture(t, nil, uploader)

	require.NoError(t, f.worker.Process(loudSnapshot(-9.8)))

	path := filepath.Join(f.root, "gunshots", "gunshot_001.wav")
	_, err := os.Stat(path)
	require.NoError(t, err)

	assert.Equal(t, 2, f.worker.Counter())
	assert.Equal(t, 2, f.store.Load())
	assert.Contains(t, f.logs.String(), "gunshot_001 detected due to decibel reading of -9.8 dB")
	assert.Equal(t, []string{path}, uploader.paths)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.CapturesSaved), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.FileCounter), 0)
}

func TestWorker_ResumesFromPersistedCounter(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store := state.NewCounterStore(filepath.Join(t.TempDir(), "state.json"), logger)
	require.NoError(t, store.Save(7))
	root := t.TempDir()

	w := NewWorker(WorkerConfig{Floors: testFloors, CaptureDir: "gunshots", FilePrefix: "gunshot"}, WorkerDeps{
		Queue:    NewQueue(1),
		Target:   staticTarget{dir: root},
		Counter:  store,
		Notifier: notify.NewRateLimiter(logger, time.Minute),
		Logger:   logger,
	})

	require.NoError(t, w.Process(loudSnapshot(-5)))
	_, err := os.Stat(filepath.Join(root, "gunshots", "gunshot_007.wav"))
	require.NoError(t, err)
	assert.Equal(t, 8, store.Load())
}

func TestWorker_RejectsSilentCapturesWithOneNotification(t *testing.T) {
	f := newWorkerFixture(t, nil, nil)

	for range 3 {
		silent := NewSnapshot(make([]float32, 9600), -12, time.Now(), time.Now(), testFormat)
		assert.ErrorIs(t, f.worker.Process(silent), ErrSilentCapture)
	}

	_, err := os.Stat(filepath.Join(f.root, "gunshots"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "no capture directory should be created")
	assert.Equal(t, 1, f.worker.Counter())
	assert.Equal(t, 1, f.logs.Count("capture rejected"))
	assert.InDelta(t, 3, testutil.ToFloat64(f.metrics.CapturesRejected.WithLabelValues("silent")), 0)
}

func TestWorker_MissingStorageSkipsCapture(t *testing.T) {
	f := newWorkerFixture(t, staticTarget{err: errors.New("no volume")}, nil)

	assert.Error(t, f.worker.Process(loudSnapshot(-3)))
	assert.Equal(t, 1, f.worker.Counter())
	assert.Contains(t, f.logs.String(), "key=storage_missing")
	_, _, failed := f.worker.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestWorker_WriteFailureDoesNotAdvanceCounter(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "gunshots"), []byte("not a dir"), 0o644))
	f := newWorkerFixture(t, staticTarget{dir: root}, nil)

	assert.Error(t, f.worker.Process(loudSnapshot(-3)))
	assert.Equal(t, 1, f.worker.Counter())
	assert.Contains(t, f.logs.String(), "key=persist_failed")
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.CaptureFailures.WithLabelValues("persist")), 0)
}

func TestWorker_RunProcessesQueueAndStops(t *testing.T) {
	f := newWorkerFixture(t, nil, nil)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.Run(stop)
	}()

	require.NoError(t, f.queue.TryEnqueue(loudSnapshot(-8)))
	require.NoError(t, f.queue.TryEnqueue(loudSnapshot(-7)))

	require.Eventually(t, func() bool { return f.worker.Counter() == 3 }, 2*time.Second, 5*time.Millisecond)

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop within one dequeue timeout")
	}

	entries, err := os.ReadDir(filepath.Join(f.root, "gunshots"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWorker_StopDrainsQueuedSnapshots(t *testing.T) {
	f := newWorkerFixture(t, nil, nil)
	f.worker.cfg.DequeueTimeout = 5 * time.Second
	require.NoError(t, f.queue.TryEnqueue(loudSnapshot(-8)))
	require.NoError(t, f.queue.TryEnqueue(loudSnapshot(-7)))

	stop := make(chan struct{})
	close(stop)
	f.worker.Run(stop)

	assert.Equal(t, 3, f.worker.Counter())
	assert.Zero(t, f.queue.Len())
}

func TestWorker_StopDropsSnapshotsLeftAfterDrainDeadline(t *testing.T) {
	f := newWorkerFixture(t, nil, nil)
	f.worker.cfg.DequeueTimeout = 0
	for _, level := range []float64{-8, -7, -6} {
		require.NoError(t, f.queue.TryEnqueue(loudSnapshot(level)))
	}

	stop := make(chan struct{})
	close(stop)
	f.worker.Run(stop)

	assert.Equal(t, 2, f.worker.Counter(), "only the first queued snapshot is written")
	assert.Zero(t, f.queue.Len())
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.CapturesDropped), 0)
	assert.Contains(t, f.logs.String(), "captures not written before shutdown")
	assert.Contains(t, f.logs.String(), "count=2")
}

func TestWorker_PersistCounter(t *testing.T) {
	f := newWorkerFixture(t, nil, nil)
	require.NoError(t, f.worker.Process(loudSnapshot(-1)))
	require.NoError(t, os.Remove(f.store.Path()))

	require.NoError(t, f.worker.PersistCounter())
	assert.Equal(t, 2, f.store.Load())
}
