package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oszuidwest/gunshot-logger/internal/eventlog"
	"github.com/oszuidwest/gunshot-logger/internal/metrics"
	"github.com/oszuidwest/gunshot-logger/internal/notify"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePutter struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
	block   chan struct{}
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

func testNotifier() *notify.RateLimiter {
	return notify.NewRateLimiter(slog.New(slog.DiscardHandler), time.Minute)
}

func writeCapture(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("RIFF....WAVE"), 0o644))
	return p
}

func TestMirror_UploadsQueuedFilesOnStop(t *testing.T) {
	putter := &fakePutter{}
	m := metrics.New()
	eventsPath := filepath.Join(t.TempDir(), "events.jsonl")
	events, err := eventlog.NewLogger(eventsPath)
	require.NoError(t, err)
	defer events.Close()

	mirror := newMirror(MirrorConfig{Bucket: "captures", Prefix: "site-a"}, putter, testNotifier(), events, m)
	mirror.Start()

	require.NoError(t, mirror.Enqueue(writeCapture(t, "gunshot_001.wav")))
	require.NoError(t, mirror.Enqueue(writeCapture(t, "gunshot_002.wav")))
	mirror.Stop()

	data, ok := putter.get("captures/site-a/gunshot_001.wav")
	require.True(t, ok)
	assert.Equal(t, "RIFF....WAVE", string(data))
	_, ok = putter.get("captures/site-a/gunshot_002.wav")
	assert.True(t, ok)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Uploads.WithLabelValues("completed")), 0)

	logged, _, err := eventlog.ReadLast(eventsPath, 10, 0, eventlog.FilterUpload)
	require.NoError(t, err)
	assert.Len(t, logged, 2)
}

func TestMirror_FailureIsReported(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	m := metrics.New()
	mirror := newMirror(MirrorConfig{Bucket: "captures"}, putter, testNotifier(), nil, m)
	mirror.Start()

	require.NoError(t, mirror.Enqueue(writeCapture(t, "gunshot_001.wav")))
	mirror.Stop()

	assert.InDelta(t, 1, testutil.ToFloat64(m.Uploads.WithLabelValues("failed")), 0)
}

func TestMirror_EnqueueNeverBlocks(t *testing.T) {
	putter := &fakePutter{block: make(chan struct{})}
	m := metrics.New()
	mirror := newMirror(MirrorConfig{Bucket: "captures", QueueSize: 1}, putter, testNotifier(), nil, m)
	mirror.Start()

	p := writeCapture(t, "gunshot_001.wav")
	// The worker may already hold the first item, so fill until rejected.
	var rejected error
	for range 3 {
		if err := mirror.Enqueue(p); err != nil {
			rejected = err
			break
		}
	}
	assert.ErrorIs(t, rejected, ErrMirrorQueueFull)

	close(putter.block)
	mirror.Stop()
	assert.InDelta(t, 1, testutil.ToFloat64(m.Uploads.WithLabelValues("dropped")), 0)
}

func TestMirror_ObjectKey(t *testing.T) {
	mirror := newMirror(MirrorConfig{Bucket: "b", Prefix: "gunshots/"}, &fakePutter{}, testNotifier(), nil, nil)
	assert.Equal(t, "gunshots/gunshot_010.wav", mirror.ObjectKey("/media/pi/USB/gunshots/gunshot_010.wav"))

	mirror = newMirror(MirrorConfig{Bucket: "b"}, &fakePutter{}, testNotifier(), nil, nil)
	assert.Equal(t, "gunshot_010.wav", mirror.ObjectKey("/x/gunshot_010.wav"))
}

func TestNewMirror_RequiresCredentials(t *testing.T) {
	_, err := NewMirror(MirrorConfig{Bucket: "b"}, testNotifier(), nil, nil)
	assert.Error(t, err)
}
