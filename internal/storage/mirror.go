package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oszuidwest/gunshot-logger/internal/eventlog"
	"github.com/oszuidwest/gunshot-logger/internal/metrics"
	"github.com/oszuidwest/gunshot-logger/internal/notify"
	"github.com/oszuidwest/gunshot-logger/internal/util"
)

const (
	// DefaultMirrorQueueSize is the number of saved captures that may wait for upload.
	DefaultMirrorQueueSize = 32
	uploadTimeout          = 2 * time.Minute
)

// ErrMirrorQueueFull is returned when a capture cannot be queued for upload.
var ErrMirrorQueueFull = errors.New("upload queue full")

// MirrorConfig holds the S3-compatible bucket settings.
type MirrorConfig struct {
	Endpoint        string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	QueueSize       int
}

// objectPutter is the subset of the S3 client used for uploads.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Mirror uploads saved captures to an S3-compatible bucket on a background
// goroutine. Upload failures are reported and never affect the local copy.
type Mirror struct {
	cfg      MirrorConfig
	client   objectPutter
	notifier notify.Notifier
	events   *eventlog.Logger
	metrics  *metrics.Metrics

	queue    chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMirror creates a Mirror with an S3 client built from cfg.
func NewMirror(cfg MirrorConfig, notifier notify.Notifier, events *eventlog.Logger, m *metrics.Metrics) (*Mirror, error) {
	if !util.IsConfigured(cfg.Bucket, cfg.AccessKeyID, cfg.SecretAccessKey) {
		return nil, fmt.Errorf("s3 mirror requires bucket and credentials")
	}
	return newMirror(cfg, createS3Client(cfg), notifier, events, m), nil
}

func newMirror(cfg MirrorConfig, client objectPutter, notifier notify.Notifier, events *eventlog.Logger, m *metrics.Metrics) *Mirror {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultMirrorQueueSize
	}
	return &Mirror{
		cfg:      cfg,
		client:   client,
		notifier: notifier,
		events:   events,
		metrics:  m,
		queue:    make(chan string, cfg.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg MirrorConfig) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = region
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.New(s3.Options{}, options...)
}

// Start launches the upload worker.
func (m *Mirror) Start() {
	m.wg.Add(1)
	go m.uploadWorker()
}

// Stop uploads captures that are already queued and stops the worker.
func (m *Mirror) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Enqueue queues a saved capture for upload without blocking.
func (m *Mirror) Enqueue(localPath string) error {
	select {
	case m.queue <- localPath:
		return nil
	default:
		m.notifier.Warn(notify.KeyUploadFailed, "upload queue full, capture not mirrored", "file", filepath.Base(localPath))
		m.recordUpload("dropped")
		return ErrMirrorQueueFull
	}
}

// ObjectKey returns the bucket key for a capture file.
func (m *Mirror) ObjectKey(localPath string) string {
	return path.Join(m.cfg.Prefix, filepath.Base(localPath))
}

// uploadWorker processes the upload queue, draining remaining items on shutdown.
func (m *Mirror) uploadWorker() {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in upload worker", "panic", r)
		}
	}()

	for {
		select {
		case <-m.stopCh:
			for {
				select {
				case p := <-m.queue:
					m.upload(p)
				default:
					return
				}
			}
		case p := <-m.queue:
			m.upload(p)
		}
	}
}

func (m *Mirror) upload(localPath string) {
	filename := filepath.Base(localPath)
	key := m.ObjectKey(localPath)

	if err := m.put(localPath, key); err != nil {
		m.notifier.Error(notify.KeyUploadFailed, "upload failed", "file", filename, "s3_key", key, "error", err)
		m.recordUpload("failed")
		_ = m.events.LogUpload(eventlog.UploadFailed, &eventlog.UploadDetails{
			Filename: filename, Bucket: m.cfg.Bucket, S3Key: key, Error: err.Error(),
		})
		return
	}

	slog.Info("upload completed", "file", filename, "s3_key", key)
	m.recordUpload("completed")
	_ = m.events.LogUpload(eventlog.UploadCompleted, &eventlog.UploadDetails{
		Filename: filename, Bucket: m.cfg.Bucket, S3Key: key,
	})
}

func (m *Mirror) put(localPath, key string) error {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		uploadTimeout,
		errors.New("s3 upload timeout"),
	)
	defer cancel()

	file, err := os.Open(localPath)
	if err != nil {
		return util.WrapError("open capture for upload", err)
	}
	defer util.SafeCloseFunc(file, "capture file")()

	info, err := file.Stat()
	if err != nil {
		return util.WrapError("stat capture for upload", err)
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("audio/wav"),
	})
	return err
}

func (m *Mirror) recordUpload(result string) {
	if m.metrics != nil {
		m.metrics.Uploads.WithLabelValues(result).Inc()
	}
}
