// Package pipeline connects an audio source to trigger detection and the
// capture worker. The source callback is the only producer: it meters each
// block, keeps the rolling buffer current and queues a snapshot when a
// trigger's capture delay has elapsed. Everything that may block (file
// writes, logging, event records) happens on other goroutines.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/gunshot-logger/internal/audio"
	"github.com/oszuidwest/gunshot-logger/internal/capture"
	"github.com/oszuidwest/gunshot-logger/internal/config"
	"github.com/oszuidwest/gunshot-logger/internal/eventlog"
	"github.com/oszuidwest/gunshot-logger/internal/metrics"
	"github.com/oszuidwest/gunshot-logger/internal/notify"
	"github.com/oszuidwest/gunshot-logger/internal/schedule"
	"github.com/oszuidwest/gunshot-logger/internal/types"
	"github.com/oszuidwest/gunshot-logger/internal/util"
)

// ErrAlreadyRunning is returned by Start when the pipeline is running.
var ErrAlreadyRunning = errors.New("pipeline already running")

const (
	noticeBufferSize    = 64
	housekeepingPeriod  = time.Second
	droppedCaptureLabel = "queue_full"
)

// Deps are the collaborators of a Pipeline. Source, Counter and Target are
// required; the rest have working defaults.
type Deps struct {
	Source   audio.Source
	Counter  capture.CounterStore
	Target   capture.TargetResolver
	Notifier *notify.RateLimiter
	Events   *eventlog.Logger
	Metrics  *metrics.Metrics
	Uploader capture.Uploader
	Hours    *schedule.OperatingHours
	Logger   *slog.Logger
	Now      func() time.Time
}

// notice is a report raised on the audio callback and written out by the
// housekeeping goroutine.
type notice struct {
	level     slog.Level
	key       string // rate limit key; empty logs unconditionally
	msg       string
	args      []any
	event     eventlog.EventType
	captureID string
	details   *eventlog.CaptureDetails
}

// Pipeline runs live gunshot detection.
type Pipeline struct {
	cfg    config.Config
	deps   Deps
	format audio.Format

	// Owned by the audio callback.
	buffer   *audio.RollingBuffer
	detector *audio.TriggerDetector

	queue  *capture.Queue
	worker *capture.Worker
	peak   *audio.PeakHolder

	notices        chan notice
	droppedNotices atomic.Int64

	mu        sync.Mutex
	state     types.PipelineState
	startTime time.Time
	stop      chan struct{}
	wg        sync.WaitGroup

	// Published by the audio callback for Status.
	running      atomic.Bool
	level        atomic.Uint64
	detection    atomic.Int32
	inHours      atomic.Bool
	triggers     atomic.Int64
	dropped      atomic.Int64
	lastTrigger  atomic.Int64
	streamStatus atomic.Uint32
}

// New creates a stopped pipeline. The rolling buffer holds
// cfg.Buffer.DurationSeconds of audio in the source's format.
func New(cfg config.Config, deps Deps) (*Pipeline, error) {
	if deps.Source == nil || deps.Counter == nil || deps.Target == nil {
		return nil, errors.New("pipeline requires a source, counter store and storage target")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewRateLimiter(deps.Logger, cfg.ErrorCooldown())
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	format := deps.Source.Format()
	frames := int(math.Round(cfg.Buffer.DurationSeconds * float64(format.SampleRate)))
	buffer, err := audio.NewRollingBuffer(frames * format.Channels)
	if err != nil {
		return nil, util.WrapError("create rolling buffer", err)
	}

	queue := capture.NewQueue(cfg.Queue.Capacity)
	worker := capture.NewWorker(capture.WorkerConfig{
		Floors: capture.Floors{
			SilenceRMS: cfg.Validation.SilenceFloor,
			Amplitude:  cfg.Validation.AmplitudeFloor,
		},
		DequeueTimeout: cfg.DequeueTimeout(),
		CaptureDir:     cfg.Storage.CaptureDir,
		FilePrefix:     cfg.Storage.FilePrefix,
		ThresholdDB:    cfg.Detection.ThresholdDB,
	}, capture.WorkerDeps{
		Queue:    queue,
		Target:   deps.Target,
		Counter:  deps.Counter,
		Notifier: deps.Notifier,
		Events:   deps.Events,
		Metrics:  deps.Metrics,
		Uploader: deps.Uploader,
		Logger:   deps.Logger,
	})

	p := &Pipeline{
		cfg:    cfg,
		deps:   deps,
		format: format,
		buffer: buffer,
		detector: audio.NewTriggerDetector(audio.TriggerConfig{
			ThresholdDB:  cfg.Detection.ThresholdDB,
			CaptureDelay: cfg.CaptureDelay(),
		}),
		queue:   queue,
		worker:  worker,
		peak:    audio.NewPeakHolder(),
		notices: make(chan notice, noticeBufferSize),
		state:   types.StateStopped,
	}
	p.level.Store(math.Float64bits(audio.MinDB))
	p.inHours.Store(deps.Hours.Contains(deps.Now()))
	return p, nil
}

// Format returns the sample layout of the audio source.
func (p *Pipeline) Format() audio.Format {
	return p.format
}

// Start starts the capture worker and then the audio source. A source that
// fails to start leaves the pipeline stopped.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == types.StateRunning || p.state == types.StateStarting {
		return ErrAlreadyRunning
	}
	p.state = types.StateStarting

	p.buffer.Reset()
	p.detector.Reset()
	p.peak.Reset()
	p.detection.Store(int32(audio.StateIdle))

	stop := make(chan struct{})
	p.stop = stop
	p.wg.Go(func() { p.worker.Run(stop) })
	p.wg.Go(func() { p.housekeep(stop) })

	p.running.Store(true)
	if err := p.deps.Source.Start(p.HandleBlock); err != nil {
		p.running.Store(false)
		close(stop)
		p.wg.Wait()
		p.state = types.StateStopped
		return util.WrapError("start audio source", err)
	}

	p.state = types.StateRunning
	p.startTime = time.Now()
	p.deps.Logger.Info("detection started",
		"sample_rate", p.format.SampleRate,
		"channels", p.format.Channels,
		"threshold_db", p.cfg.Detection.ThresholdDB,
		"capture_delay", p.cfg.CaptureDelay(),
		"buffer_samples", p.buffer.Capacity(),
		"operating_hours", p.deps.Hours.String(),
		"file_counter", p.worker.Counter())
	_ = p.deps.Events.LogService(eventlog.ServiceStarted, "detection started") //nolint:errcheck // Event log failures are not fatal
	return nil
}

// Stop stops the source, lets the worker finish queued captures and persists
// the file counter. Stopping a stopped pipeline is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state != types.StateRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = types.StateStopping
	stop := p.stop
	p.mu.Unlock()

	var errs []error

	p.running.Store(false)
	if err := p.deps.Source.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop source: %w", err))
	}

	close(stop)
	p.wg.Wait()

	if err := p.worker.PersistCounter(); err != nil {
		errs = append(errs, fmt.Errorf("persist counter: %w", err))
	}
	p.deps.Notifier.Flush()

	saved, rejected, failed := p.worker.Stats()
	p.deps.Logger.Info("detection stopped",
		"file_counter", p.worker.Counter(),
		"triggers", p.triggers.Load(),
		"saved", saved,
		"rejected", rejected,
		"dropped", p.dropped.Load(),
		"failed", failed)
	_ = p.deps.Events.LogService(eventlog.ServiceStopped, "detection stopped") //nolint:errcheck // Event log failures are not fatal

	p.mu.Lock()
	p.state = types.StateStopped
	p.mu.Unlock()

	return errors.Join(errs...)
}

// HandleBlock is the audio callback. It must be called from one goroutine at
// a time and does not block.
func (p *Pipeline) HandleBlock(block []float32, status audio.StreamStatus) {
	if !p.running.Load() {
		return
	}

	if status != 0 {
		p.streamStatus.Store(uint32(status))
		p.deps.Metrics.StreamAnomalies.WithLabelValues(status.String()).Inc()
		p.post(notice{
			level: slog.LevelWarn,
			key:   notify.KeyStreamStatus,
			msg:   "audio stream anomaly",
			args:  []any{"status", status.String()},
		})
	}
	if len(block) == 0 {
		return
	}

	now := p.deps.Now()
	level := audio.Level(block)
	p.buffer.Write(block)
	p.level.Store(math.Float64bits(level))
	p.peak.Update(level, now)
	p.deps.Metrics.BlocksProcessed.Inc()
	p.deps.Metrics.InputLevel.Set(level)

	// The buffer is always kept current; outside operating hours only a
	// pending trigger is carried through to its capture.
	inHours := p.deps.Hours.Contains(now)
	p.inHours.Store(inHours)
	if !inHours && p.detector.State() == audio.StateIdle {
		return
	}

	ev := p.detector.Observe(level, now)
	p.detection.Store(int32(ev.State))

	if ev.JustTriggered {
		p.onTrigger(ev)
	}
	if ev.CaptureRequested {
		p.onCapture(ev, now)
	}
}

func (p *Pipeline) onTrigger(ev audio.TriggerEvent) {
	p.triggers.Add(1)
	p.lastTrigger.Store(ev.TriggerTime.UnixNano())
	p.deps.Metrics.Triggers.Inc()
	p.post(notice{
		level: slog.LevelInfo,
		msg:   "trigger",
		args:  []any{"level_db", ev.TriggerLevel, "threshold_db", p.cfg.Detection.ThresholdDB},
		event: eventlog.Trigger,
		details: &eventlog.CaptureDetails{
			LevelDB:     ev.TriggerLevel,
			ThresholdDB: p.cfg.Detection.ThresholdDB,
		},
	})
}

func (p *Pipeline) onCapture(ev audio.TriggerEvent, now time.Time) {
	snap := capture.NewSnapshot(p.buffer.Snapshot(), ev.TriggerLevel, ev.TriggerTime, now, p.format)

	if err := p.queue.TryEnqueue(snap); err != nil {
		p.dropped.Add(1)
		p.deps.Metrics.CapturesDropped.Inc()
		p.post(notice{
			level:     slog.LevelWarn,
			key:       notify.KeyQueueFull,
			msg:       "detection queue full, capture dropped",
			args:      []any{"capture_id", snap.ID, "level_db", snap.Level, "queue_capacity", p.queue.Cap()},
			event:     eventlog.CaptureDropped,
			captureID: snap.ID.String(),
			details: &eventlog.CaptureDetails{
				LevelDB:     snap.Level,
				ThresholdDB: p.cfg.Detection.ThresholdDB,
				Samples:     len(snap.Samples),
				Reason:      droppedCaptureLabel,
			},
		})
		return
	}

	p.deps.Metrics.CapturesQueued.Inc()
	p.deps.Metrics.QueueDepth.Set(float64(p.queue.Len()))
}

// post hands a notice to the housekeeping goroutine without blocking.
func (p *Pipeline) post(n notice) {
	select {
	case p.notices <- n:
	default:
		p.droppedNotices.Add(1)
	}
}

// housekeep writes out notices and refreshes gauges until stop is closed.
func (p *Pipeline) housekeep(stop <-chan struct{}) {
	ticker := time.NewTicker(housekeepingPeriod)
	defer ticker.Stop()

	for {
		select {
		case n := <-p.notices:
			p.report(n)
		case <-ticker.C:
			p.tick()
		case <-stop:
			for {
				select {
				case n := <-p.notices:
					p.report(n)
				default:
					p.tick()
					return
				}
			}
		}
	}
}

func (p *Pipeline) report(n notice) {
	if n.event != "" {
		_ = p.deps.Events.LogCapture(n.event, n.captureID, n.msg, n.details) //nolint:errcheck // Event log failures are not fatal
	}
	if n.key != "" {
		p.deps.Notifier.Notify(n.level, n.key, n.msg, n.args...)
		return
	}
	p.deps.Logger.Log(context.Background(), n.level, n.msg, n.args...)
}

func (p *Pipeline) tick() {
	p.deps.Metrics.QueueDepth.Set(float64(p.queue.Len()))
	if n := p.droppedNotices.Swap(0); n > 0 {
		p.deps.Notifier.Warn(notify.KeyNoticesDropped, "notices dropped", "count", n)
	}
}

// Status returns a point-in-time view of the pipeline.
func (p *Pipeline) Status() types.PipelineStatus {
	p.mu.Lock()
	state, startTime := p.state, p.startTime
	p.mu.Unlock()

	saved, rejected, failed := p.worker.Stats()
	status := types.PipelineStatus{
		State:         state,
		LevelDB:       displayLevel(math.Float64frombits(p.level.Load())),
		PeakDB:        p.peak.Held(),
		Detection:     audio.TriggerState(p.detection.Load()).String(),
		InHours:       p.inHours.Load(),
		QueueDepth:    p.queue.Len(),
		QueueCapacity: p.queue.Cap(),
		FileCounter:   p.worker.Counter(),
		Triggers:      p.triggers.Load(),
		Saved:         saved,
		Rejected:      rejected,
		Dropped:       p.dropped.Load(),
		Failed:        failed,
	}
	if state == types.StateRunning {
		status.Uptime = util.FormatDuration(time.Since(startTime))
	}
	if t := p.lastTrigger.Load(); t != 0 {
		status.LastTrigger = time.Unix(0, t).Format(time.RFC3339)
	}
	if s := p.streamStatus.Load(); s != 0 {
		status.StreamStatus = audio.StreamStatus(s).String() //nolint:gosec // Stored from a StreamStatus
	}
	return status
}

// displayLevel keeps levels JSON encodable.
func displayLevel(level float64) float64 {
	if math.IsNaN(level) || level < audio.MinDB {
		return audio.MinDB
	}
	return level
}
