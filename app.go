package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oszuidwest/gunshot-logger/internal/audio"
	"github.com/oszuidwest/gunshot-logger/internal/config"
	"github.com/oszuidwest/gunshot-logger/internal/eventlog"
	"github.com/oszuidwest/gunshot-logger/internal/metrics"
	"github.com/oszuidwest/gunshot-logger/internal/notify"
	"github.com/oszuidwest/gunshot-logger/internal/pipeline"
	"github.com/oszuidwest/gunshot-logger/internal/schedule"
	"github.com/oszuidwest/gunshot-logger/internal/state"
	"github.com/oszuidwest/gunshot-logger/internal/storage"
)

const shutdownTimeout = 30 * time.Second

// app owns the long-lived components and their start and shutdown order.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	events   *eventlog.Logger
	metrics  *metrics.Metrics
	limiter  *notify.RateLimiter
	mirror   *storage.Mirror
	pipeline *pipeline.Pipeline
	version  *VersionChecker
	monitor  *Server
	http     *http.Server
}

// newApp builds the detection pipeline around source. now is the pipeline
// clock; nil means wall time.
func newApp(cfg config.Config, logger *slog.Logger, source audio.Source, now func() time.Time) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		limiter: notify.NewRateLimiter(logger, cfg.ErrorCooldown()),
		version: NewVersionChecker(logger),
	}

	if cfg.EventLog.Path != "" {
		events, err := eventlog.NewLogger(cfg.EventLog.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log: %w", err)
		}
		a.events = events
	}

	hours, err := schedule.New(cfg.Schedule.Enabled, cfg.Schedule.Start, cfg.Schedule.End)
	if err != nil {
		a.closeEvents()
		return nil, err
	}

	deps := pipeline.Deps{
		Source:   source,
		Counter:  state.NewCounterStore(cfg.Storage.StateFile, logger),
		Target:   storage.NewLocator(cfg.Storage.MountPrefix, cfg.Storage.FallbackDir, a.limiter),
		Notifier: a.limiter,
		Events:   a.events,
		Metrics:  a.metrics,
		Hours:    hours,
		Logger:   logger,
		Now:      now,
	}

	if cfg.S3.Enabled {
		mirror, err := storage.NewMirror(storage.MirrorConfig{
			Endpoint:        cfg.S3.Endpoint,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Region:          cfg.S3.Region,
		}, a.limiter, a.events, a.metrics)
		if err != nil {
			a.closeEvents()
			return nil, err
		}
		a.mirror = mirror
		deps.Uploader = mirror
	}

	p, err := pipeline.New(cfg, deps)
	if err != nil {
		a.closeEvents()
		return nil, err
	}
	a.pipeline = p
	return a, nil
}

// start starts the mirror, the pipeline and the optional monitor server.
func (a *app) start() error {
	if a.mirror != nil {
		a.mirror.Start()
	}
	if err := a.pipeline.Start(); err != nil {
		if a.mirror != nil {
			a.mirror.Stop()
		}
		return err
	}

	if a.cfg.VersionCheck.Enabled {
		a.version.Start()
	}
	if a.cfg.Monitor.Enabled {
		a.monitor = NewServer(a.pipeline, a.metrics, a.cfg.EventLog.Path, a.version, a.logger)
		a.http = a.monitor.Start(a.cfg.Monitor.Listen)
	}
	return nil
}

// shutdown stops everything in reverse dependency order: the monitor, the
// pipeline (which drains the capture queue), then the upload mirror.
func (a *app) shutdown() error {
	var errs []error

	if a.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown monitor: %w", err))
		}
		cancel()
	}

	a.version.Stop()

	if err := a.pipeline.Stop(); err != nil {
		errs = append(errs, err)
	}
	if a.mirror != nil {
		a.mirror.Stop()
	}
	a.limiter.Flush()

	if err := a.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event log: %w", err))
	}
	return errors.Join(errs...)
}

func (a *app) closeEvents() {
	if err := a.events.Close(); err != nil {
		a.logger.Warn("failed to close event log", "error", err)
	}
}
