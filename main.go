// Package main provides a gunshot logger that listens to a live audio input,
// keeps a rolling pre-trigger buffer and saves a WAV file of every sound that
// crosses a level threshold.
//
// Usage:
//
//	gunshot-logger [run] [--config path/to/config.json]
//	gunshot-logger simulate recording.wav [--realtime]
//	gunshot-logger devices
//	gunshot-logger version
//
// If --config is not specified, the logger looks for config.json in the same
// directory as the binary and creates it with defaults when missing.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/oszuidwest/gunshot-logger/internal/audio"
	"github.com/oszuidwest/gunshot-logger/internal/config"
	"github.com/oszuidwest/gunshot-logger/internal/logging"
	"github.com/oszuidwest/gunshot-logger/internal/util"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gunshot-logger",
		Short:         "Record loud impulsive sounds from a live audio input",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")

	run := runCommand(&configPath)
	root.RunE = run.RunE
	root.AddCommand(
		run,
		simulateCommand(&configPath),
		devicesCommand(),
		versionCommand(),
	)
	return root
}

// setup loads the configuration and installs the process logger.
func setup(configPath string) (config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		return config.Config{}, nil, nil, err
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		slog.Error("failed to open log", "error", err)
		return config.Config{}, nil, nil, err
	}
	slog.SetDefault(logger)
	logger.Info("using config file", "path", configPath, "version", Version)

	return cfg, logger, util.SafeCloseFunc(closer, "log file"), nil
}

func runCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Listen to the configured audio input until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer closeLog()

			format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
			source := audio.NewMalgoSource(format, cfg.Audio.Device, cfg.Audio.BlockFrames, logger)
			defer util.SafeCloseFunc(source, "audio source")()

			a, err := newApp(cfg, logger, source, nil)
			if err != nil {
				logger.Error("failed to create pipeline", "error", err)
				return err
			}
			if err := a.start(); err != nil {
				logger.Error("failed to start audio capture", "error", err)
				_ = a.shutdown() //nolint:errcheck // Start failure is the error reported
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), util.ShutdownSignals()...)
			defer stop()
			<-ctx.Done()

			logger.Info("shutting down")
			if err := a.shutdown(); err != nil {
				logger.Error("shutdown error", "error", err)
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}

func simulateCommand(configPath *string) *cobra.Command {
	var (
		realtime bool
		tail     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate <file.wav>",
		Short: "Replay a WAV file through the detection pipeline",
		Long: "Replay a WAV file as if it were the live input, then let pending " +
			"captures complete and exit. Captures are written like in live mode.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer closeLog()

			if tail < 0 {
				tail = cfg.CaptureDelay() + time.Second
			}
			source, err := audio.OpenWAVSource(args[0], cfg.Audio.BlockFrames,
				audio.WithRealtime(realtime),
				audio.WithTrailingSilence(tail),
				audio.WithStartTime(time.Now()))
			if err != nil {
				logger.Error("failed to open recording", "path", args[0], "error", err)
				return err
			}
			defer util.SafeCloseFunc(source, "recording")()

			a, err := newApp(cfg, logger, source, source.Clock())
			if err != nil {
				logger.Error("failed to create pipeline", "error", err)
				return err
			}
			if err := a.start(); err != nil {
				logger.Error("failed to start replay", "error", err)
				_ = a.shutdown() //nolint:errcheck // Start failure is the error reported
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), util.ShutdownSignals()...)
			defer stop()
			select {
			case <-source.Done():
			case <-ctx.Done():
				logger.Info("replay interrupted")
			}
			if err := source.Err(); err != nil {
				logger.Error("replay failed", "error", err)
			}

			status := a.pipeline.Status()
			if err := a.shutdown(); err != nil {
				logger.Error("shutdown error", "error", err)
				return err
			}
			final := a.pipeline.Status()
			logger.Info("replay complete",
				"format", fmt.Sprintf("%d Hz, %d ch", a.pipeline.Format().SampleRate, a.pipeline.Format().Channels),
				"triggers", status.Triggers,
				"saved", final.Saved,
				"rejected", final.Rejected,
				"dropped", final.Dropped,
				"failed", final.Failed,
				"file_counter", final.FileCounter)
			return source.Err()
		},
	}
	cmd.Flags().BoolVar(&realtime, "realtime", false, "Pace blocks at the recording's sample rate")
	cmd.Flags().DurationVar(&tail, "tail", -1, "Silence appended after the recording (default: capture delay + 1s)")
	return cmd
}

func devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := audio.ListDevices()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "no capture devices found")
				return nil
			}
			for _, d := range devices {
				marker := " "
				if d.Default {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\t%s\n", marker, d.Name, d.ID)
			}
			return nil
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gunshot-logger %s (commit %s, built %s)\n",
				normalizeVersion(Version), Commit, util.FormatHumanTime(BuildTime))
		},
	}
}
