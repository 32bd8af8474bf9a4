// Package config provides application configuration management.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oszuidwest/gunshot-logger/internal/schedule"
	"github.com/oszuidwest/gunshot-logger/internal/types"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g. GUNSHOT_DETECTION_THRESHOLD_DB.
const EnvPrefix = "GUNSHOT"

// Configuration defaults are used when values are not specified.
const (
	DefaultSampleRate           = 48000
	DefaultChannels             = 2
	DefaultBlockFrames          = 1024
	DefaultBufferSeconds        = 2.0
	DefaultThresholdDB          = -15.0
	DefaultCaptureDelaySeconds  = 2.0
	DefaultQueueCapacity        = 8
	DefaultDequeueTimeoutMs     = 1000
	DefaultSilenceFloor         = 1e-4
	DefaultAmplitudeFloor       = 1e-3
	DefaultMountPrefix          = "/media/pi"
	DefaultCaptureDir           = "gunshots"
	DefaultFilePrefix           = "gunshot"
	DefaultStateFile            = "gunshot_state.json"
	DefaultErrorCooldownSeconds = 60.0
	DefaultScheduleStart        = "09:00"
	DefaultScheduleEnd          = "19:00"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultLogFile              = "gunshot_detection.log"
	DefaultMonitorListen        = ":8080"
	DefaultS3Region             = "auto"
)

// AudioConfig holds audio input settings.
type AudioConfig struct {
	SampleRate  int    `mapstructure:"sample_rate" json:"sample_rate" validate:"gte=8000,lte=192000"`
	Channels    int    `mapstructure:"channels" json:"channels" validate:"gte=1,lte=8"`
	Device      string `mapstructure:"device" json:"device"` // Capture device name; empty selects the default input
	BlockFrames int    `mapstructure:"block_frames" json:"block_frames" validate:"gte=64,lte=16384"`
}

// BufferConfig holds the rolling pre-trigger buffer settings.
type BufferConfig struct {
	DurationSeconds float64 `mapstructure:"duration_seconds" json:"duration_seconds" validate:"gt=0,lte=60"`
}

// DetectionConfig holds trigger detection settings.
type DetectionConfig struct {
	ThresholdDB         float64 `mapstructure:"threshold_db" json:"threshold_db" validate:"gte=-120,lte=0"`
	CaptureDelaySeconds float64 `mapstructure:"capture_delay_seconds" json:"capture_delay_seconds" validate:"gte=0,lte=60"`
}

// QueueConfig holds detection queue settings.
type QueueConfig struct {
	Capacity         int `mapstructure:"capacity" json:"capacity" validate:"gte=1,lte=1024"`
	DequeueTimeoutMs int `mapstructure:"dequeue_timeout_ms" json:"dequeue_timeout_ms" validate:"gte=10,lte=60000"`
}

// ValidationConfig holds the floors a capture must reach to be saved.
type ValidationConfig struct {
	SilenceFloor   float64 `mapstructure:"silence_floor" json:"silence_floor" validate:"gte=0,lte=1"`
	AmplitudeFloor float64 `mapstructure:"amplitude_floor" json:"amplitude_floor" validate:"gte=0,lte=1"`
}

// StorageConfig holds capture file locations.
type StorageConfig struct {
	MountPrefix string `mapstructure:"mount_prefix" json:"mount_prefix"` // Removable media mount root
	CaptureDir  string `mapstructure:"capture_dir" json:"capture_dir" validate:"required,excludesall=\\"`
	FallbackDir string `mapstructure:"fallback_dir" json:"fallback_dir"` // Used when no removable media is mounted
	FilePrefix  string `mapstructure:"file_prefix" json:"file_prefix" validate:"required,excludesall=/\\"`
	StateFile   string `mapstructure:"state_file" json:"state_file" validate:"required"`
}

// NotifyConfig holds rate limiting settings for operator notifications.
type NotifyConfig struct {
	ErrorCooldownSeconds float64 `mapstructure:"error_cooldown_seconds" json:"error_cooldown_seconds" validate:"gte=0"`
}

// ScheduleConfig holds daily operating hours.
type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Start   string `mapstructure:"start" json:"start" validate:"clock"`
	End     string `mapstructure:"end" json:"end" validate:"clock"`
}

// LoggingConfig holds application log settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" json:"format" validate:"oneof=text json"`
	File   string `mapstructure:"file" json:"file"` // Empty logs to stdout only
}

// EventLogConfig holds the structured event log location.
type EventLogConfig struct {
	Path string `mapstructure:"path" json:"path"` // Empty disables the event log
}

// MonitorConfig holds the status and metrics HTTP server settings.
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Listen  string `mapstructure:"listen" json:"listen" validate:"required_if=Enabled true"`
}

// S3Config holds settings for mirroring captures to object storage.
type S3Config struct {
	Enabled         bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint        string `mapstructure:"endpoint" json:"endpoint" validate:"omitempty,url"`
	Bucket          string `mapstructure:"bucket" json:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `mapstructure:"prefix" json:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id" json:"access_key_id" validate:"required_if=Enabled true"`
	SecretAccessKey string `mapstructure:"secret_access_key" json:"secret_access_key" validate:"required_if=Enabled true"`
	Region          string `mapstructure:"region" json:"region"`
}

// VersionCheckConfig controls the periodic release check.
type VersionCheckConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// Config holds all application configuration.
type Config struct {
	Audio        AudioConfig        `mapstructure:"audio" json:"audio"`
	Buffer       BufferConfig       `mapstructure:"buffer" json:"buffer"`
	Detection    DetectionConfig    `mapstructure:"detection" json:"detection"`
	Queue        QueueConfig        `mapstructure:"queue" json:"queue"`
	Validation   ValidationConfig   `mapstructure:"validation" json:"validation"`
	Storage      StorageConfig      `mapstructure:"storage" json:"storage"`
	Notify       NotifyConfig       `mapstructure:"notify" json:"notify"`
	Schedule     ScheduleConfig     `mapstructure:"schedule" json:"schedule"`
	Logging      LoggingConfig      `mapstructure:"logging" json:"logging"`
	EventLog     EventLogConfig     `mapstructure:"eventlog" json:"eventlog"`
	Monitor      MonitorConfig      `mapstructure:"monitor" json:"monitor"`
	S3           S3Config           `mapstructure:"s3" json:"s3"`
	VersionCheck VersionCheckConfig `mapstructure:"version_check" json:"version_check"`
}

// defaults lists every key with its default value. Registering each key also
// lets environment variables override keys that are absent from the file.
var defaults = map[string]any{
	"audio.sample_rate":               DefaultSampleRate,
	"audio.channels":                  DefaultChannels,
	"audio.device":                    "",
	"audio.block_frames":              DefaultBlockFrames,
	"buffer.duration_seconds":         DefaultBufferSeconds,
	"detection.threshold_db":          DefaultThresholdDB,
	"detection.capture_delay_seconds": DefaultCaptureDelaySeconds,
	"queue.capacity":                  DefaultQueueCapacity,
	"queue.dequeue_timeout_ms":        DefaultDequeueTimeoutMs,
	"validation.silence_floor":        DefaultSilenceFloor,
	"validation.amplitude_floor":      DefaultAmplitudeFloor,
	"storage.mount_prefix":            DefaultMountPrefix,
	"storage.capture_dir":             DefaultCaptureDir,
	"storage.fallback_dir":            "",
	"storage.file_prefix":             DefaultFilePrefix,
	"storage.state_file":              DefaultStateFile,
	"notify.error_cooldown_seconds":   DefaultErrorCooldownSeconds,
	"schedule.enabled":                false,
	"schedule.start":                  DefaultScheduleStart,
	"schedule.end":                    DefaultScheduleEnd,
	"logging.level":                   DefaultLogLevel,
	"logging.format":                  DefaultLogFormat,
	"logging.file":                    DefaultLogFile,
	"eventlog.path":                   "",
	"monitor.enabled":                 false,
	"monitor.listen":                  DefaultMonitorListen,
	"s3.enabled":                      false,
	"s3.endpoint":                     "",
	"s3.bucket":                       "",
	"s3.prefix":                       "",
	"s3.access_key_id":                "",
	"s3.secret_access_key":            "",
	"s3.region":                       DefaultS3Region,
	"version_check.enabled":           false,
}

// newViper returns a viper instance with defaults and environment overrides registered.
func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the configuration with every default applied.
func Default() Config {
	cfg, err := decode(newViper())
	if err != nil {
		// Defaults are static; a decode failure is a programming error.
		panic(err)
	}
	return cfg
}

// Load reads configuration from path (JSON or YAML, by extension), applies
// defaults and environment overrides, and validates the result. A missing
// file is created with the defaults.
func Load(path string) (Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("failed to read config: %w", err)
			}
			writeDefaults(v, path)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// writeDefaults saves the default configuration so operators have a file to edit.
func writeDefaults(v *viper.Viper, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Warn("failed to create config directory", "path", path, "error", err)
		return
	}
	if err := v.SafeWriteConfigAs(path); err != nil {
		slog.Warn("failed to write default config", "path", path, "error", err)
		return
	}
	slog.Info("created default config", "path", path)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// validate is the shared validator instance for configuration validation.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use config key names in error messages instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	if err := validate.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := schedule.ParseClock(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
}

// Validate checks all configuration fields and returns a *types.ValidationError on failure.
func (c Config) Validate() error {
	verr := types.NewValidationError()

	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, e := range validationErrors {
				verr.Add(fieldPath(e.Namespace()), formatValidationMessage(e), e.Value())
			}
		} else {
			verr.Add("", err.Error(), nil)
		}
	}

	if c.BufferCapacity() < c.Audio.BlockFrames*c.Audio.Channels {
		verr.Add("buffer.duration_seconds", "must hold at least one audio block", c.Buffer.DurationSeconds)
	}
	if c.Storage.MountPrefix == "" && c.Storage.FallbackDir == "" {
		verr.Add("storage", "mount_prefix or fallback_dir is required", nil)
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "clock":
		return "must be a time of day as HH:MM"
	case "excludesall":
		return "must not contain path separators"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// BufferCapacity returns the rolling buffer size in interleaved samples, rounded to whole frames.
func (c Config) BufferCapacity() int {
	frames := int(math.Round(c.Buffer.DurationSeconds * float64(c.Audio.SampleRate)))
	return frames * c.Audio.Channels
}

// CaptureDelay returns the post-trigger capture delay.
func (c Config) CaptureDelay() time.Duration {
	return secondsToDuration(c.Detection.CaptureDelaySeconds)
}

// DequeueTimeout returns the worker's queue wait.
func (c Config) DequeueTimeout() time.Duration {
	return time.Duration(c.Queue.DequeueTimeoutMs) * time.Millisecond
}

// ErrorCooldown returns the per-key notification cooldown.
func (c Config) ErrorCooldown() time.Duration {
	return secondsToDuration(c.Notify.ErrorCooldownSeconds)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DefaultPath returns the config file location next to the executable.
func DefaultPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(filepath.Dir(exe), "config.json")
}
