package audio

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNoAudioDevice is returned when no matching capture device is available.
	ErrNoAudioDevice = errors.New("no audio input device found")
	// ErrSourceRunning is returned when Start is called on a source that is already delivering blocks.
	ErrSourceRunning = errors.New("audio source already running")
)

// Format describes the interleaved float32 sample layout delivered by a Source.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// SamplesPerSecond returns the number of interleaved samples in one second of audio.
func (f Format) SamplesPerSecond() int {
	return f.SampleRate * f.Channels
}

// Duration returns the playback duration of n interleaved samples.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := n / f.Channels
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Device represents an available audio input device.
type Device struct {
	// ID is the driver-specific device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
	// Default reports whether this is the system default input.
	Default bool `json:"default,omitzero"`
}

// StreamStatus is a bitmask of driver-reported anomalies for a delivered block.
type StreamStatus uint8

const (
	// StatusInputOverflow indicates the driver dropped input before it was delivered.
	StatusInputOverflow StreamStatus = 1 << iota
	// StatusInputUnderflow indicates the driver delivered fewer samples than requested.
	StatusInputUnderflow
	// StatusDeviceStopped indicates the device stopped without being asked to.
	StatusDeviceStopped
)

// String returns a comma separated list of the set flags.
func (s StreamStatus) String() string {
	if s == 0 {
		return "ok"
	}
	var parts []string
	if s&StatusInputOverflow != 0 {
		parts = append(parts, "input_overflow")
	}
	if s&StatusInputUnderflow != 0 {
		parts = append(parts, "input_underflow")
	}
	if s&StatusDeviceStopped != 0 {
		parts = append(parts, "device_stopped")
	}
	return strings.Join(parts, ",")
}
