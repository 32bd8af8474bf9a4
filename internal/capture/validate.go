package capture

import (
	"errors"
	"fmt"

	"github.com/oszuidwest/gunshot-logger/internal/audio"
)

// Validation failures. Each is reported under its own notification key.
var (
	ErrEmptyCapture        = errors.New("capture is empty")
	ErrSilentCapture       = errors.New("capture is all zeros")
	ErrBelowSilenceFloor   = errors.New("capture RMS below silence floor")
	ErrBelowAmplitudeFloor = errors.New("capture peak below amplitude floor")
)

// Floors are the minimum signal levels a capture must reach to be persisted.
type Floors struct {
	SilenceRMS float64 // minimum RMS over the whole capture
	Amplitude  float64 // minimum absolute peak
}

// Validate checks that samples contain usable audio. Checks run in order:
// empty, all zeros, RMS floor, peak floor.
func Validate(samples []float32, floors Floors) error {
	if len(samples) == 0 {
		return ErrEmptyCapture
	}

	allZero := true
	for _, s := range samples {
		if s != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return ErrSilentCapture
	}

	if rms := audio.RMS(samples); rms < floors.SilenceRMS {
		return fmt.Errorf("%w: rms %.2e < %.2e", ErrBelowSilenceFloor, rms, floors.SilenceRMS)
	}
	if peak := audio.Peak(samples); peak < floors.Amplitude {
		return fmt.Errorf("%w: peak %.2e < %.2e", ErrBelowAmplitudeFloor, peak, floors.Amplitude)
	}
	return nil
}

// RejectReason returns a short label for a validation error.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCapture):
		return "empty"
	case errors.Is(err, ErrSilentCapture):
		return "silent"
	case errors.Is(err, ErrBelowSilenceFloor):
		return "below_silence_floor"
	case errors.Is(err, ErrBelowAmplitudeFloor):
		return "below_amplitude_floor"
	default:
		return "invalid"
	}
}
