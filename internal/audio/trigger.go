package audio

import (
	"math"
	"time"
)

// TriggerState is the detection state of a TriggerDetector.
type TriggerState int32

const (
	// StateIdle waits for a block above the threshold.
	StateIdle TriggerState = iota
	// StateTriggered waits for the capture delay to elapse.
	StateTriggered
)

// String returns the lowercase state name.
func (s TriggerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTriggered:
		return "triggered"
	default:
		return "unknown"
	}
}

// TriggerConfig holds the detection threshold and post-trigger capture delay.
type TriggerConfig struct {
	ThresholdDB  float64       // block level in dBFS that must be exceeded
	CaptureDelay time.Duration // time after the trigger before the capture is taken
}

// TriggerEvent is the result of observing one block level.
type TriggerEvent struct {
	State TriggerState // state after the observation
	Level float64      // observed block level in dBFS

	// State transitions
	JustTriggered    bool      // the level exceeded the threshold while idle
	CaptureRequested bool      // the capture delay elapsed; the caller should snapshot the buffer
	TriggerTime      time.Time // trigger timestamp (set on JustTriggered and CaptureRequested)
	TriggerLevel     float64   // level that caused the trigger (set on JustTriggered and CaptureRequested)
}

// TriggerDetector is a two-state threshold detector. Each trigger produces
// exactly one capture request once the capture delay has elapsed; levels
// observed while triggered do not restart the delay.
//
// It is driven by the audio producer and is not safe for concurrent use.
type TriggerDetector struct {
	cfg          TriggerConfig
	state        TriggerState
	triggerTime  time.Time
	triggerLevel float64
}

// NewTriggerDetector creates a detector in the idle state.
func NewTriggerDetector(cfg TriggerConfig) *TriggerDetector {
	return &TriggerDetector{cfg: cfg}
}

// Observe advances the state machine with the level of the latest block.
func (d *TriggerDetector) Observe(level float64, now time.Time) TriggerEvent {
	event := TriggerEvent{Level: level}

	switch d.state {
	case StateIdle:
		if !math.IsNaN(level) && level > d.cfg.ThresholdDB {
			d.state = StateTriggered
			d.triggerTime = now
			d.triggerLevel = level
			event.JustTriggered = true
			event.TriggerTime = now
			event.TriggerLevel = level
		}
	case StateTriggered:
		if now.Sub(d.triggerTime) >= d.cfg.CaptureDelay {
			event.CaptureRequested = true
			event.TriggerTime = d.triggerTime
			event.TriggerLevel = d.triggerLevel
			d.state = StateIdle
			d.triggerTime = time.Time{}
			d.triggerLevel = 0
		}
	}

	event.State = d.state
	return event
}

// State returns the current detection state.
func (d *TriggerDetector) State() TriggerState {
	return d.state
}

// TriggerTime returns the pending trigger timestamp, or the zero time when idle.
func (d *TriggerDetector) TriggerTime() time.Time {
	return d.triggerTime
}

// Reset returns the detector to idle and discards any pending trigger.
func (d *TriggerDetector) Reset() {
	d.state = StateIdle
	d.triggerTime = time.Time{}
	d.triggerLevel = 0
}
