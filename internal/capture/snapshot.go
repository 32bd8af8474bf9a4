// Package capture hands detection snapshots from the audio producer to the
// persistence worker, which validates them and writes them as WAV files.
package capture

import (
	"time"

	"github.com/google/uuid"
	"github.com/oszuidwest/gunshot-logger/internal/audio"
)

// Snapshot is an immutable copy of the rolling buffer taken when a trigger's
// capture delay elapsed. It owns its samples.
type Snapshot struct {
	ID          uuid.UUID
	Samples     []float32 // interleaved, oldest first
	Level       float64   // dBFS level of the block that caused the trigger
	TriggeredAt time.Time
	CapturedAt  time.Time
	Format      audio.Format
}

// NewSnapshot creates a snapshot with a fresh identifier. samples must not be
// shared with the caller after the call.
func NewSnapshot(samples []float32, level float64, triggeredAt, capturedAt time.Time, format audio.Format) Snapshot {
	return Snapshot{
		ID:          uuid.New(),
		Samples:     samples,
		Level:       level,
		TriggeredAt: triggeredAt,
		CapturedAt:  capturedAt,
		Format:      format,
	}
}

// Duration returns the audio duration of the snapshot.
func (s Snapshot) Duration() time.Duration {
	return s.Format.Duration(len(s.Samples))
}
