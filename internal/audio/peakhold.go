package audio

import (
	"math"
	"sync"
	"time"
)

// DefaultPeakHoldDuration is how long a peak level is held before it may fall.
const DefaultPeakHoldDuration = 3000 * time.Millisecond

// MinDB is the floor reported for silence by level displays.
const MinDB = -96.0

// PeakHolder holds the loudest recent block level for display.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	held         float64
	heldAt       time.Time
	holdDuration time.Duration
}

// NewPeakHolder creates a peak holder at the floor with the default hold duration.
func NewPeakHolder() *PeakHolder {
	return &PeakHolder{
		held:         MinDB,
		holdDuration: DefaultPeakHoldDuration,
	}
}

// Update records a block level and returns the held level.
func (p *PeakHolder) Update(level float64, now time.Time) float64 {
	if math.IsNaN(level) || level < MinDB {
		level = MinDB
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if level >= p.held || now.Sub(p.heldAt) > p.holdDuration {
		p.held = level
		p.heldAt = now
	}
	return p.held
}

// Held returns the held level without recording a new one.
func (p *PeakHolder) Held() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// SetHoldDuration updates the hold duration.
func (p *PeakHolder) SetHoldDuration(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdDuration = d
}

// Reset returns the held level to the floor.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = MinDB
	p.heldAt = time.Time{}
}
