// Package schedule restricts detection to daily operating hours.
package schedule

import (
	"fmt"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// OperatingHours is a daily window, inclusive at both ends. A window whose
// end is before its start wraps past midnight. A nil or disabled window
// contains every instant.
type OperatingHours struct {
	enabled bool
	start   int // seconds since midnight
	end     int
}

// ParseClock parses an HH:MM time of day into seconds since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return t.Hour()*3600 + t.Minute()*60, nil
}

// New returns operating hours between start and end, given as HH:MM.
func New(enabled bool, start, end string) (*OperatingHours, error) {
	if !enabled {
		return &OperatingHours{}, nil
	}
	s, err := ParseClock(start)
	if err != nil {
		return nil, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return nil, err
	}
	return &OperatingHours{enabled: true, start: s, end: e}, nil
}

// Enabled reports whether the window restricts detection.
func (h *OperatingHours) Enabled() bool {
	return h != nil && h.enabled
}

// Contains reports whether t falls inside the window, using t's location.
func (h *OperatingHours) Contains(t time.Time) bool {
	if !h.Enabled() {
		return true
	}
	now := (t.Hour()*3600 + t.Minute()*60 + t.Second()) % secondsPerDay
	if h.start <= h.end {
		return now >= h.start && now <= h.end
	}
	return now >= h.start || now <= h.end
}

// String returns the window as "HH:MM-HH:MM", or "always" when disabled.
func (h *OperatingHours) String() string {
	if !h.Enabled() {
		return "always"
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d", h.start/3600, h.start%3600/60, h.end/3600, h.end%3600/60)
}
