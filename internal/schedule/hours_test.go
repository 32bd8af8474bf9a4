package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute, second int) time.Time {
	return time.Date(2024, 6, 1, hour, minute, second, 0, time.UTC)
}

func TestOperatingHours_DayWindow(t *testing.T) {
	h, err := New(true, "09:00", "19:00")
	require.NoError(t, err)

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"before_start", at(8, 59, 59), false},
		{"at_start", at(9, 0, 0), true},
		{"midday", at(13, 30, 0), true},
		{"at_end", at(19, 0, 0), true},
		{"after_end", at(19, 0, 1), false},
		{"night", at(2, 0, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Contains(tt.t))
		})
	}
	assert.Equal(t, "09:00-19:00", h.String())
}

func TestOperatingHours_WrapsMidnight(t *testing.T) {
	h, err := New(true, "22:00", "06:00")
	require.NoError(t, err)

	assert.True(t, h.Contains(at(23, 0, 0)))
	assert.True(t, h.Contains(at(3, 0, 0)))
	assert.False(t, h.Contains(at(12, 0, 0)))
}

func TestOperatingHours_DisabledContainsEverything(t *testing.T) {
	h, err := New(false, "bogus", "")
	require.NoError(t, err)
	assert.True(t, h.Contains(at(3, 0, 0)))
	assert.Equal(t, "always", h.String())

	var nilHours *OperatingHours
	assert.True(t, nilHours.Contains(at(3, 0, 0)))
}

func TestNew_RejectsInvalidClock(t *testing.T) {
	_, err := New(true, "9am", "19:00")
	assert.Error(t, err)
	_, err = New(true, "09:00", "25:00")
	assert.Error(t, err)
}
