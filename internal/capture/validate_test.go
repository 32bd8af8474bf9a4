package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testFloors = Floors{SilenceRMS: 1e-4, Amplitude: 1e-3}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		wantErr error
		reason  string
	}{
		{
			name:    "empty",
			samples: nil,
			wantErr: ErrEmptyCapture,
			reason:  "empty",
		},
		{
			name:    "all_zeros",
			samples: make([]float32, 1000),
			wantErr: ErrSilentCapture,
			reason:  "silent",
		},
		{
			name:    "below_silence_floor",
			samples: append(make([]float32, 9999), 0.005),
			wantErr: ErrBelowSilenceFloor,
			reason:  "below_silence_floor",
		},
		{
			name:    "below_amplitude_floor",
			samples: []float32{0.0005, -0.0005, 0.0005, -0.0005},
			wantErr: ErrBelowAmplitudeFloor,
			reason:  "below_amplitude_floor",
		},
		{
			name:    "valid",
			samples: []float32{0.3, -0.4, 0.5, -0.6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.samples, testFloors)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.reason, RejectReason(err))
		})
	}
}

func TestValidate_ZeroFloorsAcceptAnyNonZeroSignal(t *testing.T) {
	assert.NoError(t, Validate([]float32{0, 1e-9}, Floors{}))
}
