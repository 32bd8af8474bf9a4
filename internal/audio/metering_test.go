package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func constantBlock(n int, v float32) []float32 {
	block := make([]float32, n)
	for i := range block {
		block[i] = v
	}
	return block
}

func TestLevel(t *testing.T) {
	tests := []struct {
		name     string
		block    []float32
		expected float64
		delta    float64
	}{
		{
			name:     "full_scale",
			block:    constantBlock(1024, 1.0),
			expected: 0,
			delta:    1e-6,
		},
		{
			name:     "half_scale",
			block:    constantBlock(1024, 0.5),
			expected: 20 * math.Log10(0.5),
			delta:    1e-6,
		},
		{
			name:     "minus_ten_db",
			block:    constantBlock(2048, float32(math.Pow(10, -10.0/20))),
			expected: -10,
			delta:    1e-4,
		},
		{
			name:     "digital_silence",
			block:    make([]float32, 512),
			expected: -200,
			delta:    1e-6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Level(tt.block), tt.delta)
		})
	}
}

func TestLevel_EmptyBlockIsNegativeInfinity(t *testing.T) {
	assert.True(t, math.IsInf(Level(nil), -1))
	assert.True(t, math.IsInf(Level([]float32{}), -1))
}

func TestLevel_PoolsChannels(t *testing.T) {
	// Interleaved stereo with one silent channel: RMS is amplitude / sqrt(2).
	block := make([]float32, 2048)
	for i := 0; i < len(block); i += 2 {
		block[i] = 0.5
	}
	expected := 20 * math.Log10(0.5/math.Sqrt2)
	assert.InDelta(t, expected, Level(block), 1e-6)
}

func TestRMSAndPeak(t *testing.T) {
	block := []float32{0.3, -0.4, 0.5, -0.6}

	assert.InDelta(t, math.Sqrt((0.09+0.16+0.25+0.36)/4), RMS(block), 1e-6)
	assert.InDelta(t, 0.6, Peak(block), 1e-6)
	assert.Zero(t, RMS(nil))
	assert.Zero(t, Peak(nil))
}
