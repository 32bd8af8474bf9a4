package capture

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/oszuidwest/gunshot-logger/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFormat = audio.Format{SampleRate: 48000, Channels: 2}

func TestToPCM16(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		channels int
		want     []int
	}{
		{
			name:     "scales_and_truncates",
			samples:  []float32{0, 0.5, -0.5, 1},
			channels: 2,
			want:     []int{0, 16383, -16383, 32767},
		},
		{
			name:     "clips",
			samples:  []float32{1.5, -2},
			channels: 1,
			want:     []int{32767, -32767},
		},
		{
			name:     "drops_partial_frame",
			samples:  []float32{0.1, 0.2, 0.3},
			channels: 2,
			want:     []int{3276, 6553},
		},
		{
			name:     "nan_is_silence",
			samples:  []float32{float32(math.NaN())},
			channels: 1,
			want:     []int{0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToPCM16(tt.samples, tt.channels))
		})
	}
}

func TestWriteWAVFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gunshot_001.wav")
	samples := []float32{0.25, -0.25, 0.5, -0.5, 0.75, -0.75, 0.1}

	size, err := WriteWAVFile(path, samples, testFormat)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, size, int64(44+6*2))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint32(48000), dec.SampleRate)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)

	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, []int{8191, -8191, 16383, -16383, 24575, -24575}, buf.Data)
}

func TestWriteWAVFile_MissingDirectory(t *testing.T) {
	_, err := WriteWAVFile(filepath.Join(t.TempDir(), "missing", "x.wav"), []float32{0.1, 0.1}, testFormat)
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "gunshot_001.wav", FileName("gunshot", 1))
	assert.Equal(t, "gunshot_042.wav", FileName("gunshot", 42))
	assert.Equal(t, "capture_1234.wav", FileName("capture", 1234))
}
