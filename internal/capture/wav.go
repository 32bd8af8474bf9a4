package capture

import (
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/oszuidwest/gunshot-logger/internal/audio"
	"github.com/oszuidwest/gunshot-logger/internal/util"
)

const (
	bitDepth   = 16
	pcm16Scale = 32767
)

// ToPCM16 converts interleaved float samples to 16-bit PCM values. Trailing
// samples that do not complete a frame are dropped, values are clipped to
// [-1, 1] and NaN becomes silence.
func ToPCM16(samples []float32, channels int) []int {
	channels = max(channels, 1)
	frames := len(samples) / channels
	out := make([]int, frames*channels)
	for i := range out {
		v := float64(samples[i])
		switch {
		case math.IsNaN(v):
			v = 0
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		out[i] = int(v * pcm16Scale)
	}
	return out
}

// WritePCM16WAV encodes samples as a 16-bit PCM WAV stream.
func WritePCM16WAV(w io.WriteSeeker, samples []float32, format audio.Format) error {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return fmt.Errorf("invalid audio format: %d Hz, %d channels", format.SampleRate, format.Channels)
	}

	enc := wav.NewEncoder(w, format.SampleRate, bitDepth, format.Channels, 1)
	buf := &goaudio.IntBuffer{
		Data:           ToPCM16(samples, format.Channels),
		Format:         &goaudio.Format{SampleRate: format.SampleRate, NumChannels: format.Channels},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return util.WrapError("encode wav", err)
	}
	if err := enc.Close(); err != nil {
		return util.WrapError("finalize wav", err)
	}
	return nil
}

// WriteWAVFile creates path and writes samples to it. A failed write may
// leave a partial file behind.
func WriteWAVFile(path string, samples []float32, format audio.Format) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, util.WrapError("create capture file", err)
	}

	if err := WritePCM16WAV(f, samples, format); err != nil {
		_ = f.Close()
		return 0, err
	}

	info, statErr := f.Stat()
	if err := f.Close(); err != nil {
		return 0, util.WrapError("close capture file", err)
	}
	if statErr != nil {
		return 0, nil //nolint:nilerr // Size is informational only
	}
	return info.Size(), nil
}
