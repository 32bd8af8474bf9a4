package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/oszuidwest/gunshot-logger/internal/util"
)

// WAVSource replays a PCM WAV file as a stream of float32 blocks. Blocks are
// delivered as fast as possible unless realtime pacing is enabled; in both
// cases Clock reports media time so detection timing matches the recording.
type WAVSource struct {
	path        string
	blockFrames int
	realtime    bool
	padding     time.Duration
	start       time.Time

	file    *os.File
	decoder *wav.Decoder
	format  Format
	divisor float64

	delivered atomic.Int64 // frames handed to the handler

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

// WAVOption configures a WAVSource.
type WAVOption func(*WAVSource)

// WithRealtime paces delivery at the file's sample rate.
func WithRealtime(enabled bool) WAVOption {
	return func(s *WAVSource) { s.realtime = enabled }
}

// WithTrailingSilence appends d of digital silence after the file ends.
func WithTrailingSilence(d time.Duration) WAVOption {
	return func(s *WAVSource) { s.padding = d }
}

// WithStartTime sets the wall-clock time that corresponds to the first sample.
func WithStartTime(t time.Time) WAVOption {
	return func(s *WAVSource) { s.start = t }
}

// OpenWAVSource opens a 16, 24 or 32-bit PCM WAV file for replay.
func OpenWAVSource(path string, blockFrames int, opts ...WAVOption) (*WAVSource, error) {
	if blockFrames < 1 {
		return nil, fmt.Errorf("block frames must be positive, got %d", blockFrames)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, util.WrapError("open wav file", err)
	}

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is not a valid WAV file", path)
	}
	switch decoder.BitDepth {
	case 16, 24, 32:
	default:
		_ = f.Close()
		return nil, fmt.Errorf("unsupported bit depth: %d", decoder.BitDepth)
	}

	s := &WAVSource{
		path:        path,
		blockFrames: blockFrames,
		start:       time.Now(),
		file:        f,
		decoder:     decoder,
		format:      Format{SampleRate: int(decoder.SampleRate), Channels: int(decoder.NumChans)},
		divisor:     float64(int64(1) << (decoder.BitDepth - 1)),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Format returns the file's sample layout.
func (s *WAVSource) Format() Format {
	return s.format
}

// Clock returns a clock that reports the media time of the most recently delivered block.
func (s *WAVSource) Clock() func() time.Time {
	return func() time.Time {
		frames := s.delivered.Load()
		return s.start.Add(time.Duration(frames) * time.Second / time.Duration(s.format.SampleRate))
	}
}

// Start begins replay on a new goroutine.
func (s *WAVSource) Start(handler BlockHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSourceRunning
	}
	s.started = true
	go s.run(handler)
	return nil
}

// Done is closed when replay finishes or is stopped.
func (s *WAVSource) Done() <-chan struct{} {
	return s.done
}

// Err returns the decode error that ended replay, if any.
func (s *WAVSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop halts replay and waits for the delivery goroutine to exit.
func (s *WAVSource) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
	return nil
}

// Close stops replay and closes the file.
func (s *WAVSource) Close() error {
	_ = s.Stop()
	return s.file.Close()
}

func (s *WAVSource) run(handler BlockHandler) {
	defer close(s.done)

	channels := s.format.Channels
	buf := &goaudio.IntBuffer{
		Data:   make([]int, s.blockFrames*channels),
		Format: &goaudio.Format{SampleRate: s.format.SampleRate, NumChannels: channels},
	}
	block := make([]float32, len(buf.Data))

	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(s.format.Duration(len(block)))
		defer ticker.Stop()
	}

	emit := func(n int) bool {
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.stopCh:
				return false
			}
		} else {
			select {
			case <-s.stopCh:
				return false
			default:
			}
		}
		s.delivered.Add(int64(n / channels))
		handler(block[:n], 0)
		return true
	}

	for {
		n, err := s.decoder.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			s.mu.Lock()
			s.err = util.WrapError("decode wav", err)
			s.mu.Unlock()
			return
		}
		if n == 0 {
			break
		}
		for i, v := range buf.Data[:n] {
			block[i] = float32(float64(v) / s.divisor)
		}
		if !emit(n) {
			return
		}
	}

	remaining := int(s.padding.Seconds()*float64(s.format.SampleRate)) * channels
	clear(block)
	for remaining > 0 {
		n := min(remaining, len(block))
		if !emit(n) {
			return
		}
		remaining -= n
	}
}
