package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/oszuidwest/gunshot-logger/internal/util"
)

// MalgoSource captures live audio from a miniaudio input device as float32 samples.
// It is safe for concurrent use.
type MalgoSource struct {
	format      Format
	deviceName  string
	blockFrames int
	logger      *slog.Logger

	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	stopping bool

	samples []float32 // decode buffer, reused across callbacks
}

// NewMalgoSource returns a source for the named capture device. An empty
// name selects the system default input.
func NewMalgoSource(format Format, deviceName string, blockFrames int, logger *slog.Logger) *MalgoSource {
	return &MalgoSource{
		format:      format,
		deviceName:  deviceName,
		blockFrames: blockFrames,
		logger:      logger,
		samples:     make([]float32, blockFrames*format.Channels),
	}
}

// Format returns the configured sample layout.
func (s *MalgoSource) Format() Format {
	return s.format
}

// Start opens the capture device and begins delivering blocks to handler.
func (s *MalgoSource) Start(handler BlockHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return ErrSourceRunning
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		s.logger.Debug("audio driver", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return util.WrapError("initialize audio context", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(s.format.Channels) //nolint:gosec // Channels is validated by config
	cfg.SampleRate = uint32(s.format.SampleRate)     //nolint:gosec // SampleRate is validated by config
	cfg.PeriodSizeInFrames = uint32(s.blockFrames)   //nolint:gosec // BlockFrames is validated by config
	cfg.Alsa.NoMMap = 1

	if s.deviceName != "" {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			freeContext(ctx)
			return util.WrapError("list capture devices", err)
		}
		info, ok := selectDevice(infos, s.deviceName)
		if !ok {
			freeContext(ctx)
			return ErrNoAudioDevice
		}
		cfg.Capture.DeviceID = info.ID.Pointer()
		s.logger.Info("using audio input device", "device", info.Name())
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.samples = decodeF32(s.samples, input)
			handler(s.samples, 0)
		},
		Stop: func() {
			s.mu.Lock()
			stopping := s.stopping
			s.mu.Unlock()
			if !stopping {
				handler(nil, StatusDeviceStopped)
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		freeContext(ctx)
		return util.WrapError("initialize capture device", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(ctx)
		return util.WrapError("start capture device", err)
	}

	s.ctx = ctx
	s.device = device
	s.stopping = false
	return nil
}

// Stop halts capture and releases the device.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	if s.device == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	device, ctx := s.device, s.ctx
	s.device, s.ctx = nil, nil
	s.mu.Unlock()

	// The stop callback takes mu, so the device must be stopped unlocked.
	err := device.Stop()
	device.Uninit()
	freeContext(ctx)
	return util.WrapError("stop capture device", err)
}

// Close stops the source.
func (s *MalgoSource) Close() error {
	return s.Stop()
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit() //nolint:errcheck // Best-effort cleanup
	ctx.Free()
}

// selectDevice finds a capture device by exact name, then by partial name.
func selectDevice(infos []malgo.DeviceInfo, name string) (malgo.DeviceInfo, bool) {
	for _, info := range infos {
		if info.Name() == name || info.ID.String() == name {
			return info, true
		}
	}
	for _, info := range infos {
		if strings.Contains(info.Name(), name) {
			return info, true
		}
	}
	return malgo.DeviceInfo{}, false
}

// decodeF32 converts little-endian float32 PCM bytes into dst, growing it only when needed.
func decodeF32(dst []float32, src []byte) []float32 {
	n := len(src) / 4
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return dst
}
