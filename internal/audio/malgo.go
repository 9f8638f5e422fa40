package audio

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoProvider opens microphones through miniaudio. It captures 16-bit mono
// PCM at the requested sample rate. Echo cancellation and noise suppression
// are not available on this backend and are reported as not applied.
type MalgoProvider struct{}

// NewMalgoProvider returns the native capture provider.
func NewMalgoProvider() *MalgoProvider {
	return &MalgoProvider{}
}

// Devices lists capture devices known to the audio backend.
func (p *MalgoProvider) Devices() ([]Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			ID:      deviceID(info),
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return devices, nil
}

// Open starts capturing from the configured device.
func (p *MalgoProvider) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	s := &malgoStream{
		ctx:        mctx,
		sampleRate: c.SampleRate,
		settings: Settings{
			SampleRate: c.SampleRate,
			Channels:   1,
		},
	}

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		s.freeContext()
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	if len(infos) == 0 {
		s.freeContext()
		return nil, ErrNoAudioDevice
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(c.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	selected, ok := selectDevice(infos, c.Device)
	if c.Device != "" && !ok {
		s.freeContext()
		return nil, fmt.Errorf("%w: %s", ErrNoAudioDevice, c.Device)
	}
	if ok {
		deviceConfig.Capture.DeviceID = selected.ID.Pointer()
		s.settings.DeviceID = deviceID(selected)
		s.settings.Label = selected.Name()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.onData(input)
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		s.freeContext()
		return nil, classifyOpenError(err)
	}
	s.device = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		s.freeContext()
		return nil, classifyOpenError(err)
	}

	if c.EchoCancellation || c.NoiseSuppression {
		slog.Debug("audio processing constraints not supported by backend",
			"echo_cancellation", c.EchoCancellation, "noise_suppression", c.NoiseSuppression)
	}

	// The caller may have given up while the device was starting.
	if err := ctx.Err(); err != nil {
		_ = s.track().Stop()
		return nil, err
	}

	return s, nil
}

// selectDevice returns the requested device, or the default one when id is empty.
func selectDevice(infos []malgo.DeviceInfo, id string) (malgo.DeviceInfo, bool) {
	for _, info := range infos {
		if id != "" && (deviceID(info) == id || info.Name() == id) {
			return info, true
		}
		if id == "" && info.IsDefault != 0 {
			return info, true
		}
	}
	return malgo.DeviceInfo{}, false
}

// deviceID encodes the backend device identifier as hex.
func deviceID(info malgo.DeviceInfo) string {
	id := info.ID
	return hex.EncodeToString(id[:])
}

// classifyOpenError maps backend failures that indicate a refused
// microphone onto ErrPermissionDenied.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("start capture device: %w", err)
}

type malgoStream struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate int
	settings   Settings
	sinks      sinkSet

	bufMu sync.Mutex
	buf   []int16

	stopOnce sync.Once
	stopMu   sync.Mutex
	stopped  bool
}

func (s *malgoStream) onData(input []byte) {
	s.bufMu.Lock()
	s.buf = DecodeS16LE(input, s.buf)
	s.sinks.write(s.buf)
	s.bufMu.Unlock()
}

func (s *malgoStream) SampleRate() int    { return s.sampleRate }
func (s *malgoStream) Settings() Settings { return s.settings }

func (s *malgoStream) Connect(sink Sink) func() {
	return s.sinks.connect(sink)
}

func (s *malgoStream) Tracks() []Track {
	return []Track{s.track()}
}

func (s *malgoStream) track() *malgoTrack {
	return &malgoTrack{s: s}
}

func (s *malgoStream) freeContext() {
	if err := s.ctx.Uninit(); err != nil {
		slog.Warn("failed to uninit audio context", "error", err)
	}
	s.ctx.Free()
}

// malgoTrack is the single audio track of a malgo stream.
type malgoTrack struct {
	s *malgoStream
}

func (t *malgoTrack) Label() string {
	if t.s.settings.Label != "" {
		return t.s.settings.Label
	}
	return "default"
}

func (t *malgoTrack) Live() bool {
	t.s.stopMu.Lock()
	defer t.s.stopMu.Unlock()
	return !t.s.stopped
}

func (t *malgoTrack) Stop() error {
	var err error
	t.s.stopOnce.Do(func() {
		if t.s.device != nil {
			err = t.s.device.Stop()
			t.s.device.Uninit()
		}
		t.s.sinks.clear()
		t.s.freeContext()

		t.s.stopMu.Lock()
		t.s.stopped = true
		t.s.stopMu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("stop capture device: %w", err)
	}
	return nil
}
