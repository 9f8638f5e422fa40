package audio

import (
	"context"
	"errors"
)

// Errors returned while acquiring or analysing microphone audio.
var (
	// ErrPermissionDenied is returned when the user or the OS refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrNoAudioDevice is returned when no audio input device is available.
	ErrNoAudioDevice = errors.New("no audio input device found")
	// ErrContextClosed is returned when using an audio context after Close.
	ErrContextClosed = errors.New("audio context closed")
	// ErrAnalyserClosed is returned when reading an analyser after it was released.
	ErrAnalyserClosed = errors.New("analyser closed")
	// ErrInvalidFFTSize is returned for FFT sizes outside [32, 32768] or not a power of two.
	ErrInvalidFFTSize = errors.New("fft size must be a power of two between 32 and 32768")
)

// Constraints describe the requested microphone stream.
type Constraints struct {
	Device           string // Device ID, empty for the system default
	SampleRate       int
	EchoCancellation bool
	NoiseSuppression bool
}

// Settings report what the backend actually applied.
type Settings struct {
	DeviceID         string `json:"device_id,omitempty"`
	Label            string `json:"label,omitempty"`
	SampleRate       int    `json:"sample_rate"`
	Channels         int    `json:"channels"`
	EchoCancellation bool   `json:"echo_cancellation"`
	NoiseSuppression bool   `json:"noise_suppression"`
}

// Sink consumes mono PCM frames from a stream. Implementations must not
// retain samples after returning.
type Sink interface {
	Write(samples []int16)
}

// Track is one source of media in a stream.
type Track interface {
	Label() string
	// Stop ends the track and releases the underlying device. Stopping an
	// already stopped track is a no-op.
	Stop() error
	Live() bool
}

// Stream is a live microphone stream.
type Stream interface {
	SampleRate() int
	Settings() Settings
	// Connect attaches a sink. The returned function detaches it and is safe
	// to call more than once.
	Connect(s Sink) (disconnect func())
	Tracks() []Track
}

// Provider grants access to microphone streams. Open may block while the
// user is asked for permission and must return when ctx is done.
type Provider interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
	Devices() ([]Device, error)
}

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
	// Default marks the system default input.
	Default bool `json:"default,omitzero"`
}

// StopTracks stops every track of s and joins the errors.
func StopTracks(s Stream) error {
	var errs []error
	for _, t := range s.Tracks() {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
