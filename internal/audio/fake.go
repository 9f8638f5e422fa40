package audio

import (
	"context"
	"sync"
)

// FakeProvider is an in-memory Provider for tests. Opens can be scripted to
// fail or to block until released, and PCM can be injected into open streams.
type FakeProvider struct {
	mu       sync.Mutex
	errs     []error
	gate     chan struct{}
	devices  []Device
	streams  []*FakeStream
	opens    int
	started  chan struct{}
	settings Settings
}

// NewFakeProvider creates a provider with a single default device.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		devices: []Device{{ID: "fake", Name: "Fake Microphone", Default: true}},
		started: make(chan struct{}, 64),
	}
}

// FailNext makes the next Open return err. Calls queue up in order.
func (f *FakeProvider) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

// Block makes subsequent opens wait until release is called or their
// context is done.
func (f *FakeProvider) Block() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// OpenStarted receives a value each time Open is entered.
func (f *FakeProvider) OpenStarted() <-chan struct{} {
	return f.started
}

// SetDevices replaces the device list.
func (f *FakeProvider) SetDevices(devices []Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
}

// Devices returns the configured devices.
func (f *FakeProvider) Devices() ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Device(nil), f.devices...), nil
}

// Open returns a new FakeStream unless a failure is scripted.
func (f *FakeProvider) Open(ctx context.Context, c Constraints) (Stream, error) {
	select {
	case f.started <- struct{}{}:
	default:
	}

	f.mu.Lock()
	f.opens++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	s := &FakeStream{
		constraints: c,
		settings: Settings{
			DeviceID:         c.Device,
			Label:            "Fake Microphone",
			SampleRate:       c.SampleRate,
			Channels:         1,
			EchoCancellation: c.EchoCancellation,
			NoiseSuppression: c.NoiseSuppression,
		},
	}
	s.track = &FakeTrack{stream: s, live: true}
	f.streams = append(f.streams, s)
	return s, nil
}

// Opens returns how many times Open was called.
func (f *FakeProvider) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Live returns the number of streams that still have a live track.
func (f *FakeProvider) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.streams {
		if s.track.Live() {
			n++
		}
	}
	return n
}

// Streams returns every stream handed out so far.
func (f *FakeProvider) Streams() []*FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeStream(nil), f.streams...)
}

// Last returns the most recently opened stream, or nil.
func (f *FakeProvider) Last() *FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

// FakeStream is a stream whose audio is pushed by the test.
type FakeStream struct {
	constraints Constraints
	settings    Settings
	sinks       sinkSet
	track       *FakeTrack
}

// Constraints returns what the stream was opened with.
func (s *FakeStream) Constraints() Constraints { return s.constraints }

// SampleRate returns the requested rate.
func (s *FakeStream) SampleRate() int { return s.constraints.SampleRate }

// Settings returns the applied settings.
func (s *FakeStream) Settings() Settings { return s.settings }

// Connect attaches a sink.
func (s *FakeStream) Connect(sink Sink) func() { return s.sinks.connect(sink) }

// Sinks returns the number of attached sinks.
func (s *FakeStream) Sinks() int { return s.sinks.len() }

// Tracks returns the stream's single audio track.
func (s *FakeStream) Tracks() []Track { return []Track{s.track} }

// Track returns the concrete fake track.
func (s *FakeStream) Track() *FakeTrack { return s.track }

// Feed delivers samples to every connected sink while the track is live.
func (s *FakeStream) Feed(samples []int16) {
	if !s.track.Live() {
		return
	}
	s.sinks.write(samples)
}

// FakeTrack records whether it was stopped.
type FakeTrack struct {
	stream  *FakeStream
	mu      sync.Mutex
	live    bool
	stops   int
	stopErr error
}

// Label returns the fake device label.
func (t *FakeTrack) Label() string { return t.stream.settings.Label }

// Live reports whether Stop has not been called yet.
func (t *FakeTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// FailStop makes Stop return err after releasing the track.
func (t *FakeTrack) FailStop(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopErr = err
}

// Stops returns how many times Stop was called.
func (t *FakeTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// Stop ends the track.
func (t *FakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	if !t.live {
		return nil
	}
	t.live = false
	t.stream.sinks.clear()
	return t.stopErr
}
