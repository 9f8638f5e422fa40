package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
)

// Analyser defaults, matching the browser AnalyserNode.
const (
	DefaultFFTSize     = 2048
	MinFFTSize         = 32
	MaxFFTSize         = 32768
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
	blackmanAlpha      = 0.16
)

// Analyser computes byte frequency data over the most recent fftSize samples
// of the stream it is connected to. It is safe for concurrent use.
type Analyser struct {
	mu         sync.Mutex
	fftSize    int
	smoothing  float64
	minDB      float64
	maxDB      float64
	window     []float64
	ring       []float64 // time-domain history, normalised to [-1, 1]
	pos        int
	frame      []float64
	smoothed   []float64
	bytes      []byte
	dirty      bool
	closed     bool
	disconnect func()
}

// ValidFFTSize reports whether n is an accepted analyser FFT size.
func ValidFFTSize(n int) bool {
	return n >= MinFFTSize && n <= MaxFFTSize && n&(n-1) == 0
}

func newAnalyser(fftSize int) (*Analyser, error) {
	if !ValidFFTSize(fftSize) {
		return nil, ErrInvalidFFTSize
	}
	bins := fftSize / 2
	return &Analyser{
		fftSize:   fftSize,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
		window:    blackmanWindow(fftSize),
		ring:      make([]float64, fftSize),
		frame:     make([]float64, fftSize),
		smoothed:  make([]float64, bins),
		bytes:     make([]byte, bins),
		dirty:     true,
	}, nil
}

// blackmanWindow returns the window used by AnalyserNode (alpha 0.16).
func blackmanWindow(n int) []float64 {
	a0 := (1 - blackmanAlpha) / 2
	a1 := 0.5
	a2 := blackmanAlpha / 2
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

// FFTSize returns the analysis window length in samples.
func (a *Analyser) FFTSize() int { return a.fftSize }

// FrequencyBinCount returns the number of values ByteFrequencyData produces.
func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

// Write appends samples to the analysis history.
func (a *Analyser) Write(samples []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || len(samples) == 0 {
		return
	}
	for _, s := range samples {
		a.ring[a.pos] = float64(s) / MaxSampleValue
		a.pos = (a.pos + 1) % len(a.ring)
	}
	a.dirty = true
}

// ByteFrequencyData fills dst with the current magnitude spectrum scaled to
// 0-255 between the analyser's decibel bounds and returns the number of
// values written. Reading again before new samples arrive returns the same
// values without applying smoothing twice.
func (a *Analyser) ByteFrequencyData(dst []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, ErrAnalyserClosed
	}
	if a.dirty {
		a.computeLocked()
		a.dirty = false
	}
	return copy(dst, a.bytes), nil
}

func (a *Analyser) computeLocked() {
	n := a.fftSize
	for i := range n {
		// Oldest sample first.
		a.frame[i] = a.ring[(a.pos+i)%n] * a.window[i]
	}

	spectrum := fft.FFTReal(a.frame)
	scale := 1 / float64(n)
	rangeScale := 255 / (a.maxDB - a.minDB)

	for k := range a.smoothed {
		mag := cmplx.Abs(spectrum[k]) * scale
		v := a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		a.smoothed[k] = v

		db := math.Inf(-1)
		if v > 0 {
			db = 20 * math.Log10(v)
		}
		scaled := math.Floor(rangeScale * (db - a.minDB))
		switch {
		case scaled < 0:
			a.bytes[k] = 0
		case scaled > 255:
			a.bytes[k] = 255
		default:
			a.bytes[k] = byte(scaled)
		}
	}
}

// Close disconnects the analyser from its stream. Subsequent reads fail
// with ErrAnalyserClosed.
func (a *Analyser) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	disconnect := a.disconnect
	a.disconnect = nil
	a.mu.Unlock()

	if disconnect != nil {
		disconnect()
	}
}

// Closed reports whether the analyser has been released.
func (a *Analyser) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
