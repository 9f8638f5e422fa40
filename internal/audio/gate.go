package audio

import (
	"sync"
	"time"
)

// GateEvent is the result of a threshold gate update.
type GateEvent struct {
	// Current state
	Above      bool    // Mean magnitude is above the threshold
	DurationMs int64   // How long the signal has been above, 0 if below
	Mean       float64 // Mean magnitude that produced this event

	// State transitions
	JustCrossed     bool  // True on the tick the threshold is first exceeded
	JustCleared     bool  // True on the tick the signal drops back below
	TotalDurationMs int64 // Length of the loud period (only set when JustCleared)
}

// ThresholdGate tracks whether the analysed signal is above a loudness
// threshold and reports transitions. It is safe for concurrent use.
type ThresholdGate struct {
	mu         sync.Mutex
	aboveStart time.Time
	above      bool
}

// NewThresholdGate creates a gate in the below state.
func NewThresholdGate() *ThresholdGate {
	return &ThresholdGate{}
}

// Update feeds one tick's mean magnitude and returns the current state.
// The signal counts as above when mean is strictly greater than threshold.
func (g *ThresholdGate) Update(mean float64, threshold int, now time.Time) GateEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	event := GateEvent{Mean: mean}

	if mean > float64(threshold) {
		if !g.above {
			g.above = true
			g.aboveStart = now
			event.JustCrossed = true
		}
		event.Above = true
		event.DurationMs = now.Sub(g.aboveStart).Milliseconds()
		return event
	}

	if g.above {
		event.JustCleared = true
		event.TotalDurationMs = now.Sub(g.aboveStart).Milliseconds()
		g.above = false
		g.aboveStart = time.Time{}
	}
	return event
}

// Reset returns the gate to the below state without reporting a transition.
func (g *ThresholdGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.above = false
	g.aboveStart = time.Time{}
}
