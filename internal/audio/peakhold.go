package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is the default duration that peak values are held before decaying.
const DefaultPeakHoldDuration = 3000 * time.Millisecond

// PeakHolder tracks the held peak of the display level.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	held         int
	heldAt       time.Time
	holdDuration time.Duration
}

// NewPeakHolder creates a peak holder at level zero that keeps a peak for
// hold before following the level down. A non-positive hold uses
// DefaultPeakHoldDuration.
func NewPeakHolder(hold time.Duration) *PeakHolder {
	if hold <= 0 {
		hold = DefaultPeakHoldDuration
	}
	return &PeakHolder{holdDuration: hold}
}

// Update records a level and returns the held peak.
func (p *PeakHolder) Update(level int, now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if level >= p.held || now.Sub(p.heldAt) > p.holdDuration {
		p.held = level
		p.heldAt = now
	}
	return p.held
}

// Reset clears the held peak.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = 0
	p.heldAt = time.Time{}
}
