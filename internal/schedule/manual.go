package schedule

import (
	"slices"
	"sync"
	"time"
)

// Manual is a Scheduler and Clock whose time only moves when told to.
// Scheduled functions run synchronously on the goroutine calling Advance
// or Step.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*manualTask
	seq   int
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

type manualTask struct {
	m        *Manual
	id       int
	interval time.Duration
	next     time.Time
	fn       func()
	canceled bool
}

// Now returns the manual clock's current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Every registers fn to run each time the clock passes a multiple of interval.
func (m *Manual) Every(interval time.Duration, fn func()) Task {
	if interval <= 0 {
		interval = time.Nanosecond
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTask{m: m, id: m.seq, interval: interval, next: m.now.Add(interval), fn: fn}
	m.tasks = append(m.tasks, t)
	return t
}

func (t *manualTask) Cancel() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.canceled {
		return
	}
	t.canceled = true
	t.m.tasks = slices.DeleteFunc(t.m.tasks, func(o *manualTask) bool { return o == t })
}

// Advance moves the clock forward by d, running every task that comes due
// in timestamp order. Tasks scheduled or cancelled by a running function
// take effect immediately.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		t, ok := m.popDue(target)
		if !ok {
			break
		}
		t.fn()
	}

	m.mu.Lock()
	if target.After(m.now) {
		m.now = target
	}
	m.mu.Unlock()
}

// Step advances the clock to the next scheduled run and executes it.
// It reports false when nothing is scheduled.
func (m *Manual) Step() bool {
	m.mu.Lock()
	if len(m.tasks) == 0 {
		m.mu.Unlock()
		return false
	}
	target := m.earliestLocked().next
	m.mu.Unlock()

	t, ok := m.popDue(target)
	if ok {
		t.fn()
	}
	return ok
}

// Live returns the number of tasks that have not been cancelled.
func (m *Manual) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// popDue finds the earliest task due at or before target, moves the clock to
// its run time and reschedules it.
func (m *Manual) popDue(target time.Time) (*manualTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tasks) == 0 {
		return nil, false
	}
	t := m.earliestLocked()
	if t.next.After(target) {
		return nil, false
	}
	if t.next.After(m.now) {
		m.now = t.next
	}
	t.next = t.next.Add(t.interval)
	return t, true
}

func (m *Manual) earliestLocked() *manualTask {
	return slices.MinFunc(m.tasks, func(a, b *manualTask) int {
		if c := a.next.Compare(b.next); c != 0 {
			return c
		}
		return a.id - b.id
	})
}
