// Package schedule provides cancellable periodic tasks and a clock that can be
// driven manually in tests.
package schedule

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Scheduler runs a function repeatedly at a fixed interval.
type Scheduler interface {
	// Every schedules fn to run every interval. The first run happens one
	// interval after the call.
	Every(interval time.Duration, fn func()) Task
}

// Task is a handle to a scheduled job.
type Task interface {
	// Cancel stops future runs. It does not wait for a run in progress and
	// may be called any number of times.
	Cancel()
}

// Real is a Scheduler and Clock backed by the runtime timer.
type Real struct{}

// Now returns the wall clock time.
func (Real) Now() time.Time { return time.Now() }

// Every starts a goroutine that calls fn on each tick until cancelled.
func (Real) Every(interval time.Duration, fn func()) Task {
	t := &realTask{stopCh: make(chan struct{})}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case <-ticker.C:
				// Cancel may race with a tick that was already delivered.
				select {
				case <-t.stopCh:
					return
				default:
				}
				fn()
			}
		}
	}()
	return t
}

type realTask struct {
	once   sync.Once
	stopCh chan struct{}
}

func (t *realTask) Cancel() {
	t.once.Do(func() { close(t.stopCh) })
}
