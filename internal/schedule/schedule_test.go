package schedule

import (
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestManualEvery(t *testing.T) {
	m := NewManual(epoch)
	var runs int
	m.Every(2*time.Second, func() { runs++ })

	m.Advance(1 * time.Second)
	if runs != 0 {
		t.Fatalf("runs = %d after 1s, want 0", runs)
	}
	m.Advance(1 * time.Second)
	if runs != 1 {
		t.Fatalf("runs = %d after 2s, want 1", runs)
	}
	m.Advance(5 * time.Second)
	if runs != 3 {
		t.Fatalf("runs = %d after 7s, want 3", runs)
	}
	if got := m.Now(); !got.Equal(epoch.Add(7 * time.Second)) {
		t.Errorf("Now = %v, want %v", got, epoch.Add(7*time.Second))
	}
}

func TestManualCancel(t *testing.T) {
	m := NewManual(epoch)
	var runs int
	task := m.Every(time.Second, func() { runs++ })
	m.Advance(time.Second)

	task.Cancel()
	task.Cancel()
	m.Advance(10 * time.Second)

	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
	if m.Live() != 0 {
		t.Errorf("Live = %d, want 0", m.Live())
	}
}

func TestManualCancelFromInsideTask(t *testing.T) {
	m := NewManual(epoch)
	var runs int
	var task Task
	task = m.Every(time.Second, func() {
		runs++
		task.Cancel()
	})
	m.Advance(5 * time.Second)
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
}

func TestManualOrdering(t *testing.T) {
	m := NewManual(epoch)
	var order []string
	m.Every(3*time.Second, func() { order = append(order, "slow") })
	m.Every(time.Second, func() { order = append(order, "fast") })

	m.Advance(3 * time.Second)
	want := []string{"fast", "fast", "slow", "fast"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestManualStep(t *testing.T) {
	m := NewManual(epoch)
	if m.Step() {
		t.Fatal("Step with nothing scheduled should report false")
	}
	var runs int
	m.Every(16*time.Millisecond, func() { runs++ })
	if !m.Step() || runs != 1 {
		t.Fatalf("Step: runs = %d, want 1", runs)
	}
	if got := m.Now().Sub(epoch); got != 16*time.Millisecond {
		t.Errorf("elapsed = %v, want 16ms", got)
	}
}

func TestRealEveryAndCancel(t *testing.T) {
	var runs atomic.Int32
	task := Real{}.Every(5*time.Millisecond, func() { runs.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	task.Cancel()
	task.Cancel()
	if runs.Load() < 2 {
		t.Fatalf("runs = %d, want at least 2", runs.Load())
	}

	time.Sleep(20 * time.Millisecond)
	settled := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != settled {
		t.Errorf("task kept running after Cancel: %d -> %d", settled, runs.Load())
	}
}
