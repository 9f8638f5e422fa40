package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alertory/monitor/internal/audio"
	"github.com/alertory/monitor/internal/eventlog"
	"github.com/alertory/monitor/internal/types"
)

type fakeMonitor struct {
	mu        sync.Mutex
	running   bool
	threshold int
	device    string
	startErr  error
}

func (m *fakeMonitor) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.running = true
	return nil
}

func (m *fakeMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

func (m *fakeMonitor) State() types.MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return types.MonitorState{DetectionStatus: types.StatusDetecting, MicrophoneStatus: types.MicConnected}
	}
	return types.MonitorState{DetectionStatus: types.StatusStandby, MicrophoneStatus: types.MicDisconnected}
}

func (m *fakeMonitor) SetThreshold(v int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = v
	return nil
}

func (m *fakeMonitor) SetDevice(d string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = d
}

func (m *fakeMonitor) Devices() ([]audio.Device, error) {
	return []audio.Device{{ID: "01", Name: "USB Mic", Default: true}}, nil
}

type fakeSettings struct {
	threshold int
	device    string
	err       error
}

func (s *fakeSettings) SetThreshold(v int) error {
	if s.err != nil {
		return s.err
	}
	s.threshold = v
	return nil
}

func (s *fakeSettings) SetAudioDevice(d string) error {
	s.device = d
	return nil
}

func newTestHandler(t *testing.T) (*CommandHandler, *fakeMonitor, *fakeSettings, string) {
	t.Helper()
	mon := &fakeMonitor{threshold: 150}
	settings := &fakeSettings{}
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	h := NewCommandHandler(context.Background(), mon, settings, func() string { return logPath })
	return h, mon, settings, logPath
}

// receive waits for the next command result.
func receive(t *testing.T, send <-chan any) types.WSCommandResult {
	t.Helper()
	select {
	case msg := <-send:
		res, ok := msg.(types.WSCommandResult)
		if !ok {
			t.Fatalf("unexpected message %T", msg)
		}
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
		return types.WSCommandResult{}
	}
}

func cmd(typ, data string) WSCommand {
	c := WSCommand{Type: typ}
	if data != "" {
		c.Data = json.RawMessage(data)
	}
	return c
}

func TestMonitorStartStopCommands(t *testing.T) {
	h, mon, _, _ := newTestHandler(t)
	send := make(chan any, 4)
	updates := make(chan struct{}, 4)
	trigger := func() { updates <- struct{}{} }

	h.Handle(cmd("monitor/start", ""), send, trigger)
	res := receive(t, send)
	if res.Type != "monitor/start_result" || !res.Success {
		t.Fatalf("start result = %+v", res)
	}
	<-updates
	if st, ok := res.Data.(types.MonitorState); !ok || st.DetectionStatus != types.StatusDetecting {
		t.Errorf("start data = %+v", res.Data)
	}

	h.Handle(cmd("monitor/stop", ""), send, trigger)
	res = receive(t, send)
	if !res.Success || mon.State().DetectionStatus != types.StatusStandby {
		t.Errorf("stop result = %+v", res)
	}
}

func TestMonitorStartFailure(t *testing.T) {
	h, mon, _, _ := newTestHandler(t)
	mon.startErr = errors.New("microphone unavailable: permission denied")
	send := make(chan any, 4)

	h.Handle(cmd("monitor/start", ""), send, func() {})
	res := receive(t, send)
	if res.Success || res.Message == "" {
		t.Errorf("result = %+v, want failure with message", res)
	}
}

func TestSettingsUpdateValidation(t *testing.T) {
	h, mon, settings, _ := newTestHandler(t)
	send := make(chan any, 4)

	h.Handle(cmd("settings/update", `{"threshold": 300}`), send, func() {})
	res := receive(t, send)
	if res.Success || res.Error == nil || len(res.Error.Errors) != 1 || res.Error.Errors[0].Field != "threshold" {
		t.Fatalf("result = %+v", res)
	}

	h.Handle(cmd("settings/update", `{"threshold": 120, "audio_device": "USB Mic"}`), send, func() {})
	res = receive(t, send)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if settings.threshold != 120 || mon.threshold != 120 || settings.device != "USB Mic" || mon.device != "USB Mic" {
		t.Errorf("settings=%+v monitor threshold=%d", settings, mon.threshold)
	}

	h.Handle(cmd("settings/update", `{"threshold":`), send, func() {})
	if res := receive(t, send); res.Success {
		t.Error("malformed JSON accepted")
	}
}

func TestSettingsPersistFailureLeavesMonitor(t *testing.T) {
	h, mon, settings, _ := newTestHandler(t)
	settings.err = errors.New("disk full")
	threshold := 90
	if err := h.ApplySettings(&SettingsUpdateRequest{Threshold: &threshold}); err == nil {
		t.Fatal("expected error")
	}
	if mon.threshold != 150 {
		t.Errorf("monitor threshold changed to %d", mon.threshold)
	}
}

func TestLogView(t *testing.T) {
	h, _, _, logPath := newTestHandler(t)
	send := make(chan any, 4)

	// Missing file reads as empty.
	h.Handle(cmd("log/view", ""), send, func() {})
	res := receive(t, send)
	if page, ok := res.Data.(LogPage); !ok || len(page.Events) != 0 {
		t.Fatalf("result = %+v", res)
	}

	logger, err := eventlog.NewLogger(logPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = logger.LogSession(eventlog.MonitorStarted, "monitoring started", eventlog.SessionDetails{})
	_ = logger.LogPoll(eventlog.PollFailed, eventlog.PollDetails{Error: "timeout"})
	_ = logger.Close()

	h.Handle(cmd("log/view", `{"filter":"poll"}`), send, func() {})
	res = receive(t, send)
	page := res.Data.(LogPage)
	if len(page.Events) != 1 || page.Events[0].Type != eventlog.PollFailed {
		t.Errorf("events = %+v", page.Events)
	}

	h.Handle(cmd("log/view", `{"filter":"alerts"}`), send, func() {})
	if res := receive(t, send); res.Success || res.Error == nil {
		t.Errorf("invalid filter accepted: %+v", res)
	}
}

func TestDevicesList(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	send := make(chan any, 4)
	h.Handle(cmd("devices/list", ""), send, func() {})
	res := receive(t, send)
	if devices, ok := res.Data.([]audio.Device); !ok || len(devices) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestUnknownCommandTriggersStatus(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	triggered := false
	h.Handle(cmd("nonsense/do", ""), make(chan any, 1), func() { triggered = true })
	if !triggered {
		t.Error("status update not triggered")
	}
}

func TestOriginPolicy(t *testing.T) {
	p := OriginPolicy{Allowed: []string{"dashboard.example.com"}}
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "monitor:8090", true},
		{"http://localhost:3000", "monitor:8090", true},
		{"http://monitor:8090", "monitor:8090", true},
		{"http://192.168.1.20", "monitor:8090", true},
		{"https://dashboard.example.com", "monitor:8090", true},
		{"https://evil.example.com", "monitor:8090", false},
		{"::not a url", "monitor:8090", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := p.Check(r); got != tt.want {
			t.Errorf("Check(origin=%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
