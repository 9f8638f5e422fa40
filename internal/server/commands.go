package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/alertory/monitor/internal/audio"
	"github.com/alertory/monitor/internal/eventlog"
	"github.com/alertory/monitor/internal/types"
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Monitor is the live monitor driven by commands.
type Monitor interface {
	Start(ctx context.Context) error
	Stop()
	State() types.MonitorState
	SetThreshold(threshold int) error
	SetDevice(device string)
	Devices() ([]audio.Device, error)
}

// Settings persists settings changes.
type Settings interface {
	SetThreshold(threshold int) error
	SetAudioDevice(device string) error
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	monitor  Monitor
	settings Settings
	logPath  func() string
	ctx      context.Context
}

// NewCommandHandler creates a command handler. ctx bounds asynchronous
// work such as microphone acquisition; logPath returns the diagnostic log
// location, or "" when none is configured.
func NewCommandHandler(ctx context.Context, mon Monitor, settings Settings, logPath func() string) *CommandHandler {
	return &CommandHandler{monitor: mon, settings: settings, logPath: logPath, ctx: ctx}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "monitor/start").
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	namespace, action, _ := strings.Cut(cmd.Type, "/")

	switch namespace {
	case "monitor":
		h.handleMonitor(action, cmd, send, triggerStatusUpdate)
		return
	case "settings":
		h.handleSettings(action, cmd, send)
	case "devices":
		h.handleDevices(action, cmd, send)
	case "log":
		h.handleLog(action, cmd, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// handleMonitor routes monitor/* commands
func (h *CommandHandler) handleMonitor(action string, cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	switch action {
	case "start":
		// Opening the microphone may wait on the operating system.
		HandleActionAsync(cmd, send, func() (any, error) {
			if err := h.monitor.Start(h.ctx); err != nil {
				return nil, err
			}
			return h.monitor.State(), nil
		}, triggerStatusUpdate)
	case "stop":
		h.monitor.Stop()
		SendSuccess(send, cmd.Type, h.monitor.State())
		triggerStatusUpdate()
	default:
		slog.Warn("unknown monitor action", "action", action)
	}
}

// handleSettings routes settings/* commands
func (h *CommandHandler) handleSettings(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		HandleCommand(cmd, send, func(req *SettingsUpdateRequest) (any, error) {
			return nil, h.ApplySettings(req)
		})
	default:
		slog.Warn("unknown settings action", "action", action)
	}
}

// ApplySettings persists a validated settings update and applies it to the
// running monitor.
func (h *CommandHandler) ApplySettings(req *SettingsUpdateRequest) error {
	if req.Threshold != nil {
		if err := h.settings.SetThreshold(*req.Threshold); err != nil {
			return err
		}
		if err := h.monitor.SetThreshold(*req.Threshold); err != nil {
			return err
		}
		slog.Info("threshold updated", "threshold", *req.Threshold)
	}
	if req.AudioDevice != nil {
		if err := h.settings.SetAudioDevice(*req.AudioDevice); err != nil {
			return err
		}
		h.monitor.SetDevice(*req.AudioDevice)
		slog.Info("audio device updated", "device", *req.AudioDevice)
	}
	return nil
}

// handleDevices routes devices/* commands
func (h *CommandHandler) handleDevices(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "list":
		devices, err := h.monitor.Devices()
		if err != nil {
			SendError(send, cmd.Type, err)
			return
		}
		SendSuccess(send, cmd.Type, devices)
	default:
		slog.Warn("unknown devices action", "action", action)
	}
}

// handleLog routes log/* commands
func (h *CommandHandler) handleLog(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "view":
		HandleCommand(cmd, send, func(req *LogViewRequest) (any, error) {
			return h.ReadLog(req)
		})
	default:
		slog.Warn("unknown log action", "action", action)
	}
}

// LogPage is a page of diagnostic log events, newest first.
type LogPage struct {
	Events  []eventlog.Event `json:"events"`
	HasMore bool             `json:"has_more"`
}

// ReadLog reads a page of the diagnostic log.
func (h *CommandHandler) ReadLog(req *LogViewRequest) (LogPage, error) {
	path := h.logPath()
	if path == "" {
		return LogPage{Events: []eventlog.Event{}}, nil
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLogLimit
	}
	events, more, err := eventlog.ReadLast(path, limit, req.Offset, eventlog.TypeFilter(req.Filter))
	if err != nil {
		return LogPage{}, err
	}
	if events == nil {
		events = []eventlog.Event{}
	}
	return LogPage{Events: events, HasMore: more}, nil
}

// DefaultLogLimit is the page size used when a log request sets none.
const DefaultLogLimit = 100

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
