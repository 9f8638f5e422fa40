// Package eventlog records monitor lifecycle events in a JSON lines file.
// It captures capture sessions (started, stopped, microphone errors), poller
// health (failed, recovered), loud-sound crossings and recording activity.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Session event types.
const (
	MonitorStarted  EventType = "monitor_started"
	MonitorStopped  EventType = "monitor_stopped"
	MicrophoneError EventType = "microphone_error"
)

// Poll event types.
const (
	PollFailed    EventType = "poll_failed"
	PollRecovered EventType = "poll_recovered"
)

// Audio event types.
const (
	ThresholdCrossed EventType = "threshold_crossed"
	ThresholdCleared EventType = "threshold_cleared"
)

// Recording event types.
const (
	RecordingSaved   EventType = "recording_saved"
	UploadCompleted  EventType = "upload_completed"
	UploadFailed     EventType = "upload_failed"
	CleanupCompleted EventType = "cleanup_completed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// SessionDetails contains capture session details.
type SessionDetails struct {
	Device     string `json:"device,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PollDetails contains reconciliation poller details.
type PollDetails struct {
	URL      string `json:"url,omitempty"`
	Items    int    `json:"items,omitempty"`
	Failures int    `json:"failures,omitempty"`
	Error    string `json:"error,omitempty"`
}

// LevelDetails contains loudness details for threshold crossings.
type LevelDetails struct {
	Mean       float64 `json:"mean"`
	Threshold  int     `json:"threshold"`
	Level      int     `json:"level"`
	DurationMs int64   `json:"duration_ms,omitempty"`
}

// RecordingDetails contains recording and archive details.
type RecordingDetails struct {
	Filename     string `json:"filename,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`
	Samples      int    `json:"samples,omitempty"`
	S3Key        string `json:"s3_key,omitempty"`
	Attempt      int    `json:"attempt,omitempty"`
	FilesDeleted int    `json:"files_deleted,omitempty"`
	StorageType  string `json:"storage_type,omitempty"` // "local" or "s3" for cleanup
	Error        string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file. A nil *Logger discards events.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	// Ensure directory exists
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	// Open file for appending
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogSession logs a capture session event.
func (l *Logger) LogSession(eventType EventType, message string, details SessionDetails) error {
	return l.Log(&Event{Type: eventType, Message: message, Details: &details})
}

// LogPoll logs a poller health event.
func (l *Logger) LogPoll(eventType EventType, details PollDetails) error {
	return l.Log(&Event{Type: eventType, Details: &details})
}

// LogThreshold logs the start or end of a loud period.
func (l *Logger) LogThreshold(eventType EventType, details LevelDetails) error {
	return l.Log(&Event{Type: eventType, Details: &details})
}

// LogRecording logs a recording or archive event.
func (l *Logger) LogRecording(eventType EventType, details RecordingDetails) error {
	return l.Log(&Event{Type: eventType, Details: &details})
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll       TypeFilter = ""
	FilterMonitor   TypeFilter = "monitor"
	FilterPoll      TypeFilter = "poll"
	FilterAudio     TypeFilter = "audio"
	FilterRecording TypeFilter = "recording"
)

// Valid reports whether f is a known filter.
func (f TypeFilter) Valid() bool {
	return slices.Contains([]TypeFilter{FilterAll, FilterMonitor, FilterPoll, FilterAudio, FilterRecording}, f)
}

// Match reports whether t passes the filter.
func (f TypeFilter) Match(t EventType) bool {
	switch f {
	case FilterAll:
		return true
	case FilterMonitor:
		return IsSessionEvent(t)
	case FilterPoll:
		return IsPollEvent(t)
	case FilterAudio:
		return t == ThresholdCrossed || t == ThresholdCleared
	case FilterRecording:
		return IsRecordingEvent(t)
	default:
		return false
	}
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type, newest
// first, and whether more events are available. n is capped at MaxReadLimit.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	// Walk newest first, collecting one past the page to detect more.
	events := make([]Event, 0, n)
	skipped := 0
	hasMore := false
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Match(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			hasMore = true
			break
		}
		events = append(events, event)
	}

	return events, hasMore, nil
}

// IsSessionEvent returns true if the event type is a capture session event.
func IsSessionEvent(t EventType) bool {
	return t == MonitorStarted || t == MonitorStopped || t == MicrophoneError
}

// IsPollEvent returns true if the event type is a poller event.
func IsPollEvent(t EventType) bool {
	return t == PollFailed || t == PollRecovered
}

// IsRecordingEvent returns true if the event type is a recording event.
func IsRecordingEvent(t EventType) bool {
	return t == RecordingSaved || t == UploadCompleted || t == UploadFailed || t == CleanupCompleted
}
