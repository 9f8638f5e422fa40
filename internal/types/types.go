// Package types provides shared type definitions used across the monitor.
package types

import "time"

// DetectionStatus represents the state of the detection state machine.
type DetectionStatus string

const (
	// StatusStandby is the initial state and the state after every stop.
	StatusStandby DetectionStatus = "STANDBY"
	// StatusDetecting is entered when a capture session starts successfully.
	StatusDetecting DetectionStatus = "DETECTING"
	// StatusAlert is reserved for an alert trigger path. Nothing enters it yet.
	StatusAlert DetectionStatus = "ALERT"
)

// MicrophoneStatus tracks the outcome of microphone acquisition.
type MicrophoneStatus string

const (
	// MicDisconnected means no stream is held.
	MicDisconnected MicrophoneStatus = "DISCONNECTED"
	// MicConnected means a live stream is held.
	MicConnected MicrophoneStatus = "CONNECTED"
	// MicError means the last acquisition attempt failed.
	MicError MicrophoneStatus = "ERROR"
)

// DetectionType is the server-side classification of an audio event.
type DetectionType string

// Event types the server emits. Unknown types are passed through unchanged.
const (
	DetectionScream      DetectionType = "SCREAM"
	DetectionHelpRequest DetectionType = "HELP_REQUEST"
	DetectionNoise       DetectionType = "NOISE"
	DetectionNormal      DetectionType = "NORMAL"
)

// Known reports whether t is one of the server's documented event types.
func (t DetectionType) Known() bool {
	switch t {
	case DetectionScream, DetectionHelpRequest, DetectionNoise, DetectionNormal:
		return true
	}
	return false
}

// DetectionRecord is a display-ready server event. Records are immutable
// once built; the poller replaces the whole list on every successful fetch.
type DetectionRecord struct {
	ID         int64         `json:"id"`
	Type       DetectionType `json:"type"`
	Location   string        `json:"location"`
	Confidence float64       `json:"confidence"`
	Timestamp  string        `json:"timestamp"`
}

// PollState is the reconciliation poller's view of the server event feed.
type PollState struct {
	LastFetchOK         bool              `json:"last_fetch_ok"`
	Items               []DetectionRecord `json:"items"`
	LastFetchAt         time.Time         `json:"last_fetch_at,omitzero"`
	ConsecutiveFailures int               `json:"consecutive_failures,omitzero"`
}

// RecorderState mirrors the recording sub-session lifecycle.
type RecorderState string

const (
	// RecorderInactive means no recording is in progress.
	RecorderInactive RecorderState = "inactive"
	// RecorderRecording means samples are being written.
	RecorderRecording RecorderState = "recording"
)

// RecordingStatus is the recording part of the monitor state.
type RecordingStatus struct {
	State    RecorderState `json:"state"`
	LastFile string        `json:"last_file,omitempty"`
}

// MonitorState is the read-only observable state exposed to dashboards.
type MonitorState struct {
	DetectionStatus   DetectionStatus   `json:"detection_status"`
	MicrophoneStatus  MicrophoneStatus  `json:"microphone_status"`
	Level             int               `json:"level"`
	PeakLevel         int               `json:"peak_level"`
	ThresholdExceeded bool              `json:"threshold_exceeded,omitzero"`
	Detections        []DetectionRecord `json:"detections"`
	FetchError        bool              `json:"fetch_error"`
	LastFetchAt       time.Time         `json:"last_fetch_at,omitzero"`
	Notice            string            `json:"notice,omitempty"`
	Recording         RecordingStatus   `json:"recording"`
	StartedAt         time.Time         `json:"started_at,omitzero"`
}

// Running reports whether a capture session is live.
func (s *MonitorState) Running() bool {
	return s.DetectionStatus != StatusStandby
}

// LevelSnapshot is the per-frame payload pushed to live level meters.
type LevelSnapshot struct {
	Level             int  `json:"level"`
	PeakLevel         int  `json:"peak_level"`
	ThresholdExceeded bool `json:"threshold_exceeded,omitzero"`
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string    `json:"current"`              // Current version
	Latest      string    `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool      `json:"update_available"`     // Update is available
	Commit      string    `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string    `json:"build_time,omitempty"` // Build timestamp
	CheckedAt   time.Time `json:"checked_at,omitzero"`  // Last successful release check
}

// WSLevelsResponse is sent to clients with live level data.
type WSLevelsResponse struct {
	Type   string        `json:"type"` // "levels"
	Levels LevelSnapshot `json:"levels"`
}

// WSStatusResponse is sent to clients with the full monitor status.
type WSStatusResponse struct {
	Type      string       `json:"type"` // "status"
	Monitor   MonitorState `json:"monitor"`
	Threshold int          `json:"threshold"`
	Version   VersionInfo  `json:"version"`
}
