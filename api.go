package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alertory/monitor/internal/monitor"
	"github.com/alertory/monitor/internal/server"
	"github.com/alertory/monitor/internal/types"
)

// maxRequestBytes caps REST request bodies.
const maxRequestBytes = 64 * 1024

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, types.APIError{Error: message})
}

// parseJSON reads and parses JSON from request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	if verr := server.Validate(&v); verr != nil {
		s.writeJSON(w, http.StatusBadRequest, types.APIError{Error: "Validation failed", Fields: verr})
		return v, false
	}
	return v, true
}

// requireMethod writes 405 and returns false when r does not use method.
func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// healthResponse is the body of GET /healthz.
type healthResponse struct {
	Status           string                 `json:"status"`
	Version          string                 `json:"version"`
	DetectionStatus  types.DetectionStatus  `json:"detection_status"`
	MicrophoneStatus types.MicrophoneStatus `json:"microphone_status"`
	FetchError       bool                   `json:"fetch_error"`
}

// handleHealth reports liveness without authentication.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	st := s.monitor.State()
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		Version:          Version,
		DetectionStatus:  st.DetectionStatus,
		MicrophoneStatus: st.MicrophoneStatus,
		FetchError:       st.FetchError,
	})
}

// handleAPIMonitor returns the observable monitor state.
// GET /api/monitor
func (s *Server) handleAPIMonitor(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.buildWSStatus())
}

// handleAPIMonitorStart acquires the microphone and starts monitoring.
// POST /api/monitor/start
func (s *Server) handleAPIMonitorStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.monitor.Start(r.Context()); err != nil {
		var hwErr *monitor.HardwareAccessError
		switch {
		case errors.As(err, &hwErr):
			s.writeError(w, http.StatusServiceUnavailable, hwErr.Notice)
		case errors.Is(err, monitor.ErrUnmounted):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, s.monitor.State())
}

// handleAPIMonitorStop stops monitoring and releases the microphone.
// POST /api/monitor/stop
func (s *Server) handleAPIMonitorStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	s.monitor.Stop()
	s.writeJSON(w, http.StatusOK, s.monitor.State())
}

// handleAPIDevices lists capture devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	devices, err := s.monitor.Devices()
	if err != nil {
		slog.Error("failed to list audio devices", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list audio devices")
		return
	}
	s.writeJSON(w, http.StatusOK, devices)
}

// handleAPISettings updates the threshold or the capture device.
// PUT /api/settings
func (s *Server) handleAPISettings(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPut) {
		return
	}
	req, ok := parseJSON[server.SettingsUpdateRequest](s, w, r)
	if !ok {
		return
	}
	if err := s.commands.ApplySettings(&req); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAPILog returns a page of the diagnostic event log.
// GET /api/log?limit=&offset=&filter=
func (s *Server) handleAPILog(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	var req server.LogViewRequest
	var err error
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if req.Offset, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
	}
	req.Filter = q.Get("filter")

	if verr := server.Validate(&req); verr != nil {
		s.writeJSON(w, http.StatusBadRequest, types.APIError{Error: "Validation failed", Fields: verr})
		return
	}

	page, err := s.commands.ReadLog(&req)
	if err != nil {
		slog.Error("failed to read event log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read event log")
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}
