package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alertory/monitor/internal/audio"
	"github.com/alertory/monitor/internal/recording"
	"github.com/alertory/monitor/internal/types"
)

// CaptureSession bundles the handles backing one microphone capture. All of
// them are released together and none outlives running = false.
type CaptureSession struct {
	stream    audio.Stream
	ctx       *audio.Context
	analyser  *audio.Analyser
	recorder  *recording.Recorder
	running   bool
	startedAt time.Time
}

// openSession builds the processing graph on an acquired stream: context,
// then analyser, then a recording sub-session when recordDir is set. On
// error everything built so far is released, including the stream.
func openSession(stream audio.Stream, fftSize int, recordDir string, now time.Time) (*CaptureSession, error) {
	s := &CaptureSession{stream: stream, startedAt: now}

	s.ctx = audio.NewContext(stream)
	analyser, err := s.ctx.CreateAnalyser(fftSize)
	if err != nil {
		_ = s.release()
		return nil, fmt.Errorf("create analyser: %w", err)
	}
	s.analyser = analyser

	if recordDir != "" {
		rec := recording.NewRecorder(stream, recordDir)
		if err := rec.Start(); err != nil {
			// Monitoring goes on without a recording.
			slog.Warn("failed to start recording", "dir", recordDir, "error", err)
		} else {
			s.recorder = rec
		}
	}

	s.running = true
	return s, nil
}

// Running reports whether the session still holds live handles.
func (s *CaptureSession) Running() bool {
	return s != nil && s.running
}

// RecorderState returns the recording sub-session state.
func (s *CaptureSession) RecorderState() types.RecorderState {
	if s == nil || s.recorder == nil {
		return types.RecorderInactive
	}
	return s.recorder.State()
}

// read fills buf from the analyser.
func (s *CaptureSession) read(buf []byte) (int, error) {
	if !s.Running() || s.analyser == nil {
		return 0, audio.ErrAnalyserClosed
	}
	return s.analyser.ByteFrequencyData(buf)
}

// releaseResult describes a finished recording, if any.
type releaseResult struct {
	recording recording.Result
	saved     bool
}

// stop releases analyser, recorder (only while recording), context and
// stream tracks in that order. Every step is attempted; failures are joined.
func (s *CaptureSession) stop() (releaseResult, error) {
	var (
		res  releaseResult
		errs []error
	)

	if s.analyser != nil {
		s.analyser.Close()
		s.analyser = nil
	}

	if s.recorder != nil && s.recorder.State() == types.RecorderRecording {
		r, err := s.recorder.Stop()
		if err != nil {
			errs = append(errs, fmt.Errorf("stop recorder: %w", err))
		} else {
			res = releaseResult{recording: r, saved: true}
		}
	}
	s.recorder = nil

	errs = append(errs, s.release())
	return res, errors.Join(errs...)
}

// release closes the context and stops every stream track.
func (s *CaptureSession) release() error {
	var errs []error
	if s.ctx != nil {
		if err := s.ctx.Close(); err != nil && !errors.Is(err, audio.ErrContextClosed) {
			errs = append(errs, fmt.Errorf("close audio context: %w", err))
		}
		s.ctx = nil
	}
	if s.stream != nil {
		if err := audio.StopTracks(s.stream); err != nil {
			errs = append(errs, fmt.Errorf("stop tracks: %w", err))
		}
		s.stream = nil
	}
	s.running = false
	return errors.Join(errs...)
}
