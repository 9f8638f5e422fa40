package recording

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/alertory/monitor/internal/audio"
	"github.com/alertory/monitor/internal/types"
)

const (
	bitDepth       = 16
	numChannels    = 1
	wavFormatPCM   = 1
	maxNameRetries = 100
)

// Recorder writes the audio of one stream to a WAV file. It is safe for
// concurrent use; Write is called from the audio callback goroutine.
type Recorder struct {
	mu     sync.Mutex
	stream audio.Stream
	dir    string
	now    func() time.Time

	state      types.RecorderState
	file       *os.File
	encoder    *wav.Encoder
	buf        *goaudio.IntBuffer
	disconnect func()
	path       string
	samples    int
	writeErr   error
}

// NewRecorder creates an inactive recorder for stream that stores files in dir.
func NewRecorder(stream audio.Stream, dir string) *Recorder {
	return &Recorder{
		stream: stream,
		dir:    dir,
		now:    time.Now,
		state:  types.RecorderInactive,
	}
}

// State reports whether the recorder is currently recording.
func (r *Recorder) State() types.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Path returns the file currently or most recently written.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Start opens a new WAV file and begins consuming the stream.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == types.RecorderRecording {
		return ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create recording directory: %w", err)
	}

	now := r.now()
	file, path, err := createUnique(r.dir, filePrefix+now.Format(fileTimeLayout))
	if err != nil {
		return err
	}

	sampleRate := r.stream.SampleRate()
	r.file = file
	r.path = path
	r.encoder = wav.NewEncoder(file, sampleRate, bitDepth, numChannels, wavFormatPCM)
	r.buf = &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: numChannels, SampleRate: sampleRate},
		SourceBitDepth: bitDepth,
	}
	r.samples = 0
	r.writeErr = nil
	r.state = types.RecorderRecording
	r.disconnect = r.stream.Connect(r)

	slog.Info("recording started", "file", filepath.Base(path), "sample_rate", sampleRate)
	return nil
}

// createUnique creates base.wav in dir, adding a counter on name collisions.
func createUnique(dir, base string) (*os.File, string, error) {
	for i := range maxNameRetries {
		name := base + ".wav"
		if i > 0 {
			name = fmt.Sprintf("%s-%d.wav", base, i)
		}
		path := filepath.Join(dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			return file, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", fmt.Errorf("create recording file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("create recording file: too many files named %s", base)
}

// Write encodes samples while recording.
func (r *Recorder) Write(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != types.RecorderRecording || r.writeErr != nil || len(samples) == 0 {
		return
	}

	data := r.buf.Data[:0]
	for _, s := range samples {
		data = append(data, int(s))
	}
	r.buf.Data = data

	if err := r.encoder.Write(r.buf); err != nil {
		r.writeErr = err
		slog.Error("recording write failed", "file", filepath.Base(r.path), "error", err)
		return
	}
	r.samples += len(samples)
}

// Stop detaches from the stream, finalises the WAV header and closes the file.
func (r *Recorder) Stop() (Result, error) {
	r.mu.Lock()
	if r.state != types.RecorderRecording {
		r.mu.Unlock()
		return Result{}, ErrNotRecording
	}
	r.state = types.RecorderInactive
	disconnect, encoder, file, writeErr := r.disconnect, r.encoder, r.file, r.writeErr
	r.disconnect, r.encoder, r.file = nil, nil, nil
	res := Result{Path: r.path, Samples: r.samples}
	if rate := r.stream.SampleRate(); rate > 0 {
		res.Duration = time.Duration(r.samples) * time.Second / time.Duration(rate)
	}
	r.mu.Unlock()

	// The stream delivers samples while holding its sink lock, so detach
	// without holding r.mu.
	disconnect()

	encErr := encoder.Close()
	fileErr := file.Close()

	switch {
	case writeErr != nil:
		return res, fmt.Errorf("write recording: %w", writeErr)
	case encErr != nil:
		return res, fmt.Errorf("finalise recording: %w", encErr)
	case fileErr != nil:
		return res, fmt.Errorf("close recording: %w", fileErr)
	}

	slog.Info("recording saved", "file", filepath.Base(res.Path), "duration", res.Duration, "samples", res.Samples)
	return res, nil
}
