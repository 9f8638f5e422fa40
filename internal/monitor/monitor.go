// Package monitor coordinates live microphone monitoring: it owns the capture
// session, drives the level analyzer on a frame schedule, runs the detection
// state machine and composes the server event poller into one observable state.
package monitor

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/alertory/monitor/internal/audio"
	"github.com/alertory/monitor/internal/eventlog"
	"github.com/alertory/monitor/internal/observe"
	"github.com/alertory/monitor/internal/schedule"
	"github.com/alertory/monitor/internal/types"
)

// Defaults for monitor options.
const (
	DefaultSampleRate    = 44100
	DefaultFFTSize       = 256
	DefaultFrameInterval = time.Second / 60
)

// Poller is the server event feed composed into the monitor.
type Poller interface {
	Start(ctx context.Context)
	Stop()
	State() types.PollState
}

// Archiver receives finished recordings.
type Archiver interface {
	Enqueue(path string) bool
}

// ThresholdSignal is passed to the threshold hook on every tick where the
// mean magnitude exceeds the threshold.
type ThresholdSignal struct {
	Mean        float64
	Level       int
	Threshold   int
	DurationMs  int64
	JustCrossed bool
	At          time.Time
}

// ThresholdHook is the integration point for loud-sound triggers. The
// default hook does nothing and no state transition follows from it.
type ThresholdHook func(ThresholdSignal)

// Options configures a Monitor. Provider is required.
type Options struct {
	Provider      audio.Provider
	Poller        Poller
	Scheduler     schedule.Scheduler
	Clock         schedule.Clock
	Constraints   audio.Constraints
	FFTSize       int
	FrameInterval time.Duration
	Threshold     int
	// RecordingDir enables the recording sub-session when set.
	RecordingDir string
	Archiver     Archiver
	Events       *eventlog.Logger
	Metrics      *observe.Metrics
}

// Monitor is the lifecycle coordinator. It holds at most one CaptureSession.
// Start and Stop never panic; failures surface in State.
type Monitor struct {
	opts Options

	mu        sync.Mutex
	gen       uint64 // bumped by every Start and Stop
	pending   bool
	cancelOp  context.CancelFunc
	session   *CaptureSession
	tick      schedule.Task
	mounted   bool
	unmounted bool

	status    types.DetectionStatus
	mic       types.MicrophoneStatus
	level     int
	peak      int
	exceeded  bool
	notice    string
	lastFile  string
	threshold int
	hook      ThresholdHook

	buf   []byte
	gate  *audio.ThresholdGate
	peaks *audio.PeakHolder
}

// New creates a monitor in STANDBY with the microphone disconnected.
func New(opts Options) *Monitor {
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.Real{}
	}
	if opts.Clock == nil {
		opts.Clock = schedule.Real{}
	}
	if opts.Constraints.SampleRate <= 0 {
		opts.Constraints.SampleRate = DefaultSampleRate
	}
	if opts.FFTSize <= 0 {
		opts.FFTSize = DefaultFFTSize
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = audio.ThresholdMean
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}

	return &Monitor{
		opts:      opts,
		status:    types.StatusStandby,
		mic:       types.MicDisconnected,
		threshold: opts.Threshold,
		hook:      func(ThresholdSignal) {},
		buf:       make([]byte, opts.FFTSize/2),
		gate:      audio.NewThresholdGate(),
		peaks:     audio.NewPeakHolder(audio.DefaultPeakHoldDuration),
	}
}

// Mount starts the event poller: one fetch now, then on its interval.
func (m *Monitor) Mount(ctx context.Context) {
	m.mu.Lock()
	if m.mounted || m.unmounted {
		m.mu.Unlock()
		return
	}
	m.mounted = true
	m.mu.Unlock()

	if m.opts.Poller != nil {
		m.opts.Poller.Start(ctx)
	}
}

// Unmount stops monitoring and then the event poller. The monitor cannot be
// started again afterwards.
func (m *Monitor) Unmount() {
	m.mu.Lock()
	if m.unmounted {
		m.mu.Unlock()
		return
	}
	m.unmounted = true
	m.mu.Unlock()

	m.Stop()
	if m.opts.Poller != nil {
		m.opts.Poller.Stop()
	}
}

// Start acquires the microphone and begins detection. It is a no-op while a
// session is running or being opened. A failure to acquire the microphone
// leaves the monitor in STANDBY with MicrophoneStatus ERROR and returns a
// *HardwareAccessError.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.unmounted {
		m.mu.Unlock()
		return ErrUnmounted
	}
	if m.session != nil || m.pending {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	openCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.pending = true
	m.cancelOp = cancel
	m.notice = ""
	constraints := m.opts.Constraints
	m.mu.Unlock()

	slog.Info("requesting microphone", "device", constraints.Device, "sample_rate", constraints.SampleRate)
	stream, err := m.opts.Provider.Open(openCtx, constraints)

	m.mu.Lock()
	if m.gen != gen {
		// Stopped while the open was pending.
		m.mu.Unlock()
		if stream != nil {
			slog.Debug("releasing microphone acquired after stop")
			if err := audio.StopTracks(stream); err != nil {
				slog.Warn("failed to release late stream", "error", err)
			}
		}
		return nil
	}
	m.pending = false
	m.cancelOp = nil

	if err != nil {
		m.failLocked()
		m.mu.Unlock()
		return m.startFailed(ctx, constraints.Device, err)
	}

	m.mic = types.MicConnected
	sess, err := openSession(stream, m.opts.FFTSize, m.opts.RecordingDir, m.opts.Clock.Now())
	if err != nil {
		m.failLocked()
		m.mu.Unlock()
		return m.startFailed(ctx, constraints.Device, err)
	}

	m.session = sess
	m.status = types.StatusDetecting
	m.level, m.peak, m.exceeded = 0, 0, false
	m.gate.Reset()
	m.peaks.Reset()
	m.tick = m.opts.Scheduler.Every(m.opts.FrameInterval, func() { m.tickOnce(gen) })
	settings := stream.Settings()
	m.mu.Unlock()

	m.tickOnce(gen)

	slog.Info("monitoring started", "device", settings.Label, "sample_rate", settings.SampleRate,
		"echo_cancellation", settings.EchoCancellation, "noise_suppression", settings.NoiseSuppression)
	m.logEvent(m.opts.Events.LogSession(eventlog.MonitorStarted, "monitoring started", eventlog.SessionDetails{
		Device:     settings.Label,
		SampleRate: settings.SampleRate,
	}))
	m.opts.Metrics.ActiveSessions.Add(ctx, 1)
	return nil
}

// failLocked applies the start-failure transition.
func (m *Monitor) failLocked() {
	m.mic = types.MicError
	m.status = types.StatusStandby
	m.level, m.peak, m.exceeded = 0, 0, false
	m.notice = NoticeMicrophoneDenied
}

func (m *Monitor) startFailed(ctx context.Context, device string, err error) error {
	slog.Error("failed to access microphone", "error", err)
	m.logEvent(m.opts.Events.LogSession(eventlog.MicrophoneError, NoticeMicrophoneDenied, eventlog.SessionDetails{
		Device: device,
		Error:  err.Error(),
	}))
	m.opts.Metrics.RecordStartFailure(ctx, failureReason(err))
	return &HardwareAccessError{Err: err, Notice: NoticeMicrophoneDenied}
}

// Stop ends detection. The tick task is cancelled before the capture session
// is released. A pending open is abandoned and its stream released when it
// arrives. Stop is idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.gen++
	if m.cancelOp != nil {
		m.cancelOp()
		m.cancelOp = nil
	}
	m.pending = false
	if m.tick != nil {
		m.tick.Cancel()
		m.tick = nil
	}
	sess := m.session
	m.session = nil
	m.status = types.StatusStandby
	m.mic = types.MicDisconnected
	m.level, m.peak, m.exceeded = 0, 0, false
	m.notice = ""
	m.gate.Reset()
	m.peaks.Reset()
	m.mu.Unlock()

	if sess == nil {
		return
	}

	res, err := sess.stop()
	if err != nil {
		slog.Warn("failed to release capture session", "error", err)
	}
	duration := m.opts.Clock.Now().Sub(sess.startedAt)

	if res.saved {
		m.mu.Lock()
		m.lastFile = res.recording.Path
		m.mu.Unlock()

		m.logEvent(m.opts.Events.LogRecording(eventlog.RecordingSaved, eventlog.RecordingDetails{
			Filename:   filepath.Base(res.recording.Path),
			DurationMs: res.recording.Duration.Milliseconds(),
			Samples:    res.recording.Samples,
		}))
		if m.opts.Archiver != nil {
			m.opts.Archiver.Enqueue(res.recording.Path)
		}
	}

	slog.Info("monitoring stopped", "duration", duration)
	m.logEvent(m.opts.Events.LogSession(eventlog.MonitorStopped, "monitoring stopped", eventlog.SessionDetails{
		DurationMs: duration.Milliseconds(),
	}))
	m.opts.Metrics.ActiveSessions.Add(context.Background(), -1)
}

// tickOnce runs one level analyzer step for session generation gen.
func (m *Monitor) tickOnce(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.status != types.StatusDetecting || !m.session.Running() {
		m.mu.Unlock()
		return
	}
	n, err := m.session.read(m.buf)
	if err != nil {
		m.mu.Unlock()
		return
	}
	now := m.opts.Clock.Now()
	mean := audio.MeanMagnitude(m.buf[:n])
	level := audio.LevelPercent(mean)
	threshold := m.threshold
	ev := m.gate.Update(mean, threshold, now)

	m.level = level
	m.peak = m.peaks.Update(level, now)
	m.exceeded = ev.Above
	hook := m.hook
	m.mu.Unlock()

	ctx := context.Background()
	m.opts.Metrics.RecordTick(ctx, level)

	if ev.JustCrossed {
		slog.Debug("loudness above threshold", "mean", mean, "threshold", threshold, "level", level)
		m.opts.Metrics.ThresholdCrossings.Add(ctx, 1)
		m.logEvent(m.opts.Events.LogThreshold(eventlog.ThresholdCrossed, eventlog.LevelDetails{
			Mean:      mean,
			Threshold: threshold,
			Level:     level,
		}))
	}
	if ev.JustCleared {
		slog.Debug("loudness back below threshold", "mean", mean, "threshold", threshold, "duration_ms", ev.TotalDurationMs)
		m.logEvent(m.opts.Events.LogThreshold(eventlog.ThresholdCleared, eventlog.LevelDetails{
			Mean:       mean,
			Threshold:  threshold,
			Level:      level,
			DurationMs: ev.TotalDurationMs,
		}))
	}
	if ev.Above {
		hook(ThresholdSignal{
			Mean:        mean,
			Level:       level,
			Threshold:   threshold,
			DurationMs:  ev.DurationMs,
			JustCrossed: ev.JustCrossed,
			At:          now,
		})
	}
}

// OnThreshold replaces the threshold hook. A nil hook restores the no-op.
func (m *Monitor) OnThreshold(hook ThresholdHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hook == nil {
		hook = func(ThresholdSignal) {}
	}
	m.hook = hook
}

// SetThreshold changes the mean magnitude threshold (1..255).
func (m *Monitor) SetThreshold(threshold int) error {
	if threshold < 1 || threshold > 255 {
		return ErrInvalidThreshold
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = threshold
	return nil
}

// SetDevice selects the capture device for the next Start. An empty id
// selects the system default.
func (m *Monitor) SetDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.Constraints.Device = device
}

// Threshold returns the current threshold.
func (m *Monitor) Threshold() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// Devices lists the capture devices of the audio provider.
func (m *Monitor) Devices() ([]audio.Device, error) {
	return m.opts.Provider.Devices()
}

// ActiveRecording returns the path of the recording in progress, if any.
func (m *Monitor) ActiveRecording() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.recorder == nil {
		return ""
	}
	return m.session.recorder.Path()
}

// State returns the observable monitor state.
func (m *Monitor) State() types.MonitorState {
	m.mu.Lock()
	st := types.MonitorState{
		DetectionStatus:   m.status,
		MicrophoneStatus:  m.mic,
		Level:             m.level,
		PeakLevel:         m.peak,
		ThresholdExceeded: m.exceeded,
		Notice:            m.notice,
		Recording:         types.RecordingStatus{State: m.session.RecorderState()},
	}
	if m.lastFile != "" {
		st.Recording.LastFile = filepath.Base(m.lastFile)
	}
	if m.session != nil {
		st.StartedAt = m.session.startedAt
	}
	m.mu.Unlock()

	st.Detections = []types.DetectionRecord{}
	if m.opts.Poller != nil {
		ps := m.opts.Poller.State()
		st.Detections = ps.Items
		st.FetchError = !ps.LastFetchOK && (ps.ConsecutiveFailures > 0)
		st.LastFetchAt = ps.LastFetchAt
	}
	return st
}

// Levels returns the live level snapshot.
func (m *Monitor) Levels() types.LevelSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.LevelSnapshot{Level: m.level, PeakLevel: m.peak, ThresholdExceeded: m.exceeded}
}

func (m *Monitor) logEvent(err error) {
	if err != nil {
		slog.Warn("failed to write event log", "error", err)
	}
}
