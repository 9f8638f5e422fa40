package events

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alertory/monitor/internal/eventlog"
	"github.com/alertory/monitor/internal/observe"
	"github.com/alertory/monitor/internal/schedule"
	"github.com/alertory/monitor/internal/types"
	"github.com/alertory/monitor/internal/util"
)

// Poller defaults.
const (
	DefaultInterval = 2 * time.Second
	DefaultPageSize = 10
)

// PollerConfig configures a Poller. Fetcher is required.
type PollerConfig struct {
	Fetcher        Fetcher
	Scheduler      schedule.Scheduler
	Clock          schedule.Clock
	Interval       time.Duration
	PageSize       int
	RequestTimeout time.Duration
	Location       *time.Location
	Locale         string
	// Source is the endpoint reported in logs.
	Source   string
	Events   *eventlog.Logger
	Metrics  *observe.Metrics
	OnChange func(types.PollState)
}

// Poller keeps the most recent server events in sync with the server by
// fetching them on an interval. Every successful fetch replaces the list
// wholesale. A failed fetch clears it and sets the error flag; failures are
// logged and never returned to the caller.
type Poller struct {
	cfg PollerConfig

	mu      sync.Mutex
	state   types.PollState
	task    schedule.Task
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// NewPoller creates a poller. It does nothing until Start or Poll is called.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.Real{}
	}
	if cfg.Clock == nil {
		cfg.Clock = schedule.Real{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Locale == "" {
		cfg.Locale = util.LocaleKorean
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Poller{
		cfg:   cfg,
		state: types.PollState{Items: []types.DetectionRecord{}},
	}
}

// Start fetches once immediately and then on every interval until Stop.
// Calling Start again has no effect.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	p.Poll(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.task = p.cfg.Scheduler.Every(p.cfg.Interval, func() { p.Poll(ctx) })
}

// Stop cancels the interval and any in-flight fetch. Results that arrive
// afterwards are discarded. Stop is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	task, cancel := p.task, p.cancel
	p.task, p.cancel = nil, nil
	p.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
	if cancel != nil {
		cancel()
	}
}

// Stopped reports whether Stop has been called.
func (p *Poller) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// State returns a copy of the current poll state.
func (p *Poller) State() types.PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Poller) snapshotLocked() types.PollState {
	s := p.state
	s.Items = slices.Clone(p.state.Items)
	if s.Items == nil {
		s.Items = []types.DetectionRecord{}
	}
	return s
}

// Poll performs a single fetch and applies its outcome.
func (p *Poller) Poll(ctx context.Context) {
	if p.Stopped() {
		return
	}

	fetchCtx := ctx
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	began := time.Now()
	recs, err := p.cfg.Fetcher.Recent(fetchCtx, 0, p.cfg.PageSize)
	elapsed := time.Since(began).Seconds()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	now := p.cfg.Clock.Now()
	prevFailures := p.state.ConsecutiveFailures
	if err != nil {
		p.state.LastFetchOK = false
		p.state.Items = []types.DetectionRecord{}
		p.state.ConsecutiveFailures++
	} else {
		p.state.LastFetchOK = true
		p.state.Items = NormalizeAll(recs, p.cfg.Location, p.cfg.Locale)
		p.state.LastFetchAt = now
		p.state.ConsecutiveFailures = 0
	}
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	if err != nil {
		p.recordFailure(ctx, err, snapshot.ConsecutiveFailures, elapsed)
	} else {
		p.recordSuccess(ctx, len(snapshot.Items), prevFailures, elapsed)
	}

	if p.cfg.OnChange != nil {
		p.cfg.OnChange(snapshot)
	}
}

func (p *Poller) recordFailure(ctx context.Context, err error, failures int, seconds float64) {
	slog.Error("failed to fetch recent events", "url", p.cfg.Source, "failures", failures, "error", err)
	p.cfg.Metrics.RecordPoll(ctx, observe.OutcomeError, seconds)
	// Only the first failure of a streak goes to the event log.
	if failures == 1 {
		if logErr := p.cfg.Events.LogPoll(eventlog.PollFailed, eventlog.PollDetails{
			URL:      p.cfg.Source,
			Failures: failures,
			Error:    err.Error(),
		}); logErr != nil {
			slog.Warn("failed to write event log", "error", logErr)
		}
	}
}

func (p *Poller) recordSuccess(ctx context.Context, items, prevFailures int, seconds float64) {
	p.cfg.Metrics.RecordPoll(ctx, observe.OutcomeOK, seconds)
	if prevFailures == 0 {
		return
	}
	slog.Info("event feed recovered", "url", p.cfg.Source, "failures", prevFailures, "items", items)
	if logErr := p.cfg.Events.LogPoll(eventlog.PollRecovered, eventlog.PollDetails{
		URL:      p.cfg.Source,
		Items:    items,
		Failures: prevFailures,
	}); logErr != nil {
		slog.Warn("failed to write event log", "error", logErr)
	}
}
