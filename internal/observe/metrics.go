// Package observe provides OpenTelemetry metrics for the monitor.
//
// Instruments are created through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter so they can be scraped from /metrics. Tests
// should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all monitor metrics.
const meterName = "github.com/alertory/monitor"

// Poll outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// AnalyzerTicks counts level analyzer ticks that read the analyser.
	AnalyzerTicks metric.Int64Counter

	// Level records the display level (0-100) of each tick.
	Level metric.Int64Histogram

	// ThresholdCrossings counts transitions above the loudness threshold.
	ThresholdCrossings metric.Int64Counter

	// PollRequests counts event feed fetches. Use with attribute:
	//   attribute.String("outcome", ...)
	PollRequests metric.Int64Counter

	// PollDuration tracks event feed round-trip latency.
	PollDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live capture sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// StartFailures counts failed capture session starts. Use with attribute:
	//   attribute.String("reason", ...)
	StartFailures metric.Int64Counter
}

var (
	levelBuckets   = []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
)

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AnalyzerTicks, err = m.Int64Counter("monitor.analyzer.ticks",
		metric.WithDescription("Level analyzer ticks that read the analyser."),
	); err != nil {
		return nil, err
	}
	if met.Level, err = m.Int64Histogram("monitor.level",
		metric.WithDescription("Display loudness level per tick."),
		metric.WithUnit("%"),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ThresholdCrossings, err = m.Int64Counter("monitor.threshold.crossings",
		metric.WithDescription("Times the mean magnitude rose above the loudness threshold."),
	); err != nil {
		return nil, err
	}
	if met.PollRequests, err = m.Int64Counter("monitor.poll.requests",
		metric.WithDescription("Event feed fetches by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PollDuration, err = m.Float64Histogram("monitor.poll.duration",
		metric.WithDescription("Event feed fetch latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("monitor.sessions.active",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.StartFailures, err = m.Int64Counter("monitor.session.start_failures",
		metric.WithDescription("Failed capture session starts by reason."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordPoll records one event feed fetch.
func (m *Metrics) RecordPoll(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.PollRequests.Add(ctx, 1, attrs)
	m.PollDuration.Record(ctx, seconds, attrs)
}

// RecordTick records one analyzer tick.
func (m *Metrics) RecordTick(ctx context.Context, level int) {
	m.AnalyzerTicks.Add(ctx, 1)
	m.Level.Record(ctx, int64(level))
}

// RecordStartFailure records a failed session start.
func (m *Metrics) RecordStartFailure(ctx context.Context, reason string) {
	m.StartFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
