// Package main runs the monitor: it listens on a microphone, shows a live
// input level, and keeps the list of recent server detections in sync.
//
// Usage:
//
//	monitor [-config path/to/config.json] [-log-level info]
//
// If -config is not specified, the monitor looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/alertory/monitor/internal/audio"
	"github.com/alertory/monitor/internal/config"
	"github.com/alertory/monitor/internal/eventlog"
	"github.com/alertory/monitor/internal/events"
	"github.com/alertory/monitor/internal/monitor"
	"github.com/alertory/monitor/internal/observe"
	"github.com/alertory/monitor/internal/recording"
	"github.com/alertory/monitor/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var eventLog *eventlog.Logger
	if snap.HasLogPath() {
		l, err := eventlog.NewLogger(snap.LogPath)
		if err != nil {
			slog.Error("failed to open event log", "path", snap.LogPath, "error", err)
		} else {
			eventLog = l
		}
	}

	var provider *observe.Provider
	metrics := observe.DefaultMetrics()
	if snap.MetricsEnabled {
		p, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: Version})
		if err != nil {
			slog.Error("failed to initialize metrics", "error", err)
		} else {
			provider = p
			metrics = p.Metrics
		}
	}

	client, err := events.NewClient(events.Options{
		BaseURL: snap.EventsBaseURL,
		Timeout: snap.RequestTimeout,
		Auth:    snap.Auth,
	})
	if err != nil {
		slog.Error("failed to create events client", "error", err)
		os.Exit(1)
	}

	poller := events.NewPoller(events.PollerConfig{
		Fetcher:        client,
		Interval:       snap.PollInterval,
		PageSize:       snap.PageSize,
		RequestTimeout: snap.RequestTimeout,
		Location:       snap.Location,
		Locale:         snap.TimeLocale,
		Source:         client.URL(0, snap.PageSize),
		Events:         eventLog,
		Metrics:        metrics,
	})

	var archiver *recording.Archiver
	if snap.HasArchive() {
		archiver, err = recording.NewArchiver(recording.S3Config{
			Endpoint:        snap.S3.Endpoint,
			Region:          snap.S3.Region,
			Bucket:          snap.S3.Bucket,
			AccessKeyID:     snap.S3.AccessKeyID,
			SecretAccessKey: snap.S3.SecretAccessKey,
			Prefix:          snap.S3.Prefix,
		}, eventLog)
		if err != nil {
			slog.Error("failed to create recording archiver", "error", err)
		} else {
			archiver.Start()
		}
	}

	opts := monitor.Options{
		Provider: audio.NewMalgoProvider(),
		Poller:   poller,
		Constraints: audio.Constraints{
			Device:           snap.AudioDevice,
			SampleRate:       snap.SampleRate,
			EchoCancellation: snap.EchoCancellation,
			NoiseSuppression: snap.NoiseSuppression,
		},
		FFTSize:       snap.FFTSize,
		FrameInterval: snap.FrameInterval,
		Threshold:     snap.Threshold,
		Events:        eventLog,
		Metrics:       metrics,
	}
	if snap.RecordingEnabled {
		opts.RecordingDir = snap.RecordingDir
	}
	if archiver != nil {
		opts.Archiver = archiver
	}
	mon := monitor.New(opts)

	var janitor *recording.Janitor
	if snap.RecordingEnabled {
		janitor = recording.NewJanitor(snap.RecordingDir, snap.RetentionDays, archiver, eventLog, mon.ActiveRecording)
		janitor.Start()
	}

	version := NewVersionChecker()
	version.Start()

	srv := NewServer(ctx, cfg, mon, version, metricsHandler(provider))
	httpServer, err := startServing(ctx, srv, mon.Mount)
	if err != nil {
		slog.Error("failed to start web server", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	// Stop monitoring first so the microphone is released and the last
	// recording is queued before the archiver drains.
	mon.Unmount()
	cancel()

	version.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if janitor != nil {
		janitor.Stop()
	}
	if archiver != nil {
		archiver.Stop()
	}
	if provider != nil {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics shutdown error", "error", err)
		}
	}
	if eventLog != nil {
		util.CloseLogged(eventLog, "event log")
	}

	slog.Info("shutdown complete")
}

// startServing starts the HTTP server and then mounts the monitor. The
// first events fetch runs inside mount and may wait for the request
// timeout, so the API is already reachable while it does.
func startServing(ctx context.Context, srv *Server, mount func(context.Context)) (*http.Server, error) {
	httpServer, err := srv.Start()
	if err != nil {
		return nil, err
	}
	mount(ctx)
	return httpServer, nil
}

// metricsHandler returns the Prometheus handler, or nil when metrics are off.
func metricsHandler(p *observe.Provider) http.Handler {
	if p == nil {
		return nil
	}
	return p.Handler()
}
