package recording

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alertory/monitor/internal/eventlog"
	"github.com/alertory/monitor/internal/util"
)

// cleanupHour is the local hour at which the daily cleanup runs.
const cleanupHour = 3

// CleanupLocal removes recordings in dir whose filename date is older than
// retentionDays before now. The file named by active is never removed.
// A retention of zero keeps everything.
func CleanupLocal(dir string, retentionDays int, now time.Time, active string) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, util.WrapError("read recording directory", err)
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	var deleted int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) {
			continue
		}

		fileDate, ok := util.ExtractDateFromFilename(name)
		if !ok || !fileDate.Before(cutoff) {
			continue
		}

		filePath := filepath.Join(dir, name)
		if active != "" && filePath == active {
			continue
		}

		if err := os.Remove(filePath); err != nil {
			slog.Warn("cleanup: failed to delete local file", "path", filePath, "error", err)
			continue
		}
		deleted++
		slog.Debug("cleanup: deleted local file", "file", name)
	}

	return deleted, nil
}

// Janitor runs retention cleanup once a day.
type Janitor struct {
	dir           string
	retentionDays int
	archiver      *Archiver
	events        *eventlog.Logger
	active        func() string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewJanitor creates a cleanup scheduler for dir. archiver may be nil;
// active reports the file being recorded, if any.
func NewJanitor(dir string, retentionDays int, archiver *Archiver, events *eventlog.Logger, active func() string) *Janitor {
	return &Janitor{
		dir:           dir,
		retentionDays: retentionDays,
		archiver:      archiver,
		events:        events,
		active:        active,
		stopCh:        make(chan struct{}),
	}
}

// Start starts the daily cleanup scheduler.
func (j *Janitor) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for {
			now := time.Now()
			next := nextCleanup(now)
			slog.Info("cleanup scheduler: next run scheduled", "at", next.Format(time.DateTime))

			timer := time.NewTimer(next.Sub(now))
			select {
			case <-timer.C:
				j.RunOnce(context.Background(), time.Now())
			case <-j.stopCh:
				timer.Stop()
				slog.Info("cleanup scheduler stopped")
				return
			}
		}
	}()
}

// Stop stops the scheduler and waits for a running cleanup to finish.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

// nextCleanup returns the next cleanup time strictly after now.
func nextCleanup(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), cleanupHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce performs local and, when configured, remote cleanup.
func (j *Janitor) RunOnce(ctx context.Context, now time.Time) {
	if j.retentionDays <= 0 {
		return
	}

	var active string
	if j.active != nil {
		active = j.active()
	}

	deleted, err := CleanupLocal(j.dir, j.retentionDays, now, active)
	if err != nil {
		slog.Warn("cleanup: local cleanup failed", "dir", j.dir, "error", err)
	}
	j.logCleanup("local", deleted, err)

	if j.archiver == nil {
		return
	}

	ctx, cancel := context.WithTimeoutCause(ctx, 5*time.Minute, errors.New("s3 cleanup timeout"))
	defer cancel()
	deleted, err = j.archiver.CleanupRemote(ctx, j.retentionDays, now)
	if err != nil {
		slog.Warn("cleanup: remote cleanup failed", "error", err)
	}
	j.logCleanup("s3", deleted, err)
}

func (j *Janitor) logCleanup(storage string, deleted int, err error) {
	if deleted > 0 {
		slog.Info("cleanup: deleted recordings", "storage", storage, "count", deleted)
	}
	details := eventlog.RecordingDetails{FilesDeleted: deleted, StorageType: storage}
	if err != nil {
		details.Error = err.Error()
	}
	_ = j.events.LogRecording(eventlog.CleanupCompleted, details)
}
