package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/alertory/monitor/internal/types"
	"github.com/alertory/monitor/internal/util"
)

const (
	githubRepo           = "alertory/monitor"
	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30 * time.Second // Delay before first check to avoid blocking startup
	versionCheckTimeout  = 30 * time.Second // HTTP request timeout
	versionMaxRetries    = 3                // Max attempts per check cycle
	versionRetryDelay    = time.Minute      // First delay between attempts, doubled after each
)

// releaseURL is the GitHub endpoint for the latest published release.
var releaseURL = "https://api.github.com/repos/" + githubRepo + "/releases/latest"

// VersionChecker checks for new releases and reports update availability. It is safe for concurrent use.
type VersionChecker struct {
	client  *http.Client
	url     string
	current string
	backoff *util.Backoff

	mu        sync.RWMutex
	latest    string
	etag      string // For conditional requests (304 Not Modified)
	checkedAt time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewVersionChecker returns a VersionChecker for the running build. Call Start to begin checking.
func NewVersionChecker() *VersionChecker {
	return &VersionChecker{
		client:  &http.Client{Timeout: versionCheckTimeout},
		url:     releaseURL,
		current: normalizeVersion(Version),
		backoff: util.NewBackoff(versionRetryDelay, 4*versionRetryDelay),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the check loop in the background. Development builds never check.
func (vc *VersionChecker) Start() {
	if vc.current == "dev" || vc.current == "unknown" {
		close(vc.done)
		return
	}
	go vc.run()
}

// Stop stops the version checker and waits for the loop to exit.
func (vc *VersionChecker) Stop() {
	vc.stopOnce.Do(func() { close(vc.stopCh) })
	<-vc.done
}

// run executes the version check loop.
func (vc *VersionChecker) run() {
	defer close(vc.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	// Initial delay before first check
	select {
	case <-time.After(versionCheckDelay):
		vc.checkWithRetry()
	case <-vc.stopCh:
		return
	}

	ticker := time.NewTicker(versionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			vc.checkWithRetry()
		case <-vc.stopCh:
			return
		}
	}
}

// checkWithRetry performs the version check with backoff between failed attempts.
func (vc *VersionChecker) checkWithRetry() {
	backoff := vc.backoff
	backoff.Reset()
	for {
		err := vc.check(context.Background())
		if err == nil {
			return
		}
		if backoff.Attempts() >= versionMaxRetries-1 {
			slog.Debug("version check failed", "attempts", versionMaxRetries, "error", err)
			return
		}
		select {
		case <-time.After(backoff.Next()):
		case <-vc.stopCh:
			return
		}
	}
}

// githubRelease represents a release with version and status information.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// errRetryable marks check failures worth another attempt.
var errRetryable = errors.New("version check should be retried")

// check retrieves the latest release. Outcomes that retrying cannot change
// (no releases, client errors, drafts) count as success.
func (vc *VersionChecker) check(ctx context.Context) error {
	ctx, cancel := context.WithTimeoutCause(ctx, versionCheckTimeout, errors.New("github API request timeout"))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.url, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "alertory-monitor/"+Version)

	vc.mu.RLock()
	etag := vc.etag
	vc.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := vc.client.Do(req)
	if err != nil {
		return errors.Join(errRetryable, err)
	}
	defer util.CloseLogged(resp.Body, "release response body")

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		vc.markChecked()
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return errRetryable
	default:
		return nil
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return errors.Join(errRetryable, err)
	}
	if release.Draft || release.Prerelease {
		return nil
	}
	if release.TagName == "" {
		return errRetryable
	}

	vc.mu.Lock()
	vc.latest = normalizeVersion(release.TagName)
	if newEtag := resp.Header.Get("ETag"); newEtag != "" {
		vc.etag = newEtag
	}
	vc.checkedAt = time.Now()
	vc.mu.Unlock()
	return nil
}

func (vc *VersionChecker) markChecked() {
	vc.mu.Lock()
	vc.checkedAt = time.Now()
	vc.mu.Unlock()
}

// Info returns the current version info for the dashboard.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	info := types.VersionInfo{
		Current:   vc.current,
		Latest:    vc.latest,
		Commit:    Commit,
		BuildTime: formatBuildTime(BuildTime),
		CheckedAt: vc.checkedAt,
	}
	if vc.latest != "" && vc.current != "dev" && vc.current != "unknown" {
		info.UpdateAvail = isNewerVersion(vc.latest, vc.current)
	}
	return info
}

// formatBuildTime renders an RFC 3339 build timestamp for display and
// passes anything else through.
func formatBuildTime(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

// normalizeVersion returns a normalized version string.
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewerVersion reports whether latest is newer than current.
func isNewerVersion(latest, current string) bool {
	return semver.Compare("v"+normalizeVersion(latest), "v"+normalizeVersion(current)) > 0
}
