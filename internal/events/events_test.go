package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alertory/monitor/internal/config"
	"github.com/alertory/monitor/internal/eventlog"
	"github.com/alertory/monitor/internal/schedule"
	"github.com/alertory/monitor/internal/types"
	"github.com/alertory/monitor/internal/util"
)

const screamPage = `{"content":[{"id":1,"eventType":"SCREAM","locationLabel":"A공장 2층","confidence":92.3,"detectedAt":"2024-01-01T10:00:00"}],"totalElements":1}`

func newTestClient(t *testing.T, srv *httptest.Server, auth config.AuthConfig) *Client {
	t.Helper()
	c, err := NewClient(Options{BaseURL: srv.URL + "/", Timeout: time.Second, Auth: auth})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestClientRecent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/events" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("page"); got != "0" {
			t.Errorf("page = %q", got)
		}
		if got := r.URL.Query().Get("size"); got != "10" {
			t.Errorf("size = %q", got)
		}
		fmt.Fprint(w, screamPage)
	}))
	defer srv.Close()

	recs, err := newTestClient(t, srv, config.AuthConfig{Mode: config.AuthNone}).Recent(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 || recs[0].EventType != "SCREAM" || recs[0].LocationLabel != "A공장 2층" {
		t.Fatalf("records = %+v", recs)
	}

	got := Normalize(recs[0], time.UTC, util.LocaleKorean)
	want := types.DetectionRecord{ID: 1, Type: types.DetectionScream, Location: "A공장 2층", Confidence: 92.3, Timestamp: "오전 10:00:00"}
	if got != want {
		t.Errorf("Normalize = %+v, want %+v", got, want)
	}
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"non-2xx", http.StatusInternalServerError, `{"content":[]}`, func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && se.Code == http.StatusInternalServerError
		}},
		{"missing content", http.StatusOK, `{"totalElements":0}`, func(err error) bool {
			return errors.Is(err, ErrMalformedResponse)
		}},
		{"not json", http.StatusOK, `<html>`, func(err error) bool {
			return errors.Is(err, ErrMalformedResponse)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv, config.AuthConfig{}).Recent(context.Background(), 0, 10)
			if err == nil || !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestClientEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"content":[]}`)
	}))
	defer srv.Close()

	recs, err := newTestClient(t, srv, config.AuthConfig{}).Recent(context.Background(), 0, 10)
	if err != nil || len(recs) != 0 {
		t.Errorf("Recent = %v, %v; want empty and nil", recs, err)
	}
}

func TestClientAuthModes(t *testing.T) {
	tests := []struct {
		name   string
		auth   config.AuthConfig
		header string
		want   string
	}{
		{"bearer", config.AuthConfig{Mode: config.AuthBearer, Token: "tok"}, "Authorization", "Bearer tok"},
		{"cookie", config.AuthConfig{Mode: config.AuthCookie, Cookie: "SESSION=abc"}, "Cookie", "SESSION=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get(tt.header); got != tt.want {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				fmt.Fprint(w, `{"content":[]}`)
			}))
			defer srv.Close()

			if _, err := newTestClient(t, srv, tt.auth).Recent(context.Background(), 0, 10); err != nil {
				t.Errorf("Recent: %v", err)
			}
		})
	}
}

func TestClientOAuth2(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"minted","token_type":"bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer minted" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, screamPage)
	}))
	defer apiSrv.Close()

	c := newTestClient(t, apiSrv, config.AuthConfig{
		Mode:         config.AuthOAuth2,
		ClientID:     "monitor",
		ClientSecret: "secret",
		TokenURL:     tokenSrv.URL,
	})
	recs, err := c.Recent(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient(Options{BaseURL: "not a url"}); err == nil {
		t.Error("expected error")
	}
}

func TestNormalizeEnglishAndInvalid(t *testing.T) {
	rec := EventRecord{ID: 2, EventType: "CUSTOM", DetectedAt: "2024-01-01T15:04:05Z"}
	got := Normalize(rec, time.UTC, util.LocaleEnglish)
	if got.Timestamp != "3:04:05 PM" || got.Type != "CUSTOM" {
		t.Errorf("Normalize = %+v", got)
	}
	rec.DetectedAt = "yesterday"
	if got := Normalize(rec, time.UTC, util.LocaleEnglish); got.Timestamp != util.InvalidTime {
		t.Errorf("Timestamp = %q, want %q", got.Timestamp, util.InvalidTime)
	}
}

// scriptedFetcher returns queued results in order, repeating the last one.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	recs []EventRecord
	err  error
}

func (f *scriptedFetcher) push(recs []EventRecord, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, fetchResult{recs, err})
}

func (f *scriptedFetcher) Recent(_ context.Context, _, _ int) ([]EventRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.recs, r.err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var scream = EventRecord{ID: 1, EventType: "SCREAM", LocationLabel: "A공장 2층", Confidence: 92.3, DetectedAt: "2024-01-01T10:00:00"}

func newTestPoller(t *testing.T, f Fetcher) (*Poller, *schedule.Manual, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	logger, err := eventlog.NewLogger(logPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = logger.Close() })

	clock := schedule.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	p := NewPoller(PollerConfig{
		Fetcher:   f,
		Scheduler: clock,
		Clock:     clock,
		Location:  time.UTC,
		Events:    logger,
		Source:    "http://events.test/api/events",
	})
	return p, clock, logPath
}

func TestPollerImmediateFetchThenInterval(t *testing.T) {
	f := &scriptedFetcher{}
	f.push([]EventRecord{scream}, nil)
	p, clock, _ := newTestPoller(t, f)

	p.Start(context.Background())
	if f.Calls() != 1 {
		t.Fatalf("calls after Start = %d, want 1", f.Calls())
	}
	st := p.State()
	if !st.LastFetchOK || len(st.Items) != 1 || st.Items[0].Timestamp != "오전 10:00:00" {
		t.Fatalf("state = %+v", st)
	}

	clock.Advance(1999 * time.Millisecond)
	if f.Calls() != 1 {
		t.Errorf("fetched before the interval elapsed")
	}
	clock.Advance(time.Millisecond)
	if f.Calls() != 2 {
		t.Errorf("calls = %d, want 2", f.Calls())
	}

	// Identical responses replace, never append.
	if n := len(p.State().Items); n != 1 {
		t.Errorf("items = %d after identical fetch, want 1", n)
	}
}

func TestPollerFailureClearsList(t *testing.T) {
	f := &scriptedFetcher{}
	f.push([]EventRecord{scream}, nil)
	f.push(nil, errors.New("connection refused"))
	f.push([]EventRecord{scream, scream}, nil)
	p, clock, logPath := newTestPoller(t, f)

	var changes []types.PollState
	p.cfg.OnChange = func(s types.PollState) { changes = append(changes, s) }

	p.Start(context.Background())
	clock.Advance(2 * time.Second)

	st := p.State()
	if st.LastFetchOK || len(st.Items) != 0 || st.ConsecutiveFailures != 1 {
		t.Fatalf("after failure state = %+v", st)
	}
	if st.Items == nil {
		t.Error("items should be an empty list, not nil")
	}

	clock.Advance(2 * time.Second)
	st = p.State()
	if !st.LastFetchOK || len(st.Items) != 2 || st.ConsecutiveFailures != 0 {
		t.Fatalf("after recovery state = %+v", st)
	}
	if len(changes) != 3 {
		t.Errorf("OnChange calls = %d, want 3", len(changes))
	}

	events, _, err := eventlog.ReadLast(logPath, 10, 0, eventlog.FilterPoll)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Type != eventlog.PollRecovered || events[1].Type != eventlog.PollFailed {
		t.Errorf("events = %+v", events)
	}
}

func TestPollerStopCancelsOnce(t *testing.T) {
	f := &scriptedFetcher{}
	f.push(nil, nil)
	p, clock, _ := newTestPoller(t, f)

	p.Start(context.Background())
	if clock.Live() != 1 {
		t.Fatalf("live tasks = %d, want 1", clock.Live())
	}
	p.Stop()
	p.Stop()
	if clock.Live() != 0 {
		t.Errorf("live tasks after Stop = %d, want 0", clock.Live())
	}

	clock.Advance(10 * time.Second)
	if f.Calls() != 1 {
		t.Errorf("calls after Stop = %d, want 1", f.Calls())
	}

	p.Start(context.Background())
	if f.Calls() != 1 || clock.Live() != 0 {
		t.Error("Start after Stop should do nothing")
	}
}

// blockingFetcher waits for release before answering.
type blockingFetcher struct {
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) Recent(_ context.Context, _, _ int) ([]EventRecord, error) {
	f.entered <- struct{}{}
	<-f.release
	return []EventRecord{scream}, nil
}

func TestPollerDiscardsResultAfterStop(t *testing.T) {
	f := &blockingFetcher{entered: make(chan struct{}), release: make(chan struct{})}
	p, clock, _ := newTestPoller(t, f)

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	<-f.entered
	p.Stop()
	close(f.release)
	<-done

	if st := p.State(); len(st.Items) != 0 || st.LastFetchOK {
		t.Errorf("late result applied: %+v", st)
	}
	if clock.Live() != 0 {
		t.Errorf("interval scheduled after Stop: %d live tasks", clock.Live())
	}
}
