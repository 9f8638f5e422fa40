// Package events reads the server's recent detection events and keeps a
// reconciled, display-ready copy of them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/alertory/monitor/internal/config"
	"github.com/alertory/monitor/internal/util"
)

// eventsPath is the recent-events endpoint relative to the base URL.
const eventsPath = "/api/events"

// maxBodyBytes bounds how much of a response body is decoded.
const maxBodyBytes = 1 << 20

// ErrMalformedResponse is returned when the body is not a page of events.
var ErrMalformedResponse = errors.New("malformed events response")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("events API returned status %d", e.Code)
}

// EventRecord is a raw event as the server sends it.
type EventRecord struct {
	ID            int64   `json:"id"`
	EventType     string  `json:"eventType"`
	LocationLabel string  `json:"locationLabel"`
	Confidence    float64 `json:"confidence"`
	DetectedAt    string  `json:"detectedAt"`
}

// Page is a paginated events response. Only Content is required.
type Page struct {
	Content       []EventRecord `json:"content" validate:"required"`
	TotalElements int64         `json:"totalElements,omitempty"`
	TotalPages    int           `json:"totalPages,omitempty"`
	Number        int           `json:"number,omitempty"`
	Size          int           `json:"size,omitempty"`
}

// Fetcher returns one page of recent events.
type Fetcher interface {
	Recent(ctx context.Context, page, size int) ([]EventRecord, error)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Auth    config.AuthConfig
}

// Client calls the events API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       config.AuthConfig
	validate   *validator.Validate
}

// NewClient creates an events API client for the configured auth mode.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid events base URL %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultRequestTimeoutMs) * time.Millisecond
	}

	httpClient := &http.Client{Timeout: timeout}
	if opts.Auth.Mode == config.AuthOAuth2 {
		cc := &clientcredentials.Config{
			ClientID:     opts.Auth.ClientID,
			ClientSecret: opts.Auth.ClientSecret,
			TokenURL:     opts.Auth.TokenURL,
			Scopes:       opts.Auth.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
		httpClient = cc.Client(ctx)
		httpClient.Timeout = timeout
	}

	return &Client{
		baseURL:    strings.TrimRight(base.String(), "/"),
		httpClient: httpClient,
		auth:       opts.Auth,
		validate:   validator.New(),
	}, nil
}

// URL returns the request URL for a page.
func (c *Client) URL(page, size int) string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	return c.baseURL + eventsPath + "?" + q.Encode()
}

// Recent fetches one page of the most recent events.
func (c *Client) Recent(ctx context.Context, page, size int) ([]EventRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(page, size), http.NoBody)
	if err != nil {
		return nil, util.WrapError("create events request", err)
	}
	req.Header.Set("Accept", "application/json")
	switch c.auth.Mode {
	case config.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+c.auth.Token)
	case config.AuthCookie:
		req.Header.Set("Cookie", c.auth.Cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, util.WrapError("fetch events", err)
	}
	defer util.CloseLogged(resp.Body, "events response body")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	var p Page
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := c.validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: missing content", ErrMalformedResponse)
	}
	return p.Content, nil
}
