// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alertory/monitor/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort          = 8090
	DefaultSampleRate       = 44100
	DefaultFFTSize          = 256
	DefaultFrameRate        = 60
	DefaultThreshold        = 150 // mean byte magnitude, ~59%
	DefaultEventsBaseURL    = "http://localhost:8080"
	DefaultPageSize         = 10
	DefaultPollIntervalMs   = 2000
	DefaultRequestTimeoutMs = 10000
	DefaultTimeLocale       = util.LocaleKorean
	DefaultRecordingDir     = "recordings"
	DefaultRetentionDays    = 30
)

// Auth modes for the events API.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthCookie = "cookie"
	AuthOAuth2 = "oauth2"
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	Port    int    `json:"port" validate:"gte=1,lte=65535"` // HTTP server port
	APIKey  string `json:"api_key" validate:"omitempty,min=16,max=128"`
	LogPath string `json:"log_path" validate:"omitempty,max=4096"` // Diagnostic event log (JSON lines)
	// AllowedOrigins lists extra dashboard hosts that may open the WebSocket.
	AllowedOrigins []string `json:"allowed_origins,omitempty" validate:"omitempty,dive,hostname"`
}

// AudioConfig holds microphone acquisition and analysis settings.
type AudioConfig struct {
	Device           string `json:"device"` // Capture device ID (empty = default)
	SampleRate       int    `json:"sample_rate" validate:"gte=8000,lte=192000"`
	EchoCancellation *bool  `json:"echo_cancellation,omitempty"`
	NoiseSuppression *bool  `json:"noise_suppression,omitempty"`
	FFTSize          int    `json:"fft_size" validate:"gte=32,lte=32768,pow2"`
	FrameRate        int    `json:"frame_rate" validate:"gte=1,lte=240"` // Level ticks per second
	Threshold        int    `json:"threshold" validate:"gte=1,lte=255"`  // Mean byte magnitude signal point
}

// AuthConfig holds credentials for the events API.
type AuthConfig struct {
	Mode         string   `json:"mode" validate:"oneof=none bearer cookie oauth2"`
	Token        string   `json:"token,omitempty" validate:"required_if=Mode bearer"`
	Cookie       string   `json:"cookie,omitempty" validate:"required_if=Mode cookie"`
	ClientID     string   `json:"client_id,omitempty" validate:"required_if=Mode oauth2"`
	ClientSecret string   `json:"client_secret,omitempty" validate:"required_if=Mode oauth2"`
	TokenURL     string   `json:"token_url,omitempty" validate:"required_if=Mode oauth2"`
	Scopes       []string `json:"scopes,omitempty"`
}

// EventsConfig holds the reconciliation poller settings.
type EventsConfig struct {
	BaseURL          string     `json:"base_url" validate:"required,url"`
	PageSize         int        `json:"page_size" validate:"gte=1,lte=100"`
	PollIntervalMs   int64      `json:"poll_interval_ms" validate:"gte=100,lte=3600000"`
	RequestTimeoutMs int64      `json:"request_timeout_ms" validate:"gte=100,lte=120000"`
	TimeLocale       string     `json:"time_locale" validate:"oneof=ko-KR en-US"`
	Timezone         string     `json:"timezone,omitempty" validate:"omitempty,timezone"`
	Auth             AuthConfig `json:"auth"`
}

// S3Config holds the optional recording archive destination.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty" validate:"omitempty,url"`
	Region          string `json:"region,omitempty"`
	Bucket          string `json:"bucket,omitempty" validate:"omitempty,max=63"`
	AccessKeyID     string `json:"access_key_id,omitempty" validate:"required_with=Bucket"`
	SecretAccessKey string `json:"secret_access_key,omitempty" validate:"required_with=Bucket"`
	Prefix          string `json:"prefix,omitempty" validate:"omitempty,max=256"`
}

// IsConfigured reports whether an archive bucket is set up.
func (s *S3Config) IsConfigured() bool {
	return util.IsConfigured(s.Bucket, s.AccessKeyID, s.SecretAccessKey)
}

// RecordingConfig holds recording sub-session settings.
type RecordingConfig struct {
	Enabled       *bool    `json:"enabled,omitempty"`
	Dir           string   `json:"dir" validate:"required,max=4096"`
	RetentionDays int      `json:"retention_days" validate:"gte=0,lte=3650"`
	S3            S3Config `json:"s3"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System    SystemConfig    `json:"system"`
	Audio     AudioConfig     `json:"audio"`
	Events    EventsConfig    `json:"events"`
	Recording RecordingConfig `json:"recording"`
	Metrics   MetricsConfig   `json:"metrics"`

	mu       sync.RWMutex
	filePath string
}

// validate is the shared validator instance for configuration checks.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("pow2", func(fl validator.FieldLevel) bool {
		n := fl.Field().Int()
		return n > 0 && n&(n-1) == 0
	}); err != nil {
		panic(err)
	}
	return v
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		if err := c.checkRecordingDir(); err != nil {
			return err
		}
		if err := c.ensureAPIKey(); err != nil {
			return err
		}
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.checkRecordingDir(); err != nil {
		return err
	}

	if c.System.APIKey == "" {
		if err := c.ensureAPIKey(); err != nil {
			return err
		}
		return c.saveLocked()
	}

	return nil
}

// Validate checks all configuration fields for correctness.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validate()
}

// validate checks all configuration fields. Caller must hold c.mu.
func (c *Config) validate() error {
	var msgs []string

	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	switch {
	case err == nil:
	case errors.As(err, &verrs):
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value()))
		}
	default:
		return util.WrapError("validate config", err)
	}

	for _, perr := range c.validatePaths() {
		msgs = append(msgs, perr.Error())
	}

	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// validatePaths checks the file system locations the monitor writes to.
// Caller must hold c.mu.
func (c *Config) validatePaths() []error {
	var errs []error
	if deref(c.Recording.Enabled, true) {
		if err := util.ValidatePath("recording.dir", c.Recording.Dir); err != nil {
			errs = append(errs, err)
		}
	}
	if c.System.LogPath != "" {
		if err := util.ValidatePath("system.log_path", c.System.LogPath); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// checkRecordingDir verifies the recording directory can be written when
// recording is enabled. Caller must hold c.mu.
func (c *Config) checkRecordingDir() error {
	if !deref(c.Recording.Enabled, true) {
		return nil
	}
	if err := util.CheckPathWritable(c.Recording.Dir); err != nil {
		return fmt.Errorf("recording.dir: %w", err)
	}
	return nil
}

// fieldPath strips the root type from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	// System defaults
	c.System.Port = cmp.Or(c.System.Port, DefaultWebPort)

	// Audio defaults
	c.Audio.SampleRate = cmp.Or(c.Audio.SampleRate, DefaultSampleRate)
	c.Audio.FFTSize = cmp.Or(c.Audio.FFTSize, DefaultFFTSize)
	c.Audio.FrameRate = cmp.Or(c.Audio.FrameRate, DefaultFrameRate)
	if c.Audio.Threshold == 0 {
		c.Audio.Threshold = DefaultThreshold
	}
	if c.Audio.EchoCancellation == nil {
		c.Audio.EchoCancellation = ptr(true)
	}
	if c.Audio.NoiseSuppression == nil {
		c.Audio.NoiseSuppression = ptr(true)
	}

	// Events defaults
	c.Events.BaseURL = cmp.Or(c.Events.BaseURL, DefaultEventsBaseURL)
	c.Events.PageSize = cmp.Or(c.Events.PageSize, DefaultPageSize)
	c.Events.PollIntervalMs = cmp.Or(c.Events.PollIntervalMs, DefaultPollIntervalMs)
	c.Events.RequestTimeoutMs = cmp.Or(c.Events.RequestTimeoutMs, DefaultRequestTimeoutMs)
	c.Events.TimeLocale = cmp.Or(c.Events.TimeLocale, DefaultTimeLocale)
	c.Events.Auth.Mode = cmp.Or(c.Events.Auth.Mode, AuthNone)

	// Recording defaults
	if c.Recording.Enabled == nil {
		c.Recording.Enabled = ptr(true)
	}
	if c.Recording.Dir == "" {
		c.Recording.Dir = filepath.Join(filepath.Dir(c.filePath), DefaultRecordingDir)
	}
	if c.Recording.RetentionDays == 0 {
		c.Recording.RetentionDays = DefaultRetentionDays
	}

	// Metrics defaults
	if c.Metrics.Enabled == nil {
		c.Metrics.Enabled = ptr(true)
	}
}

// ensureAPIKey generates an API key if none is set. Caller must hold c.mu.
func (c *Config) ensureAPIKey() error {
	if c.System.APIKey != "" {
		return nil
	}
	key, err := GenerateAPIKey()
	if err != nil {
		return util.WrapError("generate API key", err)
	}
	c.System.APIKey = key
	return nil
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Setters for individual settings ---

// SetThreshold updates the loudness signal point and saves the configuration.
func (c *Config) SetThreshold(threshold int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.Audio.Threshold
	c.Audio.Threshold = threshold
	if err := c.validate(); err != nil {
		c.Audio.Threshold = prev
		return err
	}
	return c.saveLocked()
}

// SetAudioDevice updates the capture device and saves the configuration.
// The new device is used by the next capture session.
func (c *Config) SetAudioDevice(device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Device = device
	return c.saveLocked()
}

// APIKey returns the key required by the HTTP API.
func (c *Config) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort        int
	APIKey         string
	LogPath        string
	AllowedOrigins []string

	// Audio
	AudioDevice      string
	SampleRate       int
	EchoCancellation bool
	NoiseSuppression bool
	FFTSize          int
	FrameInterval    time.Duration
	Threshold        int

	// Events
	EventsBaseURL  string
	PageSize       int
	PollInterval   time.Duration
	RequestTimeout time.Duration
	TimeLocale     string
	Location       *time.Location
	Auth           AuthConfig

	// Recording
	RecordingEnabled bool
	RecordingDir     string
	RetentionDays    int
	S3               S3Config

	// Metrics
	MetricsEnabled bool
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	loc := time.Local
	if c.Events.Timezone != "" {
		if l, err := time.LoadLocation(c.Events.Timezone); err == nil {
			loc = l
		}
	}

	auth := c.Events.Auth
	auth.Scopes = slices.Clone(auth.Scopes)

	return Snapshot{
		// System
		WebPort:        c.System.Port,
		APIKey:         c.System.APIKey,
		LogPath:        c.System.LogPath,
		AllowedOrigins: slices.Clone(c.System.AllowedOrigins),

		// Audio
		AudioDevice:      c.Audio.Device,
		SampleRate:       c.Audio.SampleRate,
		EchoCancellation: deref(c.Audio.EchoCancellation, true),
		NoiseSuppression: deref(c.Audio.NoiseSuppression, true),
		FFTSize:          c.Audio.FFTSize,
		FrameInterval:    time.Second / time.Duration(max(c.Audio.FrameRate, 1)),
		Threshold:        c.Audio.Threshold,

		// Events
		EventsBaseURL:  strings.TrimRight(c.Events.BaseURL, "/"),
		PageSize:       c.Events.PageSize,
		PollInterval:   time.Duration(c.Events.PollIntervalMs) * time.Millisecond,
		RequestTimeout: time.Duration(c.Events.RequestTimeoutMs) * time.Millisecond,
		TimeLocale:     c.Events.TimeLocale,
		Location:       loc,
		Auth:           auth,

		// Recording
		RecordingEnabled: deref(c.Recording.Enabled, true),
		RecordingDir:     c.Recording.Dir,
		RetentionDays:    c.Recording.RetentionDays,
		S3:               c.Recording.S3,

		// Metrics
		MetricsEnabled: deref(c.Metrics.Enabled, true),
	}
}

// HasArchive reports whether finished recordings are uploaded to S3.
func (s *Snapshot) HasArchive() bool {
	return s.RecordingEnabled && s.S3.IsConfigured()
}

// HasLogPath reports whether a diagnostic log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
