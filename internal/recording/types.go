// Package recording captures monitor sessions to WAV files and archives them.
package recording

import (
	"errors"
	"time"
)

// Sentinel errors for recording operations.
var (
	// ErrAlreadyRecording is returned when trying to start a recorder that is already recording.
	ErrAlreadyRecording = errors.New("recorder is already recording")

	// ErrNotRecording is returned when trying to stop a recorder that is not recording.
	ErrNotRecording = errors.New("recorder is not recording")
)

// Result describes a finished recording.
type Result struct {
	Path     string
	Duration time.Duration
	Samples  int
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint        string // Custom S3 endpoint (empty for AWS)
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string // Key prefix, defaults to "recordings"
}

// IsConfigured returns true if S3 settings are configured.
func (c *S3Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// filePrefix is the name prefix of every recording file.
const filePrefix = "monitor-"

// fileTimeLayout is the timestamp part of recording file names.
const fileTimeLayout = "2006-01-02-150405"
