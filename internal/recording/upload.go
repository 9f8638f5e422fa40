package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alertory/monitor/internal/eventlog"
	"github.com/alertory/monitor/internal/util"
)

// Archive upload tuning.
const (
	DefaultUploadAttempts = 3
	uploadQueueSize       = 16
	uploadTimeout         = 5 * time.Minute
	uploadInitialBackoff  = 2 * time.Second
	uploadMaxBackoff      = 30 * time.Second
	defaultKeyPrefix      = "recordings"
)

// objectStore is the subset of the S3 API used for archiving.
type objectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg *S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = region
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// Archiver uploads finished recordings to S3 in the background.
type Archiver struct {
	cfg      S3Config
	client   objectStore
	events   *eventlog.Logger
	attempts int
	initial  time.Duration
	maxDelay time.Duration

	queue    chan string
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewArchiver creates an archiver for cfg. Call Start to begin uploading.
func NewArchiver(cfg S3Config, events *eventlog.Logger) (*Archiver, error) {
	if !cfg.IsConfigured() {
		return nil, errors.New("S3 is not configured")
	}
	return newArchiver(cfg, createS3Client(&cfg), events), nil
}

func newArchiver(cfg S3Config, client objectStore, events *eventlog.Logger) *Archiver {
	return &Archiver{
		cfg:      cfg,
		client:   client,
		events:   events,
		attempts: DefaultUploadAttempts,
		initial:  uploadInitialBackoff,
		maxDelay: uploadMaxBackoff,
		queue:    make(chan string, uploadQueueSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the upload worker.
func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.worker()
}

// Stop stops the worker after draining queued uploads.
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

// Enqueue schedules a file for upload. It reports false when the queue is full.
func (a *Archiver) Enqueue(localPath string) bool {
	select {
	case a.queue <- localPath:
		slog.Info("queued recording for upload", "file", filepath.Base(localPath))
		return true
	default:
		slog.Warn("upload queue full", "file", filepath.Base(localPath))
		return false
	}
}

// Key returns the object key for a recording file name.
func (a *Archiver) Key(filename string) string {
	prefix := strings.Trim(a.cfg.Prefix, "/")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return path.Join(prefix, filename)
}

// worker processes the upload queue, draining remaining items on shutdown.
func (a *Archiver) worker() {
	defer a.wg.Done()

	for {
		select {
		case <-a.stopCh:
			for {
				select {
				case p := <-a.queue:
					a.uploadWithRetry(p)
				default:
					return
				}
			}
		case p := <-a.queue:
			a.uploadWithRetry(p)
		}
	}
}

// uploadWithRetry uploads a file with exponential backoff between attempts.
func (a *Archiver) uploadWithRetry(localPath string) {
	filename := filepath.Base(localPath)
	key := a.Key(filename)
	backoff := util.NewBackoff(a.initial, a.maxDelay)

	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		lastErr = a.upload(localPath, key)
		if lastErr == nil {
			slog.Info("upload completed", "s3_key", key, "attempt", attempt)
			_ = a.events.LogRecording(eventlog.UploadCompleted, eventlog.RecordingDetails{
				Filename: filename, S3Key: key, Attempt: attempt,
			})
			return
		}
		if errors.Is(lastErr, os.ErrNotExist) {
			break
		}

		slog.Error("upload failed", "s3_key", key, "attempt", attempt, "error", lastErr)
		if attempt == a.attempts {
			break
		}

		select {
		case <-time.After(backoff.Next()):
		case <-a.stopCh:
			// Shutting down: one last try without waiting.
		}
	}

	_ = a.events.LogRecording(eventlog.UploadFailed, eventlog.RecordingDetails{
		Filename: filename, S3Key: key, Attempt: a.attempts, Error: lastErr.Error(),
	})
}

// upload performs a single PutObject for localPath.
func (a *Archiver) upload(localPath, key string) error {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		uploadTimeout,
		errors.New("s3 upload timeout"),
	)
	defer cancel()

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer util.CloseLogged(file, "recording file")

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat recording: %w", err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("audio/wav"),
	})
	return err
}

// CleanupRemote removes archived recordings older than retentionDays.
func (a *Archiver) CleanupRemote(ctx context.Context, retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	prefix := a.Key("")
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var deleted int
	var continuationToken *string
	for {
		output, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return deleted, fmt.Errorf("list S3 objects: %w", err)
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			fileDate, ok := util.ExtractDateFromFilename(path.Base(key))
			if !ok || !fileDate.Before(cutoff) {
				continue
			}
			if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(a.cfg.Bucket),
				Key:    obj.Key,
			}); err != nil {
				slog.Warn("cleanup: failed to delete S3 object", "key", key, "error", err)
				continue
			}
			deleted++
			slog.Debug("cleanup: deleted S3 object", "key", key)
		}

		if !aws.ToBool(output.IsTruncated) {
			return deleted, nil
		}
		continuationToken = output.NextContinuationToken
	}
}

// TestConnection verifies bucket access by uploading and deleting a small test object.
func (a *Archiver) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	testKey := a.Key(fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano()))
	testContent := []byte("monitor connection test")

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(testKey),
	}); err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}
	return nil
}
