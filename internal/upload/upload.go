// Package upload hands finished recordings to object storage.
//
// A worker never uploads itself. It emits an UploadRequest which the
// supervisor passes to a Dispatcher; dispatch is fire-and-forget and the
// session continues immediately.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"grimm.is/humangym/internal/clock"
	"grimm.is/humangym/internal/logging"
	"grimm.is/humangym/internal/metrics"
	"grimm.is/humangym/internal/protocol"
)

// GzipSuffix is appended to compressed files and their object keys.
const GzipSuffix = ".gz"

// ErrInvalidRequest is returned for a request missing a bucket, key or file.
var ErrInvalidRequest = errors.New("invalid upload request")

// ObjectClient is the subset of the S3 API used for uploads.
type ObjectClient interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Result describes a completed upload.
type Result struct {
	Bucket string
	Key    string
	Path   string
	Bytes  int64
}

// Uploader performs one upload synchronously.
type Uploader interface {
	Upload(ctx context.Context, req protocol.UploadRequest) (*Result, error)
}

// S3Uploader compresses and puts recordings into an S3 bucket.
type S3Uploader struct {
	client ObjectClient
	clock  clock.Clock
	log    *logging.Logger
}

// NewS3Uploader wraps an existing client.
func NewS3Uploader(client ObjectClient, logger *logging.Logger) *S3Uploader {
	if logger == nil {
		logger = logging.Default()
	}
	return &S3Uploader{
		client: client,
		clock:  &clock.RealClock{},
		log:    logger.WithComponent("upload"),
	}
}

// NewS3UploaderFromEnv builds a client from the default AWS credential
// chain (environment, shared config, instance role).
func NewS3UploaderFromEnv(ctx context.Context, logger *logging.Logger) (*S3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3Uploader(s3.NewFromConfig(cfg), logger), nil
}

// Upload implements Uploader. Compressed requests upload <file>.gz under
// <key>.gz and leave the original in place.
func (u *S3Uploader) Upload(ctx context.Context, req protocol.UploadRequest) (*Result, error) {
	if err := Check(req); err != nil {
		return nil, err
	}
	start := u.clock.Now()

	path, key := req.FilePath, ObjectKey(req)
	if req.Compress {
		gz, err := CompressFile(path)
		if err != nil {
			metrics.Get().RecordUpload(metrics.UploadFailed, 0, 0)
			return nil, err
		}
		path = gz
	}

	f, err := os.Open(path)
	if err != nil {
		metrics.Get().RecordUpload(metrics.UploadFailed, 0, 0)
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		metrics.Get().RecordUpload(metrics.UploadFailed, 0, 0)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(req.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"project": req.ProjectID,
			"user":    req.UserID,
		},
	}
	if req.Compress {
		in.ContentType = aws.String("application/gzip")
	}
	if _, err := u.client.PutObject(ctx, in); err != nil {
		metrics.Get().RecordUpload(metrics.UploadFailed, 0, 0)
		return nil, fmt.Errorf("put s3://%s/%s: %w", req.Bucket, key, err)
	}

	elapsed := u.clock.Since(start)
	metrics.Get().RecordUpload(metrics.UploadCompleted, info.Size(), elapsed)
	u.log.Info("recording uploaded", "bucket", req.Bucket, "key", key, "bytes", info.Size(), "elapsed", elapsed.Round(time.Millisecond))
	return &Result{Bucket: req.Bucket, Key: key, Path: path, Bytes: info.Size()}, nil
}

// ObjectKey returns the destination key for req.
func ObjectKey(req protocol.UploadRequest) string {
	key := req.StoragePath
	if key == "" {
		key = protocol.StorageKey(req.ProjectID, req.UserID, req.File)
	}
	if req.Compress {
		key += GzipSuffix
	}
	return key
}

// Check reports whether req names a bucket and a file.
func Check(req protocol.UploadRequest) error {
	switch {
	case req.Bucket == "":
		return fmt.Errorf("%w: no bucket", ErrInvalidRequest)
	case req.FilePath == "":
		return fmt.Errorf("%w: no file path", ErrInvalidRequest)
	case req.StoragePath == "" && req.File == "":
		return fmt.Errorf("%w: no object key", ErrInvalidRequest)
	}
	return nil
}
