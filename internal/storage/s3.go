package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// retrySchedule is the wait before each retry of a failed S3 call.
var retrySchedule = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// S3Storage publishes artifacts to an S3 bucket or an S3-compatible store.
type S3Storage struct {
	client *s3.Client
	bucket string
	delays []time.Duration
}

// S3Config holds connection settings for S3Storage.
type S3Config struct {
	// Region of the bucket
	Region string

	// Endpoint overrides the AWS endpoint (MinIO, LocalStack)
	Endpoint string

	// UsePathStyle addresses the bucket in the path; MinIO needs it
	UsePathStyle bool
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{Region: "us-east-1"}
}

// NewS3Storage connects with the default AWS credential chain.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 storage needs a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StorageWithClient(client, bucket), nil
}

// NewS3StorageWithClient wraps an existing client.
func NewS3StorageWithClient(client *s3.Client, bucket string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket, delays: retrySchedule}
}

// Upload puts a report artifact. Artifacts are small, so the file is read
// whole and resent from memory on retry.
func (s *S3Storage) Upload(ctx context.Context, localPath, objectPath string) error {
	body, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	err = s.retry(ctx, "put "+objectPath, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(objectPath),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
			ContentType:   aws.String(contentType(objectPath)),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUploadFailed, objectPath, err)
	}
	return nil
}

// Download fetches an artifact into localPath.
func (s *S3Storage) Download(ctx context.Context, objectPath, localPath string) error {
	err := s.retry(ctx, "get "+objectPath, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return ErrObjectNotFound
		}
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return writeAtomic(localPath, resp.Body)
	})
	switch {
	case errors.Is(err, ErrObjectNotFound):
		return err
	case err != nil:
		return fmt.Errorf("%w: %s: %v", ErrDownloadFailed, objectPath, err)
	}
	return nil
}

// Exists reports whether an artifact was published at objectPath.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	found := false
	err := s.retry(ctx, "head "+objectPath, func() error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

// ListObjects returns every key below prefix in key order.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// retry runs fn once plus once per entry of the delay schedule. A missing
// object is final.
func (s *S3Storage) retry(ctx context.Context, what string, fn func() error) error {
	err := fn()
	for _, delay := range s.delays {
		if err == nil || errors.Is(err, ErrObjectNotFound) {
			return err
		}
		log.Printf("[WARN] storage: %s failed, retrying in %v: %v", what, delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		err = fn()
	}
	return err
}
