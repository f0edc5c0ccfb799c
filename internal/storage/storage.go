// Package storage publishes report artifacts to object storage: a local
// directory tree or an S3 bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/rasterbench/rasterbench/internal/config"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
)

// Storage types accepted in the storage configuration.
const (
	TypeNone  = "none"
	TypeLocal = "local"
	TypeS3    = "s3"
)

// ObjectStorage stores files under slash-separated object paths.
type ObjectStorage interface {
	// Upload copies the local file to objectPath, replacing any existing object.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to the local file.
	Download(ctx context.Context, objectPath, localPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// New builds the object storage selected by cfg. It returns nil for the
// none type.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "", TypeNone:
		return nil, nil
	case TypeLocal:
		return NewLocalStorage(cfg.Path)
	case TypeS3:
		s3cfg := DefaultS3Config()
		if cfg.S3.Region != "" {
			s3cfg.Region = cfg.S3.Region
		}
		s3cfg.Endpoint = cfg.S3.Endpoint
		s3cfg.UsePathStyle = cfg.S3.Endpoint != ""
		return NewS3Storage(ctx, cfg.S3.Bucket, s3cfg)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// contentType guesses the MIME type of an artifact from its extension.
func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return "application/yaml"
	case ".pb":
		return "application/x-protobuf"
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// writeAtomic streams r into a hidden sibling of dest and renames it into
// place, so readers never see a partial file.
func writeAtomic(dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
