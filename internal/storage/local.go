package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStorage keeps published artifacts under a directory, typically a
// results volume shared by the cluster nodes.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates the root directory if needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage needs a path")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", root, err)
	}
	return &LocalStorage{root: root}, nil
}

// Upload copies a report artifact under the root. The object appears
// atomically.
func (l *LocalStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer src.Close()

	if err := writeAtomic(l.resolve(objectPath), src); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUploadFailed, objectPath, err)
	}
	return nil
}

// Download copies an artifact out of the root.
func (l *LocalStorage) Download(ctx context.Context, objectPath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(l.resolve(objectPath))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrObjectNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer src.Close()

	if err := writeAtomic(localPath, src); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDownloadFailed, objectPath, err)
	}
	return nil
}

// Exists reports whether an artifact was published at objectPath.
func (l *LocalStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(l.resolve(objectPath))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	}
	return !info.IsDir(), nil
}

// ListObjects returns the sorted object paths below prefix. In-flight
// uploads (dot files) are skipped.
func (l *LocalStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var objects []string
	walkErr := filepath.WalkDir(l.resolve(prefix), func(p string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		objects = append(objects, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, walkErr)
	}
	sort.Strings(objects)
	return objects, nil
}

func (l *LocalStorage) resolve(objectPath string) string {
	return filepath.Join(l.root, filepath.FromSlash(objectPath))
}
