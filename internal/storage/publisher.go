package storage

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
)

// Publisher uploads the artifacts of a run under <prefix>/<run id>/ and
// fetches them back.
type Publisher struct {
	storage     ObjectStorage
	prefix      string
	concurrency int
}

// NewPublisher creates a publisher. concurrency bounds parallel transfers.
func NewPublisher(store ObjectStorage, prefix string, concurrency int) *Publisher {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Publisher{storage: store, prefix: prefix, concurrency: concurrency}
}

// ObjectPath returns the object path of an artifact file of a run.
func (p *Publisher) ObjectPath(runID, file string) string {
	return path.Join(p.prefix, runID, filepath.Base(file))
}

// Publish uploads every local file in parallel and returns the object
// paths in input order. All files are attempted; the first error is
// returned as a storage error.
func (p *Publisher) Publish(ctx context.Context, runID string, files []string) ([]string, error) {
	objects := make([]string, len(files))
	errs := make([]error, len(files))
	sem := semaphore.NewWeighted(int64(p.concurrency))
	var wg sync.WaitGroup

	for i, f := range files {
		objects[i] = p.ObjectPath(runID, f)
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func(i int, f string) {
			defer wg.Done()
			defer sem.Release(1)
			errs[i] = p.storage.Upload(ctx, f, objects[i])
		}(i, f)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return objects, benchErrors.NewStorageError(benchErrors.CodeUploadFailed, "failed to publish "+files[i], err)
		}
	}
	log.Printf("storage: published %d artifacts under %s", len(objects), path.Join(p.prefix, runID))
	return objects, nil
}

// Fetch downloads every published artifact of a run into dir and returns
// the local paths sorted by name.
func (p *Publisher) Fetch(ctx context.Context, runID, dir string) ([]string, error) {
	objects, err := p.storage.ListObjects(ctx, path.Join(p.prefix, runID)+"/")
	if err != nil {
		return nil, benchErrors.NewStorageError(benchErrors.CodeListFailed, "failed to list run "+runID, err)
	}
	if len(objects) == 0 {
		return nil, benchErrors.NewStorageError(benchErrors.CodeObjectNotFound, fmt.Sprintf("no artifacts published for run %s", runID), ErrObjectNotFound)
	}

	locals := make([]string, len(objects))
	errs := make([]error, len(objects))
	sem := semaphore.NewWeighted(int64(p.concurrency))
	var wg sync.WaitGroup

	for i, obj := range objects {
		locals[i] = filepath.Join(dir, path.Base(obj))
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func(i int, obj string) {
			defer wg.Done()
			defer sem.Release(1)
			errs[i] = p.storage.Download(ctx, obj, locals[i])
		}(i, obj)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, benchErrors.NewStorageError(benchErrors.CodeDownloadFailed, "failed to fetch "+objects[i], err)
		}
	}
	sort.Strings(locals)
	return locals, nil
}
