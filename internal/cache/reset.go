// Package cache invalidates the operating system page cache so every timed
// phase starts cold.
package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"syscall"

	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
)

// DefaultControlFile is the Linux knob for dropping clean caches.
const DefaultControlFile = "/proc/sys/vm/drop_caches"

// Dropper performs one cache drop.
type Dropper interface {
	Drop(ctx context.Context) error
}

// ProcDropper drops the page cache, dentries and inodes by writing "3" to
// the kernel control file after flushing dirty pages.
type ProcDropper struct {
	// ControlFile defaults to DefaultControlFile
	ControlFile string
}

// Drop flushes dirty pages and asks the kernel to drop clean caches.
// Writing the control file requires root.
func (p ProcDropper) Drop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := p.ControlFile
	if path == "" {
		path = DefaultControlFile
	}

	syscall.Sync()

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return benchErrors.NewCacheError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()

	if _, err := f.WriteString("3\n"); err != nil {
		return benchErrors.NewCacheError(fmt.Sprintf("cannot write %s", path), err)
	}
	return nil
}

// NoopDropper never touches the cache. Used when dropping is disabled and in tests.
type NoopDropper struct{}

// Drop does nothing.
func (NoopDropper) Drop(context.Context) error { return nil }

// Metrics holds reset statistics. Read concurrently by the status endpoint.
type Metrics struct {
	Attempts atomic.Int64
	Failures atomic.Int64
}

// Resetter makes cache drops best-effort: failures are logged and counted,
// never returned.
type Resetter struct {
	dropper Dropper
	metrics Metrics
}

// NewResetter wraps a dropper. A nil dropper behaves like NoopDropper.
func NewResetter(d Dropper) *Resetter {
	if d == nil {
		d = NoopDropper{}
	}
	return &Resetter{dropper: d}
}

// Reset drops caches, logging a warning on the first failure and whenever the
// failure count doubles.
func (r *Resetter) Reset(ctx context.Context) {
	r.metrics.Attempts.Add(1)
	err := r.dropper.Drop(ctx)
	if err == nil {
		return
	}

	n := r.metrics.Failures.Add(1)
	if n&(n-1) == 0 {
		log.Printf("[WARN] cache: drop failed (%d of %d attempts so far), measurements may be warm: %v",
			n, r.metrics.Attempts.Load(), err)
	}
}

// Attempts returns the number of resets requested.
func (r *Resetter) Attempts() int64 {
	return r.metrics.Attempts.Load()
}

// Failures returns the number of resets that did not drop the cache.
func (r *Resetter) Failures() int64 {
	return r.metrics.Failures.Load()
}
