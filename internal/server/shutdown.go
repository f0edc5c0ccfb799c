// Package server provides process lifecycle management: signal driven
// cancellation of the running sweep and ordered release of resources.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ShutdownManager cancels the work context on SIGINT/SIGTERM and closes
// registered resources in reverse order of registration.
type ShutdownManager struct {
	shutdownTimeout time.Duration

	shutdownOnce   sync.Once
	isShuttingDown atomic.Bool

	closers   []namedCloser
	closersMu sync.Mutex

	onShutdownStart []func()
	callbacksMu     sync.Mutex
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// ShutdownTimeout bounds the time spent closing resources.
	// Default: 30 seconds
	ShutdownTimeout time.Duration
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{ShutdownTimeout: 30 * time.Second}
}

// NewShutdownManager creates a new shutdown manager with the given configuration.
func NewShutdownManager(config ShutdownConfig) *ShutdownManager {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	return &ShutdownManager{shutdownTimeout: config.ShutdownTimeout}
}

// RegisterCloser adds a resource to be closed during shutdown.
// Closers are called in reverse order of registration (LIFO).
func (sm *ShutdownManager) RegisterCloser(name string, closer io.Closer) {
	sm.closersMu.Lock()
	defer sm.closersMu.Unlock()
	sm.closers = append(sm.closers, namedCloser{name: name, closer: closer})
}

// OnShutdownStart registers a callback run when a signal arrives.
func (sm *ShutdownManager) OnShutdownStart(fn func()) {
	sm.callbacksMu.Lock()
	defer sm.callbacksMu.Unlock()
	sm.onShutdownStart = append(sm.onShutdownStart, fn)
}

// WithSignals returns a context cancelled by the first SIGINT or SIGTERM.
// Cancellation kills the running process group; the caller still calls
// Shutdown to release resources. stop releases the signal handler.
func (sm *ShutdownManager) WithSignals(parent context.Context) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("shutdown: received %v, stopping sweep", sig)
			sm.isShuttingDown.Store(true)
			sm.runCallbacks()
			cancel()
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
			cancel()
		})
	}
}

// Shutdown closes all registered resources once, in reverse order, within
// the shutdown timeout. The first close error is returned.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	var shutdownErr error

	sm.shutdownOnce.Do(func() {
		sm.isShuttingDown.Store(true)
		log.Printf("shutdown: %s", reason)

		shutdownCtx, cancel := context.WithTimeout(ctx, sm.shutdownTimeout)
		defer cancel()

		sm.closersMu.Lock()
		closers := append([]namedCloser(nil), sm.closers...)
		sm.closersMu.Unlock()

		done := make(chan error, 1)
		go func() {
			var firstErr error
			for i := len(closers) - 1; i >= 0; i-- {
				if err := closers[i].closer.Close(); err != nil {
					log.Printf("[WARN] shutdown: failed to close %s: %v", closers[i].name, err)
					if firstErr == nil {
						firstErr = fmt.Errorf("close %s: %w", closers[i].name, err)
					}
				}
			}
			done <- firstErr
		}()

		select {
		case shutdownErr = <-done:
		case <-shutdownCtx.Done():
			shutdownErr = fmt.Errorf("shutdown timed out after %v", sm.shutdownTimeout)
		}
	})

	return shutdownErr
}

// IsShuttingDown returns true once a signal arrived or Shutdown was called.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return sm.isShuttingDown.Load()
}

func (sm *ShutdownManager) runCallbacks() {
	sm.callbacksMu.Lock()
	callbacks := sm.onShutdownStart
	sm.callbacksMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}
