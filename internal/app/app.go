// Package app wires the harness components for one benchmark invocation.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rasterbench/rasterbench/internal/cache"
	"github.com/rasterbench/rasterbench/internal/catalog"
	"github.com/rasterbench/rasterbench/internal/config"
	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
	"github.com/rasterbench/rasterbench/internal/launch"
	"github.com/rasterbench/rasterbench/internal/notify"
	"github.com/rasterbench/rasterbench/internal/observability"
	"github.com/rasterbench/rasterbench/internal/report"
	"github.com/rasterbench/rasterbench/internal/server"
	"github.com/rasterbench/rasterbench/internal/status"
	"github.com/rasterbench/rasterbench/internal/storage"
	"github.com/rasterbench/rasterbench/internal/sweep"
	"github.com/rasterbench/rasterbench/internal/trial"
	"github.com/rasterbench/rasterbench/internal/workspace"
)

// Options adjusts how an App is assembled.
type Options struct {
	// Out receives the progressive text report; defaults to os.Stdout
	Out io.Writer

	// DryRun prints every command instead of running it. It forces the
	// lenient policy and disables cache drops, the catalog and publishing.
	DryRun bool

	// Runner replaces the process runner
	Runner launch.Runner

	// Dropper replaces the cache dropper
	Dropper cache.Dropper

	// Echo receives the raw stdout of every invocation as it is produced
	Echo io.Writer

	// Wide always prints the median and interval columns in the text report
	Wide bool
}

// App owns the resources of one benchmark invocation.
type App struct {
	cfg  *config.Config
	opts Options

	// Shared resources
	storage   storage.ObjectStorage
	publisher *storage.Publisher
	catalog   catalog.Catalog
	mqtt      *notify.MQTTPublisher
	status    *status.Server
	shutdown  *server.ShutdownManager

	// Harness components
	resetter   *cache.Resetter
	stats      *observability.InvocationStats
	controller *sweep.Controller

	// Lifecycle
	mu      sync.Mutex
	running bool
}

// New creates a new App with the given configuration.
func New(cfg *config.Config, opts Options) (*App, error) {
	if opts.DryRun {
		cfg.Harness.Policy = config.PolicyLenient
		cfg.Harness.DropCaches = false
		cfg.Results.Catalog = ""
		cfg.Storage.Type = storage.TypeNone
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	return &App{
		cfg:      cfg,
		opts:     opts,
		shutdown: server.NewShutdownManager(server.DefaultShutdownConfig()),
	}, nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Stats returns the per-probe invocation counters of the last run.
func (a *App) Stats() *observability.InvocationStats {
	return a.stats
}

// Shutdown returns the shutdown manager holding every opened resource.
func (a *App) Shutdown() *server.ShutdownManager {
	return a.shutdown
}

// Start opens the shared resources and assembles the harness.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return benchErrors.NewStateError("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if err := a.initHarness(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to assemble harness: %w", err)
	}

	mode := "live"
	if a.opts.DryRun {
		mode = "dry run"
	}
	log.Printf("rasterbench started (%s): suite=%s policy=%s", mode, a.cfg.Harness.Suite, a.cfg.Harness.Policy)
	return nil
}

// initSharedResources opens storage, the results catalog, the MQTT
// connection and the status endpoint, each only when configured.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	a.storage, err = storage.New(ctx, a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if a.storage != nil {
		a.publisher = storage.NewPublisher(a.storage, a.cfg.Storage.Prefix, 4)
		log.Printf("Storage initialized: type=%s", a.cfg.Storage.Type)
		if a.cfg.Storage.Type == storage.TypeS3 {
			log.Printf("S3 Config: Bucket=%s, Region=%s, Endpoint=%s",
				a.cfg.Storage.S3.Bucket, a.cfg.Storage.S3.Region, a.cfg.Storage.S3.Endpoint)
		}
	}

	if path := a.cfg.Results.Catalog; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create catalog directory: %w", err)
		}
		cat, err := catalog.NewCatalog(path)
		if err != nil {
			return fmt.Errorf("failed to initialize results catalog: %w", err)
		}
		a.catalog = cat
		a.shutdown.RegisterCloser("catalog", cat)
		log.Printf("Results catalog initialized: %s", path)
	}

	if a.cfg.Notify.Broker != "" {
		pub, err := notify.Dial(a.cfg.Notify)
		if err != nil {
			return err
		}
		a.mqtt = pub
		a.shutdown.RegisterCloser("mqtt", server.CloserFunc(func() error {
			pub.Close()
			return nil
		}))
		log.Printf("MQTT notifications enabled: broker=%s topic=%s", a.cfg.Notify.Broker, a.cfg.Notify.Topic)
	}

	if a.cfg.Status.Addr != "" {
		srv, err := status.Listen(a.cfg.Status.Addr)
		if err != nil {
			return fmt.Errorf("failed to start status endpoint: %w", err)
		}
		a.status = srv
		a.shutdown.RegisterCloser("status", srv)
		log.Printf("Status endpoint listening on %s", srv.Addr())
	}

	return nil
}

// initHarness builds the runner, launcher, cache resetter, aggregator and
// sweep controller, and attaches every configured sink.
func (a *App) initHarness() error {
	h := a.cfg.Harness

	runner := a.opts.Runner
	if runner == nil {
		if a.opts.DryRun {
			runner = &launch.DryRunner{}
		} else {
			execRunner := launch.NewExecRunner(time.Duration(h.Timeout))
			execRunner.Echo = a.opts.Echo
			runner = execRunner
		}
	}

	var launcher launch.Launcher
	if h.Launcher != "" {
		launcher = launch.Launcher{
			Program:  h.Launcher,
			Flags:    h.LauncherFlags,
			HostFile: a.cfg.HostFile,
		}
	}

	dropper := a.opts.Dropper
	if dropper == nil {
		if h.DropCaches {
			dropper = cache.ProcDropper{ControlFile: h.DropCachesPath}
		} else {
			dropper = cache.NoopDropper{}
		}
	}
	a.resetter = cache.NewResetter(dropper)

	probes, err := trial.SuiteProbes(h.Suite)
	if err != nil {
		return err
	}

	text := report.NewWriter(a.opts.Out)
	if a.opts.Wide {
		text = report.NewWideWriter(a.opts.Out)
	}
	a.stats = observability.NewInvocationStats()
	sinks := []sweep.Sink{text, a.stats}
	observers := trial.Observers{a.stats}
	if a.catalog != nil {
		rec := catalog.NewRecorder(a.catalog, a.cfg, a.cfg.Results.ArchiveOutput)
		sinks = append(sinks, rec)
		observers = append(observers, rec)
	}
	if a.mqtt != nil {
		sinks = append(sinks, notify.NewNotifier(a.mqtt, a.cfg.Notify.Topic))
	}
	if a.status != nil {
		sinks = append(sinks, a.status)
	}

	agg, err := trial.NewAggregator(trial.Options{
		Runner:   runner,
		Launcher: launcher,
		Resetter: a.resetter,
		Preparer: &workspace.Preparer{Perm: 0755, DryRun: a.opts.DryRun},
		Probes:   probes,
		Policy:   h.Policy,
		Observer: observers,
	})
	if err != nil {
		return err
	}

	a.controller = sweep.NewController(agg, sweep.Options{
		Resetter:    a.resetter,
		Fingerprint: catalog.Fingerprint(a.cfg),
		Sinks:       sinks,
	})
	return nil
}

// Run executes the sweep with times repetitions per axis point, then
// writes the report artifacts and publishes them when storage is
// configured. The report is returned even when the sweep stopped early.
func (a *App) Run(ctx context.Context, times int) (*report.SweepReport, error) {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil, benchErrors.NewStateError("app is not started")
	}
	a.mu.Unlock()

	rep, runErr := a.controller.Run(ctx, a.cfg, times)
	if a.opts.DryRun {
		return rep, runErr
	}

	files, err := report.WriteArtifacts(a.ArtifactDir(rep.RunID), rep, a.cfg.Results.Chart)
	if err != nil {
		log.Printf("[WARN] app: failed to write report artifacts: %v", err)
		if runErr == nil {
			runErr = err
		}
		return rep, runErr
	}
	log.Printf("Report written to %s", a.ArtifactDir(rep.RunID))

	if a.publisher != nil {
		// Publishing outlives a cancelled sweep so partial reports still land.
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
		defer cancel()
		objects, err := a.publisher.Publish(pubCtx, rep.RunID, files)
		if err != nil {
			log.Printf("[WARN] app: failed to publish report: %v", err)
		} else {
			log.Printf("Published %d artifacts under %s", len(objects), a.publisher.ObjectPath(rep.RunID, ""))
		}
	}

	return rep, runErr
}

// ArtifactDir returns the local directory holding the artifacts of a run.
func (a *App) ArtifactDir(runID string) string {
	return filepath.Join(a.cfg.Results.Dir, runID)
}

// Stop releases every opened resource.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	return a.shutdown.Shutdown(ctx, "run complete")
}

// cleanup releases resources after a failed start.
func (a *App) cleanup() {
	if err := a.shutdown.Shutdown(context.Background(), "startup failed"); err != nil {
		log.Printf("[WARN] app: cleanup: %v", err)
	}
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}
