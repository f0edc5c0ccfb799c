// Package sweep iterates the configuration matrix and collects one axis
// result per (process count, region spec) point into a SweepReport.
package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rasterbench/rasterbench/internal/cache"
	"github.com/rasterbench/rasterbench/internal/config"
	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
	"github.com/rasterbench/rasterbench/internal/report"
	"github.com/rasterbench/rasterbench/internal/trial"
	"github.com/rasterbench/rasterbench/pkg/types"
)

// Sink receives sweep progress. Sinks are called synchronously from the
// sweep loop; a sink error is logged and never stops the sweep.
type Sink interface {
	SweepStarted(ctx context.Context, r *report.SweepReport) error
	PointCompleted(ctx context.Context, r *report.SweepReport, point *report.AxisResult) error
	SweepFinished(ctx context.Context, r *report.SweepReport) error
}

// Options configures a Controller.
type Options struct {
	// Resetter is the cache resetter shared with the aggregator, read for
	// the reset counters of the final report
	Resetter *cache.Resetter

	// Fingerprint identifies the measured setup across runs
	Fingerprint string

	// Sinks receive progressive and final results in order
	Sinks []Sink
}

// Controller runs sweeps. The loop order is fixed: process counts outer,
// region specs inner, so each process count converts exactly once.
type Controller struct {
	aggregator *trial.Aggregator
	resetter   *cache.Resetter
	finger     string
	sinks      []Sink
}

// NewController creates a sweep controller around an aggregator.
func NewController(agg *trial.Aggregator, opts Options) *Controller {
	return &Controller{
		aggregator: agg,
		resetter:   opts.Resetter,
		finger:     opts.Fingerprint,
		sinks:      opts.Sinks,
	}
}

// Run measures every axis point of cfg with times repetitions each.
//
// The returned report is always non-nil. On success it holds one entry per
// axis point in iteration order. A workspace failure, a failed point under
// the strict policy or a cancelled context stops the sweep; the report then
// holds the points measured so far and the error is returned.
func (c *Controller) Run(ctx context.Context, cfg *config.Config, times int) (*report.SweepReport, error) {
	procs, regions := cfg.Axes()

	rep := &report.SweepReport{
		RunID:       uuid.NewString(),
		Fingerprint: c.finger,
		Suite:       string(cfg.Harness.Suite),
		Policy:      string(c.aggregator.Policy()),
		Times:       times,
		Backends:    c.aggregator.Backends(),
		Started:     time.Now().UTC(),
	}

	log.Printf("sweep: run %s: %d process counts x %d region specs, %d repetitions, policy %s",
		rep.RunID, len(procs), len(regions), times, rep.Policy)
	// Sinks keep recording after an interrupt so partial results persist.
	sinkCtx := context.WithoutCancel(ctx)
	c.emit("start", func(s Sink) error { return s.SweepStarted(sinkCtx, rep) })

	err := c.loop(ctx, cfg, rep, procs, regions, times)

	rep.Finished = time.Now().UTC()
	if c.resetter != nil {
		rep.CacheResets = c.resetter.Attempts()
		rep.CacheResetFailures = c.resetter.Failures()
	}
	if rep.CacheResetFailures > 0 {
		log.Printf("[WARN] sweep: %d of %d cache resets failed; results may include warm-cache reads",
			rep.CacheResetFailures, rep.CacheResets)
	}
	log.Printf("sweep: run %s finished in %v: %d points, %d failed",
		rep.RunID, rep.Finished.Sub(rep.Started).Round(time.Millisecond), len(rep.Entries), len(rep.Failed()))

	c.emit("finish", func(s Sink) error { return s.SweepFinished(sinkCtx, rep) })
	return rep, err
}

func (c *Controller) loop(ctx context.Context, cfg *config.Config, rep *report.SweepReport, procs []int, regions []types.RegionSpec, times int) error {
	for _, n := range procs {
		if err := ctx.Err(); err != nil {
			return err
		}

		rc := cfg.ForProcs(n)
		log.Printf("sweep: nprocs=%d: converting %s", n, rc.FilePath)

		conversion, err := c.aggregator.Prepare(ctx, rc)
		if err != nil {
			for _, r := range regions {
				c.record(ctx, rep, failedPoint(n, r, err))
			}
			if c.stops(err) {
				return err
			}
			log.Printf("[WARN] sweep: nprocs=%d skipped: %v", n, err)
			continue
		}

		for _, r := range regions {
			point, err := c.aggregator.Measure(ctx, rc, r, times)
			point.Conversion = conversion
			c.record(ctx, rep, point)
			if err != nil && c.stops(err) {
				return fmt.Errorf("sweep stopped at %s: %w", point.Axis, err)
			}
		}
	}
	return nil
}

// stops reports whether err ends the sweep under the active policy.
func (c *Controller) stops(err error) bool {
	if benchErrors.GetCategory(err) == benchErrors.ErrCategoryWorkspace {
		return true
	}
	if c.aggregator.Policy() == config.PolicyStrict {
		return true
	}
	return !benchErrors.IsRecoverable(err)
}

func (c *Controller) record(ctx context.Context, rep *report.SweepReport, point *report.AxisResult) {
	rep.Entries = append(rep.Entries, point)
	sinkCtx := context.WithoutCancel(ctx)
	c.emit("point", func(s Sink) error { return s.PointCompleted(sinkCtx, rep, point) })
}

func (c *Controller) emit(event string, fn func(Sink) error) {
	for _, s := range c.sinks {
		if err := fn(s); err != nil {
			log.Printf("[WARN] sweep: %s sink %T failed: %v", event, s, err)
		}
	}
}

func failedPoint(n int, regions types.RegionSpec, err error) *report.AxisResult {
	return &report.AxisResult{
		Axis:   types.Axis{NProcs: n, Regions: regions},
		Status: report.StatusFailed,
		Error:  err.Error(),
	}
}
