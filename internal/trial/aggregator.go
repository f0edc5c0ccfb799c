// Package trial runs the measurement cycle of one axis point: workspace
// reset, conversion, and repeated cold-cache read trials averaged per backend.
package trial

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rasterbench/rasterbench/internal/cache"
	"github.com/rasterbench/rasterbench/internal/config"
	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
	"github.com/rasterbench/rasterbench/internal/launch"
	"github.com/rasterbench/rasterbench/internal/parser"
	"github.com/rasterbench/rasterbench/internal/report"
	"github.com/rasterbench/rasterbench/internal/workspace"
	"github.com/rasterbench/rasterbench/pkg/types"
)

// Invocation describes one finished external run, for observers that audit
// raw output.
type Invocation struct {
	Axis       types.Axis
	Repetition int // -1 for conversion
	Probe      string
	Command    launch.Command
	Output     string
	Result     *types.TrialResult
	Err        error
	Duration   time.Duration
}

// Observer receives every invocation as it completes.
type Observer interface {
	InvocationCompleted(ctx context.Context, inv *Invocation)
}

// Observers fans one invocation out to several observers in order.
type Observers []Observer

// InvocationCompleted forwards inv to every observer.
func (o Observers) InvocationCompleted(ctx context.Context, inv *Invocation) {
	for _, obs := range o {
		obs.InvocationCompleted(ctx, inv)
	}
}

// Options configures an Aggregator.
type Options struct {
	Runner   launch.Runner
	Launcher launch.Launcher
	Resetter *cache.Resetter
	Preparer *workspace.Preparer
	Probes   []Probe
	Policy   config.Policy
	Observer Observer
}

// Aggregator drives conversion and read trials for one run configuration.
// It is strictly sequential: one external process group at a time.
type Aggregator struct {
	runner   launch.Runner
	launcher launch.Launcher
	resetter *cache.Resetter
	preparer *workspace.Preparer
	probes   []Probe
	policy   config.Policy
	observer Observer
}

// NewAggregator creates an aggregator. Missing optional parts get defaults:
// a no-op cache resetter, a default preparer and the strict policy.
func NewAggregator(opts Options) (*Aggregator, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("trial: runner is required")
	}
	if len(opts.Probes) == 0 {
		return nil, fmt.Errorf("trial: at least one probe is required")
	}
	if opts.Resetter == nil {
		opts.Resetter = cache.NewResetter(nil)
	}
	if opts.Preparer == nil {
		opts.Preparer = workspace.NewPreparer()
	}
	if opts.Policy == "" {
		opts.Policy = config.PolicyStrict
	}
	return &Aggregator{
		runner:   opts.Runner,
		launcher: opts.Launcher,
		resetter: opts.Resetter,
		preparer: opts.Preparer,
		probes:   opts.Probes,
		policy:   opts.Policy,
		observer: opts.Observer,
	}, nil
}

// Backends returns the backends measured by the configured probes.
func (a *Aggregator) Backends() []types.Backend {
	return ProbeBackends(a.probes)
}

// Policy returns the failure policy in force.
func (a *Aggregator) Policy() config.Policy {
	return a.policy
}

// Prepare resets the workspace and runs the converter once for cfg. It
// returns the per-backend conversion time averaged over processes, which is
// diagnostic only. Workspace failures are fatal for cfg; a failed conversion
// is returned as a launch error.
func (a *Aggregator) Prepare(ctx context.Context, cfg *config.Config) (map[types.Backend]float64, error) {
	if _, err := a.preparer.Reset(cfg.OutFn); err != nil {
		return nil, err
	}

	a.resetter.Reset(ctx)

	target := Target{Config: cfg}
	cmd := a.launcher.Command(cfg.NProcs, cfg.Executable(ConvertProbe.Executable), ConvertProbe.Args(target)...)

	start := time.Now()
	out, err := a.runner.Run(ctx, cmd)
	a.observe(ctx, &Invocation{
		Axis:       types.Axis{NProcs: cfg.NProcs},
		Repetition: -1,
		Probe:      ConvertProbe.Name,
		Command:    cmd,
		Output:     out,
		Err:        err,
		Duration:   time.Since(start),
	})
	if err != nil {
		return nil, fmt.Errorf("conversion for nprocs=%d: %w", cfg.NProcs, err)
	}

	times := parser.ParseLoose(out, ConvertProbe.Vocabulary)
	for _, b := range types.SortBackends(keys(times)) {
		log.Printf("trial: convert time %s=%.6fs", b.DisplayName(), times[b])
	}

	a.resetter.Reset(ctx)
	return times, nil
}

// Measure runs times repetitions of every probe at one axis point and folds
// them into one AggregatePoint per backend.
//
// Under the strict policy the first failed repetition aborts the point: the
// returned result has StatusFailed, no points, and the error is returned.
// Under the lenient policy failed repetitions are recorded and excluded from
// the mean; the point fails only when no repetition succeeded.
func (a *Aggregator) Measure(ctx context.Context, cfg *config.Config, regions types.RegionSpec, times int) (*report.AxisResult, error) {
	axis := types.Axis{NProcs: cfg.NProcs, Regions: regions}
	result := &report.AxisResult{Axis: axis}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	if times <= 0 {
		err := benchErrors.New(benchErrors.ErrCategoryConfig, benchErrors.CodeConfigInvalid,
			fmt.Sprintf("repetition count must be positive, got %d", times))
		return a.fail(result, err), err
	}

	perBackend := make(map[types.Backend][]float64)

	for rep := 0; rep < times; rep++ {
		if err := ctx.Err(); err != nil {
			return a.fail(result, err), err
		}

		samples, err := a.repetition(ctx, cfg, axis, rep)
		if err != nil {
			log.Printf("trial: %s repetition %d failed: %v", axis, rep+1, err)
			result.Repetitions = append(result.Repetitions, report.Repetition{Index: rep, Error: err.Error()})

			if a.policy == config.PolicyStrict || !benchErrors.IsRecoverable(err) {
				return a.fail(result, err), err
			}
			continue
		}

		result.Repetitions = append(result.Repetitions, report.Repetition{Index: rep, Samples: samples})
		for b, v := range samples {
			perBackend[b] = append(perBackend[b], v)
		}
		log.Printf("trial: %s repetition %d: %s", axis, rep+1, formatSamples(samples))
	}

	if len(perBackend) == 0 {
		err := benchErrors.New(benchErrors.ErrCategoryParse, benchErrors.CodeSampleCountMismatch,
			fmt.Sprintf("%s: no valid repetitions out of %d", axis, times))
		return a.fail(result, err), err
	}

	for _, b := range a.Backends() {
		result.Points = append(result.Points, Summarize(b, perBackend[b]))
	}
	result.Status = report.StatusOK
	log.Printf("trial: %s", report.Summary(result))
	return result, nil
}

// Run performs the full cycle for a single axis point: Prepare then Measure.
func (a *Aggregator) Run(ctx context.Context, cfg *config.Config, regions types.RegionSpec, times int) (*report.AxisResult, error) {
	conversion, err := a.Prepare(ctx, cfg)
	if err != nil {
		result := &report.AxisResult{Axis: types.Axis{NProcs: cfg.NProcs, Regions: regions}}
		return a.fail(result, err), err
	}
	result, err := a.Measure(ctx, cfg, regions, times)
	result.Conversion = conversion
	return result, err
}

// repetition runs every probe once, dropping caches before each, and returns
// the per-backend mean over processes.
func (a *Aggregator) repetition(ctx context.Context, cfg *config.Config, axis types.Axis, rep int) (map[types.Backend]float64, error) {
	samples := make(map[types.Backend]float64)
	target := Target{Config: cfg, Regions: axis.Regions}

	for _, probe := range a.probes {
		a.resetter.Reset(ctx)

		cmd := a.launcher.Command(cfg.NProcs, cfg.Executable(probe.Executable), probe.Args(target)...)

		start := time.Now()
		out, runErr := a.runner.Run(ctx, cmd)
		inv := &Invocation{
			Axis:       axis,
			Repetition: rep,
			Probe:      probe.Name,
			Command:    cmd,
			Output:     out,
			Duration:   time.Since(start),
		}

		parsed, parseErr := parser.Parse(out, probe.Vocabulary, cfg.NProcs)
		if parseErr == nil {
			inv.Result = &types.TrialResult{Probe: probe.Name, NProcs: cfg.NProcs, Samples: parsed}
		}
		// A non-zero exit is only fatal together with unusable output; a
		// timeout always is.
		switch {
		case runErr != nil && parseErr != nil:
			inv.Err = runErr
		case benchErrors.GetCode(runErr) == benchErrors.CodeLaunchTimeout:
			inv.Err = runErr
		case parseErr != nil:
			inv.Err = parseErr
		case runErr != nil:
			log.Printf("[WARN] trial: %s exited abnormally but reported complete samples: %v", probe.Name, runErr)
		}
		a.observe(ctx, inv)

		if inv.Err != nil {
			return nil, fmt.Errorf("probe %s: %w", probe.Name, inv.Err)
		}
		for b, values := range parsed {
			samples[b] = types.Mean(values)
		}
	}

	a.resetter.Reset(ctx)
	return samples, nil
}

func (a *Aggregator) fail(result *report.AxisResult, err error) *report.AxisResult {
	result.Status = report.StatusFailed
	result.Error = err.Error()
	result.Points = nil
	return result
}

func (a *Aggregator) observe(ctx context.Context, inv *Invocation) {
	if a.observer != nil {
		a.observer.InvocationCompleted(ctx, inv)
	}
}

func keys(m map[types.Backend]float64) []types.Backend {
	out := make([]types.Backend, 0, len(m))
	for b := range m {
		out = append(out, b)
	}
	return out
}

func formatSamples(samples map[types.Backend]float64) string {
	s := ""
	for i, b := range types.SortBackends(keys(samples)) {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%.6fs", b.DisplayName(), samples[b])
	}
	return s
}
