package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rasterbench/rasterbench/internal/config"
	"github.com/rasterbench/rasterbench/internal/launch"
	"github.com/rasterbench/rasterbench/internal/sweep"
	"github.com/rasterbench/rasterbench/internal/trial"
	"github.com/rasterbench/rasterbench/pkg/types"
)

// interruptingRunner answers every command with valid timings and cancels
// the sweep once it has served cancelAt read invocations.
type interruptingRunner struct {
	cancel   context.CancelFunc
	cancelAt int
	reads    int
}

func (r *interruptingRunner) Run(ctx context.Context, cmd launch.Command) (string, error) {
	if strings.Contains(cmd.String(), "test_convert") {
		return "Time_ordinary_netCDF=2s\nTime_RASTER=1s\n", nil
	}
	r.reads++
	if r.reads == r.cancelAt {
		r.cancel()
	}
	return "Time_netCDF_Read=1s\nTime_RASTER_Read=0.5s\n", nil
}

func TestRecorder_InterruptedSweepIsStored(t *testing.T) {
	c := newTestCatalog(t)

	cfg := testRunConfig()
	cfg.NProcs = 1
	cfg.OutFn = filepath.Join(t.TempDir(), "out", "cesm.nc")
	cfg.Harness.Suite = config.SuiteRegions
	cfg.Harness.Sweep = true
	cfg.Harness.ProcessCounts = []int{1}
	cfg.Harness.Regions = []types.RegionSpec{{"1"}, {"2"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Three repetitions per point: the interrupt lands inside the second point.
	runner := &interruptingRunner{cancel: cancel, cancelAt: 5}

	probes, err := trial.SuiteProbes(cfg.Harness.Suite)
	if err != nil {
		t.Fatal(err)
	}
	agg, err := trial.NewAggregator(trial.Options{
		Runner:   runner,
		Launcher: launch.NewMPILauncher("", "--allow-run-as-root"),
		Probes:   probes,
		Policy:   config.PolicyStrict,
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := NewRecorder(c, cfg, false)
	ctrl := sweep.NewController(agg, sweep.Options{Fingerprint: Fingerprint(cfg), Sinks: []sweep.Sink{rec}})

	rep, err := ctrl.Run(ctx, cfg, 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(rep.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(rep.Entries))
	}

	runs, err := c.ListRuns(context.Background(), RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != rep.RunID {
		t.Fatalf("runs = %v, want [%s]", runIDs(runs), rep.RunID)
	}
	if runs[0].Points != 2 || runs[0].Failed != 1 {
		t.Errorf("stored points/failed = %d/%d, want 2/1", runs[0].Points, runs[0].Failed)
	}
	if runs[0].Finished == nil {
		t.Error("interrupted run was not marked finished")
	}

	loaded, err := c.LoadReport(context.Background(), rep.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Entries) != 2 || loaded.Entries[0].Axis.Key() != "np=1/regions=1" {
		t.Errorf("loaded entries = %+v", loaded.Entries)
	}
}
