package app

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rasterbench/rasterbench/internal/catalog"
	"github.com/rasterbench/rasterbench/internal/config"
	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
	"github.com/rasterbench/rasterbench/internal/launch"
	"github.com/rasterbench/rasterbench/internal/report"
	"github.com/rasterbench/rasterbench/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.FilePath = filepath.Join(root, "cesm.nc")
	cfg.VarName = "TS"
	cfg.Mask = "REGION_MASK"
	cfg.OutFn = filepath.Join(root, "out", "cesm.nc")
	cfg.Harness.Launcher = ""
	cfg.Harness.BinDir = filepath.Join(root, "bin")
	cfg.Harness.DropCaches = false
	cfg.Results.Dir = filepath.Join(root, "results")
	return cfg
}

// writeScript installs a shell script that prints output as a harness executable.
func writeScript(t *testing.T, dir, name, output string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	body := "#!/bin/sh\ncat <<'EOF'\n" + output + "EOF\n"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.VarName = ""
	if _, err := New(cfg, Options{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestNew_DryRunDisablesSideEffects(t *testing.T) {
	cfg := testConfig(t)
	cfg.Harness.DropCaches = true
	cfg.Results.Catalog = filepath.Join(t.TempDir(), "results.db")
	cfg.Storage.Type = "local"

	a, err := New(cfg, Options{DryRun: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got := a.Config()
	if got.Harness.Policy != config.PolicyLenient {
		t.Errorf("policy = %s, want lenient", got.Harness.Policy)
	}
	if got.Harness.DropCaches {
		t.Error("dry run must not drop caches")
	}
	if got.Results.Catalog != "" {
		t.Error("dry run must not open the catalog")
	}
	if got.Storage.Type != "none" {
		t.Errorf("storage type = %s, want none", got.Storage.Type)
	}
}

func TestRun_RequiresStart(t *testing.T) {
	a, err := New(testConfig(t), Options{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Run(context.Background(), 1)
	if benchErrors.GetCode(err) != benchErrors.CodeInvalidState {
		t.Fatalf("Run before Start = %v, want invalid state error", err)
	}
}

func TestStart_Twice(t *testing.T) {
	a, err := New(testConfig(t), Options{Runner: &launch.DryRunner{}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Stop(ctx)

	if err := a.Start(ctx); benchErrors.GetCategory(err) != benchErrors.ErrCategoryInternal {
		t.Fatalf("second Start = %v, want internal error", err)
	}
}

func TestRun_DryRun(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.OutputDir(), 0755); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(cfg.OutputDir(), "previous.nc")
	if err := os.WriteFile(keep, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	runner := &launch.DryRunner{}
	var out bytes.Buffer
	a, err := New(cfg, Options{DryRun: true, Runner: runner, Out: &out})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Stop(ctx)

	rep, err := a.Run(ctx, 2)
	if err != nil {
		t.Fatalf("dry run should not stop the sweep: %v", err)
	}
	if len(rep.Entries) != 1 || rep.Entries[0].Status != report.StatusFailed {
		t.Fatalf("expected one failed point, got %+v", rep.Entries)
	}

	// One conversion and one read per repetition.
	if len(runner.Commands) != 3 {
		t.Fatalf("recorded %d commands, want 3", len(runner.Commands))
	}
	if !strings.HasSuffix(runner.Commands[0].Path, "test_convert") {
		t.Errorf("first command = %s", runner.Commands[0])
	}

	if _, err := os.Stat(keep); err != nil {
		t.Error("dry run reset the workspace")
	}
	if _, err := os.Stat(cfg.Results.Dir); !os.IsNotExist(err) {
		t.Error("dry run wrote report artifacts")
	}
	if !strings.Contains(out.String(), "NPROCS") {
		t.Errorf("text report missing table header:\n%s", out.String())
	}
}

func TestRun_EndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}

	cfg := testConfig(t)
	cfg.Results.Catalog = filepath.Join(cfg.Results.Dir, "results.db")
	cfg.Results.ArchiveOutput = true
	cfg.Storage.Type = "local"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "published")
	cfg.Storage.Prefix = "reports"

	writeScript(t, cfg.Harness.BinDir, "test_convert", "Time_ordinary_netCDF=2.0s\nTime_RASTER=1.0s\n")
	writeScript(t, cfg.Harness.BinDir, "test_benchmark", "Time_netCDF_Read=0.5s\nTime_RASTER_Read=0.25s\n")

	var out bytes.Buffer
	a, err := New(cfg, Options{Out: &out})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rep, err := a.Run(ctx, 3)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if len(rep.Entries) != 1 || rep.Entries[0].Status != report.StatusOK {
		t.Fatalf("expected one successful point, got %+v", rep.Entries)
	}
	entry := rep.Entries[0]
	for b, want := range map[types.Backend]float64{types.BackendPlain: 0.5, types.BackendRegion: 0.25} {
		p, ok := entry.Point(b)
		if !ok {
			t.Fatalf("missing %s aggregate", b)
		}
		if math.Abs(p.Mean-want) > 1e-9 || p.Repetitions != 3 {
			t.Errorf("%s = %+v, want mean %v over 3 repetitions", b, p, want)
		}
	}
	if entry.Conversion[types.BackendRegion] != 1.0 {
		t.Errorf("conversion = %v", entry.Conversion)
	}

	for _, name := range []string{report.TextFile, report.JSONFile, report.YAMLFile, report.ProtoFile} {
		if _, err := os.Stat(filepath.Join(a.ArtifactDir(rep.RunID), name)); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
		if _, err := os.Stat(filepath.Join(cfg.Storage.Path, "reports", rep.RunID, name)); err != nil {
			t.Errorf("artifact %s not published: %v", name, err)
		}
	}

	cat, err := catalog.NewCatalog(cfg.Results.Catalog)
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()

	stored, err := cat.LoadReport(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("LoadReport failed: %v", err)
	}
	if len(stored.Entries) != 1 || stored.Fingerprint != catalog.Fingerprint(cfg) {
		t.Errorf("stored report = %+v", stored)
	}

	outputs, err := cat.Outputs(ctx, rep.RunID)
	if err != nil {
		t.Fatal(err)
	}
	// One conversion and three reads.
	if len(outputs) != 4 {
		t.Errorf("archived %d outputs, want 4", len(outputs))
	}

	top := a.Stats().Top(2)
	if len(top) != 2 {
		t.Fatalf("stats tracked %d probes, want 2", len(top))
	}
	for _, s := range top {
		want := int64(3)
		if s.Probe == "convert" {
			want = 1
		}
		if s.Count != want || s.Failures != 0 {
			t.Errorf("%s stats = %+v", s.Probe, s)
		}
	}
}

func TestRun_StrictFailureStillWritesReport(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}

	cfg := testConfig(t)
	writeScript(t, cfg.Harness.BinDir, "test_convert", "Time_ordinary_netCDF=2.0s\nTime_RASTER=1.0s\n")
	writeScript(t, cfg.Harness.BinDir, "test_benchmark", "no timings here\n")

	a, err := New(cfg, Options{Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(ctx)

	rep, err := a.Run(ctx, 2)
	if err == nil {
		t.Fatal("expected strict failure")
	}
	if rep == nil || len(rep.Failed()) != 1 {
		t.Fatalf("expected partial report with one failed point, got %+v", rep)
	}
	if _, err := os.Stat(filepath.Join(a.ArtifactDir(rep.RunID), report.JSONFile)); err != nil {
		t.Errorf("partial report not written: %v", err)
	}
}

func TestRun_EchoAndWideReport(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("needs /bin/sh")
	}

	cfg := testConfig(t)
	writeScript(t, cfg.Harness.BinDir, "test_convert", "Time_ordinary_netCDF=2.0s\nTime_RASTER=1.0s\n")
	writeScript(t, cfg.Harness.BinDir, "test_benchmark", "Time_netCDF_Read=0.5s\nTime_RASTER_Read=0.25s\n")

	var out, echo bytes.Buffer
	a, err := New(cfg, Options{Out: &out, Echo: &echo, Wide: true})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(ctx)

	if _, err := a.Run(ctx, 2); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := strings.Count(echo.String(), "Time_netCDF_Read=0.5s"); got != 2 {
		t.Errorf("echoed %d read outputs, want 2:\n%s", got, echo.String())
	}
	if !strings.Contains(echo.String(), "Time_ordinary_netCDF=2.0s") {
		t.Errorf("conversion output not echoed:\n%s", echo.String())
	}
	if !strings.Contains(out.String(), "MEDIAN") {
		t.Errorf("wide report missing median column:\n%s", out.String())
	}
}
