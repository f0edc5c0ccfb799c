package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rasterbench/rasterbench/pkg/types"
)

func sampleReport() *SweepReport {
	ok := &AxisResult{
		Axis:   types.Axis{NProcs: 2, Regions: types.RegionSpec{"1", "3"}},
		Status: StatusOK,
		Points: []AggregatePoint{
			{Backend: types.BackendPlain, Mean: 0.6, Repetitions: 3, Min: 0.5, Max: 0.7, Median: 0.6, Lo: 0.5, Hi: 0.7, Confidence: 0.95},
			{Backend: types.BackendRegion, Mean: 0.2, Repetitions: 3, Min: 0.1, Max: 0.3, Median: 0.2, Lo: 0.1, Hi: 0.3, Confidence: 0.95},
		},
		Repetitions: []Repetition{
			{Index: 0, Samples: map[types.Backend]float64{types.BackendPlain: 0.5, types.BackendRegion: 0.1}},
			{Index: 1, Samples: map[types.Backend]float64{types.BackendPlain: 0.6, types.BackendRegion: 0.2}},
			{Index: 2, Samples: map[types.Backend]float64{types.BackendPlain: 0.7, types.BackendRegion: 0.3}},
		},
		Duration: 1500 * time.Millisecond,
	}
	failed := &AxisResult{
		Axis:        types.Axis{NProcs: 4, Regions: types.RegionSpec{"6"}},
		Status:      StatusFailed,
		Error:       "probe masked-read: exit status 1",
		Repetitions: []Repetition{{Index: 0, Error: "exit status 1"}},
	}
	return &SweepReport{
		RunID:       "0b8d6a0e-3c43-4d4b-a0d8-1f0b8a6a2f11",
		Fingerprint: "9f3c",
		Suite:       "regions",
		Policy:      "lenient",
		Times:       3,
		Backends:    []types.Backend{types.BackendPlain, types.BackendRegion},
		Started:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Finished:    time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
		Entries:     []*AxisResult{ok, failed},
		CacheResets: 12,
	}
}

func TestSweepReport_Queries(t *testing.T) {
	r := sampleReport()

	e, ok := r.Entry(types.Axis{NProcs: 2, Regions: types.RegionSpec{"1", "3"}})
	if !ok || e.ValidRepetitions() != 3 {
		t.Fatalf("Entry lookup failed: %v %+v", ok, e)
	}
	if _, ok := r.Entry(types.Axis{NProcs: 2}); ok {
		t.Error("whole-domain entry should not match")
	}
	if failed := r.Failed(); len(failed) != 1 || failed[0].Axis.NProcs != 4 {
		t.Errorf("Failed() = %v", failed)
	}
	if !r.Complete() {
		t.Error("report with a finish time should be complete")
	}
}

func TestSummary(t *testing.T) {
	r := sampleReport()
	got := Summary(r.Entries[0])
	want := "nprocs=2 regions=1,3: netCDF=0.600000s RASTER=0.200000s (3/3 repetitions)"
	if got != want {
		t.Errorf("Summary = %q\nwant      %q", got, want)
	}
	if got := Summary(r.Entries[1]); !strings.Contains(got, "FAILED") {
		t.Errorf("failed summary = %q", got)
	}
}

func TestWriter_ProgressAndTable(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	r := sampleReport()
	ctx := context.Background()

	if err := w.SweepStarted(ctx, r); err != nil {
		t.Fatal(err)
	}
	for _, e := range r.Entries {
		if err := w.PointCompleted(ctx, r, e); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.SweepFinished(ctx, r); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"run 0b8d6a0e", "netCDF=0.600000s", "NPROCS", "RASTER", "0.200000", "0/1", "failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "MEDIAN") {
		t.Error("non-terminal writer should print the narrow table")
	}
}

func TestWriteTable_Wide(t *testing.T) {
	var buf bytes.Buffer
	r := sampleReport()
	r.CacheResetFailures = 2
	if err := WriteTable(&buf, r, true); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "netCDF MEDIAN") || !strings.Contains(out, "[0.500000, 0.700000]") {
		t.Errorf("wide table missing spread:\n%s", out)
	}
	if !strings.Contains(out, "cache resets failed: 2 of 12") {
		t.Errorf("table missing cache reset warning:\n%s", out)
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteYAML(&buf, sampleReport()); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("YAML does not parse: %v", err)
	}
	if decoded["run_id"] != "0b8d6a0e-3c43-4d4b-a0d8-1f0b8a6a2f11" || decoded["suite"] != "regions" {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestProtoExport(t *testing.T) {
	data, err := MarshalProto(sampleReport())
	if err != nil {
		t.Fatalf("MarshalProto failed: %v", err)
	}
	r, err := UnmarshalProto(data)
	if err != nil {
		t.Fatalf("UnmarshalProto failed: %v", err)
	}
	if r.RunID != sampleReport().RunID || len(r.Entries) != 2 {
		t.Fatalf("decoded report = %+v", r)
	}
	p, ok := r.Entries[0].Point(types.BackendPlain)
	if !ok || p.Mean != 0.6 {
		t.Errorf("decoded point = %+v", p)
	}
	if r.Entries[0].Axis.Regions.String() != "1,3" {
		t.Errorf("decoded regions = %v", r.Entries[0].Axis.Regions)
	}
}

func TestWriteArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	paths, err := WriteArtifacts(dir, sampleReport(), true)
	if err != nil {
		t.Fatalf("WriteArtifacts failed: %v", err)
	}
	if len(paths) != 5 {
		t.Fatalf("paths = %v", paths)
	}

	png, err := os.ReadFile(filepath.Join(dir, ChartFile))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("chart is not a PNG")
	}
}

func TestRenderChart_NoSuccessfulPoints(t *testing.T) {
	r := sampleReport()
	r.Entries = r.Entries[1:]
	if err := RenderChart(r, filepath.Join(t.TempDir(), "chart.png")); err == nil {
		t.Error("expected error when nothing succeeded")
	}
}
