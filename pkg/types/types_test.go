package types

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestBackend_Names(t *testing.T) {
	tests := []struct {
		backend Backend
		display string
		suffix  string
	}{
		{BackendPlain, "netCDF", "plain"},
		{BackendRegion, "RASTER", "region"},
		{BackendStreaming, "adios2", "adios"},
		{Backend("zarr"), "zarr", "zarr"},
	}

	for _, tt := range tests {
		if got := tt.backend.DisplayName(); got != tt.display {
			t.Errorf("%s.DisplayName() = %q, want %q", tt.backend, got, tt.display)
		}
		if got := tt.backend.ArtifactSuffix(); got != tt.suffix {
			t.Errorf("%s.ArtifactSuffix() = %q, want %q", tt.backend, got, tt.suffix)
		}
	}
}

func TestSortBackends(t *testing.T) {
	in := []Backend{"zarr", BackendStreaming, BackendPlain, BackendStreaming, BackendRegion}
	want := []Backend{BackendPlain, BackendRegion, BackendStreaming, "zarr"}
	if got := SortBackends(in); !reflect.DeepEqual(got, want) {
		t.Errorf("SortBackends = %v, want %v", got, want)
	}
}

func TestRegionSpec_String(t *testing.T) {
	if got := (RegionSpec{}).String(); got != "all" {
		t.Errorf("empty spec = %q", got)
	}
	if got := (RegionSpec{"10", "2"}).String(); got != "10,2" {
		t.Errorf("spec = %q", got)
	}
}

func TestRegionSpec_UnmarshalJSON(t *testing.T) {
	var spec RegionSpec
	if err := json.Unmarshal([]byte(`[1, "2", 10]`), &spec); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if want := (RegionSpec{"1", "2", "10"}); !reflect.DeepEqual(spec, want) {
		t.Errorf("spec = %v, want %v", spec, want)
	}

	if err := json.Unmarshal([]byte(`[true]`), &spec); err == nil {
		t.Error("expected error for boolean region id")
	}
	if err := json.Unmarshal([]byte(`"1,2"`), &spec); err == nil {
		t.Error("expected error for non-list spec")
	}
}

func TestParseRegionSpec(t *testing.T) {
	tests := []struct {
		in   string
		want RegionSpec
	}{
		{"all", RegionSpec{}},
		{"", RegionSpec{}},
		{"1, 2,,3", RegionSpec{"1", "2", "3"}},
	}
	for _, tt := range tests {
		if got := ParseRegionSpec(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseRegionSpec(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAxis_Key(t *testing.T) {
	a := Axis{NProcs: 4, Regions: RegionSpec{"1", "2"}}
	if got := a.Key(); got != "np=4/regions=1,2" {
		t.Errorf("Key() = %q", got)
	}
	if got := (Axis{NProcs: 1}).Key(); got != "np=1/regions=all" {
		t.Errorf("Key() = %q", got)
	}
}

func TestTrialResult_Backends(t *testing.T) {
	r := TrialResult{Samples: map[Backend][]float64{BackendRegion: {1}, BackendPlain: {2}}}
	if got := r.Backends(); !reflect.DeepEqual(got, []Backend{BackendPlain, BackendRegion}) {
		t.Errorf("Backends() = %v", got)
	}
}

func TestMean(t *testing.T) {
	if Mean(nil) != 0 {
		t.Error("mean of empty slice should be 0")
	}
	if got := Mean([]float64{1, 2, 3, 6}); got != 3 {
		t.Errorf("Mean = %v", got)
	}
}
