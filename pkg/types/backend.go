// Package types provides the core data types shared by the harness packages.
package types

// Backend identifies a storage backend under test.
type Backend string

const (
	// BackendPlain is the ordinary netCDF array layout.
	BackendPlain Backend = "plain"

	// BackendRegion is the RASTER region-optimized layout.
	BackendRegion Backend = "region"

	// BackendStreaming is the ADIOS2 object/streaming layout.
	BackendStreaming Backend = "streaming"
)

// DisplayName returns the label used in printed reports.
func (b Backend) DisplayName() string {
	switch b {
	case BackendPlain:
		return "netCDF"
	case BackendRegion:
		return "RASTER"
	case BackendStreaming:
		return "adios2"
	default:
		return string(b)
	}
}

// ArtifactSuffix returns the file name suffix the converter uses for the
// backend's artifact, e.g. "<prefix>_plain.nc".
func (b Backend) ArtifactSuffix() string {
	switch b {
	case BackendStreaming:
		return "adios"
	default:
		return string(b)
	}
}

// BackendOrder is the fixed column order used when printing reports.
var BackendOrder = []Backend{BackendPlain, BackendRegion, BackendStreaming}

// SortBackends returns the given backends in report order, unknown backends last.
func SortBackends(in []Backend) []Backend {
	seen := make(map[Backend]bool, len(in))
	for _, b := range in {
		seen[b] = true
	}
	out := make([]Backend, 0, len(in))
	for _, b := range BackendOrder {
		if seen[b] {
			out = append(out, b)
			delete(seen, b)
		}
	}
	for _, b := range in {
		if seen[b] {
			out = append(out, b)
			delete(seen, b)
		}
	}
	return out
}
