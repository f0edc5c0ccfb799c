package types

import "fmt"

// Axis is one point of the configuration matrix.
type Axis struct {
	// NProcs is the number of worker processes launched per invocation
	NProcs int `json:"nprocs" yaml:"nprocs"`

	// Regions restricts the reads to the listed regions
	Regions RegionSpec `json:"regions" yaml:"regions"`
}

// Key returns a stable identifier for the axis point.
func (a Axis) Key() string {
	return fmt.Sprintf("np=%d/regions=%s", a.NProcs, a.Regions)
}

// String implements fmt.Stringer.
func (a Axis) String() string {
	return fmt.Sprintf("nprocs=%d regions=%s", a.NProcs, a.Regions)
}
