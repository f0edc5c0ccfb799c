package types

// TrialResult holds the parsed output of one invocation of one executable:
// exactly NProcs values per backend when valid.
type TrialResult struct {
	Probe   string                `json:"probe"`
	NProcs  int                   `json:"nprocs"`
	Samples map[Backend][]float64 `json:"samples"`
}

// Backends returns the backends that reported samples, in report order.
func (t *TrialResult) Backends() []Backend {
	out := make([]Backend, 0, len(t.Samples))
	for b := range t.Samples {
		out = append(out, b)
	}
	return SortBackends(out)
}

// Mean returns the arithmetic mean of values. It returns 0 for an empty slice;
// callers validate counts before averaging.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
