package trial

import (
	"math"

	"golang.org/x/perf/benchmath"

	"github.com/rasterbench/rasterbench/internal/report"
	"github.com/rasterbench/rasterbench/pkg/types"
)

// confidence is the level of the informational interval around the median.
const confidence = 0.95

// Summarize folds one backend's repetition samples into an AggregatePoint.
// Mean is the plain arithmetic mean; the median and interval come from a
// distribution-free summary.
func Summarize(b types.Backend, values []float64) report.AggregatePoint {
	point := report.AggregatePoint{
		Backend:     b,
		Mean:        types.Mean(values),
		Repetitions: len(values),
		Confidence:  confidence,
	}
	if len(values) == 0 {
		return point
	}

	point.Min, point.Max = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		point.Min = math.Min(point.Min, v)
		point.Max = math.Max(point.Max, v)
	}

	// NewSample sorts in place.
	sorted := append([]float64(nil), values...)
	summary := benchmath.AssumeNothing.Summary(benchmath.NewSample(sorted, &benchmath.DefaultThresholds), confidence)
	point.Median = summary.Center
	point.Lo = summary.Lo
	point.Hi = summary.Hi
	if math.IsInf(point.Lo, 0) || math.IsNaN(point.Lo) {
		point.Lo = point.Min
	}
	if math.IsInf(point.Hi, 0) || math.IsNaN(point.Hi) {
		point.Hi = point.Max
	}
	return point
}
