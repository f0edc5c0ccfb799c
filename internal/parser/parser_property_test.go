package parser

import (
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// render prints values the way the MPI benchmarks do, interleaved with noise.
func render(tag string, values []float64) string {
	var b strings.Builder
	for i, v := range values {
		b.WriteString("rank=")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(": reading...\n")
		b.WriteString(tag)
		b.WriteString("=")
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		b.WriteString("s\n")
	}
	return b.String()
}

func TestProperty_ExtractReturnsEveryOccurrenceInOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("k occurrences yield k values in order", prop.ForAll(
		func(values []float64) bool {
			got, err := ExtractTag(render(TagReadPlain.Name, values), TagReadPlain.Name)
			if err != nil || len(got) != len(values) {
				return false
			}
			for i := range values {
				if got[i] != values[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(0, 1000)),
	))

	properties.Property("validation passes only when k equals nprocs", prop.ForAll(
		func(k, nprocs int) bool {
			values := make([]float64, k)
			for i := range values {
				values[i] = 0.25 * float64(i)
			}
			_, err := Parse(render(TagReadPlain.Name, values), Vocabulary{TagReadPlain}, nprocs)
			return (err == nil) == (k == nprocs)
		},
		gen.IntRange(0, 8),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
