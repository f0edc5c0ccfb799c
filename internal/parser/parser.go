// Package parser extracts per-process timing samples from the captured
// output of benchmark executables.
//
// Executables print one "<tag>=<seconds>s" line per worker process, e.g.
//
//	Time_netCDF_Read=0.512000s
//	Time_RASTER_Read=0.128000s
//
// The tag vocabulary is data: a Vocabulary maps tag names to backends, so a
// new backend only needs a new entry.
package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"sync"

	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
	"github.com/rasterbench/rasterbench/pkg/types"
)

// Tag maps an output tag to the backend it measures.
type Tag struct {
	Name    string        `json:"name" yaml:"name"`
	Backend types.Backend `json:"backend" yaml:"backend"`
}

// Vocabulary is an ordered set of tags expected in one output.
type Vocabulary []Tag

// Conversion tags printed by the converter.
var (
	TagConvertPlain     = Tag{Name: "Time_ordinary_netCDF", Backend: types.BackendPlain}
	TagConvertRegion    = Tag{Name: "Time_RASTER", Backend: types.BackendRegion}
	TagConvertStreaming = Tag{Name: "Time_adios2", Backend: types.BackendStreaming}
)

// Read tags printed by the read benchmarks.
var (
	TagReadPlain     = Tag{Name: "Time_netCDF_Read", Backend: types.BackendPlain}
	TagReadRegion    = Tag{Name: "Time_RASTER_Read", Backend: types.BackendRegion}
	TagReadStreaming = Tag{Name: "Time_adios2_Read", Backend: types.BackendStreaming}
)

// Backends returns the backends measured by the vocabulary, in tag order.
func (v Vocabulary) Backends() []types.Backend {
	out := make([]types.Backend, 0, len(v))
	for _, t := range v {
		out = append(out, t.Backend)
	}
	return out
}

var (
	patternMu    sync.Mutex
	patternCache = make(map[string]*regexp.Regexp)

	valueRe = regexp.MustCompile(`^([+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?)s`)
)

// tagPattern matches a tag that is not the tail of a longer identifier and
// captures the token after '='.
func tagPattern(name string) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()

	if re, ok := patternCache[name]; ok {
		return re
	}
	re := regexp.MustCompile(`(?:^|[^A-Za-z0-9_])` + regexp.QuoteMeta(name) + `=(\S*)`)
	patternCache[name] = re
	return re
}

// ExtractTag returns every value reported for tag, in order of appearance.
// Order follows the output and carries no process identity.
func ExtractTag(text, tag string) ([]float64, error) {
	matches := tagPattern(tag).FindAllStringSubmatch(text, -1)
	values := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := parseSeconds(m[1])
		if err != nil {
			return nil, benchErrors.NewMalformedValueError(tag, m[1], err)
		}
		values = append(values, v)
	}
	return values, nil
}

// Extract returns the values of every tag in the vocabulary, keyed by tag name.
// Tags with no occurrence map to an empty slice.
func Extract(text string, vocab Vocabulary) (map[string][]float64, error) {
	out := make(map[string][]float64, len(vocab))
	for _, tag := range vocab {
		values, err := ExtractTag(text, tag.Name)
		if err != nil {
			return nil, err
		}
		out[tag.Name] = values
	}
	return out, nil
}

// Validate checks that every tag reported exactly nprocs values. Zero values
// is a mismatch like any other.
func Validate(extracted map[string][]float64, vocab Vocabulary, nprocs int) error {
	for _, tag := range vocab {
		if got := len(extracted[tag.Name]); got != nprocs {
			return benchErrors.NewSampleCountError(tag.Name, nprocs, got)
		}
	}
	return nil
}

// Parse extracts and validates the vocabulary and returns the samples keyed
// by backend.
func Parse(text string, vocab Vocabulary, nprocs int) (map[types.Backend][]float64, error) {
	extracted, err := Extract(text, vocab)
	if err != nil {
		return nil, err
	}
	if err := Validate(extracted, vocab, nprocs); err != nil {
		return nil, err
	}

	out := make(map[types.Backend][]float64, len(vocab))
	for _, tag := range vocab {
		out[tag.Backend] = extracted[tag.Name]
	}
	return out, nil
}

// ParseLoose extracts the vocabulary without count validation and returns the
// per-backend mean of whatever was reported. Used for diagnostic output such
// as conversion times, where a missing optional tag is not an error.
func ParseLoose(text string, vocab Vocabulary) map[types.Backend]float64 {
	out := make(map[types.Backend]float64, len(vocab))
	for _, tag := range vocab {
		values, err := ExtractTag(text, tag.Name)
		if err != nil || len(values) == 0 {
			continue
		}
		out[tag.Backend] = types.Mean(values)
	}
	return out
}

func parseSeconds(token string) (float64, error) {
	m := valueRe.FindStringSubmatch(token)
	if m == nil {
		return 0, fmt.Errorf("expected <float>s")
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, err
	}
	if v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("seconds must be a finite non-negative number")
	}
	return v, nil
}
