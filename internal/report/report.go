// Package report holds the aggregated results of a sweep and renders them
// as text, JSON, YAML, protobuf and charts.
package report

import (
	"fmt"
	"time"

	"github.com/rasterbench/rasterbench/pkg/types"
)

// Axis point status values.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// AggregatePoint is the mean of one backend's repetition samples at one axis
// point. Mean is the canonical value; the spread fields are informational.
type AggregatePoint struct {
	Backend     types.Backend `json:"backend" yaml:"backend"`
	Mean        float64       `json:"mean" yaml:"mean"`
	Repetitions int           `json:"repetitions" yaml:"repetitions"`
	Min         float64       `json:"min" yaml:"min"`
	Max         float64       `json:"max" yaml:"max"`
	Median      float64       `json:"median" yaml:"median"`
	Lo          float64       `json:"ci_lo" yaml:"ci_lo"`
	Hi          float64       `json:"ci_hi" yaml:"ci_hi"`
	Confidence  float64       `json:"confidence" yaml:"confidence"`
}

// Repetition is one repetition's per-backend mean over processes.
type Repetition struct {
	Index   int                       `json:"index" yaml:"index"`
	Samples map[types.Backend]float64 `json:"samples,omitempty" yaml:"samples,omitempty"`
	Error   string                    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Valid reports whether the repetition contributed to the mean.
func (r Repetition) Valid() bool {
	return r.Error == ""
}

// AxisResult is everything measured at one (process count, region spec) point.
type AxisResult struct {
	Axis        types.Axis                `json:"axis" yaml:"axis"`
	Status      string                    `json:"status" yaml:"status"`
	Error       string                    `json:"error,omitempty" yaml:"error,omitempty"`
	Points      []AggregatePoint          `json:"points" yaml:"points"`
	Repetitions []Repetition              `json:"repetitions" yaml:"repetitions"`
	Conversion  map[types.Backend]float64 `json:"conversion,omitempty" yaml:"conversion,omitempty"`
	Duration    time.Duration             `json:"duration_ns" yaml:"duration_ns"`
}

// Point returns the aggregate for backend b.
func (a *AxisResult) Point(b types.Backend) (AggregatePoint, bool) {
	for _, p := range a.Points {
		if p.Backend == b {
			return p, true
		}
	}
	return AggregatePoint{}, false
}

// ValidRepetitions counts repetitions that contributed to the mean.
func (a *AxisResult) ValidRepetitions() int {
	n := 0
	for _, r := range a.Repetitions {
		if r.Valid() {
			n++
		}
	}
	return n
}

// SweepReport is the ordered collection of axis results for one execution.
type SweepReport struct {
	RunID       string          `json:"run_id" yaml:"run_id"`
	Fingerprint string          `json:"fingerprint" yaml:"fingerprint"`
	Suite       string          `json:"suite" yaml:"suite"`
	Policy      string          `json:"policy" yaml:"policy"`
	Times       int             `json:"times" yaml:"times"`
	Backends    []types.Backend `json:"backends" yaml:"backends"`
	Started     time.Time       `json:"started" yaml:"started"`
	Finished    time.Time       `json:"finished,omitempty" yaml:"finished,omitempty"`
	Entries     []*AxisResult   `json:"entries" yaml:"entries"`

	// CacheResets and CacheResetFailures let a reader judge whether the
	// measurements were cold
	CacheResets        int64 `json:"cache_resets" yaml:"cache_resets"`
	CacheResetFailures int64 `json:"cache_reset_failures" yaml:"cache_reset_failures"`
}

// Entry returns the result for an axis point.
func (r *SweepReport) Entry(axis types.Axis) (*AxisResult, bool) {
	key := axis.Key()
	for _, e := range r.Entries {
		if e.Axis.Key() == key {
			return e, true
		}
	}
	return nil, false
}

// Failed returns the axis results that produced no aggregate.
func (r *SweepReport) Failed() []*AxisResult {
	var out []*AxisResult
	for _, e := range r.Entries {
		if e.Status != StatusOK {
			out = append(out, e)
		}
	}
	return out
}

// Complete reports whether the sweep has finished.
func (r *SweepReport) Complete() bool {
	return !r.Finished.IsZero()
}

// Summary returns a one-line description of an axis result for progress logs.
func Summary(a *AxisResult) string {
	if a.Status != StatusOK {
		return fmt.Sprintf("%s: FAILED (%s)", a.Axis, a.Error)
	}
	s := a.Axis.String() + ":"
	for _, p := range a.Points {
		s += fmt.Sprintf(" %s=%.6fs", p.Backend.DisplayName(), p.Mean)
	}
	return s + fmt.Sprintf(" (%d/%d repetitions)", a.ValidRepetitions(), len(a.Repetitions))
}
