// Package observability tracks how the external invocations of a run spend
// their time, per probe.
package observability

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	benchErrors "github.com/rasterbench/rasterbench/internal/errors"
	"github.com/rasterbench/rasterbench/internal/report"
	"github.com/rasterbench/rasterbench/internal/trial"
)

// InvocationStats aggregates finished invocations by probe name.
type InvocationStats struct {
	mu     sync.RWMutex
	probes map[string]*ProbeStats
}

// ProbeStats holds the counters of one probe.
type ProbeStats struct {
	Probe    string
	Count    int64
	Failures int64
	Total    time.Duration
	Max      time.Duration
	LastSeen time.Time
	Codes    map[string]int // error code -> count
}

// Mean returns the average wall time per invocation.
func (s ProbeStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// NewInvocationStats creates an empty tracker.
func NewInvocationStats() *InvocationStats {
	return &InvocationStats{probes: make(map[string]*ProbeStats)}
}

// InvocationCompleted records inv. Safe for concurrent use.
func (q *InvocationStats) InvocationCompleted(_ context.Context, inv *trial.Invocation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats, exists := q.probes[inv.Probe]
	if !exists {
		stats = &ProbeStats{
			Probe: inv.Probe,
			Codes: make(map[string]int),
		}
		q.probes[inv.Probe] = stats
	}

	stats.Count++
	stats.Total += inv.Duration
	if inv.Duration > stats.Max {
		stats.Max = inv.Duration
	}
	stats.LastSeen = time.Now()
	if inv.Err != nil {
		stats.Failures++
		code := benchErrors.GetCode(inv.Err)
		if code == "" {
			code = "UNKNOWN"
		}
		stats.Codes[code]++
	}
}

// Top returns copies of the n probes with the most total wall time.
func (q *InvocationStats) Top(n int) []ProbeStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(q.probes) == 0 {
		return []ProbeStats{}
	}

	stats := make([]ProbeStats, 0, len(q.probes))
	for _, s := range q.probes {
		c := *s
		c.Codes = make(map[string]int, len(s.Codes))
		for code, count := range s.Codes {
			c.Codes[code] = count
		}
		stats = append(stats, c)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Total != stats[j].Total {
			return stats[i].Total > stats[j].Total
		}
		return stats[i].Probe < stats[j].Probe
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Len returns the number of probes seen.
func (q *InvocationStats) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.probes)
}

// Reset drops every counter.
func (q *InvocationStats) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.probes = make(map[string]*ProbeStats)
}

// SweepStarted clears counters left over from an earlier sweep.
func (q *InvocationStats) SweepStarted(context.Context, *report.SweepReport) error {
	q.Reset()
	return nil
}

// PointCompleted does nothing; counters are fed per invocation.
func (q *InvocationStats) PointCompleted(context.Context, *report.SweepReport, *report.AxisResult) error {
	return nil
}

// SweepFinished logs one line per probe.
func (q *InvocationStats) SweepFinished(_ context.Context, r *report.SweepReport) error {
	for _, s := range q.Top(q.Len()) {
		log.Printf("observability: run %s probe %s: %d invocations, %d failed, total %v, mean %v, max %v",
			r.RunID, s.Probe, s.Count, s.Failures,
			s.Total.Round(time.Millisecond), s.Mean().Round(time.Millisecond), s.Max.Round(time.Millisecond))
	}
	return nil
}
