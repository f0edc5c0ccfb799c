package catalog

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/rasterbench/rasterbench/internal/config"
	"github.com/rasterbench/rasterbench/internal/report"
	"github.com/rasterbench/rasterbench/internal/trial"
)

// Recorder writes sweep progress into a catalog. It is both a sweep sink and
// a trial observer; invocation outputs are archived only when archive is set.
type Recorder struct {
	catalog Catalog
	cfg     *config.Config
	archive bool

	mu    sync.Mutex
	runID string
	seq   int
}

// NewRecorder creates a recorder for runs of cfg.
func NewRecorder(c Catalog, cfg *config.Config, archive bool) *Recorder {
	return &Recorder{catalog: c, cfg: cfg, archive: archive}
}

// SweepStarted registers the run.
func (r *Recorder) SweepStarted(ctx context.Context, rep *report.SweepReport) error {
	r.mu.Lock()
	r.runID = rep.RunID
	r.seq = 0
	r.mu.Unlock()

	cfgJSON, err := json.Marshal(r.cfg)
	if err != nil {
		return err
	}
	return r.catalog.BeginRun(ctx, rep, cfgJSON)
}

// PointCompleted stores the point under the next sequence number.
func (r *Recorder) PointCompleted(ctx context.Context, rep *report.SweepReport, point *report.AxisResult) error {
	r.mu.Lock()
	seq := r.seq
	r.seq++
	r.mu.Unlock()

	return r.catalog.RecordPoint(ctx, rep.RunID, seq, point)
}

// SweepFinished stores the finish time.
func (r *Recorder) SweepFinished(ctx context.Context, rep *report.SweepReport) error {
	return r.catalog.FinishRun(ctx, rep)
}

// InvocationCompleted archives the captured stdout of inv.
func (r *Recorder) InvocationCompleted(ctx context.Context, inv *trial.Invocation) {
	if !r.archive {
		return
	}

	r.mu.Lock()
	runID := r.runID
	r.mu.Unlock()
	if runID == "" {
		return
	}

	rec := &OutputRecord{
		Axis:       inv.Axis,
		Repetition: inv.Repetition,
		Probe:      inv.Probe,
		Command:    inv.Command.String(),
		Stdout:     inv.Output,
		Duration:   inv.Duration,
	}
	if inv.Err != nil {
		rec.Error = inv.Err.Error()
	}
	// The invocation cut short by an interrupt is archived too.
	if _, err := r.catalog.ArchiveOutput(context.WithoutCancel(ctx), runID, rec); err != nil {
		log.Printf("[WARN] catalog: failed to archive %s output: %v", inv.Probe, err)
	}
}
