package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/rasterbench/rasterbench/pkg/types"
)

// wideColumns is the terminal width from which the spread columns are shown.
const wideColumns = 120

// Writer prints progressive summaries and the final matrix as text. It is
// a sweep sink.
type Writer struct {
	out  io.Writer
	wide bool
}

// NewWriter creates a text writer. Spread columns are included when out is a
// terminal wide enough to hold them.
func NewWriter(out io.Writer) *Writer {
	w := &Writer{out: out}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width >= wideColumns {
			w.wide = true
		}
	}
	return w
}

// NewWideWriter creates a text writer that always prints spread columns.
func NewWideWriter(out io.Writer) *Writer {
	return &Writer{out: out, wide: true}
}

// SweepStarted prints the run header.
func (w *Writer) SweepStarted(_ context.Context, r *SweepReport) error {
	_, err := fmt.Fprintf(w.out, "run %s suite=%s policy=%s repetitions=%d\n", r.RunID, r.Suite, r.Policy, r.Times)
	return err
}

// PointCompleted prints a one-line summary of the finished axis point.
func (w *Writer) PointCompleted(_ context.Context, _ *SweepReport, point *AxisResult) error {
	_, err := fmt.Fprintln(w.out, Summary(point))
	return err
}

// SweepFinished prints the full matrix.
func (w *Writer) SweepFinished(_ context.Context, r *SweepReport) error {
	fmt.Fprintln(w.out)
	return WriteTable(w.out, r, w.wide)
}

// WriteTable prints one row per axis point with the mean per backend.
// With wide set, the median and interval follow each mean.
func WriteTable(out io.Writer, r *SweepReport, wide bool) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	header := []string{"NPROCS", "REGIONS"}
	for _, b := range r.Backends {
		header = append(header, b.DisplayName())
		if wide {
			header = append(header, b.DisplayName()+" MEDIAN", b.DisplayName()+" CI")
		}
	}
	header = append(header, "REPS", "STATUS")
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, e := range r.Entries {
		row := []string{fmt.Sprint(e.Axis.NProcs), e.Axis.Regions.String()}
		for _, b := range r.Backends {
			row = append(row, cells(e, b, wide)...)
		}
		row = append(row, fmt.Sprintf("%d/%d", e.ValidRepetitions(), len(e.Repetitions)), e.Status)
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	if r.CacheResetFailures > 0 {
		fmt.Fprintf(tw, "\ncache resets failed: %d of %d\n", r.CacheResetFailures, r.CacheResets)
	}
	return tw.Flush()
}

func cells(e *AxisResult, b types.Backend, wide bool) []string {
	p, ok := e.Point(b)
	if !ok {
		if wide {
			return []string{"-", "-", "-"}
		}
		return []string{"-"}
	}
	mean := fmt.Sprintf("%.6f", p.Mean)
	if !wide {
		return []string{mean}
	}
	return []string{mean, fmt.Sprintf("%.6f", p.Median), fmt.Sprintf("[%.6f, %.6f]", p.Lo, p.Hi)}
}
