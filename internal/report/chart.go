package report

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// RenderChart draws grouped bars of the mean read time per backend for every
// successful axis point and saves them to path. The image format follows the
// file extension.
func RenderChart(r *SweepReport, path string) error {
	var entries []*AxisResult
	for _, e := range r.Entries {
		if e.Status == StatusOK {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return fmt.Errorf("report: no successful points to chart")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Mean read time, %d repetitions", r.Times)
	p.Y.Label.Text = "seconds"
	p.Legend.Top = true

	width := vg.Points(12)
	n := len(r.Backends)
	for i, b := range r.Backends {
		values := make(plotter.Values, len(entries))
		for j, e := range entries {
			if pt, ok := e.Point(b); ok {
				values[j] = pt.Mean
			}
		}
		bars, err := plotter.NewBarChart(values, width)
		if err != nil {
			return fmt.Errorf("report: %s bars: %w", b.DisplayName(), err)
		}
		bars.Color = plotutil.Color(i)
		bars.LineStyle.Width = 0
		bars.Offset = vg.Length(float64(i)-float64(n-1)/2) * width
		p.Add(bars)
		p.Legend.Add(b.DisplayName(), bars)
	}

	ticks := make([]plot.Tick, len(entries))
	for j, e := range entries {
		ticks[j] = plot.Tick{Value: float64(j), Label: fmt.Sprintf("np=%d\n%s", e.Axis.NProcs, e.Axis.Regions)}
	}
	p.X.Min = -0.5
	p.X.Max = float64(len(entries)) - 0.5
	p.X.Tick.Marker = plot.ConstantTicks(ticks)

	chartWidth := vg.Length(len(entries)*n)*width*1.5 + 2*vg.Inch
	if chartWidth < 6*vg.Inch {
		chartWidth = 6 * vg.Inch
	}
	if err := p.Save(chartWidth, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("report: failed to save chart: %w", err)
	}
	return nil
}
