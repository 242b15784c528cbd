// Package report renders a per-session analytics page: detection rate over
// time, class mix, and zone dwell distributions.
package report

import (
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/sightline-data/sightline/internal/analytics"
	"github.com/sightline-data/sightline/internal/storage"
)

// AnalyzerSource resolves the live zone/line engine for a session, if the
// session is still active.
type AnalyzerSource interface {
	Analyzer(sessionID string) (*analytics.Analyzer, bool)
}

// Renderer builds session report pages from stored detections plus, when
// the session is live, its analyzer's dwell statistics.
type Renderer struct {
	db        *storage.DB
	analyzers AnalyzerSource
}

// NewRenderer wires a renderer. analyzers may be nil; reports then omit
// dwell charts.
func NewRenderer(db *storage.DB, analyzers AnalyzerSource) *Renderer {
	return &Renderer{db: db, analyzers: analyzers}
}

// ServeSession writes the HTML report for one session.
func (r *Renderer) ServeSession(w http.ResponseWriter, req *http.Request, sessionID string) {
	row, ok, err := r.db.GetSession(sessionID)
	if err != nil {
		http.Error(w, fmt.Sprintf("load session: %v", err), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Session %s (%s)", row.SessionID, row.CameraIdentity)

	if chart, err := r.rateChart(sessionID); err == nil && chart != nil {
		page.AddCharts(chart)
	}
	if chart, err := r.classChart(sessionID); err == nil && chart != nil {
		page.AddCharts(chart)
	}
	if r.analyzers != nil {
		if a, live := r.analyzers.Analyzer(sessionID); live {
			for _, chart := range dwellCharts(a) {
				page.AddCharts(chart)
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(w); err != nil {
		http.Error(w, fmt.Sprintf("render: %v", err), http.StatusInternalServerError)
	}
}

// rateChart plots detections per second over the session's lifetime.
func (r *Renderer) rateChart(sessionID string) (components.Charter, error) {
	buckets, err := r.db.DetectionRate(sessionID)
	if err != nil || len(buckets) == 0 {
		return nil, err
	}

	x := make([]string, 0, len(buckets))
	y := make([]opts.LineData, 0, len(buckets))
	for _, b := range buckets {
		x = append(x, b.Second.Format("15:04:05"))
		y = append(y, opts.LineData{Value: b.Count})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Detections per second"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).AddSeries("detections", y)
	return line, nil
}

// classChart plots the session's detection totals per class label.
func (r *Renderer) classChart(sessionID string) (components.Charter, error) {
	counts, err := r.db.ClassCounts(sessionID)
	if err != nil || len(counts) == 0 {
		return nil, err
	}

	data := make([]opts.PieData, 0, len(counts))
	for _, c := range counts {
		data = append(data, opts.PieData{Name: c.Label, Value: c.Count})
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Class mix"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	pie.AddSeries("classes", data)
	return pie, nil
}

// dwellCharts renders one bar chart per zone with completed dwell
// intervals plus the summary percentiles in the subtitle.
func dwellCharts(a *analytics.Analyzer) []components.Charter {
	var out []components.Charter
	for _, s := range a.Summaries() {
		if s.Count == 0 {
			continue
		}
		samples := a.DwellSamples(s.Zone)
		x := make([]string, 0, len(samples))
		y := make([]opts.BarData, 0, len(samples))
		for i, v := range samples {
			x = append(x, fmt.Sprintf("#%d", i+1))
			y = append(y, opts.BarData{Value: v})
		}

		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithTitleOpts(opts.Title{
				Title: fmt.Sprintf("Dwell: %s", s.Zone),
				Subtitle: fmt.Sprintf("visits=%d mean=%.1fs p50=%.1fs p95=%.1fs",
					s.Count, s.Mean, s.P50, s.P95),
			}),
		)
		bar.SetXAxis(x).AddSeries("seconds", y)
		out = append(out, bar)
	}
	return out
}
