package analytics

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DwellSummary aggregates the completed dwell intervals for one zone.
// Durations are in seconds.
type DwellSummary struct {
	Zone  string  `json:"zone"`
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Max   float64 `json:"max"`
}

// Summaries returns per-zone dwell statistics over completed visits.
// Zones with no completed visits report zeroes.
func (a *Analyzer) Summaries() []DwellSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]DwellSummary, 0, len(a.zones))
	for _, z := range a.zones {
		samples := a.dwellSamples[z.Name]
		s := DwellSummary{Zone: z.Name, Count: len(samples)}
		if len(samples) > 0 {
			sorted := make([]float64, len(samples))
			copy(sorted, samples)
			sort.Float64s(sorted)
			s.Mean = stat.Mean(sorted, nil)
			s.P50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
			s.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
			s.Max = sorted[len(sorted)-1]
		}
		out = append(out, s)
	}
	return out
}

// DwellSamples returns a copy of the completed dwell intervals for a zone,
// in seconds, in completion order. Used by the report renderer.
func (a *Analyzer) DwellSamples(zone string) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	samples := a.dwellSamples[zone]
	out := make([]float64, len(samples))
	copy(out, samples)
	return out
}
