package analytics

import (
	"sync"
	"time"

	"github.com/sightline-data/sightline/internal/detect"
	"github.com/sightline-data/sightline/internal/monitoring"
)

const (
	// DwellGCTimeout purges per-zone tracker state unobserved this long.
	DwellGCTimeout = 30 * time.Second

	// CrossingGCTimeout purges per-line tracker state unobserved this long.
	CrossingGCTimeout = 5 * time.Second

	// CrossingDebounce is the minimum interval between two counted
	// crossings by the same tracker on the same line. Flips inside the
	// window are tracker jitter at the boundary, not traffic.
	CrossingDebounce = 300 * time.Millisecond
)

// dwellState tracks one object's relationship to one zone.
type dwellState struct {
	accumulated time.Duration
	inside      bool
	entry       time.Time
	lastSeen    time.Time
}

// crossState tracks one object's relationship to one line.
type crossState struct {
	lastSide     int
	lastCrossing time.Time
	lastSeen     time.Time
}

// CrossingCounts are the directional totals for one line.
type CrossingCounts struct {
	In  uint64 `json:"in"`
	Out uint64 `json:"out"`
}

// Analyzer is the per-session zone/line engine. One analyzer belongs to one
// detection worker; methods are nonetheless mutex-guarded because dwell and
// crossing reads arrive from API handlers on other goroutines.
type Analyzer struct {
	mu    sync.Mutex
	zones []Zone
	lines []Line

	dwell     map[string]map[string]*dwellState // zone name → tracker id
	crossings map[string]map[string]*crossState // line name → tracker id
	counts    map[string]*CrossingCounts

	// completed dwell intervals in seconds, per zone, for summaries
	dwellSamples map[string][]float64

	now func() time.Time
}

// NewAnalyzer builds an analyzer over the given zones and lines.
func NewAnalyzer(zones []Zone, lines []Line) *Analyzer {
	a := &Analyzer{
		zones:        zones,
		lines:        lines,
		dwell:        make(map[string]map[string]*dwellState),
		crossings:    make(map[string]map[string]*crossState),
		counts:       make(map[string]*CrossingCounts),
		dwellSamples: make(map[string][]float64),
		now:          time.Now,
	}
	for _, z := range zones {
		a.dwell[z.Name] = make(map[string]*dwellState)
		a.dwellSamples[z.Name] = nil
	}
	for _, l := range lines {
		a.crossings[l.Name] = make(map[string]*crossState)
		a.counts[l.Name] = &CrossingCounts{}
	}
	return a
}

// ProcessDetections advances the state machines with one frame's detections.
// Detections without a tracker id are skipped; the anchor point is the
// bottom-center of the bounding box. Stale state is purged each call.
func (a *Analyzer) ProcessDetections(dets []detect.Detection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()

	for _, d := range dets {
		if d.TrackerID == "" {
			continue
		}
		x, y := d.BottomCenter()
		p := Point{X: x, Y: y}
		for _, z := range a.zones {
			a.observeZone(z, d.TrackerID, p, now)
		}
		for _, l := range a.lines {
			a.observeLine(l, d.TrackerID, p, now)
		}
	}

	a.gc(now)
}

func (a *Analyzer) observeZone(z Zone, trackerID string, p Point, now time.Time) {
	states := a.dwell[z.Name]
	st, ok := states[trackerID]
	if !ok {
		st = &dwellState{}
		states[trackerID] = st
	}
	st.lastSeen = now

	inside := pointInPolygon(p, z.Polygon)
	switch {
	case inside && !st.inside:
		st.inside = true
		st.entry = now
	case !inside && st.inside:
		d := now.Sub(st.entry)
		st.accumulated += d
		st.inside = false
		a.dwellSamples[z.Name] = append(a.dwellSamples[z.Name], d.Seconds())
	}
}

func (a *Analyzer) observeLine(l Line, trackerID string, p Point, now time.Time) {
	side := lineSide(l, p)
	if side == 0 {
		// Exactly on the line: no observation, previous side stands.
		return
	}

	states := a.crossings[l.Name]
	st, ok := states[trackerID]
	if !ok {
		st = &crossState{lastSide: side}
		states[trackerID] = st
	}
	st.lastSeen = now

	if st.lastSide != 0 && side != st.lastSide {
		if st.lastCrossing.IsZero() || now.Sub(st.lastCrossing) >= CrossingDebounce {
			st.lastCrossing = now
			if side > 0 {
				a.counts[l.Name].In++
			} else {
				a.counts[l.Name].Out++
			}
			monitoring.Tracef("[Analytics] line %s: %s crossed %s", l.Name, trackerID, direction(side))
		}
	}
	st.lastSide = side
}

func direction(side int) string {
	if side > 0 {
		return "in"
	}
	return "out"
}

// gc purges per-object state unobserved past its timeout. An object purged
// while flagged inside has its final interval (entry to last sighting)
// folded into the zone's dwell samples so vanished trackers do not leak
// open intervals.
func (a *Analyzer) gc(now time.Time) {
	for zone, states := range a.dwell {
		for id, st := range states {
			if now.Sub(st.lastSeen) <= DwellGCTimeout {
				continue
			}
			if st.inside {
				a.dwellSamples[zone] = append(a.dwellSamples[zone], st.lastSeen.Sub(st.entry).Seconds())
			}
			delete(states, id)
		}
	}
	for _, states := range a.crossings {
		for id, st := range states {
			if now.Sub(st.lastSeen) > CrossingGCTimeout {
				delete(states, id)
			}
		}
	}
}

// CurrentDwell returns the object's total dwell in the zone so far,
// including the open interval if it is currently inside. The read does not
// mutate state: calling it twice for an unchanged clock returns the same
// value.
func (a *Analyzer) CurrentDwell(zone, trackerID string) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	states, ok := a.dwell[zone]
	if !ok {
		return 0
	}
	st, ok := states[trackerID]
	if !ok {
		return 0
	}
	d := st.accumulated
	if st.inside {
		d += a.now().Sub(st.entry)
	}
	return d
}

// Counts returns the directional crossing totals for a line.
func (a *Analyzer) Counts(line string) CrossingCounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.counts[line]; ok {
		return *c
	}
	return CrossingCounts{}
}

// AllCounts snapshots crossing totals for every line.
func (a *Analyzer) AllCounts() map[string]CrossingCounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]CrossingCounts, len(a.counts))
	for name, c := range a.counts {
		out[name] = *c
	}
	return out
}
