package detect

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/sightline-data/sightline/internal/camera"
)

const (
	// defaultGateDistance is the maximum centroid displacement (pixels)
	// for a detection to associate with an existing track.
	defaultGateDistance = 120.0

	// defaultMaxMisses is how many consecutive frames a track may go
	// unmatched before it is dropped.
	defaultMaxMisses = 15
)

type track struct {
	id     string
	label  string
	cx, cy float64
	misses int
}

// TrackingDetector decorates a Detector with greedy nearest-centroid
// association so downstream analytics can follow objects across frames.
// Track IDs are globally unique to avoid collisions across session restarts.
// Not safe for concurrent Infer calls; each session worker owns its own.
type TrackingDetector struct {
	inner Detector

	gateDistance float64
	maxMisses    int
	tracks       []*track
}

// NewTrackingDetector wraps inner with cross-frame identity assignment.
func NewTrackingDetector(inner Detector) *TrackingDetector {
	return &TrackingDetector{
		inner:        inner,
		gateDistance: defaultGateDistance,
		maxMisses:    defaultMaxMisses,
	}
}

// Infer runs the wrapped detector then assigns TrackerIDs. Detections are
// matched to the nearest live track of the same label within the gate
// distance, closest pairs first; leftovers start new tracks.
func (t *TrackingDetector) Infer(f *camera.Frame, confThreshold, iouThreshold float32) ([]Detection, error) {
	dets, err := t.inner.Infer(f, confThreshold, iouThreshold)
	if err != nil {
		return nil, err
	}
	t.associate(dets)
	return dets, nil
}

type candidate struct {
	detIdx   int
	trackIdx int
	dist     float64
}

func (t *TrackingDetector) associate(dets []Detection) {
	var pairs []candidate
	for di := range dets {
		cx, cy := dets[di].BottomCenter()
		for ti, tr := range t.tracks {
			if tr.label != dets[di].Label {
				continue
			}
			d := math.Hypot(cx-tr.cx, cy-tr.cy)
			if d <= t.gateDistance {
				pairs = append(pairs, candidate{detIdx: di, trackIdx: ti, dist: d})
			}
		}
	}

	// Greedy: repeatedly take the closest remaining pair.
	matchedDet := make(map[int]bool)
	matchedTrack := make(map[int]bool)
	for len(pairs) > 0 {
		best := -1
		for i, p := range pairs {
			if matchedDet[p.detIdx] || matchedTrack[p.trackIdx] {
				continue
			}
			if best < 0 || p.dist < pairs[best].dist {
				best = i
			}
		}
		if best < 0 {
			break
		}
		p := pairs[best]
		matchedDet[p.detIdx] = true
		matchedTrack[p.trackIdx] = true
		pairs = append(pairs[:best], pairs[best+1:]...)

		tr := t.tracks[p.trackIdx]
		tr.cx, tr.cy = dets[p.detIdx].BottomCenter()
		tr.misses = 0
		dets[p.detIdx].TrackerID = tr.id
	}

	// Unmatched detections become new tracks.
	for di := range dets {
		if matchedDet[di] {
			continue
		}
		cx, cy := dets[di].BottomCenter()
		tr := &track{
			id:    fmt.Sprintf("trk_%s", uuid.NewString()),
			label: dets[di].Label,
			cx:    cx,
			cy:    cy,
		}
		t.tracks = append(t.tracks, tr)
		dets[di].TrackerID = tr.id
	}

	// Age out unmatched tracks.
	live := t.tracks[:0]
	for ti, tr := range t.tracks {
		if !matchedTrack[ti] {
			tr.misses++
		}
		if tr.misses <= t.maxMisses {
			live = append(live, tr)
		}
	}
	t.tracks = live
}

// ActiveTracks reports how many tracks are currently alive.
func (t *TrackingDetector) ActiveTracks() int { return len(t.tracks) }

// Close closes the wrapped detector.
func (t *TrackingDetector) Close() error { return t.inner.Close() }
