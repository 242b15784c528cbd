// Package detect defines the inference contract for detection sessions and
// provides the OpenCV DNN implementation used in production.
package detect

import (
	"errors"

	"github.com/sightline-data/sightline/internal/camera"
)

// ErrModelUnavailable is returned when the model files cannot be loaded.
var ErrModelUnavailable = errors.New("detection model unavailable")

// Detection is one detected object in frame pixel coordinates. X1,Y1 is the
// top-left corner, X2,Y2 the bottom-right. TrackerID is set when a tracker
// has associated the detection with an identity across frames; it is empty
// for detectors that do not track.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	X1         float32 `json:"x1"`
	Y1         float32 `json:"y1"`
	X2         float32 `json:"x2"`
	Y2         float32 `json:"y2"`
	TrackerID  string  `json:"trackerId,omitempty"`
}

// Width returns the box width in pixels.
func (d Detection) Width() float32 { return d.X2 - d.X1 }

// Height returns the box height in pixels.
func (d Detection) Height() float32 { return d.Y2 - d.Y1 }

// BottomCenter returns the anchor point used for zone and line analytics:
// the midpoint of the box's bottom edge, which for people and vehicles
// approximates the ground contact point.
func (d Detection) BottomCenter() (x, y float64) {
	return float64(d.X1+d.X2) / 2, float64(d.Y2)
}

// Detector runs object detection on single frames. Implementations must be
// safe for use from one worker goroutine at a time; they need not be safe
// for concurrent Infer calls.
type Detector interface {
	// Infer returns detections for the frame with confidence at or above
	// confThreshold, deduplicated by non-maximum suppression at iouThreshold.
	Infer(f *camera.Frame, confThreshold, iouThreshold float32) ([]Detection, error)

	// Close releases model resources.
	Close() error
}
