// Package broadcast distributes per-frame detection results to live
// subscribers, each isolated behind its own bounded drop-oldest relay so a
// slow client can never stall a session worker.
package broadcast

import (
	"encoding/base64"

	"github.com/sightline-data/sightline/internal/camera"
	"github.com/sightline-data/sightline/internal/detect"
	"github.com/sightline-data/sightline/internal/monitoring"
)

// MessageDetection is one detection in the wire schema.
type MessageDetection struct {
	BBox       [4]float32 `json:"bbox"`
	Label      string     `json:"label"`
	Confidence float32    `json:"confidence"`
	TrackerID  string     `json:"trackerId,omitempty"`
}

// FrameMessage is the JSON payload sent to live subscribers.
type FrameMessage struct {
	Type             string             `json:"type"`
	SessionID        string             `json:"sessionId"`
	FrameNumber      uint64             `json:"frameNumber"`
	TimestampSeconds float64            `json:"timestampSeconds"`
	Width            int                `json:"width"`
	Height           int                `json:"height"`
	Detections       []MessageDetection `json:"detections"`
	Image            string             `json:"image,omitempty"`
}

// newFrameMessage builds the wire payload for one frame's results. When
// includePreview is set the frame is JPEG-compressed and inlined as base64;
// encode failures degrade to a message without an image.
func newFrameMessage(sessionID string, f *camera.Frame, frameNumber uint64, dets []detect.Detection, includePreview bool) FrameMessage {
	msg := FrameMessage{
		Type:             "frame",
		SessionID:        sessionID,
		FrameNumber:      frameNumber,
		TimestampSeconds: float64(f.Timestamp.UnixNano()) / 1e9,
		Width:            f.Width,
		Height:           f.Height,
		Detections:       make([]MessageDetection, 0, len(dets)),
	}
	for _, d := range dets {
		msg.Detections = append(msg.Detections, MessageDetection{
			BBox:       [4]float32{d.X1, d.Y1, d.X2, d.Y2},
			Label:      d.Label,
			Confidence: d.Confidence,
			TrackerID:  d.TrackerID,
		})
	}
	if includePreview {
		jpeg, err := camera.EncodeJPEG(f)
		if err != nil {
			monitoring.Diagf("[Broadcast] %s: preview encode failed: %v", sessionID, err)
		} else {
			msg.Image = base64.StdEncoding.EncodeToString(jpeg)
		}
	}
	return msg
}
