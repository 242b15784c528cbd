// Package session owns detection session lifecycle: the coordinator keyed by
// session id, the per-session worker loop, and the collaborator contracts for
// status storage and detection persistence.
package session

import (
	"errors"
	"time"

	"github.com/sightline-data/sightline/internal/analytics"
	"github.com/sightline-data/sightline/internal/camera"
	"github.com/sightline-data/sightline/internal/detect"
)

var (
	// ErrAlreadyRunning is returned by StartSession for an active id.
	ErrAlreadyRunning = errors.New("session already running")

	// ErrNotFound is returned by StopSession for an unknown id.
	ErrNotFound = errors.New("session not found")
)

// Status is a session lifecycle state, persisted as a string.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the status ends the worker loop.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// Config is the immutable per-session configuration, built once at start
// and never mutated afterwards.
type Config struct {
	SessionID           string
	CameraIdentity      string
	Selector            camera.DeviceSelector
	ConfidenceThreshold float32
	IOUThreshold        float32

	// Zones and Lines configure the session's analytics; both may be empty.
	Zones []Zone
	Lines []Line
}

// Zone and Line alias the analytics geometry so callers configure sessions
// without importing the analytics package directly.
type (
	Zone = analytics.Zone
	Line = analytics.Line
)

// DetectionSession is a point-in-time snapshot of one session's lifecycle
// record. Counters are maintained by the owning worker.
type DetectionSession struct {
	ID              string    `json:"sessionId"`
	CameraIdentity  string    `json:"cameraIdentity"`
	Status          Status    `json:"status"`
	FrameCount      uint64    `json:"frameCount"`
	DetectionCount  uint64    `json:"detectionCount"`
	CreatedAt       time.Time `json:"createdAt"`
	LastDetectionAt time.Time `json:"lastDetectionAt,omitzero"`
}

// TaskStatusStore is the external status authority. Workers poll it to
// observe pause/stop; control handlers write it.
type TaskStatusStore interface {
	GetStatus(sessionID string) (Status, bool, error)
	SetStatus(sessionID string, status Status) error
}

// SessionRecorder persists session rows and their final counters. Optional;
// a nil recorder disables session bookkeeping writes.
type SessionRecorder interface {
	CreateSession(sessionID, cameraIdentity string, status Status, createdAt time.Time) error
	UpdateCounters(sessionID string, frames, detections uint64, lastDetection time.Time) error
}

// PersistenceSink stores detections. Invoked off the worker's hot path and
// must tolerate concurrent calls from many sessions.
type PersistenceSink interface {
	SaveDetections(sessionID string, frameNumber uint64, capturedAt time.Time, dets []detect.Detection) error
}

// ResultPublisher receives per-frame results for live distribution. Publish
// must not block the caller beyond a bounded enqueue.
type ResultPublisher interface {
	PublishFrame(sessionID string, f *camera.Frame, frameNumber uint64, dets []detect.Detection)
}
