package detect

import (
	"sync"

	"github.com/sightline-data/sightline/internal/camera"
)

// MockDetector is a scriptable Detector for tests and dev mode. Each Infer
// call returns the next scripted result in order; after the script runs out
// the final entry repeats. An empty script returns no detections.
type MockDetector struct {
	mu      sync.Mutex
	script  []ScriptedResult
	calls   int
	closed  bool
	InferFn func(f *camera.Frame, conf, iou float32) ([]Detection, error)
}

// ScriptedResult is one Infer outcome.
type ScriptedResult struct {
	Detections []Detection
	Err        error
}

// NewMockDetector returns a detector that replays the given results.
func NewMockDetector(script ...ScriptedResult) *MockDetector {
	return &MockDetector{script: script}
}

func (m *MockDetector) Infer(f *camera.Frame, conf, iou float32) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.InferFn != nil {
		return m.InferFn(f, conf, iou)
	}
	if len(m.script) == 0 {
		return nil, nil
	}
	idx := m.calls - 1
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	r := m.script[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]Detection, len(r.Detections))
	copy(out, r.Detections)
	return out, nil
}

// Calls reports how many times Infer has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close has been called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
