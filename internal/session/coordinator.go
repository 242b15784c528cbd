package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/sightline-data/sightline/internal/analytics"
	"github.com/sightline-data/sightline/internal/camera"
	"github.com/sightline-data/sightline/internal/detect"
	"github.com/sightline-data/sightline/internal/monitoring"
)

// DetectorFactory builds the inference collaborator for one session. Each
// session owns its detector so one slow model call never blocks another
// session.
type DetectorFactory func(cfg Config) (detect.Detector, error)

// Coordinator owns the set of active workers keyed by session id. One
// coordinator is constructed per process and passed explicitly to the API
// layer; there is no process-wide registry.
type Coordinator struct {
	registry    *camera.Registry
	store       TaskStatusStore
	recorder    SessionRecorder
	sink        PersistenceSink
	publishers  []ResultPublisher
	newDetector DetectorFactory
	now         func() time.Time

	mu      sync.Mutex
	workers map[string]*worker
}

// CoordinatorOpts collects the coordinator's collaborators. Registry, Store
// and NewDetector are required; the rest may be nil/empty.
type CoordinatorOpts struct {
	Registry    *camera.Registry
	Store       TaskStatusStore
	Recorder    SessionRecorder
	Sink        PersistenceSink
	Publishers  []ResultPublisher
	NewDetector DetectorFactory
}

// NewCoordinator wires a coordinator from its collaborators.
func NewCoordinator(opts CoordinatorOpts) *Coordinator {
	return &Coordinator{
		registry:    opts.Registry,
		store:       opts.Store,
		recorder:    opts.Recorder,
		sink:        opts.Sink,
		publishers:  opts.Publishers,
		newDetector: opts.NewDetector,
		now:         time.Now,
		workers:     make(map[string]*worker),
	}
}

func consumerID(sessionID string) string { return "session:" + sessionID }

// StartSession claims the camera, registers the session's capture consumer
// and spawns its worker. Fails with ErrAlreadyRunning for an active id and
// with a wrapped camera.ErrDeviceUnavailable when the camera cannot be
// acquired.
func (c *Coordinator) StartSession(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.workers[cfg.SessionID]; ok {
		return fmt.Errorf("session %s: %w", cfg.SessionID, ErrAlreadyRunning)
	}

	mux, err := c.registry.Open(cfg.CameraIdentity, cfg.Selector)
	if err != nil {
		return fmt.Errorf("session %s: %w", cfg.SessionID, err)
	}

	detector, err := c.newDetector(cfg)
	if err != nil {
		return fmt.Errorf("session %s: %w", cfg.SessionID, err)
	}

	w := newWorker(cfg, detector, c.store, c.sink, c.publishers, c.now)
	w.onExit = func(final Status) { c.workerExited(w, final) }

	if err := c.store.SetStatus(cfg.SessionID, StatusRunning); err != nil {
		detector.Close()
		return fmt.Errorf("session %s: status store: %w", cfg.SessionID, err)
	}
	if c.recorder != nil {
		if err := c.recorder.CreateSession(cfg.SessionID, cfg.CameraIdentity, StatusRunning, w.createdAt); err != nil {
			monitoring.Logf("session %s: record create: %v", cfg.SessionID, err)
		}
	}

	if err := mux.RegisterConsumer(consumerID(cfg.SessionID), w.consume); err != nil {
		detector.Close()
		return fmt.Errorf("session %s: %w", cfg.SessionID, err)
	}

	c.workers[cfg.SessionID] = w
	go w.run()
	monitoring.Logf("session %s: started on %s", cfg.SessionID, cfg.CameraIdentity)
	return nil
}

// StopSession terminates a session. The terminal status is written to the
// store first so any in-flight worker poll observes it, then the consumer
// is unregistered and in-memory state removed. A second stop for the same
// id returns ErrNotFound.
func (c *Coordinator) StopSession(sessionID string) error {
	c.mu.Lock()
	w, ok := c.workers[sessionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	if err := c.store.SetStatus(sessionID, StatusStopped); err != nil {
		monitoring.Opsf("[Session] %s: stop status write failed: %v", sessionID, err)
	}

	if mux, ok := c.registry.Get(w.cfg.CameraIdentity); ok {
		mux.UnregisterConsumer(consumerID(sessionID))
	}
	delete(c.workers, sessionID)
	c.mu.Unlock()

	// Wake the worker immediately rather than waiting out a poll cycle.
	w.relay.Close()
	monitoring.Logf("session %s: stopped", sessionID)
	return nil
}

// workerExited is the worker's exit hook: it detaches whatever the stop
// path has not already detached and records final counters. Runs on the
// worker goroutine.
func (c *Coordinator) workerExited(w *worker, final Status) {
	id := w.cfg.SessionID

	c.mu.Lock()
	if current, ok := c.workers[id]; ok && current == w {
		if mux, ok := c.registry.Get(w.cfg.CameraIdentity); ok {
			mux.UnregisterConsumer(consumerID(id))
		}
		delete(c.workers, id)
	}
	c.mu.Unlock()

	w.relay.Close()
	if err := w.detector.Close(); err != nil {
		monitoring.Logf("session %s: detector close: %v", id, err)
	}

	// Record the terminal status unless the store already has one (the
	// stop path wrote it before we got here).
	if st, ok, err := c.store.GetStatus(id); err == nil && ok && !st.Terminal() {
		if err := c.store.SetStatus(id, final); err != nil {
			monitoring.Logf("session %s: final status write: %v", id, err)
		}
	}

	if c.recorder != nil {
		snap := w.snapshot(final)
		if err := c.recorder.UpdateCounters(id, snap.FrameCount, snap.DetectionCount, snap.LastDetectionAt); err != nil {
			monitoring.Logf("session %s: record counters: %v", id, err)
		}
	}
	monitoring.Logf("session %s: worker exited (%s)", id, final)
}

// Status returns the current snapshot for an active session. The bool is
// false when the id does not resolve to an active worker.
func (c *Coordinator) Status(sessionID string) (DetectionSession, bool) {
	c.mu.Lock()
	w, ok := c.workers[sessionID]
	c.mu.Unlock()
	if !ok {
		return DetectionSession{}, false
	}

	st := StatusRunning
	if s, ok, err := c.store.GetStatus(sessionID); err == nil && ok {
		st = s
	}
	return w.snapshot(st), true
}

// ListSessions snapshots every active session.
func (c *Coordinator) ListSessions() []DetectionSession {
	c.mu.Lock()
	workers := make([]*worker, 0, len(c.workers))
	for _, w := range c.workers {
		workers = append(workers, w)
	}
	c.mu.Unlock()

	out := make([]DetectionSession, 0, len(workers))
	for _, w := range workers {
		st := StatusRunning
		if s, ok, err := c.store.GetStatus(w.cfg.SessionID); err == nil && ok {
			st = s
		}
		out = append(out, w.snapshot(st))
	}
	return out
}

// Pause asks the session's worker to stop inferring without tearing the
// session down. Observed within the status poll interval.
func (c *Coordinator) Pause(sessionID string) error {
	return c.setActiveStatus(sessionID, StatusPaused)
}

// Resume reverses Pause.
func (c *Coordinator) Resume(sessionID string) error {
	return c.setActiveStatus(sessionID, StatusRunning)
}

func (c *Coordinator) setActiveStatus(sessionID string, st Status) error {
	c.mu.Lock()
	_, ok := c.workers[sessionID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return c.store.SetStatus(sessionID, st)
}

// Analyzer exposes a session's zone/line engine for reports and API reads.
func (c *Coordinator) Analyzer(sessionID string) (*analytics.Analyzer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.workers[sessionID]
	if !ok {
		return nil, false
	}
	return w.analyzer, true
}
