package session

import (
	"sync"
	"time"

	"github.com/sightline-data/sightline/internal/analytics"
	"github.com/sightline-data/sightline/internal/camera"
	"github.com/sightline-data/sightline/internal/detect"
	"github.com/sightline-data/sightline/internal/monitoring"
	"github.com/sightline-data/sightline/internal/relay"
)

const (
	// statusPollInterval is how many frames pass between status-store
	// polls. Pause and stop latency is bounded by this many frames.
	statusPollInterval = 30

	// pullTimeout bounds each relay dequeue so the worker stays
	// responsive to external stop when frames dry up.
	pullTimeout = 250 * time.Millisecond

	// persistRetries is how many attempts a batch gets before it is
	// dropped with a logged error.
	persistRetries = 3

	// persistQueueDepth bounds the per-session persistence backlog.
	persistQueueDepth = 32
)

// persistBatch is one frame's detections queued for storage.
type persistBatch struct {
	frameNumber uint64
	capturedAt  time.Time
	dets        []detect.Detection
}

// worker runs one detection session: it pulls frames from its relay,
// invokes inference, advances counters and routes results. Frames arrive
// via the capture consumer callback; everything else happens on the
// worker's own goroutine.
type worker struct {
	cfg      Config
	relay    *relay.Relay[*camera.Frame]
	detector detect.Detector
	analyzer *analytics.Analyzer

	store      TaskStatusStore
	sink       PersistenceSink
	publishers []ResultPublisher

	mu              sync.Mutex
	frameCount      uint64
	detectionCount  uint64
	lastDetectionAt time.Time
	createdAt       time.Time

	persistCh chan persistBatch
	done      chan struct{}

	// lastKnownPaused caches the pause state between polls. Worker
	// goroutine only.
	lastKnownPaused bool

	// onExit runs once when the loop ends, after the worker has drained
	// its persistence queue. Set by the coordinator.
	onExit func(finalStatus Status)

	now func() time.Time
}

func newWorker(cfg Config, detector detect.Detector, store TaskStatusStore, sink PersistenceSink, publishers []ResultPublisher, now func() time.Time) *worker {
	return &worker{
		cfg:        cfg,
		relay:      relay.New[*camera.Frame](1),
		detector:   detector,
		analyzer:   analytics.NewAnalyzer(cfg.Zones, cfg.Lines),
		store:      store,
		sink:       sink,
		publishers: publishers,
		persistCh:  make(chan persistBatch, persistQueueDepth),
		done:       make(chan struct{}),
		createdAt:  now(),
		now:        now,
	}
}

// consume is the capture consumer callback: it pushes the frame into the
// session's relay and returns immediately. Newest wins under backpressure.
func (w *worker) consume(f *camera.Frame) error {
	w.relay.Put(f)
	return nil
}

// run is the worker loop. It exits when the status store reports a terminal
// status or the relay closes.
func (w *worker) run() {
	go w.persistLoop()

	final := StatusCompleted
	framesSincePoll := 0

	for {
		frame, ok := w.relay.Pull(pullTimeout)
		if !ok {
			if w.relay.Closed() {
				break
			}
			// No frame this tick. Poll anyway so a stopped session
			// with a dead camera still terminates promptly.
			st, terminal := w.pollStatus()
			if terminal {
				final = st
				break
			}
			continue
		}

		w.mu.Lock()
		w.frameCount++
		w.mu.Unlock()

		framesSincePoll++
		paused := false
		if framesSincePoll >= statusPollInterval {
			framesSincePoll = 0
			st, terminal := w.pollStatus()
			if terminal {
				final = st
				break
			}
			paused = st == StatusPaused
		} else {
			paused = w.lastKnownPaused
		}
		w.lastKnownPaused = paused
		if paused {
			// Discard without inference but keep pulling so the
			// relay never backs up.
			continue
		}

		dets, err := w.detector.Infer(frame, w.cfg.ConfidenceThreshold, w.cfg.IOUThreshold)
		if err != nil {
			monitoring.Diagf("[Session] %s: inference failed on frame %d: %v", w.cfg.SessionID, w.frameNumber(), err)
			dets = nil
		}

		if len(dets) > 0 {
			w.mu.Lock()
			w.detectionCount += uint64(len(dets))
			w.lastDetectionAt = frame.Timestamp
			w.mu.Unlock()
		}

		w.analyzer.ProcessDetections(dets)

		frameNumber := w.frameNumber()
		for _, p := range w.publishers {
			p.PublishFrame(w.cfg.SessionID, frame, frameNumber, dets)
		}
		if len(dets) > 0 && w.sink != nil {
			w.enqueuePersist(persistBatch{
				frameNumber: frameNumber,
				capturedAt:  frame.Timestamp,
				dets:        dets,
			})
		}
	}

	close(w.persistCh)
	<-w.done

	if w.onExit != nil {
		w.onExit(final)
	}
}

// pollStatus asks the status store for the session's current state.
// A missing session or a store error reads as stopped: without an
// authoritative record the worker has no license to keep running.
func (w *worker) pollStatus() (Status, bool) {
	st, ok, err := w.store.GetStatus(w.cfg.SessionID)
	if err != nil {
		monitoring.Opsf("[Session] %s: status poll failed: %v", w.cfg.SessionID, err)
		return StatusStopped, true
	}
	if !ok {
		return StatusStopped, true
	}
	return st, st.Terminal()
}

// enqueuePersist hands a batch to the persistence goroutine without
// blocking; a full queue drops the oldest pending batch.
func (w *worker) enqueuePersist(b persistBatch) {
	for {
		select {
		case w.persistCh <- b:
			return
		default:
		}
		select {
		case old := <-w.persistCh:
			monitoring.Diagf("[Session] %s: persistence backlog full, dropped frame %d", w.cfg.SessionID, old.frameNumber)
		default:
		}
	}
}

// persistLoop drains the queue, retrying each batch a bounded number of
// times before dropping it.
func (w *worker) persistLoop() {
	defer close(w.done)
	for b := range w.persistCh {
		var err error
		for attempt := 1; attempt <= persistRetries; attempt++ {
			err = w.sink.SaveDetections(w.cfg.SessionID, b.frameNumber, b.capturedAt, b.dets)
			if err == nil {
				break
			}
			time.Sleep(time.Duration(attempt) * 10 * time.Millisecond)
		}
		if err != nil {
			monitoring.Opsf("[Session] %s: dropping %d detections for frame %d after %d attempts: %v",
				w.cfg.SessionID, len(b.dets), b.frameNumber, persistRetries, err)
		}
	}
}

func (w *worker) frameNumber() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frameCount
}

// snapshot builds the externally visible session record with the given
// status (the worker does not own status, the store does).
func (w *worker) snapshot(status Status) DetectionSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	return DetectionSession{
		ID:              w.cfg.SessionID,
		CameraIdentity:  w.cfg.CameraIdentity,
		Status:          status,
		FrameCount:      w.frameCount,
		DetectionCount:  w.detectionCount,
		CreatedAt:       w.createdAt,
		LastDetectionAt: w.lastDetectionAt,
	}
}
