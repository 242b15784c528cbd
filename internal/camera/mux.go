package camera

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sightline-data/sightline/internal/monitoring"
)

// MaxConsecutiveReadFailures is the run of failed reads after which the
// multiplexer gives up on the device, terminates its read loop and marks
// itself closed. Callers must reopen via the Registry.
const MaxConsecutiveReadFailures = 10

// ConsumerFunc delivers one frame to a registered consumer. The frame passed
// in is the consumer's private copy. Returning an error does not unregister
// the consumer; delivery errors are counted and logged.
type ConsumerFunc func(*Frame) error

type consumerEntry struct {
	id string
	fn ConsumerFunc
}

// Multiplexer owns exactly one FrameSource and fans every captured frame out
// to all registered consumers, invoking their callbacks synchronously and in
// registration order. The most recent frame is additionally held in a single
// overwrite slot readable via LatestFrame.
type Multiplexer struct {
	identity string
	source   FrameSource

	mu        sync.Mutex
	consumers []consumerEntry
	latest    *Frame
	closed    bool
	seq       uint64

	done chan struct{}

	framesRead     atomic.Uint64
	deliveryErrors atomic.Uint64
	readFailures   atomic.Uint64
}

// NewMultiplexer wraps source for the given camera identity. The read loop
// does not run until Start is called.
func NewMultiplexer(identity string, source FrameSource) *Multiplexer {
	return &Multiplexer{
		identity: identity,
		source:   source,
		done:     make(chan struct{}),
	}
}

// Identity returns the stable camera identity this multiplexer serves.
func (m *Multiplexer) Identity() string { return m.identity }

// Start launches the blocking read loop on its own goroutine.
func (m *Multiplexer) Start() {
	go m.readLoop()
}

// readLoop reads frames until the source closes or the consecutive-failure
// threshold is exceeded. Each successful read overwrites the latest slot and
// is delivered to every consumer; each consumer gets its own copy and no lock
// is held during callback invocation so a slow consumer cannot stall the
// overwrite slot or unregistration.
func (m *Multiplexer) readLoop() {
	failures := 0
	for {
		select {
		case <-m.done:
			return
		default:
		}

		frame, err := m.source.Read()
		if err != nil {
			if err == ErrSourceClosed {
				return
			}
			failures++
			m.readFailures.Add(1)
			if failures >= MaxConsecutiveReadFailures {
				monitoring.Opsf("[Capture] %s: %d consecutive read failures, closing", m.identity, failures)
				m.Close()
				return
			}
			continue
		}
		failures = 0

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.seq++
		frame.Seq = m.seq
		m.latest = frame
		targets := make([]consumerEntry, len(m.consumers))
		copy(targets, m.consumers)
		m.mu.Unlock()

		m.framesRead.Add(1)

		for _, c := range targets {
			if err := c.fn(frame.Clone()); err != nil {
				m.deliveryErrors.Add(1)
				monitoring.Tracef("[Capture] %s: delivery to %s failed: %v", m.identity, c.id, err)
			}
		}
	}
}

// RegisterConsumer adds a delivery callback under the given consumer id.
// Registration order is delivery order. Registering on a closed multiplexer
// returns ErrSourceClosed; re-registering an id replaces the callback in place.
func (m *Multiplexer) RegisterConsumer(id string, fn ConsumerFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("register %s on %s: %w", id, m.identity, ErrSourceClosed)
	}
	for i, c := range m.consumers {
		if c.id == id {
			m.consumers[i].fn = fn
			return nil
		}
	}
	m.consumers = append(m.consumers, consumerEntry{id: id, fn: fn})
	return nil
}

// UnregisterConsumer removes a consumer. Unknown ids are a no-op.
func (m *Multiplexer) UnregisterConsumer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.consumers {
		if c.id == id {
			m.consumers = append(m.consumers[:i], m.consumers[i+1:]...)
			return
		}
	}
}

// ConsumerCount returns the number of registered consumers.
func (m *Multiplexer) ConsumerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.consumers)
}

// LatestFrame returns the most recently captured frame, or nil before the
// first read. Frames are immutable so the returned pointer is safe to share.
func (m *Multiplexer) LatestFrame() *Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// Closed reports whether the multiplexer has been closed, either explicitly
// or by the read-failure threshold.
func (m *Multiplexer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Done is closed when the multiplexer shuts down.
func (m *Multiplexer) Done() <-chan struct{} { return m.done }

// Close releases the device handle exactly once and marks the multiplexer
// closed. It is idempotent and safe to call from any goroutine, including
// concurrent unregistration paths.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.consumers = nil
	close(m.done)
	m.mu.Unlock()

	return m.source.Close()
}

// Stats is a snapshot of multiplexer counters.
type Stats struct {
	Identity       string `json:"identity"`
	FramesRead     uint64 `json:"frames_read"`
	ReadFailures   uint64 `json:"read_failures"`
	DeliveryErrors uint64 `json:"delivery_errors"`
	Consumers      int    `json:"consumers"`
	Closed         bool   `json:"closed"`
}

// Stats returns current counters for admin/debug surfaces.
func (m *Multiplexer) Stats() Stats {
	m.mu.Lock()
	consumers := len(m.consumers)
	closed := m.closed
	m.mu.Unlock()
	return Stats{
		Identity:       m.identity,
		FramesRead:     m.framesRead.Load(),
		ReadFailures:   m.readFailures.Load(),
		DeliveryErrors: m.deliveryErrors.Load(),
		Consumers:      consumers,
		Closed:         closed,
	}
}
