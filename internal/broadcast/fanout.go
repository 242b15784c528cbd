package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sightline-data/sightline/internal/camera"
	"github.com/sightline-data/sightline/internal/detect"
	"github.com/sightline-data/sightline/internal/monitoring"
	"github.com/sightline-data/sightline/internal/relay"
)

const (
	// subscriberRelayCapacity bounds each subscriber's private queue.
	// Two slots absorb a scheduling hiccup; anything older is stale for
	// a live view anyway.
	subscriberRelayCapacity = 2

	// DefaultMaxMessagesPerSecond caps the outbound message cadence per
	// session, independent of the underlying frame rate.
	DefaultMaxMessagesPerSecond = 15
)

// Subscription is one live subscriber's handle. Receive messages with Next;
// release with the fanout's Unsubscribe.
type Subscription struct {
	ID        string
	SessionID string
	relay     *relay.Relay[FrameMessage]
}

// Next waits up to timeout for the next message. The second return is false
// on timeout or after Unsubscribe.
func (s *Subscription) Next(timeout time.Duration) (FrameMessage, bool) {
	return s.relay.Pull(timeout)
}

// Closed reports whether the subscription has been released.
func (s *Subscription) Closed() bool { return s.relay.Closed() }

// Fanout routes frame results to subscribers. Publish never blocks beyond a
// bounded enqueue; each subscriber's relay drops its oldest message when
// full. Implements the session layer's ResultPublisher contract.
type Fanout struct {
	includePreview bool
	minInterval    time.Duration

	mu          sync.Mutex
	subs        map[string]map[string]*Subscription // session id → sub id
	lastPublish map[string]time.Time

	published atomic.Uint64
	skipped   atomic.Uint64
	now       func() time.Time
}

// NewFanout creates a fanout capping outbound cadence at maxPerSecond
// messages per session. includePreview inlines a base64 JPEG in every
// message.
func NewFanout(maxPerSecond int, includePreview bool) *Fanout {
	if maxPerSecond <= 0 {
		maxPerSecond = DefaultMaxMessagesPerSecond
	}
	return &Fanout{
		includePreview: includePreview,
		minInterval:    time.Second / time.Duration(maxPerSecond),
		subs:           make(map[string]map[string]*Subscription),
		lastPublish:    make(map[string]time.Time),
		now:            time.Now,
	}
}

// Subscribe registers a new subscriber for a session's messages.
func (f *Fanout) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		relay:     relay.New[FrameMessage](subscriberRelayCapacity),
	}
	f.mu.Lock()
	if f.subs[sessionID] == nil {
		f.subs[sessionID] = make(map[string]*Subscription)
	}
	f.subs[sessionID][sub.ID] = sub
	n := len(f.subs[sessionID])
	f.mu.Unlock()

	monitoring.Diagf("[Broadcast] %s: subscriber %s joined (%d live)", sessionID, sub.ID, n)
	return sub
}

// Unsubscribe releases a subscription. Safe to call twice.
func (f *Fanout) Unsubscribe(sub *Subscription) {
	f.mu.Lock()
	if m, ok := f.subs[sub.SessionID]; ok {
		delete(m, sub.ID)
		if len(m) == 0 {
			delete(f.subs, sub.SessionID)
			delete(f.lastPublish, sub.SessionID)
		}
	}
	f.mu.Unlock()
	sub.relay.Close()
}

// SubscriberCount reports live subscribers for a session.
func (f *Fanout) SubscriberCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[sessionID])
}

// PublishFrame fans one frame's results out to the session's subscribers.
// Called from session workers; the message is built once and shared (it is
// never mutated after construction). Messages beyond the cadence cap are
// skipped entirely.
func (f *Fanout) PublishFrame(sessionID string, frame *camera.Frame, frameNumber uint64, dets []detect.Detection) {
	f.mu.Lock()
	subs := f.subs[sessionID]
	if len(subs) == 0 {
		f.mu.Unlock()
		return
	}
	now := f.now()
	if last, ok := f.lastPublish[sessionID]; ok && now.Sub(last) < f.minInterval {
		f.mu.Unlock()
		f.skipped.Add(1)
		return
	}
	f.lastPublish[sessionID] = now
	targets := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	f.mu.Unlock()

	msg := newFrameMessage(sessionID, frame, frameNumber, dets, f.includePreview)
	for _, s := range targets {
		s.relay.Put(msg)
	}
	f.published.Add(1)
}

// StatsLoop logs fanout counters until done closes. Run from main.
func (f *Fanout) StatsLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f.mu.Lock()
			sessions := len(f.subs)
			f.mu.Unlock()
			monitoring.Diagf("[Broadcast] sessions=%d published=%d skipped=%d",
				sessions, f.published.Load(), f.skipped.Load())
		}
	}
}
