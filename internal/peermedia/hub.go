// Package peermedia streams reformatted (JPEG) frames to WebRTC peers over
// data channels. Each peer sits behind its own bounded drop-oldest relay so
// a congested peer link never backs up into a session worker.
package peermedia

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/sightline-data/sightline/internal/camera"
	"github.com/sightline-data/sightline/internal/detect"
	"github.com/sightline-data/sightline/internal/monitoring"
	"github.com/sightline-data/sightline/internal/relay"
)

const (
	// peerRelayCapacity bounds each peer's frame backlog.
	peerRelayCapacity = 2

	// sendTimeout bounds how long the pump waits for a frame before
	// re-checking peer liveness.
	sendTimeout = time.Second
)

type peer struct {
	id        string
	sessionID string
	pc        *webrtc.PeerConnection
	frames    *relay.Relay[[]byte]
}

// Hub owns the set of connected media peers, keyed by peer id, grouped by
// session. It satisfies the session layer's ResultPublisher contract: every
// published frame is JPEG-encoded once and fanned to the session's peers.
type Hub struct {
	api *webrtc.API

	mu    sync.Mutex
	peers map[string]map[string]*peer // session id → peer id

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewHub creates a hub with default WebRTC settings.
func NewHub() *Hub {
	return &Hub{
		api:   webrtc.NewAPI(),
		peers: make(map[string]map[string]*peer),
	}
}

// HandleOffer answers a browser's SDP offer for one session's frame stream.
// The caller relays the returned answer back over its signaling channel.
// ICE gathering completes before the answer is returned (no trickle).
func (h *Hub) HandleOffer(sessionID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	pc, err := h.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("peer connection: %w", err)
	}

	p := &peer{
		id:        uuid.NewString(),
		sessionID: sessionID,
		pc:        pc,
		frames:    relay.New[[]byte](peerRelayCapacity),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			monitoring.Diagf("[PeerMedia] %s: peer %s channel %q open", sessionID, p.id, dc.Label())
			go h.pump(p, dc)
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.removePeer(p)
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("local description: %w", err)
	}
	<-gathered

	h.mu.Lock()
	if h.peers[sessionID] == nil {
		h.peers[sessionID] = make(map[string]*peer)
	}
	h.peers[sessionID][p.id] = p
	h.mu.Unlock()

	return *pc.LocalDescription(), nil
}

// pump drains the peer's relay into its data channel.
func (h *Hub) pump(p *peer, dc *webrtc.DataChannel) {
	for {
		frame, ok := p.frames.Pull(sendTimeout)
		if !ok {
			if p.frames.Closed() {
				return
			}
			continue
		}
		if err := dc.Send(frame); err != nil {
			monitoring.Tracef("[PeerMedia] %s: send to %s failed: %v", p.sessionID, p.id, err)
			h.removePeer(p)
			return
		}
		h.sent.Add(1)
	}
}

func (h *Hub) removePeer(p *peer) {
	h.mu.Lock()
	if m, ok := h.peers[p.sessionID]; ok {
		if _, live := m[p.id]; !live {
			h.mu.Unlock()
			return
		}
		delete(m, p.id)
		if len(m) == 0 {
			delete(h.peers, p.sessionID)
		}
	}
	h.mu.Unlock()

	p.frames.Close()
	if err := p.pc.Close(); err != nil {
		monitoring.Diagf("[PeerMedia] %s: close peer %s: %v", p.sessionID, p.id, err)
	}
	monitoring.Diagf("[PeerMedia] %s: peer %s removed", p.sessionID, p.id)
}

// PeerCount reports connected peers for a session.
func (h *Hub) PeerCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers[sessionID])
}

// PublishFrame JPEG-encodes the frame once and enqueues it to every peer of
// the session. With more than one peer each sink gets its own copy so no
// two peers ever share a buffer.
func (h *Hub) PublishFrame(sessionID string, frame *camera.Frame, frameNumber uint64, dets []detect.Detection) {
	h.mu.Lock()
	subs := h.peers[sessionID]
	targets := make([]*peer, 0, len(subs))
	for _, p := range subs {
		targets = append(targets, p)
	}
	h.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	jpeg, err := camera.EncodeJPEG(frame)
	if err != nil {
		monitoring.Diagf("[PeerMedia] %s: encode frame %d: %v", sessionID, frameNumber, err)
		return
	}

	for i, p := range targets {
		buf := jpeg
		if len(targets) > 1 && i > 0 {
			buf = make([]byte, len(jpeg))
			copy(buf, jpeg)
		}
		if !p.frames.Put(buf) {
			h.dropped.Add(1)
		}
	}
}

// CloseSession drops every peer attached to a session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	var targets []*peer
	for _, p := range h.peers[sessionID] {
		targets = append(targets, p)
	}
	h.mu.Unlock()
	for _, p := range targets {
		h.removePeer(p)
	}
}
