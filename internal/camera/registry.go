package camera

import (
	"encoding/json"
	"net/http"
	"sync"

	"tailscale.com/tsweb"

	"github.com/sightline-data/sightline/internal/monitoring"
)

// SourceOpener opens a FrameSource for a device selector. The production
// opener wraps OpenSource with a shared backend cache; tests and dev mode
// substitute synthetic sources.
type SourceOpener func(sel DeviceSelector) (FrameSource, error)

// Registry owns the map of camera identity → live Multiplexer. It guarantees
// that at most one multiplexer is open per identity at a time: opening an
// identity that is already open returns the existing handle instead of
// claiming the device a second time. One registry is constructed per process
// and passed explicitly to whoever needs capture access.
type Registry struct {
	mu     sync.Mutex
	muxes  map[string]*Multiplexer
	opener SourceOpener
}

// NewRegistry creates a registry that opens sources with the given opener.
func NewRegistry(opener SourceOpener) *Registry {
	return &Registry{
		muxes:  make(map[string]*Multiplexer),
		opener: opener,
	}
}

// Open returns the live multiplexer for identity, creating one (and claiming
// the device) only if none exists or the previous one has closed. Returns
// ErrDeviceUnavailable (wrapped) when no backend can open the device.
func (r *Registry) Open(identity string, sel DeviceSelector) (*Multiplexer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.muxes[identity]; ok && !m.Closed() {
		return m, nil
	}

	source, err := r.opener(sel)
	if err != nil {
		return nil, err
	}

	m := NewMultiplexer(identity, source)
	m.Start()
	r.muxes[identity] = m
	monitoring.Logf("camera %s: opened (%s)", identity, sel)
	return m, nil
}

// Get returns the live multiplexer for identity, if any.
func (r *Registry) Get(identity string) (*Multiplexer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.muxes[identity]
	if !ok || m.Closed() {
		return nil, false
	}
	return m, true
}

// Release closes and forgets the multiplexer for identity when it has no
// remaining consumers. Returns true if the device was released.
func (r *Registry) Release(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.muxes[identity]
	if !ok {
		return false
	}
	if m.ConsumerCount() > 0 {
		return false
	}
	delete(r.muxes, identity)
	if err := m.Close(); err != nil {
		monitoring.Logf("camera %s: close: %v", identity, err)
	}
	return true
}

// CloseAll shuts down every multiplexer. Used at process exit.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	muxes := make([]*Multiplexer, 0, len(r.muxes))
	for _, m := range r.muxes {
		muxes = append(muxes, m)
	}
	r.muxes = make(map[string]*Multiplexer)
	r.mu.Unlock()

	for _, m := range muxes {
		if err := m.Close(); err != nil {
			monitoring.Logf("camera %s: close: %v", m.Identity(), err)
		}
	}
}

// AllStats snapshots counters for every live multiplexer.
func (r *Registry) AllStats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stats, 0, len(r.muxes))
	for _, m := range r.muxes {
		out = append(out, m.Stats())
	}
	return out
}

// AttachAdminRoutes attaches capture debugging endpoints to the given HTTP
// mux served under /debug/. These routes are reachable only over
// localhost/Tailscale and are not publicly accessible.
func (r *Registry) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("capture-stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(r.AllStats())
	})
}
