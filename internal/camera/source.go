package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

var (
	// ErrDeviceUnavailable is returned when no backend strategy can open the
	// requested device and produce one successful read.
	ErrDeviceUnavailable = errors.New("camera device unavailable")

	// ErrSourceClosed is returned by reads and deliveries after the
	// underlying capture handle has been released.
	ErrSourceClosed = errors.New("camera source closed")

	// errReadFailed marks a transient mid-stream read failure. The
	// multiplexer drops the frame silently until the consecutive-failure
	// threshold is reached.
	errReadFailed = errors.New("frame read failed")
)

// FrameSource wraps one capture handle. Read blocks until the next frame is
// available or the source fails. Implementations are used from a single
// reader goroutine; Close may be called from any goroutine.
type FrameSource interface {
	Read() (*Frame, error)
	Close() error
}

// DeviceSelector identifies the underlying device: a local capture index
// (webcam) or a network stream URL. URL takes precedence when non-empty.
type DeviceSelector struct {
	Index int    `json:"index"`
	URL   string `json:"url,omitempty"`
}

// Key returns the stable cache key for this selector.
func (s DeviceSelector) Key() string {
	if s.URL != "" {
		return "url:" + s.URL
	}
	return fmt.Sprintf("device:%d", s.Index)
}

func (s DeviceSelector) String() string { return s.Key() }

// deviceSource is a FrameSource backed by a gocv VideoCapture handle.
type deviceSource struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	closed bool
}

func (d *deviceSource) Read() (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrSourceClosed
	}
	if ok := d.cap.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, errReadFailed
	}
	return &Frame{
		Data:      d.mat.ToBytes(),
		Width:     d.mat.Cols(),
		Height:    d.mat.Rows(),
		Timestamp: time.Now(),
	}, nil
}

func (d *deviceSource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.mat.Close()
	return d.cap.Close()
}

// OpenSource opens the device described by sel, trying each backend strategy
// in priority order and keeping the first that both opens and yields one
// successful read. A non-nil cache reorders the strategy list so the last
// known-good backend for this device is tried first, and records the winner
// after a successful open. The cache is purely a hint: a stale entry costs
// one failed attempt, never correctness.
func OpenSource(sel DeviceSelector, cache *BackendCache) (FrameSource, error) {
	backends := backendsFor(sel)
	if cache != nil {
		if name, ok := cache.Preferred(sel.Key()); ok {
			backends = promote(backends, name)
		}
	}

	var lastErr error
	for _, b := range backends {
		var cap *gocv.VideoCapture
		var err error
		if sel.URL != "" {
			cap, err = gocv.OpenVideoCaptureWithAPI(sel.URL, b.API)
		} else {
			cap, err = gocv.OpenVideoCaptureWithAPI(sel.Index, b.API)
		}
		if err != nil {
			lastErr = err
			continue
		}
		if !cap.IsOpened() {
			cap.Close()
			lastErr = fmt.Errorf("backend %s: device did not open", b.Name)
			continue
		}

		// Probe: a backend that opens but cannot read is useless, and some
		// V4L2/GStreamer combinations fail only at first read.
		probe := gocv.NewMat()
		ok := cap.Read(&probe)
		empty := probe.Empty()
		probe.Close()
		if !ok || empty {
			cap.Close()
			lastErr = fmt.Errorf("backend %s: opened but yielded no frame", b.Name)
			continue
		}

		if cache != nil {
			cache.Record(sel.Key(), b.Name)
		}
		return &deviceSource{cap: cap, mat: gocv.NewMat()}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, sel, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, sel)
}
