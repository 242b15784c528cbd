package camera

import (
	"io"
	"sync"
	"time"
)

// SimSource is a synthetic FrameSource for dev mode and tests. It emits
// generated frames at a fixed interval, optionally stopping after a total
// count, and supports failure injection to exercise the multiplexer's
// failure threshold without hardware.
type SimSource struct {
	Width    int
	Height   int
	Interval time.Duration
	Total    int // 0 = unlimited

	mu      sync.Mutex
	emitted int
	failErr error
	closed  bool
}

// NewSimSource returns a simulated source producing Total frames of
// Width×Height at the given interval. Total of 0 means unlimited.
func NewSimSource(width, height int, interval time.Duration, total int) *SimSource {
	return &SimSource{Width: width, Height: height, Interval: interval, Total: total}
}

// SetFail makes subsequent reads return err until cleared with SetFail(nil).
func (s *SimSource) SetFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Emitted reports how many frames have been produced.
func (s *SimSource) Emitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted
}

func (s *SimSource) Read() (*Frame, error) {
	if s.Interval > 0 {
		time.Sleep(s.Interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.failErr != nil {
		return nil, s.failErr
	}
	if s.Total > 0 && s.emitted >= s.Total {
		return nil, io.EOF
	}
	s.emitted++

	// A cheap moving gradient so successive frames differ.
	data := make([]byte, s.Width*s.Height*3)
	shift := byte(s.emitted)
	for i := range data {
		data[i] = byte(i) + shift
	}
	return &Frame{
		Data:      data,
		Width:     s.Width,
		Height:    s.Height,
		Timestamp: time.Now(),
	}, nil
}

func (s *SimSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
