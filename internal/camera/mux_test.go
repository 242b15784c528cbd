package camera

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// scriptedSource implements FrameSource for tests. Frames are fed through a
// channel so the test controls exactly what the read loop observes.
type scriptedSource struct {
	frames chan *Frame
	errs   chan error

	mu         sync.Mutex
	closed     bool
	closeCalls int
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		frames: make(chan *Frame, 64),
		errs:   make(chan error, 64),
	}
}

func (s *scriptedSource) Read() (*Frame, error) {
	select {
	case err := <-s.errs:
		return nil, err
	case f, ok := <-s.frames:
		if !ok {
			return nil, ErrSourceClosed
		}
		return f, nil
	}
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

func (s *scriptedSource) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

func (s *scriptedSource) emit(n int) {
	for i := 0; i < n; i++ {
		s.frames <- &Frame{Data: []byte{byte(i)}, Width: 1, Height: 1, Timestamp: time.Now()}
	}
}

// collector records delivered frames for one consumer.
type collector struct {
	mu     sync.Mutex
	frames []*Frame
}

func (c *collector) deliver(f *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *collector) seqs() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.Seq
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMultiplexerFanOut(t *testing.T) {
	src := newScriptedSource()
	m := NewMultiplexer("cam-0", src)

	const nConsumers = 3
	collectors := make([]*collector, nConsumers)
	for i := range collectors {
		collectors[i] = &collector{}
		if err := m.RegisterConsumer(fmt.Sprintf("c%d", i), collectors[i].deliver); err != nil {
			t.Fatalf("RegisterConsumer: %v", err)
		}
	}

	m.Start()
	defer m.Close()

	const nFrames = 20
	src.emit(nFrames)

	for i, c := range collectors {
		c := c
		waitFor(t, func() bool { return c.count() == nFrames },
			fmt.Sprintf("consumer %d received %d frames, want %d", i, c.count(), nFrames))
	}

	// Every consumer sees every frame, in sequence order, while registered.
	for i, c := range collectors {
		seqs := c.seqs()
		for j, s := range seqs {
			if s != uint64(j+1) {
				t.Errorf("consumer %d frame %d has seq %d, want %d", i, j, s, j+1)
			}
		}
	}
}

func TestMultiplexerFrameCopies(t *testing.T) {
	src := newScriptedSource()
	m := NewMultiplexer("cam-0", src)

	var a, b *Frame
	done := make(chan struct{}, 2)
	m.RegisterConsumer("a", func(f *Frame) error { a = f; done <- struct{}{}; return nil })
	m.RegisterConsumer("b", func(f *Frame) error { b = f; done <- struct{}{}; return nil })

	m.Start()
	defer m.Close()
	src.emit(1)
	<-done
	<-done

	if a == b {
		t.Fatal("consumers received the same *Frame")
	}
	if &a.Data[0] == &b.Data[0] {
		t.Fatal("consumers share a pixel buffer")
	}
}

func TestMultiplexerLatestFrame(t *testing.T) {
	src := newScriptedSource()
	m := NewMultiplexer("cam-0", src)
	m.Start()
	defer m.Close()

	if m.LatestFrame() != nil {
		t.Fatal("LatestFrame before first read should be nil")
	}

	src.emit(5)
	waitFor(t, func() bool {
		f := m.LatestFrame()
		return f != nil && f.Seq == 5
	}, "latest frame never reached seq 5")
}

func TestMultiplexerFailureThreshold(t *testing.T) {
	src := newScriptedSource()
	m := NewMultiplexer("cam-0", src)
	m.Start()

	// Fewer failures than the threshold: silent drops, still open.
	for i := 0; i < MaxConsecutiveReadFailures-1; i++ {
		src.errs <- errors.New("transient")
	}
	src.emit(1)
	waitFor(t, func() bool { return m.Stats().FramesRead == 1 }, "frame after transient failures not read")
	if m.Closed() {
		t.Fatal("multiplexer closed below the failure threshold")
	}

	// A full run of consecutive failures closes the multiplexer.
	for i := 0; i < MaxConsecutiveReadFailures; i++ {
		src.errs <- errors.New("persistent")
	}
	waitFor(t, m.Closed, "multiplexer did not close after threshold failures")

	if err := m.RegisterConsumer("late", func(*Frame) error { return nil }); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("RegisterConsumer after close = %v, want ErrSourceClosed", err)
	}
}

func TestMultiplexerCloseIdempotent(t *testing.T) {
	src := newScriptedSource()
	m := NewMultiplexer("cam-0", src)
	m.Start()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Close()
		}()
	}
	wg.Wait()

	if got := src.CloseCalls(); got != 1 {
		t.Errorf("source closed %d times, want exactly 1", got)
	}
}

func TestRegistrySingleOpenPerIdentity(t *testing.T) {
	opened := 0
	reg := NewRegistry(func(sel DeviceSelector) (FrameSource, error) {
		opened++
		return newScriptedSource(), nil
	})
	defer reg.CloseAll()

	m1, err := reg.Open("cam-0", DeviceSelector{Index: 0})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m2, err := reg.Open("cam-0", DeviceSelector{Index: 0})
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if m1 != m2 {
		t.Fatal("second open for the same identity returned a different handle")
	}
	if opened != 1 {
		t.Fatalf("device claimed %d times, want 1", opened)
	}

	// After the multiplexer closes, a new open claims the device again.
	m1.Close()
	m3, err := reg.Open("cam-0", DeviceSelector{Index: 0})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if m3 == m1 {
		t.Fatal("reopen after close returned the closed handle")
	}
	if opened != 2 {
		t.Fatalf("device claimed %d times after reopen, want 2", opened)
	}
}

func TestRegistryOpenFailure(t *testing.T) {
	reg := NewRegistry(func(sel DeviceSelector) (FrameSource, error) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, sel)
	})
	if _, err := reg.Open("cam-9", DeviceSelector{Index: 9}); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Open = %v, want ErrDeviceUnavailable", err)
	}
}

func TestRegistryReleaseRespectsConsumers(t *testing.T) {
	reg := NewRegistry(func(sel DeviceSelector) (FrameSource, error) {
		return newScriptedSource(), nil
	})
	m, err := reg.Open("cam-0", DeviceSelector{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m.RegisterConsumer("c", func(*Frame) error { return nil })

	if reg.Release("cam-0") {
		t.Fatal("Release succeeded while a consumer is registered")
	}
	m.UnregisterConsumer("c")
	if !reg.Release("cam-0") {
		t.Fatal("Release failed with no consumers")
	}
	if !m.Closed() {
		t.Fatal("released multiplexer not closed")
	}
}
