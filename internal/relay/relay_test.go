package relay

import (
	"sync"
	"testing"
	"time"
)

func TestPutPull(t *testing.T) {
	r := New[int](2)
	if ok := r.Put(1); !ok {
		t.Fatal("Put on open relay returned false")
	}
	r.Put(2)

	v, ok := r.Pull(time.Second)
	if !ok || v != 1 {
		t.Fatalf("Pull = (%d, %v), want (1, true)", v, ok)
	}
	v, ok = r.Pull(time.Second)
	if !ok || v != 2 {
		t.Fatalf("Pull = (%d, %v), want (2, true)", v, ok)
	}
}

func TestNewestWins(t *testing.T) {
	r := New[int](1)
	r.Put(1)
	r.Put(2)
	r.Put(3)

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	v, ok := r.Pull(time.Second)
	if !ok || v != 3 {
		t.Fatalf("Pull = (%d, %v), want (3, true): relay must keep the newest item", v, ok)
	}
	if r.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", r.Dropped())
	}
}

func TestPutNeverBlocks(t *testing.T) {
	r := New[int](1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10_000; i++ {
			r.Put(i)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Put blocked on a full relay")
	}
	v, ok := r.Pull(time.Second)
	if !ok || v != 9999 {
		t.Fatalf("Pull = (%d, %v), want (9999, true)", v, ok)
	}
}

func TestPullTimeout(t *testing.T) {
	r := New[int](1)
	start := time.Now()
	_, ok := r.Pull(20 * time.Millisecond)
	if ok {
		t.Fatal("Pull on empty relay returned ok")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Pull returned after %v, want >= 20ms", elapsed)
	}
}

func TestCloseIdempotent(t *testing.T) {
	r := New[int](2)
	r.Put(7)
	r.Close()
	r.Close() // must not panic

	if ok := r.Put(8); ok {
		t.Error("Put on closed relay returned true")
	}

	// Items queued before Close remain pullable.
	v, ok := r.Pull(time.Second)
	if !ok || v != 7 {
		t.Fatalf("Pull after Close = (%d, %v), want (7, true)", v, ok)
	}
	if _, ok := r.Pull(10 * time.Millisecond); ok {
		t.Error("Pull on drained closed relay returned ok")
	}
}

func TestConcurrentProducers(t *testing.T) {
	r := New[int](2)
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Put(base + i)
			}
		}(p * 1000)
	}

	stop := make(chan struct{})
	go func() {
		wg.Wait()
		close(stop)
	}()

	pulled := 0
	for {
		select {
		case <-stop:
			for {
				if _, ok := r.TryPull(); !ok {
					if pulled == 0 {
						t.Error("consumer saw no items")
					}
					return
				}
				pulled++
			}
		default:
			if _, ok := r.TryPull(); ok {
				pulled++
			}
		}
	}
}
