// Package relay provides a fixed-capacity drop-oldest queue used to decouple
// a fast producer from a slow consumer. A full relay never blocks the
// producer: the oldest queued item is discarded and the new item takes its
// place, so the consumer always sees the most recent data.
package relay

import (
	"sync"
	"sync/atomic"
	"time"
)

// Relay is a bounded drop-oldest queue. The zero value is not usable; create
// instances with New.
type Relay[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool

	dropped atomic.Uint64
	pushed  atomic.Uint64
}

// New creates a Relay with the given capacity. Capacity must be at least 1;
// smaller values are clamped.
func New[T any](capacity int) *Relay[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Relay[T]{ch: make(chan T, capacity)}
}

// Put enqueues v without ever blocking. If the relay is full the oldest
// queued item is dropped so that v fits ("newest wins"). Put on a closed
// relay is a no-op and returns false.
func (r *Relay[T]) Put(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	for {
		select {
		case r.ch <- v:
			r.pushed.Add(1)
			return true
		default:
		}
		// Full: evict the oldest occupant and retry. The mutex excludes
		// concurrent producers, so the retry is guaranteed to succeed
		// unless a consumer raced us, in which case the select above
		// succeeds on the next pass.
		select {
		case <-r.ch:
			r.dropped.Add(1)
		default:
		}
	}
}

// Pull dequeues the next item, waiting up to timeout. The second return is
// false on timeout or when the relay has been closed and drained.
func (r *Relay[T]) Pull(timeout time.Duration) (T, bool) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v, ok := <-r.ch:
		if !ok {
			return zero, false
		}
		return v, true
	case <-timer.C:
		return zero, false
	}
}

// TryPull dequeues the next item without waiting.
func (r *Relay[T]) TryPull() (T, bool) {
	var zero T
	select {
	case v, ok := <-r.ch:
		if !ok {
			return zero, false
		}
		return v, true
	default:
		return zero, false
	}
}

// Close marks the relay closed. Pending items remain pullable; subsequent
// Put calls are dropped. Close is idempotent.
func (r *Relay[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.ch)
}

// Closed reports whether Close has been called.
func (r *Relay[T]) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Len reports the number of queued items.
func (r *Relay[T]) Len() int { return len(r.ch) }

// Dropped reports how many items have been evicted to make room for newer ones.
func (r *Relay[T]) Dropped() uint64 { return r.dropped.Load() }

// Pushed reports how many items have been accepted.
func (r *Relay[T]) Pushed() uint64 { return r.pushed.Load() }
