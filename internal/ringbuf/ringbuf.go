// Package ringbuf provides a bounded trailing window over price observations.
// Once full, every Push overwrites the oldest entry, so memory stays fixed no
// matter how long a strategy runs.
//
// A Window is not safe for concurrent use: the engine gives each strategy its
// own window and only ever touches it from that instrument's worker goroutine.
package ringbuf

// DefaultCapacity is the recommended history depth for condition evaluation.
const DefaultCapacity = 100

// Window is a fixed-capacity FIFO that drops the oldest element on overflow.
type Window[T any] struct {
	buf   []T
	head  int // next write position
	count int

	// Evicted counts entries overwritten because the window was full.
	evicted uint64
}

// New creates a window holding at most capacity entries. Minimum capacity is 1.
func New[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry if the window is full.
func (w *Window[T]) Push(v T) {
	if w.count == len(w.buf) {
		w.evicted++
	} else {
		w.count++
	}
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
}

// Slice returns a copy of the window contents, oldest first.
func (w *Window[T]) Slice() []T {
	out := make([]T, w.count)
	start := (w.head - w.count + len(w.buf)) % len(w.buf)
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}

// Last returns the newest entry.
func (w *Window[T]) Last() (T, bool) {
	var zero T
	if w.count == 0 {
		return zero, false
	}
	return w.buf[(w.head-1+len(w.buf))%len(w.buf)], true
}

// Len returns the number of entries held.
func (w *Window[T]) Len() int { return w.count }

// Cap returns the window capacity.
func (w *Window[T]) Cap() int { return len(w.buf) }

// Evicted returns the number of entries dropped to make room.
func (w *Window[T]) Evicted() uint64 { return w.evicted }

// Reset empties the window without releasing its storage.
func (w *Window[T]) Reset() {
	var zero T
	for i := range w.buf {
		w.buf[i] = zero
	}
	w.head = 0
	w.count = 0
}
