// Package debounce coalesces rapidly changing input so that only the value
// present when the window expires is emitted.
package debounce

import (
	"sync"
	"time"
)

// Debouncer is the clock-free core: callers pass the current time explicitly.
// The last pushed value wins; intermediate values are never emitted.
// Not safe for concurrent use; Timer adds locking.
type Debouncer[T any] struct {
	window   time.Duration
	pending  T
	has      bool
	deadline time.Time
}

// NewDebouncer creates a debouncer with the given window.
// A non-positive window makes every pushed value ready immediately.
func NewDebouncer[T any](window time.Duration) *Debouncer[T] {
	if window < 0 {
		window = 0
	}
	return &Debouncer[T]{window: window}
}

// Push records v as the pending value and restarts the window at now.
func (d *Debouncer[T]) Push(v T, now time.Time) {
	d.pending = v
	d.has = true
	d.deadline = now.Add(d.window)
}

// Ready returns the pending value once the window has expired at now.
// The value is consumed.
func (d *Debouncer[T]) Ready(now time.Time) (T, bool) {
	var zero T
	if !d.has || now.Before(d.deadline) {
		return zero, false
	}
	v := d.pending
	d.pending = zero
	d.has = false
	return v, true
}

// Flush consumes the pending value regardless of the window.
func (d *Debouncer[T]) Flush() (T, bool) {
	var zero T
	if !d.has {
		return zero, false
	}
	v := d.pending
	d.pending = zero
	d.has = false
	return v, true
}

// Cancel drops the pending value.
func (d *Debouncer[T]) Cancel() {
	var zero T
	d.pending = zero
	d.has = false
}

// Pending reports whether a value is waiting and when it becomes ready.
func (d *Debouncer[T]) Pending() (time.Time, bool) {
	return d.deadline, d.has
}

// Window returns the configured window.
func (d *Debouncer[T]) Window() time.Duration { return d.window }

// Timer drives a Debouncer with real time and calls emit from its own
// goroutine when a window expires. With a zero window, Push emits
// synchronously.
type Timer[T any] struct {
	mu     sync.Mutex
	d      *Debouncer[T]
	timer  *time.Timer
	emit   func(T)
	now    func() time.Time
	closed bool
}

// NewTimer creates a running debouncer that calls emit with each settled value.
func NewTimer[T any](window time.Duration, emit func(T)) *Timer[T] {
	return &Timer[T]{
		d:    NewDebouncer[T](window),
		emit: emit,
		now:  time.Now,
	}
}

// Push restarts the window with v.
func (t *Timer[T]) Push(v T) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.d.Push(v, t.now())

	if t.d.Window() == 0 {
		v, _ := t.d.Flush()
		t.mu.Unlock()
		t.emit(v)
		return
	}

	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.d.Window(), t.fire)
	t.mu.Unlock()
}

func (t *Timer[T]) fire() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	v, ok := t.d.Ready(t.now())
	if !ok {
		// Superseded by a later Push whose own timer will fire
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.emit(v)
}

// Flush emits the pending value now, if any. Returns whether one was emitted.
func (t *Timer[T]) Flush() bool {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	v, ok := t.d.Flush()
	t.mu.Unlock()
	if ok {
		t.emit(v)
	}
	return ok
}

// Pending reports whether a value is waiting for its window to expire.
func (t *Timer[T]) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.d.Pending()
	return ok
}

// Stop drops any pending value and disables further emits.
func (t *Timer[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.d.Cancel()
}

// Cancel drops any pending value without emitting it. The timer stays usable.
func (t *Timer[T]) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.d.Cancel()
}
