package debounce

import (
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestDebouncer_LastValueWins(t *testing.T) {
	d := NewDebouncer[string](300 * time.Millisecond)

	inputs := []string{"c", "ca", "cat", "cats"}
	for i, in := range inputs {
		d.Push(in, t0.Add(time.Duration(i)*50*time.Millisecond))
		if _, ok := d.Ready(t0.Add(time.Duration(i)*50*time.Millisecond + time.Millisecond)); ok {
			t.Fatalf("value emitted inside the window after %q", in)
		}
	}

	last := t0.Add(150 * time.Millisecond)
	if _, ok := d.Ready(last.Add(299 * time.Millisecond)); ok {
		t.Fatal("emitted before the window expired")
	}
	v, ok := d.Ready(last.Add(300 * time.Millisecond))
	if !ok || v != "cats" {
		t.Fatalf("Ready() = %q, %v; want cats, true", v, ok)
	}

	// Consumed: exactly one emission
	if _, ok := d.Ready(last.Add(time.Hour)); ok {
		t.Error("value emitted twice")
	}
}

func TestDebouncer_UpdatesWithinWindowYieldOneValue(t *testing.T) {
	for _, n := range []int{1, 2, 5, 20} {
		d := NewDebouncer[int](300 * time.Millisecond)
		emitted := 0
		var got int
		for i := 0; i < n; i++ {
			d.Push(i, t0.Add(time.Duration(i)*time.Millisecond))
			if v, ok := d.Ready(t0.Add(time.Duration(i) * time.Millisecond)); ok {
				emitted++
				got = v
			}
		}
		for ms := 0; ms < 1000; ms += 10 {
			if v, ok := d.Ready(t0.Add(time.Duration(n)*time.Millisecond + time.Duration(ms)*time.Millisecond)); ok {
				emitted++
				got = v
			}
		}
		if emitted != 1 || got != n-1 {
			t.Errorf("n=%d: emitted %d values, last %d", n, emitted, got)
		}
	}
}

func TestDebouncer_ZeroWindow(t *testing.T) {
	d := NewDebouncer[string](-time.Second)
	d.Push("x", t0)
	if v, ok := d.Ready(t0); !ok || v != "x" {
		t.Errorf("zero window should be ready immediately, got %q %v", v, ok)
	}
}

func TestDebouncer_FlushAndCancel(t *testing.T) {
	d := NewDebouncer[string](time.Second)
	if _, ok := d.Flush(); ok {
		t.Error("flush of empty debouncer should report nothing")
	}

	d.Push("a", t0)
	if deadline, ok := d.Pending(); !ok || !deadline.Equal(t0.Add(time.Second)) {
		t.Errorf("Pending() = %v %v", deadline, ok)
	}
	if v, ok := d.Flush(); !ok || v != "a" {
		t.Errorf("Flush() = %q %v", v, ok)
	}

	d.Push("b", t0)
	d.Cancel()
	if _, ok := d.Ready(t0.Add(time.Hour)); ok {
		t.Error("cancelled value was emitted")
	}
}

type recorder struct {
	mu   sync.Mutex
	vals []string
	ch   chan string
}

func newRecorder() *recorder { return &recorder{ch: make(chan string, 16)} }

func (r *recorder) emit(v string) {
	r.mu.Lock()
	r.vals = append(r.vals, v)
	r.mu.Unlock()
	r.ch <- v
}

func TestTimer_EmitsSettledValue(t *testing.T) {
	r := newRecorder()
	tm := NewTimer(30*time.Millisecond, r.emit)
	defer tm.Stop()

	tm.Push("c")
	tm.Push("ca")
	tm.Push("cat")

	select {
	case v := <-r.ch:
		if v != "cat" {
			t.Errorf("emitted %q, want cat", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no emission")
	}

	select {
	case v := <-r.ch:
		t.Errorf("unexpected second emission %q", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimer_ZeroWindowIsSynchronous(t *testing.T) {
	r := newRecorder()
	tm := NewTimer(0, r.emit)

	tm.Push("now")
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.vals) != 1 || r.vals[0] != "now" {
		t.Errorf("expected synchronous emit, got %v", r.vals)
	}
}

func TestTimer_FlushAndStop(t *testing.T) {
	r := newRecorder()
	tm := NewTimer(time.Hour, r.emit)

	tm.Push("x")
	if !tm.Pending() {
		t.Error("expected pending value")
	}
	if !tm.Flush() {
		t.Error("Flush should emit the pending value")
	}
	if v := <-r.ch; v != "x" {
		t.Errorf("flushed %q", v)
	}

	tm.Push("y")
	tm.Stop()
	tm.Push("z")
	if tm.Pending() || tm.Flush() {
		t.Error("stopped timer must not hold or emit values")
	}
}

func TestTimer_CancelKeepsTimerUsable(t *testing.T) {
	r := newRecorder()
	tm := NewTimer(time.Hour, r.emit)
	defer tm.Stop()

	tm.Push("dropped")
	tm.Cancel()
	if tm.Pending() || tm.Flush() {
		t.Error("cancelled value must not be emitted")
	}

	tm.Push("kept")
	if !tm.Flush() {
		t.Fatal("timer should accept values after Cancel")
	}
	if v := <-r.ch; v != "kept" {
		t.Errorf("flushed %q, want kept", v)
	}
}
