// Package timer holds the single pending timeout the engine may request.
//
// It never calls back on its own. The event loop asks how long it may block
// (Remaining) and whether the timeout is due (Fire), so an expiry re-enters the
// engine through the same dispatch path as socket readiness.
package timer

import "time"

type Timer struct {
	now      func() time.Time
	deadline time.Time
	armed    bool
}

// New returns a disarmed timer. now defaults to time.Now.
func New(now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{now: now}
}

// Arm replaces any pending timeout with one firing after ms milliseconds.
// A negative ms cancels; zero is treated as one millisecond so the expiry
// still goes through the event loop.
func (t *Timer) Arm(ms int) {
	if ms < 0 {
		t.armed = false
		return
	}
	if ms == 0 {
		ms = 1
	}
	t.deadline = t.now().Add(time.Duration(ms) * time.Millisecond)
	t.armed = true
}

func (t *Timer) Pending() bool { return t.armed }

// Remaining returns milliseconds until the timeout is due, rounded up, and
// false when nothing is armed.
func (t *Timer) Remaining() (int, bool) {
	if !t.armed {
		return 0, false
	}
	d := t.deadline.Sub(t.now())
	if d <= 0 {
		return 0, true
	}
	return int((d + time.Millisecond - 1) / time.Millisecond), true
}

// Fire disarms and reports true if the timeout is due.
func (t *Timer) Fire() bool {
	if !t.armed || t.now().Before(t.deadline) {
		return false
	}
	t.armed = false
	return true
}
