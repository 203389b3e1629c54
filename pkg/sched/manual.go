package sched

import "time"

// Manual is a scheduler driven by an explicit clock, for tests. Timers fire
// only from Advance or Step, on the caller's goroutine.
type Manual struct {
	now    time.Time
	timers timerQueue
}

// NewManual creates a manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, timers: newTimerQueue()}
}

func (m *Manual) Now() time.Time {
	return m.now
}

func (m *Manual) After(d time.Duration, fn func()) Handle {
	return m.timers.add(m.now.Add(d), fn)
}

func (m *Manual) Cancel(h Handle) {
	m.timers.cancel(h)
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	return m.timers.Len()
}

// Step moves the clock to the next deadline and fires that one timer.
// It returns false when nothing is armed.
func (m *Manual) Step() bool {
	next, ok := m.timers.nextDeadline()
	if !ok {
		return false
	}
	if next.After(m.now) {
		m.now = next
	}
	t := m.timers.popDue(m.now)
	t.fn()
	return true
}

// Advance moves the clock forward by d, firing every timer that falls due in
// deadline order, including timers armed by those callbacks.
func (m *Manual) Advance(d time.Duration) {
	end := m.now.Add(d)
	for {
		next, ok := m.timers.nextDeadline()
		if !ok || next.After(end) {
			break
		}
		m.Step()
	}
	m.now = end
}
