// Package clock abstracts wall-clock time and one-shot timers so playback
// scheduling can be driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable one-shot timer.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

// Clock tells time and schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Manual is a clock that only moves when told to. Timer callbacks run on
// the goroutine that calls Advance or Jump, without internal locks held.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	m        *Manual
	deadline time.Time
	seq      int
	f        func()
}

// NewManual creates a manual clock reading start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, deadline: m.now.Add(d), seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for i, other := range t.m.timers {
		if other == t {
			t.m.timers = append(t.m.timers[:i], t.m.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns the number of timers waiting to fire.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves time forward by d, firing due timers in deadline order.
// Each callback observes Now() equal to its own deadline, and timers
// scheduled by callbacks fire too if they fall inside the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		t := m.popDue(target)
		if t == nil {
			break
		}
		t.f()
	}

	m.mu.Lock()
	if target.After(m.now) {
		m.now = target
	}
	m.mu.Unlock()
}

// Jump moves time forward by d at once, then fires every timer that became
// due exactly once, the way a suspended process catches up on wake.
func (m *Manual) Jump(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	target := m.now
	var due []*manualTimer
	kept := m.timers[:0]
	for _, t := range m.timers {
		if !t.deadline.After(target) {
			due = append(due, t)
		} else {
			kept = append(kept, t)
		}
	}
	m.timers = kept
	m.mu.Unlock()

	sortTimers(due)
	for _, t := range due {
		t.f()
	}
}

func (m *Manual) popDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.timers) == 0 {
		return nil
	}
	sortTimers(m.timers)
	t := m.timers[0]
	if t.deadline.After(target) {
		return nil
	}
	m.timers = m.timers[1:]
	if t.deadline.After(m.now) {
		m.now = t.deadline
	}
	return t
}

func sortTimers(ts []*manualTimer) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].deadline.Equal(ts[j].deadline) {
			return ts[i].seq < ts[j].seq
		}
		return ts[i].deadline.Before(ts[j].deadline)
	})
}
