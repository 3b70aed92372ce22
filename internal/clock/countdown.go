package clock

import (
	"sync"
	"time"
)

// Countdown is the optional global auto-stop. It stores an absolute end
// time and recomputes the remaining time from it on every tick, so a
// suspended process wakes up with the right answer instead of drifting.
type Countdown struct {
	clk      Clock
	onTick   func(remaining time.Duration)
	onExpire func()

	mu     sync.Mutex
	end    time.Time
	active bool
	timer  Timer
	gen    int
}

// NewCountdown creates an idle countdown. onTick receives the remaining
// time once per second; onExpire runs when it reaches zero. Either may be nil.
func NewCountdown(clk Clock, onTick func(time.Duration), onExpire func()) *Countdown {
	return &Countdown{clk: clk, onTick: onTick, onExpire: onExpire}
}

// Start arms the countdown to expire d from now, replacing any previous one.
func (c *Countdown) Start(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.end = c.clk.Now().Add(d)
	c.active = true
	c.scheduleLocked()
}

// Stop disarms the countdown.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.active = false
}

// Remaining returns max(0, end-now) and whether the countdown is armed.
func (c *Countdown) Remaining() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return 0, false
	}
	return c.remainingLocked(), true
}

// End returns the absolute expiry time.
func (c *Countdown) End() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.end, c.active
}

func (c *Countdown) remainingLocked() time.Duration {
	return max(0, c.end.Sub(c.clk.Now()))
}

func (c *Countdown) cancelLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Countdown) scheduleLocked() {
	gen := c.gen
	next := min(time.Second, c.remainingLocked())
	c.timer = c.clk.AfterFunc(next, func() { c.tick(gen) })
}

func (c *Countdown) tick(gen int) {
	c.mu.Lock()
	if gen != c.gen || !c.active {
		c.mu.Unlock()
		return
	}
	remaining := c.remainingLocked()
	expired := remaining == 0
	if expired {
		c.active = false
		c.timer = nil
	} else {
		c.scheduleLocked()
	}
	onTick, onExpire := c.onTick, c.onExpire
	c.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if expired && onExpire != nil {
		onExpire()
	}
}
