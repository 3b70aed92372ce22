package graph

import (
	"math"
	"sync/atomic"
	"time"
)

type rampKind int

const (
	holdValue rampKind = iota
	linearRamp
	targetRamp
)

// automation is an immutable segment; a Param swaps whole segments so the
// render path never observes a half-written one.
type automation struct {
	kind       rampKind
	from, to   float64
	start, end float64 // seconds
	tau        float64 // seconds, targetRamp only
}

func (a *automation) valueAt(t float64) float64 {
	switch a.kind {
	case linearRamp:
		if t >= a.end {
			return a.to
		}
		if t <= a.start {
			return a.from
		}
		return a.from + (a.to-a.from)*(t-a.start)/(a.end-a.start)
	case targetRamp:
		if t <= a.start {
			return a.from
		}
		return a.to + (a.from-a.to)*math.Exp(-(t-a.start)/a.tau)
	default:
		return a.to
	}
}

// Param is an automatable value, the equivalent of a gain or pan control.
// All changes are expressed as automation starting at the context's current
// time; a new change cancels whatever was in flight first.
type Param struct {
	handle
	auto atomic.Pointer[automation]
}

// NewParam creates a parameter holding v.
func (c *Context) NewParam(v float64) *Param {
	p := &Param{}
	p.register(c)
	p.auto.Store(&automation{kind: holdValue, from: v, to: v})
	return p
}

// Value returns the parameter value at the current render time.
func (p *Param) Value() float64 {
	return p.ValueAt(p.ctx.CurrentTime())
}

// ValueAt returns the parameter value at time t (seconds).
func (p *Param) ValueAt(t float64) float64 {
	return p.auto.Load().valueAt(t)
}

// Target returns the value the current automation converges to.
func (p *Param) Target() float64 {
	return p.auto.Load().to
}

// Cancel stops any scheduled automation and holds the current value.
func (p *Param) Cancel() float64 {
	v := p.Value()
	p.auto.Store(&automation{kind: holdValue, from: v, to: v})
	return v
}

// Set jumps to v. Only use it while the signal it controls is silent.
func (p *Param) Set(v float64) {
	p.auto.Store(&automation{kind: holdValue, from: v, to: v})
}

// RampTo moves linearly from the current value to v over d.
func (p *Param) RampTo(v float64, d time.Duration) {
	from := p.Cancel()
	if d <= 0 {
		p.Set(v)
		return
	}
	now := p.ctx.CurrentTime()
	p.auto.Store(&automation{
		kind:  linearRamp,
		from:  from,
		to:    v,
		start: now,
		end:   now + d.Seconds(),
	})
}

// SettleTo approaches v exponentially with time constant tau.
func (p *Param) SettleTo(v float64, tau time.Duration) {
	from := p.Cancel()
	if tau <= 0 {
		p.Set(v)
		return
	}
	p.auto.Store(&automation{
		kind:  targetRamp,
		from:  from,
		to:    v,
		start: p.ctx.CurrentTime(),
		tau:   tau.Seconds(),
	})
}
