package graph

import "math"

// Waveform selects an oscillator shape.
type Waveform int

const (
	Sine Waveform = iota
	Square
)

// Oscillator is a fixed-frequency phase-accumulator oscillator.
// It starts running when created and stops for good when released.
type Oscillator struct {
	handle
	wave  Waveform
	freq  float64
	phase float64 // [0, 1)
	inc   float64
}

// NewOscillator creates a running oscillator at hz.
func (c *Context) NewOscillator(wave Waveform, hz float64) *Oscillator {
	o := &Oscillator{wave: wave, freq: hz, inc: hz / c.sampleRate}
	o.register(c)
	return o
}

// Frequency returns the oscillator frequency in Hz.
func (o *Oscillator) Frequency() float64 { return o.freq }

// Next returns the next sample in [-1, 1]. Released oscillators are silent.
func (o *Oscillator) Next() float64 {
	if o.Released() {
		return 0
	}
	var v float64
	switch o.wave {
	case Square:
		if o.phase < 0.5 {
			v = 1
		} else {
			v = -1
		}
	default:
		v = math.Sin(2 * math.Pi * o.phase)
	}
	o.phase += o.inc
	for o.phase >= 1 {
		o.phase--
	}
	return v
}
