package graph

import "math"

// FilterType selects a biquad response.
type FilterType int

const (
	Lowpass FilterType = iota
	Highpass
	Bandpass
)

// Biquad is a second-order IIR filter (RBJ cookbook coefficients).
type Biquad struct {
	handle
	typ        FilterType
	sampleRate float64
	freq, q    float64

	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

// NewBiquad creates a filter with cutoff/center hz and quality q.
func (c *Context) NewBiquad(typ FilterType, hz, q float64) *Biquad {
	f := &Biquad{typ: typ, sampleRate: c.sampleRate, q: q}
	f.register(c)
	f.SetFrequency(hz)
	return f
}

// Frequency returns the current cutoff/center frequency.
func (f *Biquad) Frequency() float64 { return f.freq }

// SetFrequency recomputes coefficients for hz. Filter state is preserved so
// sweeping does not click. Call it only from the goroutine that runs Process.
func (f *Biquad) SetFrequency(hz float64) {
	nyquist := f.sampleRate / 2
	if hz < 1 {
		hz = 1
	} else if hz > nyquist*0.99 {
		hz = nyquist * 0.99
	}
	f.freq = hz

	w0 := 2 * math.Pi * hz / f.sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * f.q)
	a0 := 1 + alpha

	var b0, b1, b2 float64
	switch f.typ {
	case Highpass:
		b0 = (1 + cosw) / 2
		b1 = -(1 + cosw)
		b2 = (1 + cosw) / 2
	case Bandpass:
		b0 = alpha
		b1 = 0
		b2 = -alpha
	default:
		b0 = (1 - cosw) / 2
		b1 = 1 - cosw
		b2 = (1 - cosw) / 2
	}
	f.b0, f.b1, f.b2 = b0/a0, b1/a0, b2/a0
	f.a1, f.a2 = -2*cosw/a0, (1-alpha)/a0
}

// Process filters one sample.
func (f *Biquad) Process(x float64) float64 {
	if f.Released() {
		return 0
	}
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}
