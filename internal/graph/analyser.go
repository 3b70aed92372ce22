package graph

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	DefaultFFTSize = 2048

	analyserSmoothing = 0.8
	analyserMinDB     = -100
	analyserMaxDB     = -30
)

// Analyser is the analysis tap at the end of the mix. It keeps the most
// recent FFTSize mono samples for visualization.
type Analyser struct {
	handle
	mu       sync.Mutex
	ring     []float32
	pos      int
	smoothed []float64
}

// NewAnalyser creates a tap holding fftSize samples. fftSize should be a power of two.
func (c *Context) NewAnalyser(fftSize int) *Analyser {
	if fftSize <= 0 {
		fftSize = DefaultFFTSize
	}
	a := &Analyser{
		ring:     make([]float32, fftSize),
		smoothed: make([]float64, fftSize/2),
	}
	a.register(c)
	return a
}

// FFTSize returns the analysis window length.
func (a *Analyser) FFTSize() int { return len(a.ring) }

// FrequencyBinCount returns the number of frequency bins, FFTSize/2.
func (a *Analyser) FrequencyBinCount() int { return len(a.smoothed) }

// Write records the mono downmix of an interleaved stereo block. It never
// waits: if a reader holds the buffer the block is skipped.
func (a *Analyser) Write(stereo []float32) {
	if a.Released() || !a.mu.TryLock() {
		return
	}
	defer a.mu.Unlock()
	for i := 0; i+1 < len(stereo); i += 2 {
		a.ring[a.pos] = (stereo[i] + stereo[i+1]) / 2
		a.pos++
		if a.pos == len(a.ring) {
			a.pos = 0
		}
	}
}

// snapshot returns the ring oldest-first. Must be called with mu held.
func (a *Analyser) snapshot() []float64 {
	out := make([]float64, len(a.ring))
	n := copy32(out, a.ring[a.pos:])
	copy32(out[n:], a.ring[:a.pos])
	return out
}

func copy32(dst []float64, src []float32) int {
	for i, v := range src {
		dst[i] = float64(v)
	}
	return len(src)
}

// TimeDomain copies the most recent waveform into dst and returns the count copied.
func (a *Analyser) TimeDomain(dst []float32) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	samples := a.snapshot()
	if len(dst) < len(samples) {
		samples = samples[len(samples)-len(dst):]
	}
	for i, v := range samples {
		dst[i] = float32(v)
	}
	return len(samples)
}

// RMS returns the root-mean-square level of the current window.
func (a *Analyser) RMS() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var sum float64
	for _, v := range a.ring {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(a.ring)))
}

// ByteFrequency fills dst with smoothed magnitudes scaled from
// [-100 dB, -30 dB] to [0, 255] and returns the number of bins written.
func (a *Analyser) ByteFrequency(dst []uint8) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	samples := a.snapshot()
	window.Apply(samples, window.Blackman)
	spectrum := fft.FFTReal(samples)

	n := len(a.smoothed)
	if len(dst) < n {
		n = len(dst)
	}
	size := float64(len(samples))
	for k := range a.smoothed {
		mag := cmplx.Abs(spectrum[k]) / size
		a.smoothed[k] = analyserSmoothing*a.smoothed[k] + (1-analyserSmoothing)*mag
		if k >= n {
			continue
		}
		db := analyserMinDB - 1.0
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		scaled := 255 * (db - analyserMinDB) / (analyserMaxDB - analyserMinDB)
		dst[k] = uint8(math.Max(0, math.Min(255, scaled)))
	}
	return n
}
