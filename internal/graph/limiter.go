package graph

import (
	"math"
	"sync/atomic"
	"time"
)

// LimiterConfig tunes the shared dynamics limiter.
type LimiterConfig struct {
	ThresholdDB float64
	Ratio       float64
	Attack      time.Duration
	Release     time.Duration
}

// DefaultLimiter clamps fast with little audible pumping.
func DefaultLimiter() LimiterConfig {
	return LimiterConfig{
		ThresholdDB: -6,
		Ratio:       20,
		Attack:      3 * time.Millisecond,
		Release:     100 * time.Millisecond,
	}
}

// Limiter is a stereo-linked feed-forward peak compressor followed by a
// hard ceiling, so its output never leaves [-1, 1].
type Limiter struct {
	handle
	threshold   float64 // dB
	ratio       float64
	attackCoef  float64
	releaseCoef float64
	env         float64

	reduction atomic.Uint64 // float64 bits, dB of gain reduction
}

// NewLimiter creates a limiter for this context's sample rate.
func (c *Context) NewLimiter(cfg LimiterConfig) *Limiter {
	l := &Limiter{
		threshold:   cfg.ThresholdDB,
		ratio:       math.Max(cfg.Ratio, 1),
		attackCoef:  smoothingCoef(cfg.Attack, c.sampleRate),
		releaseCoef: smoothingCoef(cfg.Release, c.sampleRate),
	}
	l.register(c)
	return l
}

func smoothingCoef(d time.Duration, sampleRate float64) float64 {
	if d <= 0 {
		return 0
	}
	return math.Exp(-1 / (d.Seconds() * sampleRate))
}

// Process limits one stereo frame.
func (l *Limiter) Process(left, right float64) (float64, float64) {
	peak := math.Max(math.Abs(left), math.Abs(right))
	if peak > l.env {
		l.env = l.attackCoef*l.env + (1-l.attackCoef)*peak
	} else {
		l.env = l.releaseCoef*l.env + (1-l.releaseCoef)*peak
	}

	gain := 1.0
	reduction := 0.0
	if l.env > 0 {
		envDB := 20 * math.Log10(l.env)
		if envDB > l.threshold {
			outDB := l.threshold + (envDB-l.threshold)/l.ratio
			reduction = envDB - outDB
			gain = math.Pow(10, -reduction/20)
		}
	}
	l.reduction.Store(math.Float64bits(reduction))

	return hardClip(left * gain), hardClip(right * gain)
}

// Reduction returns the most recent gain reduction in dB.
func (l *Limiter) Reduction() float64 {
	return math.Float64frombits(l.reduction.Load())
}

func hardClip(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}
