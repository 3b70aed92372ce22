package synth

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/tonal/internal/audio"
	"github.com/satindergrewal/tonal/internal/graph"
)

// EnvelopeTime is the click-free fade-in applied to every new source.
const EnvelopeTime = 10 * time.Millisecond

// Procedural ambience tuning.
const (
	RainCutoffHz    = 1000.0
	RainQ           = 0.7
	SeaCenterHz     = 400.0
	SeaSweepDepthHz = 250.0
	SeaSweepHz      = 0.15
	SeaQ            = 0.8

	seaRetuneEvery = 64 // samples between band-pass coefficient updates
)

// Source is one built oscillator/noise sub-graph. It is immutable once
// built: changing mode or frequency means building a new Source.
type Source struct {
	freq   Frequency
	stereo bool
	arena  graph.Arena
	envL   *graph.Param
	envR   *graph.Param
	next   func() (float64, float64)

	torn atomic.Bool
}

// Build constructs the sub-graph for f. All oscillators are running when
// Build returns; the output fades in over EnvelopeTime.
func Build(ctx *graph.Context, f Frequency) (*Source, error) {
	if ctx == nil {
		return nil, audio.ErrUnsupportedPlatform
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	s := &Source{freq: f}
	s.envL = graph.Track(&s.arena, ctx.NewParam(0))
	s.envR = s.envL

	switch f.Mode {
	case Pure:
		osc := graph.Track(&s.arena, ctx.NewOscillator(graph.Sine, f.Base))
		s.next = mono(osc.Next)
	case Binaural:
		s.buildPair(ctx, f.Base, f.Base+f.Beat)
	case SplitBinaural:
		s.buildPair(ctx, *f.Left, *f.Right)
	case Isochronic:
		s.buildIsochronic(ctx, f)
	case Ambience:
		s.buildAmbience(ctx, f.Ambience)
	default:
		s.arena.Release()
		return nil, fmt.Errorf("%w: unknown mode %q", audio.ErrInvalidParams, f.Mode)
	}

	s.envL.RampTo(1, EnvelopeTime)
	if s.envR != s.envL {
		s.envR.RampTo(1, EnvelopeTime)
	}
	return s, nil
}

func mono(gen func() float64) func() (float64, float64) {
	return func() (float64, float64) {
		v := gen()
		return v, v
	}
}

// buildPair routes two oscillators to discrete left/right channels, each
// with its own envelope.
func (s *Source) buildPair(ctx *graph.Context, leftHz, rightHz float64) {
	left := graph.Track(&s.arena, ctx.NewOscillator(graph.Sine, leftHz))
	right := graph.Track(&s.arena, ctx.NewOscillator(graph.Sine, rightHz))
	s.envR = graph.Track(&s.arena, ctx.NewParam(0))
	s.stereo = true
	s.next = func() (float64, float64) {
		return left.Next(), right.Next()
	}
}

// buildIsochronic gates an audible carrier with a square LFO offset by 0.5,
// so the modulation swings 0..1 and the tone pulses fully on and off.
func (s *Source) buildIsochronic(ctx *graph.Context, f Frequency) {
	carrier := graph.Track(&s.arena, ctx.NewOscillator(graph.Sine, f.Base))
	lfo := graph.Track(&s.arena, ctx.NewOscillator(graph.Square, f.Beat))
	s.next = mono(func() float64 {
		return carrier.Next() * (0.5 + 0.5*lfo.Next())
	})
}

func (s *Source) buildAmbience(ctx *graph.Context, kind AmbienceKind) {
	seed := rand.Uint64()
	switch kind {
	case Pink:
		n := graph.Track(&s.arena, ctx.NewNoise(graph.PinkNoise, seed))
		s.next = mono(n.Next)
	case Brown:
		n := graph.Track(&s.arena, ctx.NewNoise(graph.BrownNoise, seed))
		s.next = mono(n.Next)
	case Rain:
		n := graph.Track(&s.arena, ctx.NewNoise(graph.WhiteNoise, seed))
		hp := graph.Track(&s.arena, ctx.NewBiquad(graph.Highpass, RainCutoffHz, RainQ))
		s.next = mono(func() float64 {
			return hp.Process(n.Next())
		})
	case Sea:
		n := graph.Track(&s.arena, ctx.NewNoise(graph.PinkNoise, seed))
		bp := graph.Track(&s.arena, ctx.NewBiquad(graph.Bandpass, SeaCenterHz, SeaQ))
		swell := graph.Track(&s.arena, ctx.NewOscillator(graph.Sine, SeaSweepHz))
		count := 0
		s.next = mono(func() float64 {
			sweep := swell.Next()
			if count%seaRetuneEvery == 0 {
				bp.SetFrequency(SeaCenterHz + SeaSweepDepthHz*sweep)
			}
			count++
			// Band-passing removes most of the energy; bring it back up.
			return 3 * bp.Process(n.Next())
		})
	default:
		n := graph.Track(&s.arena, ctx.NewNoise(graph.WhiteNoise, seed))
		s.next = mono(n.Next)
	}
}

// Frequency returns the record the source was built from.
func (s *Source) Frequency() Frequency { return s.freq }

// Mode returns the source's synthesis mode.
func (s *Source) Mode() Mode { return s.freq.Mode }

// Stereo reports whether the source has discrete left/right content.
func (s *Source) Stereo() bool { return s.stereo }

// Nodes returns how many graph nodes the source still holds.
func (s *Source) Nodes() int { return s.arena.Len() }

// Next renders one frame at time t. Mono sources return the same value on
// both sides. A torn-down source is silent.
func (s *Source) Next(t float64) (float64, float64) {
	if s.torn.Load() {
		return 0, 0
	}
	l, r := s.next()
	return l * s.envL.ValueAt(t), r * s.envR.ValueAt(t)
}

// Teardown stops every oscillator and releases every node. It is safe to
// call more than once.
func (s *Source) Teardown() {
	if !s.torn.CompareAndSwap(false, true) {
		return
	}
	s.arena.Release()
}
