package synth

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/tonal/internal/audio"
	"github.com/satindergrewal/tonal/internal/graph"
)

const rate = 48000

func hz(v float64) *float64 { return &v }

func allFrequencies() []Frequency {
	return []Frequency{
		{ID: "pure", Mode: Pure, Base: 432},
		{ID: "bin", Mode: Binaural, Base: 200, Beat: 10},
		{ID: "split", Mode: SplitBinaural, Left: hz(136.1), Right: hz(141.27)},
		{ID: "iso", Mode: Isochronic, Base: 300, Beat: 8},
		{ID: "white", Mode: Ambience, Ambience: White},
		{ID: "pink", Mode: Ambience, Ambience: Pink},
		{ID: "brown", Mode: Ambience, Ambience: Brown},
		{ID: "rain", Mode: Ambience, Ambience: Rain},
		{ID: "sea", Mode: Ambience, Ambience: Sea},
	}
}

// render pulls n frames from s, advancing the context clock like the mixer does.
func render(ctx *graph.Context, s *Source, n int) (left, right []float64) {
	left = make([]float64, n)
	right = make([]float64, n)
	for i := 0; i < n; i++ {
		left[i], right[i] = s.Next(ctx.FrameTime(0))
		ctx.Advance(1)
	}
	return left, right
}

func TestBuildTeardownLeavesNoNodes(t *testing.T) {
	for _, f := range allFrequencies() {
		t.Run(f.ID, func(t *testing.T) {
			ctx := graph.NewContext(rate)
			s, err := Build(ctx, f)
			require.NoError(t, err)
			require.Positive(t, ctx.LiveNodes())
			assert.Equal(t, ctx.LiveNodes(), s.Nodes())

			render(ctx, s, 1024)
			s.Teardown()
			s.Teardown()
			assert.Zero(t, ctx.LiveNodes())
			assert.Zero(t, s.Nodes())

			l, r := s.Next(ctx.CurrentTime())
			assert.Zero(t, l)
			assert.Zero(t, r)
		})
	}
}

func TestBuildWithoutContext(t *testing.T) {
	_, err := Build(nil, Frequency{Mode: Pure, Base: 100})
	assert.ErrorIs(t, err, audio.ErrUnsupportedPlatform)
}

func TestBuildRejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name string
		f    Frequency
	}{
		{"split missing right", Frequency{Mode: SplitBinaural, Left: hz(100)}},
		{"split missing left", Frequency{Mode: SplitBinaural, Right: hz(100)}},
		{"pure without base", Frequency{Mode: Pure}},
		{"binaural without beat", Frequency{Mode: Binaural, Base: 200}},
		{"unknown ambience", Frequency{Mode: Ambience, Ambience: "forest"}},
		{"unknown mode", Frequency{Mode: "fm", Base: 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := graph.NewContext(rate)
			_, err := Build(ctx, tt.f)
			require.Error(t, err)
			assert.True(t, errors.Is(err, audio.ErrInvalidParams), "got %v", err)
			assert.Zero(t, ctx.LiveNodes(), "failed build must not leak nodes")
		})
	}
}

func TestEnvelopeFadesIn(t *testing.T) {
	ctx := graph.NewContext(rate)
	s, err := Build(ctx, Frequency{Mode: Pure, Base: 1000})
	require.NoError(t, err)

	left, _ := render(ctx, s, rate/50)
	fadeFrames := int(EnvelopeTime.Seconds() * rate)

	early := 0.0
	for _, v := range left[:fadeFrames/10] {
		early = math.Max(early, math.Abs(v))
	}
	late := 0.0
	for _, v := range left[fadeFrames:] {
		late = math.Max(late, math.Abs(v))
	}
	assert.Less(t, early, 0.15, "output must start near silence")
	assert.InDelta(t, 1, late, 0.01, "output must reach full level after the envelope")
}

func zeroCrossings(x []float64) int {
	n := 0
	for i := 1; i < len(x); i++ {
		if x[i-1] < 0 && x[i] >= 0 {
			n++
		}
	}
	return n
}

func TestBinauralRoutesDetunedPair(t *testing.T) {
	ctx := graph.NewContext(rate)
	s, err := Build(ctx, Frequency{Mode: Binaural, Base: 200, Beat: 10})
	require.NoError(t, err)
	assert.True(t, s.Stereo())

	left, right := render(ctx, s, rate)
	assert.InDelta(t, 200, zeroCrossings(left), 2)
	assert.InDelta(t, 210, zeroCrossings(right), 2)
}

func TestSplitBinauralUsesExplicitSides(t *testing.T) {
	ctx := graph.NewContext(rate)
	s, err := Build(ctx, Frequency{Mode: SplitBinaural, Left: hz(100), Right: hz(150)})
	require.NoError(t, err)

	left, right := render(ctx, s, rate)
	assert.InDelta(t, 100, zeroCrossings(left), 2)
	assert.InDelta(t, 150, zeroCrossings(right), 2)
}

func TestIsochronicPulsesFullyOff(t *testing.T) {
	ctx := graph.NewContext(rate)
	s, err := Build(ctx, Frequency{Mode: Isochronic, Base: 440, Beat: 5})
	require.NoError(t, err)
	assert.False(t, s.Stereo())

	left, _ := render(ctx, s, rate)
	// 5 Hz square: each 100 ms half is either fully on or fully off.
	halfPeriod := rate / 10
	var on, off int
	for start := halfPeriod; start+halfPeriod <= len(left); start += halfPeriod {
		peak := 0.0
		for _, v := range left[start+10 : start+halfPeriod-10] {
			peak = math.Max(peak, math.Abs(v))
		}
		if peak < 1e-9 {
			off++
		} else if peak > 0.9 {
			on++
		}
	}
	assert.Positive(t, on)
	assert.Positive(t, off)
	assert.Equal(t, 9, on+off)
}

func TestSeaSweepsBandPass(t *testing.T) {
	ctx := graph.NewContext(rate)
	s, err := Build(ctx, Frequency{Mode: Ambience, Ambience: Sea})
	require.NoError(t, err)

	left, _ := render(ctx, s, rate)
	energy := 0.0
	for _, v := range left {
		energy += v * v
	}
	assert.Positive(t, energy)
}

func TestCeiling(t *testing.T) {
	assert.Equal(t, 0.5, Ceiling(Pure))
	assert.Equal(t, 0.5, Ceiling(Binaural))
	assert.Equal(t, 0.5, Ceiling(SplitBinaural))
	assert.Equal(t, 0.6, Ceiling(Isochronic))
	assert.Equal(t, 0.35, Ceiling(Ambience))
}

func TestFrequencyString(t *testing.T) {
	assert.Equal(t, "binaural 200Hz/+10Hz", Frequency{Mode: Binaural, Base: 200, Beat: 10}.String())
	assert.Equal(t, "ambience rain", Frequency{Mode: Ambience, Ambience: Rain}.String())
	assert.Equal(t, "pure 432Hz", Frequency{Mode: Pure, Base: 432}.String())
}
