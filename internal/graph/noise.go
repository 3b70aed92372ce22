package graph

import "math/rand/v2"

// NoiseColor selects a noise spectrum.
type NoiseColor int

const (
	WhiteNoise NoiseColor = iota
	PinkNoise
	BrownNoise
)

// Pink noise: multi-pole smoothing sum (Paul Kellet's refined method).
// These are tuned-by-ear constants, kept verbatim.
var (
	pinkPoles   = [6]float64{0.99886, 0.99332, 0.96900, 0.86650, 0.55000, -0.7616}
	pinkWeights = [6]float64{0.0555179, 0.0750759, 0.1538520, 0.3104856, 0.5329522, -0.0168980}
)

const (
	pinkDirect = 0.5362
	pinkTail   = 0.115926
	pinkScale  = 0.11

	// Brown noise: leaky integrator of white noise.
	brownStep  = 0.02
	brownLeak  = 1.02
	brownScale = 3.5
)

// Noise generates procedural noise one sample at a time.
type Noise struct {
	handle
	color NoiseColor
	rng   *rand.Rand
	b     [7]float64
	last  float64
}

// NewNoise creates a noise generator. The same seed yields the same sequence.
func (c *Context) NewNoise(color NoiseColor, seed uint64) *Noise {
	n := &Noise{
		color: color,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	n.register(c)
	return n
}

// Next returns the next noise sample, roughly within [-1, 1].
func (n *Noise) Next() float64 {
	if n.Released() {
		return 0
	}
	white := n.rng.Float64()*2 - 1
	switch n.color {
	case PinkNoise:
		sum := 0.0
		for i := range pinkPoles {
			n.b[i] = pinkPoles[i]*n.b[i] + white*pinkWeights[i]
			sum += n.b[i]
		}
		out := (sum + n.b[6] + white*pinkDirect) * pinkScale
		n.b[6] = white * pinkTail
		return out
	case BrownNoise:
		n.last = (n.last + brownStep*white) / brownLeak
		return n.last * brownScale
	default:
		return white
	}
}
