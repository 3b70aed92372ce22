package graph

import "math"

// PanMono places a mono sample in the stereo field with an equal-power law.
// pan: -1 = hard left, 0 = center, 1 = hard right.
func PanMono(x, pan float64) (left, right float64) {
	pan = clampPan(pan)
	angle := (pan + 1) * math.Pi / 4
	return x * math.Cos(angle), x * math.Sin(angle)
}

// PanStereo moves an existing stereo image. At pan 0 the input passes
// through unchanged; panning folds one side into the other with an
// equal-power curve, so discrete left/right content (binaural pairs)
// survives at center.
func PanStereo(l, r, pan float64) (left, right float64) {
	pan = clampPan(pan)
	if pan <= 0 {
		x := (pan + 1) * math.Pi / 2
		return l + r*math.Cos(x), r * math.Sin(x)
	}
	x := pan * math.Pi / 2
	return l * math.Cos(x), r + l*math.Sin(x)
}

func clampPan(pan float64) float64 {
	if pan < -1 {
		return -1
	}
	if pan > 1 {
		return 1
	}
	return pan
}
