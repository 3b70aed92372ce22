// Package spatial computes the time-varying pan and loudness pair that
// moves a layer around the listener, either as a free-running rotation
// or locked to an external breathing guide.
package spatial

import (
	"fmt"
	"math"
	"time"
)

// Mode is the active drive for a layer. Rotation and breath sync are
// mutually exclusive.
type Mode int

const (
	Off Mode = iota
	Rotate
	Breath
)

func (m Mode) String() string {
	switch m {
	case Rotate:
		return "rotate"
	case Breath:
		return "breath"
	default:
		return "off"
	}
}

// ParseMode maps "off", "rotate" or "breath" to a Mode.
func ParseMode(s string) (Mode, error) {
	for m := Off; m <= Breath; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return Off, fmt.Errorf("unknown spatial mode %q", s)
}

const (
	minSpeedHz   = 0.1
	speedRangeHz = 0.2

	// Front/back loudness curve. Undocumented heuristic, replicated as is.
	psychoBase  = 0.85
	psychoDepth = 0.15

	// Smoothing is the time constant used when pushing pan/gain targets.
	Smoothing = 50 * time.Millisecond
)

// Settings are the user-facing rotation controls, both 0..100.
type Settings struct {
	Speed int `json:"speed"`
	Depth int `json:"depth"`
}

// SpeedHz converts a 0..100 speed setting to a rotation rate.
func SpeedHz(speed int) float64 {
	return minSpeedHz + float64(clampPercent(speed))/100*speedRangeHz
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Controller holds one layer's spatialization state. It is driven from
// the control path and is not safe for concurrent use.
type Controller struct {
	mode     Mode
	settings Settings
	angle    float64
	progress float64
}

// New returns a disabled controller with the given rotation settings.
func New(s Settings) *Controller {
	c := &Controller{}
	c.SetSettings(s)
	return c
}

// Mode returns the active drive.
func (c *Controller) Mode() Mode { return c.mode }

// Settings returns the rotation settings.
func (c *Controller) Settings() Settings { return c.settings }

// Angle returns the rotation angle in radians, in [0, 2π).
func (c *Controller) Angle() float64 { return c.angle }

// SetSettings updates speed and depth, clamped to 0..100.
func (c *Controller) SetSettings(s Settings) {
	c.settings = Settings{Speed: clampPercent(s.Speed), Depth: clampPercent(s.Depth)}
}

// EnableRotation switches to rotation, resuming from the last angle.
func (c *Controller) EnableRotation() { c.mode = Rotate }

// EnableBreath switches to breath sync. Rotation stops but keeps its angle.
func (c *Controller) EnableBreath() {
	c.mode = Breath
	c.progress = 0
}

// Disable turns spatialization off; Target then returns the neutral pair.
func (c *Controller) Disable() { c.mode = Off }

// Advance moves rotation forward by dt and returns the new targets.
// In breath mode it returns the pair for the last reported progress.
func (c *Controller) Advance(dt time.Duration) (pan, gain float64) {
	if c.mode == Rotate && dt > 0 {
		c.angle += dt.Seconds() * 2 * math.Pi * SpeedHz(c.settings.Speed)
		c.angle = math.Mod(c.angle, 2*math.Pi)
	}
	return c.Target()
}

// SetBreathProgress records the breathing guide's phase progress in [0, 1].
// It reports false when the controller is not in breath mode.
func (c *Controller) SetBreathProgress(p float64) (pan, gain float64, ok bool) {
	if c.mode != Breath {
		return 0, 1, false
	}
	c.progress = math.Max(0, math.Min(1, p))
	pan, gain = c.Target()
	return pan, gain, true
}

// Target returns the current pan in [-1, 1] and psychoacoustic gain.
func (c *Controller) Target() (pan, gain float64) {
	switch c.mode {
	case Rotate:
		depth := float64(c.settings.Depth) / 100
		return math.Sin(c.angle) * depth, psychoBase + psychoDepth*math.Cos(c.angle)
	case Breath:
		return math.Cos(c.progress * math.Pi), 1
	default:
		return 0, 1
	}
}
