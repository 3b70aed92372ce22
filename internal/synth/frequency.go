package synth

import (
	"fmt"

	"github.com/satindergrewal/tonal/internal/audio"
)

// Mode selects how a Frequency is synthesized.
type Mode string

const (
	Pure          Mode = "pure"
	Binaural      Mode = "binaural"
	SplitBinaural Mode = "split_binaural"
	Isochronic    Mode = "isochronic"
	Ambience      Mode = "ambience"
)

// AmbienceKind selects a procedural noise texture.
type AmbienceKind string

const (
	White AmbienceKind = "white"
	Pink  AmbienceKind = "pink"
	Brown AmbienceKind = "brown"
	Rain  AmbienceKind = "rain"
	Sea   AmbienceKind = "sea"
)

// Frequency is a catalog record describing one sound source.
type Frequency struct {
	ID       string       `yaml:"id" json:"id"`
	Name     string       `yaml:"name,omitempty" json:"name,omitempty"`
	Mode     Mode         `yaml:"mode" json:"mode"`
	Base     float64      `yaml:"base,omitempty" json:"base,omitempty"`
	Beat     float64      `yaml:"beat,omitempty" json:"beat,omitempty"`
	Left     *float64     `yaml:"left,omitempty" json:"left,omitempty"`
	Right    *float64     `yaml:"right,omitempty" json:"right,omitempty"`
	Ambience AmbienceKind `yaml:"ambience,omitempty" json:"ambience,omitempty"`
}

// Per-mode loudness ceilings. Noise is perceived louder than a sine at the
// same peak, so it sits lower.
const (
	ceilingTone       = 0.5
	ceilingIsochronic = 0.6
	ceilingAmbience   = 0.35
)

// Ceiling returns the full-volume layer gain for a mode.
func Ceiling(m Mode) float64 {
	switch m {
	case Isochronic:
		return ceilingIsochronic
	case Ambience:
		return ceilingAmbience
	default:
		return ceilingTone
	}
}

// Validate checks that f carries every field its mode needs.
func (f Frequency) Validate() error {
	switch f.Mode {
	case Pure:
		if f.Base <= 0 {
			return fmt.Errorf("%w: %s needs a positive base frequency", audio.ErrInvalidParams, f.Mode)
		}
	case Binaural, Isochronic:
		if f.Base <= 0 || f.Beat <= 0 {
			return fmt.Errorf("%w: %s needs positive base and beat frequencies", audio.ErrInvalidParams, f.Mode)
		}
	case SplitBinaural:
		if f.Left == nil || f.Right == nil {
			return fmt.Errorf("%w: split binaural needs both left and right frequencies", audio.ErrInvalidParams)
		}
		if *f.Left <= 0 || *f.Right <= 0 {
			return fmt.Errorf("%w: split binaural frequencies must be positive", audio.ErrInvalidParams)
		}
	case Ambience:
		switch f.Ambience {
		case White, Pink, Brown, Rain, Sea:
		default:
			return fmt.Errorf("%w: unknown ambience %q", audio.ErrInvalidParams, f.Ambience)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", audio.ErrInvalidParams, f.Mode)
	}
	return nil
}

// String renders a short human description, e.g. "binaural 200Hz/+10Hz".
func (f Frequency) String() string {
	switch f.Mode {
	case Binaural, Isochronic:
		return fmt.Sprintf("%s %gHz/+%gHz", f.Mode, f.Base, f.Beat)
	case SplitBinaural:
		if f.Left != nil && f.Right != nil {
			return fmt.Sprintf("%s L%gHz R%gHz", f.Mode, *f.Left, *f.Right)
		}
		return string(f.Mode)
	case Ambience:
		return fmt.Sprintf("%s %s", f.Mode, f.Ambience)
	default:
		return fmt.Sprintf("%s %gHz", f.Mode, f.Base)
	}
}
