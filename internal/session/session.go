// Package session holds session programs and the sequencer that plays them
// step by step.
package session

import (
	"fmt"
	"log"
	"time"

	"github.com/satindergrewal/tonal/internal/audio"
	"github.com/satindergrewal/tonal/internal/synth"
)

// Step is one timed segment of a session.
type Step struct {
	Duration float64 `yaml:"duration" json:"duration"` // seconds
	Main     string  `yaml:"main" json:"main"`
	Layer2   string  `yaml:"layer2,omitempty" json:"layer2,omitempty"`
	Layer3   string  `yaml:"layer3,omitempty" json:"layer3,omitempty"`
}

// Length returns the step duration.
func (s Step) Length() time.Duration {
	return time.Duration(s.Duration * float64(time.Second))
}

// Session is an ordered, non-empty program of steps. The sequencer never
// mutates it.
type Session struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Total returns the sum of all step durations.
func (s Session) Total() time.Duration {
	var d time.Duration
	for _, st := range s.Steps {
		d += st.Length()
	}
	return d
}

// Validate checks the session's shape. Frequency references are checked
// separately by Resolve.
func (s Session) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: session %q has no steps", audio.ErrInvalidParams, s.ID)
	}
	for i, st := range s.Steps {
		if st.Duration <= 0 {
			return fmt.Errorf("%w: session %q step %d: duration must be positive", audio.ErrInvalidParams, s.ID, i)
		}
		if st.Main == "" {
			return fmt.Errorf("%w: session %q step %d: missing main frequency", audio.ErrInvalidParams, s.ID, i)
		}
	}
	return nil
}

// Lookup resolves frequency references.
type Lookup interface {
	Frequency(id string) (synth.Frequency, bool)
}

// Table is a Lookup backed by a map.
type Table map[string]synth.Frequency

func (t Table) Frequency(id string) (synth.Frequency, bool) {
	f, ok := t[id]
	return f, ok
}

// Layers holds the resolved frequency for each layer; nil means off.
type Layers [3]*synth.Frequency

// Resolve maps the step's references through lookup. An unknown or invalid
// main frequency is an error; an unknown optional reference leaves that
// layer off.
func (s Step) Resolve(lookup Lookup) (Layers, error) {
	var out Layers
	f, ok := lookup.Frequency(s.Main)
	if !ok {
		return out, &audio.LayerError{Layer: "main", Err: fmt.Errorf("%w: %q", audio.ErrUnknownFrequency, s.Main)}
	}
	if err := f.Validate(); err != nil {
		return out, &audio.LayerError{Layer: "main", Err: fmt.Errorf("%q: %w", s.Main, err)}
	}
	out[0] = &f
	for i, ref := range []string{s.Layer2, s.Layer3} {
		if ref == "" {
			continue
		}
		f, ok := lookup.Frequency(ref)
		if !ok {
			log.Printf("Layer layer%d skipped: unknown frequency %q", i+2, ref)
			continue
		}
		out[i+1] = &f
	}
	return out, nil
}

// Resolve validates the session and resolves every step up front, so a
// bad reference fails before anything is torn down or built.
func (s Session) Resolve(lookup Lookup) ([]Layers, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	out := make([]Layers, len(s.Steps))
	for i, st := range s.Steps {
		layers, err := st.Resolve(lookup)
		if err != nil {
			return nil, fmt.Errorf("session %q step %d: %w", s.ID, i, err)
		}
		out[i] = layers
	}
	return out, nil
}

// State is the playback state owned by the sequencer.
type State int

const (
	Idle State = iota
	Playing
	Paused
	Stopping
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st := Idle; st <= Stopping; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown playback state %q", text)
}

// Completed is emitted when a qualifying session stops.
type Completed struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Cumulative time.Duration `json:"cumulative"`
}
