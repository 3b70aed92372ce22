// Package catalog loads the frequency and session library from YAML. A
// default library is compiled in.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/tonal/internal/audio"
	"github.com/satindergrewal/tonal/internal/session"
	"github.com/satindergrewal/tonal/internal/synth"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrUnknownSession means no session has the requested id.
var ErrUnknownSession = errors.New("unknown session")

// Catalog is a validated library of frequencies and sessions. It
// implements session.Lookup.
type Catalog struct {
	Frequencies []synth.Frequency `yaml:"frequencies" json:"frequencies"`
	Sessions    []session.Session `yaml:"sessions" json:"sessions"`

	freqs    map[string]int
	sessions map[string]int
}

// Default returns the compiled-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load reads a catalog file. An empty path means the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog. Unknown fields are rejected.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &c, nil
}

func (c *Catalog) index() error {
	c.freqs = make(map[string]int, len(c.Frequencies))
	for i, f := range c.Frequencies {
		if f.ID == "" {
			return fmt.Errorf("frequency %d: id is required", i)
		}
		if _, dup := c.freqs[f.ID]; dup {
			return fmt.Errorf("duplicate frequency %q", f.ID)
		}
		if err := f.Validate(); err != nil {
			return fmt.Errorf("frequency %q: %w", f.ID, err)
		}
		c.freqs[f.ID] = i
	}

	c.sessions = make(map[string]int, len(c.Sessions))
	for i, s := range c.Sessions {
		if s.ID == "" {
			return fmt.Errorf("session %d: id is required", i)
		}
		if _, dup := c.sessions[s.ID]; dup {
			return fmt.Errorf("duplicate session %q", s.ID)
		}
		if err := s.Validate(); err != nil {
			return err
		}
		for j, st := range s.Steps {
			for _, ref := range []string{st.Main, st.Layer2, st.Layer3} {
				if ref == "" {
					continue
				}
				if _, ok := c.freqs[ref]; !ok {
					return fmt.Errorf("session %q step %d: %w: %q", s.ID, j, audio.ErrUnknownFrequency, ref)
				}
			}
		}
		c.sessions[s.ID] = i
	}
	return nil
}

// Frequency looks up a frequency by id.
func (c *Catalog) Frequency(id string) (synth.Frequency, bool) {
	i, ok := c.freqs[id]
	if !ok {
		return synth.Frequency{}, false
	}
	return c.Frequencies[i], true
}

// Session looks up a session by id.
func (c *Catalog) Session(id string) (session.Session, bool) {
	i, ok := c.sessions[id]
	if !ok {
		return session.Session{}, false
	}
	return c.Sessions[i], true
}

// FindSession is Session with an error for HTTP and CLI callers.
func (c *Catalog) FindSession(id string) (session.Session, error) {
	s, ok := c.Session(id)
	if !ok {
		return session.Session{}, fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}
	return s, nil
}

// FindFrequency is Frequency with an error for HTTP and CLI callers.
func (c *Catalog) FindFrequency(id string) (synth.Frequency, error) {
	f, ok := c.Frequency(id)
	if !ok {
		return synth.Frequency{}, fmt.Errorf("%w: %q", audio.ErrUnknownFrequency, id)
	}
	return f, nil
}
