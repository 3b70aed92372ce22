//go:build headless

package device

import (
	"context"

	"github.com/satindergrewal/tonal/internal/audio"
)

// Oto is unavailable in headless builds.
type Oto struct{}

// NewOto always fails in headless builds.
func NewOto(audio.Renderer) (*Oto, error) {
	return nil, audio.ErrUnsupportedPlatform
}

func (*Oto) Read(p []byte) (int, error) { return len(p), nil }
func (*Oto) Resume(context.Context) error { return audio.ErrUnsupportedPlatform }
func (*Oto) Suspend() error { return nil }
func (*Oto) Close() error { return nil }
