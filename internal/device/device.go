// Package device provides the engine's exclusive audio outputs: the local
// sound card via oto, or a real-time stream fanned out to network listeners.
package device

import (
	"context"
)

// Device is an output that pulls rendered audio from the mixer.
type Device interface {
	// Resume starts or wakes the output. It fails with audio.ErrResumeFailure
	// when the device refuses.
	Resume(ctx context.Context) error
	// Suspend stops pulling audio; the render clock stops with it.
	Suspend() error
	Close() error
}
