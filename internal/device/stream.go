package device

import (
	"context"

	"github.com/satindergrewal/tonal/internal/audio"
	"github.com/satindergrewal/tonal/internal/stream"
)

// Stream renders at wall-clock rate and hands each 20ms frame to a
// broadcaster for network listeners.
type Stream struct {
	pipeline *audio.Pipeline
	bc       *stream.Broadcaster
}

// NewStream creates a suspended stream device rendering from r.
func NewStream(r audio.Renderer, b *stream.Broadcaster) *Stream {
	return &Stream{pipeline: audio.NewPipeline(r), bc: b}
}

// Run drives the pipeline and the fan-out. Blocks until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) {
	go s.bc.Run(ctx, s.pipeline.Frames())
	s.pipeline.Run(ctx)
}

// Pipeline returns the underlying frame pipeline.
func (s *Stream) Pipeline() *audio.Pipeline { return s.pipeline }

func (s *Stream) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pipeline.SetSuspended(false)
	return nil
}

func (s *Stream) Suspend() error {
	s.pipeline.SetSuspended(true)
	return nil
}

func (s *Stream) Close() error {
	s.pipeline.SetSuspended(true)
	return nil
}
