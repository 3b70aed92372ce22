package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Renderer fills interleaved stereo float32 buffers in [-1, 1].
// Render is called from the audio path and must not block.
type Renderer interface {
	Render(buf []float32)
}

// RendererFunc adapts a plain function into a Renderer.
type RendererFunc func(buf []float32)

func (f RendererFunc) Render(buf []float32) { f(buf) }
