package audio

import (
	"context"
	"log"
	"sync"
	"time"
)

// Pipeline pulls PCM frames from a Renderer and outputs them at real-time rate.
type Pipeline struct {
	renderer Renderer
	frameCh  chan []int16
	scratch  []float32

	mu        sync.RWMutex
	suspended bool
	frames    int64
}

// NewPipeline creates a pipeline that renders from r. It starts suspended.
func NewPipeline(r Renderer) *Pipeline {
	return &Pipeline{
		renderer:  r,
		frameCh:   make(chan []int16, 100),
		scratch:   make([]float32, FrameSamples),
		suspended: true,
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// SetSuspended stops or restarts frame production. A suspended pipeline
// does not advance the renderer.
func (p *Pipeline) SetSuspended(suspended bool) {
	p.mu.Lock()
	p.suspended = suspended
	p.mu.Unlock()
}

// Suspended reports whether frame production is stopped.
func (p *Pipeline) Suspended() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.suspended
}

// Position returns how much audio has been rendered so far.
func (p *Pipeline) Position() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.frames) * FrameDuration
}

// Run starts the pipeline. Blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	log.Println("Audio pipeline running")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if p.Suspended() {
			continue
		}
		if !p.sendFrame(ctx, p.RenderFrame()) {
			return
		}
	}
}

// RenderFrame renders one 20ms frame and converts it to interleaved int16.
func (p *Pipeline) RenderFrame() []int16 {
	p.renderer.Render(p.scratch)
	frame := FloatToPCM16(nil, p.scratch)

	p.mu.Lock()
	p.frames++
	p.mu.Unlock()
	return frame
}

// sendFrame hands a frame to the consumer. Returns false on cancel.
func (p *Pipeline) sendFrame(ctx context.Context, frame []int16) bool {
	select {
	case p.frameCh <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}
