//go:build !headless

package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/satindergrewal/tonal/internal/audio"
)

// Oto plays the mix on the local sound card.
type Oto struct {
	ctx      *oto.Context
	player   *oto.Player
	renderer audio.Renderer
	buf      []float32 // only touched by oto's reader goroutine

	mu      sync.Mutex
	playing bool
}

// NewOto opens the default output at the engine's format. A machine without
// a usable backend yields audio.ErrUnsupportedPlatform.
func NewOto(r audio.Renderer) (*Oto, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   audio.SampleRate,
		ChannelCount: audio.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   audio.FrameDuration * 2,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrUnsupportedPlatform, err)
	}
	<-ready

	o := &Oto{
		ctx:      ctx,
		renderer: r,
		buf:      make([]float32, audio.FrameSamples),
	}
	o.player = ctx.NewPlayer(o)
	return o, nil
}

// Read renders straight into oto's buffer as little-endian float32.
func (o *Oto) Read(p []byte) (int, error) {
	samples := len(p) / 4
	samples -= samples % audio.Channels
	if len(o.buf) < samples {
		o.buf = make([]float32, samples)
	}
	buf := o.buf[:samples]
	o.renderer.Render(buf)
	audio.Float32ToBytes(p, buf)
	return samples * 4, nil
}

func (o *Oto) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.ctx.Resume(); err != nil {
		return fmt.Errorf("%w: %v", audio.ErrResumeFailure, err)
	}
	if !o.playing {
		o.player.Play()
		o.playing = true
	}
	return nil
}

func (o *Oto) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctx.Suspend()
}

func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playing = false
	return o.player.Close()
}
