package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

// --- Constants ---

func TestConstants(t *testing.T) {
	// 48kHz * 20ms = 960 samples per channel
	if got := SampleRate * int(FrameDuration/time.Millisecond) / 1000; got != FrameSize {
		t.Errorf("FrameSize mismatch: want %d, got %d", got, FrameSize)
	}
	if FrameSamples != FrameSize*Channels {
		t.Errorf("FrameSamples = %d, want %d", FrameSamples, FrameSize*Channels)
	}
	if FrameBytes != FrameSamples*2 {
		t.Errorf("FrameBytes = %d, want %d", FrameBytes, FrameSamples*2)
	}
}

// --- FloatToPCM16 ---

func TestFloatToPCM16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{0.5, 16383},
		{2, 32767},
		{-3, -32768},
	}
	for _, tt := range tests {
		got := FloatToPCM16(nil, []float32{tt.in})
		if got[0] != tt.want {
			t.Errorf("FloatToPCM16(%v) = %d, want %d", tt.in, got[0], tt.want)
		}
	}
}

func TestFloatToPCM16ReusesBuffer(t *testing.T) {
	dst := make([]int16, 0, 8)
	out := FloatToPCM16(dst, []float32{0.1, 0.2})
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if &out[0] != &dst[:1][0] {
		t.Error("expected destination buffer to be reused")
	}
}

// --- SamplesToBytes / Float32ToBytes ---

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	buf := SamplesToBytes(samples)
	if len(buf) != len(samples)*2 {
		t.Fatalf("SamplesToBytes length = %d, want %d", len(buf), len(samples)*2)
	}

	// 256 = 0x0100 -> bytes [0x00, 0x01]
	idx := 5 * 2
	if buf[idx] != 0x00 || buf[idx+1] != 0x01 {
		t.Errorf("Sample 256 encoded as [%02x, %02x], want [00, 01]", buf[idx], buf[idx+1])
	}
}

func TestFloat32ToBytes(t *testing.T) {
	src := []float32{0.25, -1}
	buf := make([]byte, 8)
	Float32ToBytes(buf, src)
	for i, want := range src {
		got := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		if got != want {
			t.Errorf("sample %d = %v, want %v", i, got, want)
		}
	}
}

// --- Errors ---

func TestLayerErrorUnwraps(t *testing.T) {
	err := error(&LayerError{Layer: "layer2", Err: ErrInvalidParams})
	if !errors.Is(err, ErrInvalidParams) {
		t.Error("LayerError should unwrap to ErrInvalidParams")
	}
	var le *LayerError
	if !errors.As(err, &le) || le.Layer != "layer2" {
		t.Errorf("errors.As failed: %v", err)
	}
}

// --- Pipeline ---

func TestNewPipelineStartsSuspended(t *testing.T) {
	p := NewPipeline(RendererFunc(func(buf []float32) {}))
	if !p.Suspended() {
		t.Error("new pipeline should be suspended")
	}
	if p.Position() != 0 {
		t.Errorf("Position = %v, want 0", p.Position())
	}
}

func TestPipelineRenderFrame(t *testing.T) {
	calls := 0
	p := NewPipeline(RendererFunc(func(buf []float32) {
		calls++
		if len(buf) != FrameSamples {
			t.Errorf("render buffer length = %d, want %d", len(buf), FrameSamples)
		}
		for i := range buf {
			buf[i] = 0.5
		}
	}))

	frame := p.RenderFrame()
	if len(frame) != FrameSamples {
		t.Fatalf("frame length = %d, want %d", len(frame), FrameSamples)
	}
	if frame[0] != 16383 {
		t.Errorf("frame[0] = %d, want 16383", frame[0])
	}
	if calls != 1 {
		t.Errorf("renderer called %d times, want 1", calls)
	}
	if p.Position() != FrameDuration {
		t.Errorf("Position = %v, want %v", p.Position(), FrameDuration)
	}

	// Frames must not alias each other; the broadcaster hands them to many listeners.
	next := p.RenderFrame()
	if &frame[0] == &next[0] {
		t.Error("consecutive frames share a backing array")
	}
}

func TestPipelineRunEmitsWhenResumed(t *testing.T) {
	p := NewPipeline(RendererFunc(func(buf []float32) {}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case <-p.Frames():
		t.Fatal("suspended pipeline emitted a frame")
	case <-time.After(100 * time.Millisecond):
	}

	p.SetSuspended(false)
	select {
	case frame := <-p.Frames():
		if len(frame) != FrameSamples {
			t.Errorf("frame length = %d, want %d", len(frame), FrameSamples)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for frame")
	}
}

func TestPipelineClosesOnCancel(t *testing.T) {
	p := NewPipeline(RendererFunc(func(buf []float32) {}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pipeline did not stop after context cancel")
	}
	if _, ok := <-p.Frames(); ok {
		t.Error("frame channel should be closed")
	}
}
