// Package mixer sums the three layers into a shared limiter and analysis
// tap. Control methods schedule automation; Render never blocks on them.
package mixer

import (
	"log"
	"sync"
	"time"

	"github.com/satindergrewal/tonal/internal/audio"
	"github.com/satindergrewal/tonal/internal/clock"
	"github.com/satindergrewal/tonal/internal/graph"
	"github.com/satindergrewal/tonal/internal/spatial"
	"github.com/satindergrewal/tonal/internal/synth"
)

const (
	// LayerRamp is used when layers start, stop or are toggled.
	LayerRamp = 400 * time.Millisecond
	// SettleTau is the time constant for pause, resume and volume changes.
	SettleTau = 100 * time.Millisecond
	// SwapFade is how long a sounding source fades out before it is torn
	// down and replaced.
	SwapFade = synth.EnvelopeTime

	DefaultMainVolume  = 70
	DefaultLayerVolume = 50
)

// TargetGain is the steady-state gain of a layer playing mode at volume
// (0..100) while active layers are sounding.
func TargetGain(mode synth.Mode, volume, active int) float64 {
	return synth.Ceiling(mode) * float64(clampVolume(volume)) / 100 / max(1, float64(active)-0.5)
}

func clampVolume(v int) int {
	return min(100, max(0, v))
}

// Mixer owns the three layers, the limiter and the analyser.
type Mixer struct {
	ctx      *graph.Context
	clk      clock.Clock
	limiter  *graph.Limiter
	analyser *graph.Analyser

	mu        sync.Mutex
	layers    [NumLayers]*Layer
	running   bool
	muted     bool
	releasing bool

	// swap is the pending rebuild of every layer after Apply faded the old
	// sources out.
	swap clock.Timer
}

// New creates an idle mixer on ctx. Deferred teardowns are scheduled on clk.
func New(ctx *graph.Context, clk clock.Clock) *Mixer {
	m := &Mixer{
		ctx:      ctx,
		clk:      clk,
		limiter:  ctx.NewLimiter(graph.DefaultLimiter()),
		analyser: ctx.NewAnalyser(graph.DefaultFFTSize),
	}
	for id := Main; id < NumLayers; id++ {
		vol := DefaultLayerVolume
		if id == Main {
			vol = DefaultMainVolume
		}
		m.layers[id] = newLayer(ctx, id, vol)
	}
	return m
}

// Context returns the audio context the mixer renders on.
func (m *Mixer) Context() *graph.Context { return m.ctx }

// Analyser returns the analysis tap at the end of the chain.
func (m *Mixer) Analyser() *graph.Analyser { return m.analyser }

// Limiter returns the shared output limiter.
func (m *Mixer) Limiter() *graph.Limiter { return m.limiter }

// Render fills an interleaved stereo buffer and advances the context clock.
func (m *Mixer) Render(buf []float32) {
	frames := len(buf) / audio.Channels
	for i := 0; i < frames; i++ {
		t := m.ctx.FrameTime(i)
		var left, right float64
		for _, l := range m.layers {
			a, b := l.render(t)
			left += a
			right += b
		}
		left, right = m.limiter.Process(left, right)
		buf[2*i] = float32(left)
		buf[2*i+1] = float32(right)
	}
	m.analyser.Write(buf[:frames*audio.Channels])
	m.ctx.Advance(frames)
}

// Apply replaces every layer with a source for freqs, indexed by layer; a
// nil entry leaves that layer off. Sounding layers fade out over SwapFade
// and are torn down before anything new is built. An invalid main frequency
// is rejected before anything changes. Optional layer failures only disable
// that layer.
func (m *Mixer) Apply(freqs [NumLayers]*synth.Frequency) error {
	if freqs[Main] == nil {
		return &audio.LayerError{Layer: Main.String(), Err: audio.ErrInvalidParams}
	}
	if err := freqs[Main].Validate(); err != nil {
		return &audio.LayerError{Layer: Main.String(), Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelSwapLocked()
	m.releasing = false
	for id, l := range m.layers {
		l.enabled = false
		f := freqs[id]
		if f == nil {
			continue
		}
		ff := *f
		l.freq = &ff
		if err := ff.Validate(); err != nil {
			l.err = err
			log.Printf("Layer %s inactive: %v", ID(id), err)
			continue
		}
		l.enabled = true
	}

	sounding := false
	for _, l := range m.layers {
		if l.source.Load() != nil {
			l.cancelFade()
			l.gain.RampTo(0, SwapFade)
			sounding = true
		}
	}
	if sounding {
		m.running = true
		var t clock.Timer
		t = m.clk.AfterFunc(SwapFade, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.swap != t {
				return
			}
			m.swap = nil
			if err := m.rebuildLocked(); err != nil {
				log.Printf("Rebuild failed: %v", err)
			}
		})
		m.swap = t
		return nil
	}
	return m.rebuildLocked()
}

// rebuildLocked tears every layer down, then builds the enabled ones.
func (m *Mixer) rebuildLocked() error {
	for _, l := range m.layers {
		l.teardown()
		l.gain.Set(0)
	}
	for id, l := range m.layers {
		if !l.enabled {
			continue
		}
		if err := l.build(m.ctx, *l.freq); err != nil {
			if ID(id) == Main {
				for _, other := range m.layers {
					other.teardown()
				}
				m.resetLocked()
				return &audio.LayerError{Layer: Main.String(), Err: err}
			}
			l.enabled = false
			log.Printf("Layer %s inactive: %v", ID(id), err)
		}
	}
	m.running = true
	m.retargetLocked(ramp)
	return nil
}

func (m *Mixer) cancelSwapLocked() {
	if m.swap != nil {
		m.swap.Stop()
		m.swap = nil
	}
}

// Toggle turns an optional layer on or off. f replaces the layer's
// frequency when non-nil. When the mixer is idle only the setting changes.
func (m *Mixer) Toggle(id ID, on bool, f *synth.Frequency) error {
	if id == Main {
		return &audio.LayerError{Layer: id.String(), Err: audio.ErrInvalidParams}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.layers[id]
	if f != nil {
		ff := *f
		l.freq = &ff
	}
	if !on {
		l.enabled = false
		if m.running && m.swap == nil && l.source.Load() != nil && !l.retiring {
			m.retireLocked(l)
			m.retargetLocked(ramp)
		}
		return nil
	}
	if l.freq == nil {
		return &audio.LayerError{Layer: id.String(), Err: audio.ErrUnknownFrequency}
	}
	if err := l.freq.Validate(); err != nil {
		l.enabled = false
		l.err = err
		return &audio.LayerError{Layer: id.String(), Err: err}
	}
	l.enabled = true
	if !m.running || m.swap != nil {
		return nil
	}
	return m.replaceLocked(l)
}

// SetFrequency changes a layer's frequency, rebuilding its source if it is
// sounding.
func (m *Mixer) SetFrequency(id ID, f synth.Frequency) error {
	if err := f.Validate(); err != nil {
		return &audio.LayerError{Layer: id.String(), Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.layers[id]
	l.freq = &f
	if !m.running || !l.enabled || m.swap != nil {
		return nil
	}
	return m.replaceLocked(l)
}

// replaceLocked builds l's frequency in place of its current source. A
// source that is still sounding fades out over SwapFade and is torn down
// first.
func (m *Mixer) replaceLocked(l *Layer) error {
	if l.source.Load() == nil {
		if err := l.build(m.ctx, *l.freq); err != nil {
			l.enabled = false
			return &audio.LayerError{Layer: l.id.String(), Err: err}
		}
		m.retargetLocked(ramp)
		return nil
	}
	l.fadeOut(m.clk, &m.mu, SwapFade, func() {
		if err := l.build(m.ctx, *l.freq); err != nil {
			l.enabled = false
			log.Printf("Layer %s inactive: %v", l.id, err)
		}
		m.retargetLocked(ramp)
	})
	l.rebuilding = true
	m.retargetLocked(ramp)
	return nil
}

// SetVolume sets a layer's volume, clamped to 0..100.
func (m *Mixer) SetVolume(id ID, volume int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers[id].volume = clampVolume(volume)
	m.retargetLocked(settle)
}

// Mute settles every layer to silence, leaving sources running.
func (m *Mixer) Mute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = true
	for _, l := range m.layers {
		settle(l.gain, 0)
	}
}

// Unmute settles every live layer back to its target.
func (m *Mixer) Unmute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = false
	m.retargetLocked(settle)
}

// Release ramps every layer to silence over d. Sources keep running until
// Teardown.
func (m *Mixer) Release(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelSwapLocked()
	m.releasing = true
	for _, l := range m.layers {
		if l.rebuilding {
			l.cancelFade()
		}
		l.gain.RampTo(0, d)
	}
}

// Teardown releases every source and returns the mixer to idle. Volumes,
// frequencies and spatial settings are kept.
func (m *Mixer) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelSwapLocked()
	for _, l := range m.layers {
		l.teardown()
	}
	m.resetLocked()
}

func (m *Mixer) resetLocked() {
	m.running = false
	m.muted = false
	m.releasing = false
	for _, l := range m.layers {
		l.gain.Set(0)
	}
}

// Running reports whether sources are built.
func (m *Mixer) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Active returns the number of layers counted by the loudness divisor.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *Mixer) activeLocked() int {
	n := 0
	for _, l := range m.layers {
		if l.live() {
			n++
		}
	}
	return n
}

// Gain returns a layer's current loudness gain.
func (m *Mixer) Gain(id ID) float64 {
	return m.layers[id].gain.Value()
}

// Pan returns a layer's current pan and psychoacoustic gain.
func (m *Mixer) Pan(id ID) (pan, psycho float64) {
	l := m.layers[id]
	return l.pan.Value(), l.psycho.Value()
}

// Status returns a snapshot of every layer.
func (m *Mixer) Status() [NumLayers]LayerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [NumLayers]LayerStatus
	for i, l := range m.layers {
		out[i] = l.status()
	}
	return out
}

func ramp(p *graph.Param, v float64)   { p.RampTo(v, LayerRamp) }
func settle(p *graph.Param, v float64) { p.SettleTo(v, SettleTau) }

// retargetLocked pushes every live layer toward its target gain. Nothing
// moves while muted, releasing or swapping, and a layer being rebuilt keeps
// fading out.
func (m *Mixer) retargetLocked(move func(*graph.Param, float64)) {
	if !m.running || m.muted || m.releasing || m.swap != nil {
		return
	}
	active := m.activeLocked()
	for _, l := range m.layers {
		if !l.live() || l.rebuilding {
			continue
		}
		target := TargetGain(l.freq.Mode, l.volume, active)
		if l.gain.Target() != target {
			move(l.gain, target)
		}
	}
}

// retireLocked fades a layer out and tears its source down once silent.
func (m *Mixer) retireLocked(l *Layer) {
	l.fadeOut(m.clk, &m.mu, LayerRamp, l.teardown)
	l.retiring = true
}

// SetSpatial switches a layer's spatialization drive. Rotation and breath
// sync are exclusive; Off settles back to center.
func (m *Mixer) SetSpatial(id ID, mode spatial.Mode, s spatial.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.layers[id]
	l.spatial.SetSettings(s)
	switch mode {
	case spatial.Rotate:
		l.spatial.EnableRotation()
	case spatial.Breath:
		l.spatial.EnableBreath()
	default:
		l.spatial.Disable()
	}
	pan, gain := l.spatial.Target()
	pushSpatial(l, pan, gain)
}

// Spatializing reports whether any layer has a spatial drive enabled.
func (m *Mixer) Spatializing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.layers {
		if l.spatial.Mode() != spatial.Off {
			return true
		}
	}
	return false
}

// StepSpatial advances rotating layers by dt and pushes their new targets.
func (m *Mixer) StepSpatial(dt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.layers {
		if l.spatial.Mode() == spatial.Rotate {
			pan, gain := l.spatial.Advance(dt)
			pushSpatial(l, pan, gain)
		}
	}
}

// SetBreathProgress feeds the breathing guide's phase to breath-synced layers.
func (m *Mixer) SetBreathProgress(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.layers {
		if pan, gain, ok := l.spatial.SetBreathProgress(p); ok {
			pushSpatial(l, pan, gain)
		}
	}
}

func pushSpatial(l *Layer, pan, gain float64) {
	l.pan.SettleTo(pan, spatial.Smoothing)
	l.psycho.SettleTo(gain, spatial.Smoothing)
}

// Selection returns the frequency of every enabled layer, nil for the rest.
func (m *Mixer) Selection() [NumLayers]*synth.Frequency {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [NumLayers]*synth.Frequency
	for i, l := range m.layers {
		if l.enabled && l.freq != nil {
			f := *l.freq
			out[i] = &f
		}
	}
	return out
}
