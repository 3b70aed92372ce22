package mixer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/tonal/internal/clock"
	"github.com/satindergrewal/tonal/internal/graph"
	"github.com/satindergrewal/tonal/internal/spatial"
	"github.com/satindergrewal/tonal/internal/synth"
)

// ID names one of the three layers.
type ID int

const (
	Main ID = iota
	Layer2
	Layer3

	NumLayers = 3
)

func (id ID) String() string {
	switch id {
	case Main:
		return "main"
	case Layer2:
		return "layer2"
	case Layer3:
		return "layer3"
	default:
		return fmt.Sprintf("layer(%d)", int(id))
	}
}

// ParseID maps "main", "layer2" or "layer3" to an ID.
func ParseID(s string) (ID, error) {
	for id := Main; id < NumLayers; id++ {
		if id.String() == s {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown layer %q", s)
}

// Layer is one channel of the mix: zero or one source, a loudness gain, and
// the pan and psychoacoustic gain driven by its spatialization controller.
//
// The render path only touches the atomic source pointer and the Params.
// Everything else is control state guarded by the owning Mixer's lock.
type Layer struct {
	id     ID
	source atomic.Pointer[synth.Source]
	gain   *graph.Param
	pan    *graph.Param
	psycho *graph.Param

	freq     *synth.Frequency
	enabled  bool
	volume   int
	err      error
	spatial  *spatial.Controller

	// retiring and rebuilding mark a source fading out under fade; at most
	// one is set.
	retiring   bool
	rebuilding bool
	fade       clock.Timer
}

func newLayer(ctx *graph.Context, id ID, volume int) *Layer {
	return &Layer{
		id:      id,
		gain:    ctx.NewParam(0),
		pan:     ctx.NewParam(0),
		psycho:  ctx.NewParam(1),
		volume:  volume,
		spatial: spatial.New(spatial.Settings{Speed: 50, Depth: 100}),
	}
}

// render produces one frame at time t.
func (l *Layer) render(t float64) (float64, float64) {
	src := l.source.Load()
	if src == nil {
		return 0, 0
	}
	a, b := src.Next(t)
	p := l.pan.ValueAt(t)
	if src.Stereo() {
		a, b = graph.PanStereo(a, b, p)
	} else {
		a, b = graph.PanMono(a, p)
	}
	g := l.gain.ValueAt(t) * l.psycho.ValueAt(t)
	return a * g, b * g
}

// live reports whether the layer counts toward the active-layer divisor.
func (l *Layer) live() bool {
	return l.enabled && !l.retiring && l.source.Load() != nil
}

// teardown stops and releases the current source, cancelling any pending
// retirement or rebuild. It completes before returning.
func (l *Layer) teardown() {
	l.cancelFade()
	if src := l.source.Swap(nil); src != nil {
		src.Teardown()
	}
}

func (l *Layer) cancelFade() {
	if l.fade != nil {
		l.fade.Stop()
		l.fade = nil
	}
	l.retiring = false
	l.rebuilding = false
}

// fadeOut ramps the layer to silence over d and runs done once the current
// source is silent, unless the layer was rebuilt or torn down first.
func (l *Layer) fadeOut(clk clock.Clock, mu *sync.Mutex, d time.Duration, done func()) {
	l.cancelFade()
	l.gain.RampTo(0, d)
	src := l.source.Load()
	var t clock.Timer
	t = clk.AfterFunc(d, func() {
		mu.Lock()
		defer mu.Unlock()
		if l.fade != t || l.source.Load() != src {
			return
		}
		l.fade = nil
		done()
	})
	l.fade = t
}

// build replaces the layer's source with a new one for f. The old source is
// always fully torn down first.
func (l *Layer) build(ctx *graph.Context, f synth.Frequency) error {
	l.teardown()
	src, err := synth.Build(ctx, f)
	if err != nil {
		l.err = err
		return err
	}
	l.err = nil
	l.source.Store(src)
	return nil
}

// LayerStatus is a snapshot of one layer for observers.
type LayerStatus struct {
	ID        string           `json:"id"`
	Enabled   bool             `json:"enabled"`
	Active    bool             `json:"active"`
	Frequency string           `json:"frequency,omitempty"`
	Mode      synth.Mode       `json:"mode,omitempty"`
	Volume    int              `json:"volume"`
	Gain      float64          `json:"gain"`
	Spatial   string           `json:"spatial"`
	Settings  spatial.Settings `json:"settings"`
	Error     string           `json:"error,omitempty"`
}

func (l *Layer) status() LayerStatus {
	st := LayerStatus{
		ID:       l.id.String(),
		Enabled:  l.enabled,
		Active:   l.live(),
		Volume:   l.volume,
		Gain:     l.gain.Value(),
		Spatial:  l.spatial.Mode().String(),
		Settings: l.spatial.Settings(),
	}
	if l.freq != nil {
		st.Frequency = l.freq.ID
		st.Mode = l.freq.Mode
	}
	if l.err != nil {
		st.Error = l.err.Error()
	}
	return st
}
