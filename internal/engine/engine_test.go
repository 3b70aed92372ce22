package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/tonal/internal/audio"
	"github.com/satindergrewal/tonal/internal/clock"
	"github.com/satindergrewal/tonal/internal/graph"
	"github.com/satindergrewal/tonal/internal/mixer"
	"github.com/satindergrewal/tonal/internal/session"
	"github.com/satindergrewal/tonal/internal/spatial"
	"github.com/satindergrewal/tonal/internal/synth"
)

type fakeDevice struct {
	mu        sync.Mutex
	resumeErr error
	resumes   int
	suspends  int
	closed    bool
}

func (d *fakeDevice) Resume(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resumes++
	return d.resumeErr
}

func (d *fakeDevice) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspends++
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

var catalog = session.Table{
	"alpha": {ID: "alpha", Name: "Alpha", Mode: synth.Binaural, Base: 200, Beat: 10},
	"theta": {ID: "theta", Name: "Theta", Mode: synth.Isochronic, Base: 180, Beat: 6},
	"rain":  {ID: "rain", Name: "Rain", Mode: synth.Ambience, Ambience: synth.Rain},
}

type harness struct {
	eng *Engine
	mx  *mixer.Mixer
	dev *fakeDevice
	clk *clock.Manual
	buf []float32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mx := mixer.New(graph.NewContext(audio.SampleRate), clk)
	dev := &fakeDevice{}
	return &harness{
		eng: New(dev, mx, clk, 0),
		mx:  mx,
		dev: dev,
		clk: clk,
		buf: make([]float32, audio.FrameSamples),
	}
}

// advance moves wall time and audio time together, one 20ms frame at a time.
func (h *harness) advance(d time.Duration) {
	for d > 0 {
		step := min(d, audio.FrameDuration)
		h.mx.Render(h.buf[:int(step.Seconds()*audio.SampleRate)*audio.Channels])
		h.clk.Advance(step)
		d -= step
	}
}

func TestStartPlaysSessionThroughSteps(t *testing.T) {
	h := newHarness(t)
	sess := session.Session{ID: "s", Name: "Drift", Steps: []session.Step{
		{Duration: 2, Main: "alpha", Layer2: "rain"},
		{Duration: 3, Main: "theta"},
	}}
	require.NoError(t, h.eng.Start(context.Background(), sess, catalog))

	st := h.eng.Status()
	assert.True(t, st.IsPlaying)
	assert.Equal(t, "Drift", st.SessionName)
	assert.True(t, st.Layers[mixer.Layer2].Active)

	h.advance(time.Second)
	assert.InDelta(t, mixer.TargetGain(synth.Binaural, mixer.DefaultMainVolume, 2), h.mx.Gain(mixer.Main), 1e-9)

	h.advance(time.Second)
	st = h.eng.Status()
	assert.Equal(t, 1, st.StepIndex)
	assert.InDelta(t, 2.0, st.Cumulative, 1e-9)
	assert.Equal(t, "theta", st.Layers[mixer.Main].Frequency)
	assert.False(t, st.Layers[mixer.Layer2].Active)

	h.advance(3 * time.Second)
	assert.Equal(t, session.Stopping, h.eng.Status().State)
	h.advance(time.Second)
	assert.Equal(t, session.Idle, h.eng.Status().State)
	assert.Zero(t, h.mx.Active())
}

func TestStopReleasesAllNodes(t *testing.T) {
	h := newHarness(t)
	base := h.mx.Context().LiveNodes()
	sess := session.Session{ID: "s", Steps: []session.Step{{Duration: 60, Main: "alpha", Layer2: "rain", Layer3: "theta"}}}
	require.NoError(t, h.eng.Start(context.Background(), sess, catalog))
	h.advance(time.Second)
	assert.Greater(t, h.mx.Context().LiveNodes(), base)

	h.eng.Stop()
	assert.False(t, h.eng.Status().IsPlaying)
	h.advance(500 * time.Millisecond)
	assert.Greater(t, h.mx.Context().LiveNodes(), base, "nodes live during the fade")
	h.advance(100 * time.Millisecond)
	assert.Equal(t, base, h.mx.Context().LiveNodes())
	assert.Equal(t, 1, h.dev.suspends)
}

func TestRotationLoopRunsOnlyWhilePlaying(t *testing.T) {
	h := newHarness(t)
	h.eng.SetSpatialization(mixer.Main, spatial.Rotate, spatial.Settings{Speed: 100, Depth: 100})
	assert.Zero(t, h.clk.Pending(), "no loop before playback")

	require.NoError(t, h.eng.Play(context.Background(), catalog["alpha"]))
	h.advance(time.Second)
	pan, _ := h.mx.Pan(mixer.Main)
	assert.Greater(t, pan, 0.5, "0.3 Hz rotation is past 90 degrees after one second")

	require.NoError(t, h.eng.Pause())
	assert.Zero(t, h.clk.Pending(), "pause parks the animation loop")

	require.NoError(t, h.eng.Resume(context.Background()))
	assert.NotZero(t, h.clk.Pending())
	h.advance(time.Second)

	h.eng.Stop()
	h.advance(time.Second)
	assert.Zero(t, h.clk.Pending(), "stop cancels every timer, including the animation loop")
}

func TestFreePlayIncludesToggledLayers(t *testing.T) {
	h := newHarness(t)
	rain := catalog["rain"]
	require.NoError(t, h.eng.ToggleLayer(mixer.Layer2, true, &rain))
	require.NoError(t, h.eng.Play(context.Background(), catalog["alpha"]))
	h.advance(time.Second)
	assert.Equal(t, 2, h.mx.Active())

	require.NoError(t, h.eng.ToggleLayer(mixer.Layer2, false, nil))
	h.advance(time.Second)
	assert.Equal(t, 1, h.mx.Active())
	assert.InDelta(t, mixer.TargetGain(synth.Binaural, mixer.DefaultMainVolume, 1), h.mx.Gain(mixer.Main), 1e-9)
}

func TestCountdownStopsPlayback(t *testing.T) {
	h := newHarness(t)
	var ticks []time.Duration
	h.eng.SetTimerFunc(func(d time.Duration) { ticks = append(ticks, d) })
	require.NoError(t, h.eng.Play(context.Background(), catalog["alpha"]))
	require.NoError(t, h.eng.SetTimer(3*time.Second))
	assert.True(t, h.eng.Status().TimerActive)

	h.advance(3 * time.Second)
	st := h.eng.Status()
	assert.False(t, st.IsPlaying)
	assert.False(t, st.TimerActive)
	assert.Equal(t, []time.Duration{2 * time.Second, time.Second, 0}, ticks)

	assert.ErrorIs(t, h.eng.SetTimer(0), audio.ErrInvalidParams)
}

func TestClearTimer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.eng.Play(context.Background(), catalog["alpha"]))
	require.NoError(t, h.eng.SetTimer(time.Second))
	h.eng.ClearTimer()
	h.advance(2 * time.Second)
	assert.True(t, h.eng.Status().IsPlaying)
}

func TestNaturalFinishClearsTimer(t *testing.T) {
	h := newHarness(t)
	sess := session.Session{ID: "s", Steps: []session.Step{{Duration: 2, Main: "alpha"}}}
	require.NoError(t, h.eng.Start(context.Background(), sess, catalog))
	require.NoError(t, h.eng.SetTimer(time.Minute))

	h.advance(3 * time.Second)
	st := h.eng.Status()
	assert.Equal(t, session.Idle, st.State)
	assert.False(t, st.TimerActive)
	assert.Zero(t, st.TimerRemaining)
	assert.Zero(t, h.clk.Pending(), "the countdown must not outlive the session")
}

func TestObserversReceiveCompletionAndMindfulTime(t *testing.T) {
	h := newHarness(t)
	var completed []session.Completed
	var mindful []time.Duration
	h.eng.SetCompletionFunc(func(c session.Completed) { completed = append(completed, c) })
	h.eng.SetMindfulFunc(func(d time.Duration) { mindful = append(mindful, d) })

	sess := session.Session{ID: "deep", Name: "Deep", Steps: []session.Step{{Duration: 900, Main: "alpha"}}}
	require.NoError(t, h.eng.Start(context.Background(), sess, catalog))
	h.clk.Advance(200 * time.Second)
	require.NoError(t, h.eng.Pause())
	require.NoError(t, h.eng.Resume(context.Background()))
	h.clk.Advance(110 * time.Second)
	h.eng.Stop()

	assert.Equal(t, []time.Duration{200 * time.Second, 110 * time.Second}, mindful)
	require.Len(t, completed, 1)
	assert.Equal(t, "deep", completed[0].ID)
	assert.Equal(t, 310*time.Second, completed[0].Cumulative)
}

func TestResumeFailureLeavesIdle(t *testing.T) {
	h := newHarness(t)
	h.dev.resumeErr = audio.ErrResumeFailure
	err := h.eng.Play(context.Background(), catalog["alpha"])
	assert.ErrorIs(t, err, audio.ErrResumeFailure)
	assert.Equal(t, session.Idle, h.eng.Status().State)
	assert.Zero(t, h.mx.Active())
}

func TestBreathPhaseValidation(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.eng.SetBreathPhase(1.5), audio.ErrInvalidParams)
	assert.NoError(t, h.eng.SetBreathPhase(0.5))
}

func TestStatusJSON(t *testing.T) {
	h := newHarness(t)
	var seen []Status
	h.eng.SetStatusFunc(func(s Status) { seen = append(seen, s) })
	require.NoError(t, h.eng.Play(context.Background(), catalog["alpha"]))
	require.NotEmpty(t, seen)

	b, err := json.Marshal(h.eng.Status())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"is_playing":true`)
	assert.Contains(t, string(b), `"state":"playing"`)
	assert.Contains(t, string(b), `"id":"main"`)
}

func TestCloseReleasesDevice(t *testing.T) {
	h := newHarness(t)
	base := h.mx.Context().LiveNodes()
	require.NoError(t, h.eng.Play(context.Background(), catalog["alpha"]))
	require.NoError(t, h.eng.Close())
	assert.True(t, h.dev.closed)
	assert.Equal(t, base, h.mx.Context().LiveNodes())
}
