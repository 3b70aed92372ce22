// Package engine is the single authoritative owner of the audio output,
// the layers, the session sequencer and the auto-stop countdown. Callers
// drive playback only through its methods.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/satindergrewal/tonal/internal/audio"
	"github.com/satindergrewal/tonal/internal/clock"
	"github.com/satindergrewal/tonal/internal/device"
	"github.com/satindergrewal/tonal/internal/graph"
	"github.com/satindergrewal/tonal/internal/mixer"
	"github.com/satindergrewal/tonal/internal/session"
	"github.com/satindergrewal/tonal/internal/spatial"
	"github.com/satindergrewal/tonal/internal/synth"
	"github.com/satindergrewal/tonal/internal/telemetry"
)

// AnimationInterval is the spatialization frame period.
const AnimationInterval = time.Second / 60

// Status is the engine snapshot served to observers. Times are in seconds.
type Status struct {
	State          session.State                      `json:"state"`
	IsPlaying      bool                               `json:"is_playing"`
	SessionID      string                             `json:"session_id,omitempty"`
	SessionName    string                             `json:"session_name,omitempty"`
	StepIndex      int                                `json:"step_index"`
	StepCount      int                                `json:"step_count"`
	ElapsedInStep  float64                            `json:"elapsed_in_step"`
	StepDuration   float64                            `json:"step_duration"`
	Cumulative     float64                            `json:"cumulative"`
	TimerActive    bool                               `json:"timer_active"`
	TimerRemaining float64                            `json:"timer_remaining"`
	Layers         [mixer.NumLayers]mixer.LayerStatus `json:"layers"`
}

// Engine owns the exclusive output device and everything that feeds it.
type Engine struct {
	clk       clock.Clock
	dev       device.Device
	mixer     *mixer.Mixer
	seq       *session.Sequencer
	countdown *clock.Countdown
	tracer    trace.Tracer

	mu          sync.Mutex
	animGen     int
	animTimer   clock.Timer
	animLast    time.Time
	onStatus    func(Status)
	onCompleted func(session.Completed)
	onMindful   func(time.Duration)
	onTimer     func(time.Duration)
}

// New wires an engine around dev, which must render from mx. A zero
// qualifying threshold uses session.DefaultQualifying.
func New(dev device.Device, mx *mixer.Mixer, clk clock.Clock, qualifying time.Duration) *Engine {
	e := &Engine{
		clk:    clk,
		dev:    dev,
		mixer:  mx,
		tracer: telemetry.Tracer(),
	}
	e.seq = session.New(clk, output{dev: dev, mx: mx}, qualifying)
	e.countdown = clock.NewCountdown(clk, e.timerTick, e.timerExpired)

	e.seq.SetStatusFunc(func(snap session.Snapshot) {
		if snap.State == session.Idle {
			e.countdown.Stop()
		}
		e.syncAnimation()
		e.notify()
	})
	e.seq.SetCompletionFunc(func(c session.Completed) {
		log.Printf("Session completed: %s (%s)", c.Name, c.Cumulative.Round(time.Second))
		e.mu.Lock()
		fn := e.onCompleted
		e.mu.Unlock()
		if fn != nil {
			fn(c)
		}
	})
	e.seq.SetMindfulFunc(func(d time.Duration) {
		e.mu.Lock()
		fn := e.onMindful
		e.mu.Unlock()
		if fn != nil {
			fn(d)
		}
	})
	return e
}

// SetStatusFunc registers a callback for ticks and state changes.
func (e *Engine) SetStatusFunc(fn func(Status)) {
	e.mu.Lock()
	e.onStatus = fn
	e.mu.Unlock()
}

// SetCompletionFunc registers the callback for qualifying sessions.
func (e *Engine) SetCompletionFunc(fn func(session.Completed)) {
	e.mu.Lock()
	e.onCompleted = fn
	e.mu.Unlock()
}

// SetMindfulFunc registers the callback receiving listening time deltas on
// pause and stop.
func (e *Engine) SetMindfulFunc(fn func(time.Duration)) {
	e.mu.Lock()
	e.onMindful = fn
	e.mu.Unlock()
}

// SetTimerFunc registers the callback receiving the countdown each second.
func (e *Engine) SetTimerFunc(fn func(time.Duration)) {
	e.mu.Lock()
	e.onTimer = fn
	e.mu.Unlock()
}

// Start plays sess, stopping whatever was playing first. With
// audio.ErrAutoplayBlocked the session is built and paused until Resume.
func (e *Engine) Start(ctx context.Context, sess session.Session, lookup session.Lookup) error {
	ctx, span := e.tracer.Start(ctx, "engine.Start", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.Int("session.steps", len(sess.Steps)),
	))
	defer span.End()

	e.stopAnimation()
	err := e.seq.Start(ctx, sess, lookup)
	e.syncAnimation()
	return record(span, err)
}

// Play plays main on its own, together with any optional layers currently
// toggled on. There is no step deadline.
func (e *Engine) Play(ctx context.Context, main synth.Frequency) error {
	ctx, span := e.tracer.Start(ctx, "engine.Play", trace.WithAttributes(
		attribute.String("frequency.id", main.ID),
		attribute.String("frequency.mode", string(main.Mode)),
	))
	defer span.End()

	layers := e.mixer.Selection()
	layers[mixer.Main] = &main
	e.stopAnimation()
	err := e.seq.Play(ctx, layers)
	e.syncAnimation()
	return record(span, err)
}

// Pause fades out and freezes the step clock.
func (e *Engine) Pause() error {
	err := e.seq.Pause()
	e.syncAnimation()
	return err
}

// Resume wakes the device and continues the current step where it paused.
func (e *Engine) Resume(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "engine.Resume")
	defer span.End()
	err := e.seq.Resume(ctx)
	e.syncAnimation()
	return record(span, err)
}

// Stop fades out and tears everything down. The auto-stop countdown is
// cleared.
func (e *Engine) Stop() {
	_, span := e.tracer.Start(context.Background(), "engine.Stop")
	defer span.End()
	e.stopAnimation()
	e.countdown.Stop()
	e.seq.Stop()
}

// ToggleLayer turns layer2 or layer3 on or off. f, when non-nil, becomes
// the layer's frequency.
func (e *Engine) ToggleLayer(id mixer.ID, on bool, f *synth.Frequency) error {
	if err := e.mixer.Toggle(id, on, f); err != nil {
		return err
	}
	e.notify()
	return nil
}

// SetLayerFrequency retunes a layer. A sounding layer is torn down and
// rebuilt.
func (e *Engine) SetLayerFrequency(id mixer.ID, f synth.Frequency) error {
	if err := e.mixer.SetFrequency(id, f); err != nil {
		return err
	}
	e.notify()
	return nil
}

// SetVolume sets a layer's volume in 0..100.
func (e *Engine) SetVolume(id mixer.ID, volume int) {
	e.mixer.SetVolume(id, volume)
	e.notify()
}

// SetSpatialization selects a layer's spatial drive.
func (e *Engine) SetSpatialization(id mixer.ID, mode spatial.Mode, s spatial.Settings) {
	e.mixer.SetSpatial(id, mode, s)
	e.syncAnimation()
	e.notify()
}

// SetBreathPhase feeds the breathing guide's phase progress in [0, 1].
func (e *Engine) SetBreathPhase(progress float64) error {
	if progress < 0 || progress > 1 {
		return fmt.Errorf("%w: breath progress %g outside [0, 1]", audio.ErrInvalidParams, progress)
	}
	e.mixer.SetBreathProgress(progress)
	return nil
}

// SetTimer arms the auto-stop d from now.
func (e *Engine) SetTimer(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: timer must be positive", audio.ErrInvalidParams)
	}
	e.countdown.Start(d)
	log.Printf("Auto-stop in %s", d)
	e.notify()
	return nil
}

// ClearTimer disarms the auto-stop.
func (e *Engine) ClearTimer() {
	e.countdown.Stop()
	e.notify()
}

func (e *Engine) timerTick(remaining time.Duration) {
	e.mu.Lock()
	fn := e.onTimer
	e.mu.Unlock()
	if fn != nil {
		fn(remaining)
	}
}

func (e *Engine) timerExpired() {
	log.Printf("Auto-stop timer expired")
	e.Stop()
}

// Analyser returns the visualization tap.
func (e *Engine) Analyser() *graph.Analyser {
	return e.mixer.Analyser()
}

// Status returns the current snapshot.
func (e *Engine) Status() Status {
	snap := e.seq.Snapshot()
	st := Status{
		State:         snap.State,
		IsPlaying:     snap.IsPlaying(),
		SessionID:     snap.SessionID,
		SessionName:   snap.SessionName,
		StepIndex:     snap.StepIndex,
		StepCount:     snap.StepCount,
		ElapsedInStep: snap.ElapsedInStep.Seconds(),
		StepDuration:  snap.StepDuration.Seconds(),
		Cumulative:    snap.Cumulative.Seconds(),
		Layers:        e.mixer.Status(),
	}
	if rem, ok := e.countdown.Remaining(); ok {
		st.TimerActive = true
		st.TimerRemaining = rem.Seconds()
	}
	return st
}

// Close stops playback at once and releases the device.
func (e *Engine) Close() error {
	e.Stop()
	e.mixer.Teardown()
	return e.dev.Close()
}

func (e *Engine) notify() {
	e.mu.Lock()
	fn := e.onStatus
	e.mu.Unlock()
	if fn != nil {
		fn(e.Status())
	}
}

// syncAnimation runs the spatial loop exactly while something is playing
// and a layer rotates or follows the breath guide.
func (e *Engine) syncAnimation() {
	want := e.seq.Snapshot().State == session.Playing && e.mixer.Spatializing()
	e.mu.Lock()
	defer e.mu.Unlock()
	if want == (e.animTimer != nil) {
		return
	}
	e.cancelAnimationLocked()
	if want {
		gen := e.animGen
		e.animLast = e.clk.Now()
		e.animTimer = e.clk.AfterFunc(AnimationInterval, func() { e.animate(gen) })
	}
}

func (e *Engine) stopAnimation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelAnimationLocked()
}

func (e *Engine) cancelAnimationLocked() {
	e.animGen++
	if e.animTimer != nil {
		e.animTimer.Stop()
		e.animTimer = nil
	}
}

func (e *Engine) animate(gen int) {
	e.mu.Lock()
	if gen != e.animGen {
		e.mu.Unlock()
		return
	}
	now := e.clk.Now()
	dt := now.Sub(e.animLast)
	e.animLast = now
	e.animTimer = e.clk.AfterFunc(AnimationInterval, func() { e.animate(gen) })
	e.mu.Unlock()

	e.mixer.StepSpatial(dt)
}

func record(span trace.Span, err error) error {
	if err != nil && !errors.Is(err, audio.ErrAutoplayBlocked) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// output adapts the device and mixer to the sequencer's driver.
type output struct {
	dev device.Device
	mx  *mixer.Mixer
}

func (o output) Resume(ctx context.Context) error { return o.dev.Resume(ctx) }

func (o output) Apply(layers session.Layers) error { return o.mx.Apply(layers) }

func (o output) Mute()   { o.mx.Mute() }
func (o output) Unmute() { o.mx.Unmute() }

func (o output) Release(d time.Duration) { o.mx.Release(d) }

func (o output) Teardown() {
	o.mx.Teardown()
	if err := o.dev.Suspend(); err != nil {
		log.Printf("Device suspend failed: %v", err)
	}
}
