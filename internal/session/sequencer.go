package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/satindergrewal/tonal/internal/audio"
	"github.com/satindergrewal/tonal/internal/clock"
)

const (
	// StopFade is how long stop takes to fade every layer out.
	StopFade = 500 * time.Millisecond
	// TeardownDelay is when the graph is released after stop begins.
	TeardownDelay = 600 * time.Millisecond
	// DefaultQualifying is the cumulative playback a session needs before
	// stopping it emits Completed.
	DefaultQualifying = 300 * time.Second

	tickInterval = time.Second
)

// Driver is what the sequencer drives: the output device and the layers.
type Driver interface {
	// Resume wakes the output device. It may fail with audio.ErrAutoplayBlocked
	// (retry on a later Resume) or audio.ErrResumeFailure.
	Resume(ctx context.Context) error
	// Apply tears down every layer, then builds the given ones. Layers
	// still sounding fade out before they are torn down.
	Apply(layers Layers) error
	Mute()
	Unmute()
	// Release fades everything out over d without releasing sources.
	Release(d time.Duration)
	// Teardown releases every source.
	Teardown()
}

// Snapshot is the sequencer's externally visible state.
type Snapshot struct {
	State         State         `json:"state"`
	SessionID     string        `json:"session_id,omitempty"`
	SessionName   string        `json:"session_name,omitempty"`
	StepIndex     int           `json:"step_index"`
	StepCount     int           `json:"step_count"`
	ElapsedInStep time.Duration `json:"elapsed_in_step"`
	StepDuration  time.Duration `json:"step_duration"`
	Cumulative    time.Duration `json:"cumulative"`
}

// IsPlaying reports whether audio is audible and advancing.
func (s Snapshot) IsPlaying() bool { return s.State == Playing }

// Sequencer is the playback state machine: Idle, Playing and Paused, with
// Stopping while the fade-out runs. Only one program plays at a time.
//
// Step transitions are driven by a one-shot deadline per step; a separate
// 1 Hz tick only feeds observers, so observer jitter never moves playback.
type Sequencer struct {
	clk        clock.Clock
	drv        Driver
	qualifying time.Duration

	mu      sync.Mutex
	state   State
	session *Session // nil during free play
	steps   []Layers
	step    int

	completed time.Duration // durations of finished steps
	accrued   time.Duration // time in the current step before resumedAt
	resumedAt time.Time
	reported  time.Duration // cumulative already sent to onMindful

	gen      int
	deadline clock.Timer
	ticker   clock.Timer
	finish   clock.Timer

	onStatus    func(Snapshot)
	onCompleted func(Completed)
	onMindful   func(time.Duration)
	pending     []func()
}

// New creates an idle sequencer. A zero qualifying threshold means
// DefaultQualifying.
func New(clk clock.Clock, drv Driver, qualifying time.Duration) *Sequencer {
	if qualifying <= 0 {
		qualifying = DefaultQualifying
	}
	return &Sequencer{clk: clk, drv: drv, qualifying: qualifying}
}

// SetStatusFunc registers a callback for every tick and state change.
func (s *Sequencer) SetStatusFunc(fn func(Snapshot)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

// SetCompletionFunc registers the qualifying-session callback.
func (s *Sequencer) SetCompletionFunc(fn func(Completed)) {
	s.mu.Lock()
	s.onCompleted = fn
	s.mu.Unlock()
}

// SetMindfulFunc registers a callback that receives the playback time
// accumulated since the previous report, on every pause and stop.
func (s *Sequencer) SetMindfulFunc(fn func(time.Duration)) {
	s.mu.Lock()
	s.onMindful = fn
	s.mu.Unlock()
}

// unlock releases the lock, then runs the notifications queued while it
// was held.
func (s *Sequencer) unlock() {
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// Start stops whatever is playing and starts sess from its first step.
// Every step is resolved first, so a bad reference leaves the current
// playback untouched.
func (s *Sequencer) Start(ctx context.Context, sess Session, lookup Lookup) error {
	steps, err := sess.Resolve(lookup)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.unlock()
	return s.beginLocked(ctx, &sess, steps)
}

// Play stops whatever is playing and plays layers with no step deadline.
// An invalid main frequency leaves the current playback untouched.
func (s *Sequencer) Play(ctx context.Context, layers Layers) error {
	if layers[0] == nil {
		return &audio.LayerError{Layer: "main", Err: audio.ErrInvalidParams}
	}
	if err := layers[0].Validate(); err != nil {
		return &audio.LayerError{Layer: "main", Err: err}
	}
	s.mu.Lock()
	defer s.unlock()
	return s.beginLocked(ctx, nil, []Layers{layers})
}

func (s *Sequencer) beginLocked(ctx context.Context, sess *Session, steps []Layers) error {
	s.haltLocked()

	blocked := false
	if err := s.drv.Resume(ctx); err != nil {
		if !errors.Is(err, audio.ErrAutoplayBlocked) {
			log.Printf("Device resume failed: %v", err)
			return fmt.Errorf("%w: %v", audio.ErrResumeFailure, err)
		}
		blocked = true
		s.drv.Mute()
	}
	if err := s.drv.Apply(steps[0]); err != nil {
		s.drv.Teardown()
		return err
	}

	s.session = sess
	s.steps = steps
	s.step = 0
	s.completed = 0
	s.accrued = 0
	s.reported = 0
	if blocked {
		s.state = Paused
		log.Printf("Playback waiting for resume: %s", s.nameLocked())
		s.notifyStatusLocked()
		return audio.ErrAutoplayBlocked
	}
	s.drv.Unmute()
	s.state = Playing
	s.resumedAt = s.clk.Now()
	s.armLocked()
	log.Printf("Playback started: %s", s.nameLocked())
	s.notifyStatusLocked()
	return nil
}

// haltLocked ends any previous playback's accounting and timers, including
// a pending stop teardown. The graph itself is left for the next Apply,
// which fades whatever is still sounding before tearing it down.
func (s *Sequencer) haltLocked() {
	switch s.state {
	case Playing, Paused:
		s.freezeLocked()
		s.reportLocked()
		s.cancelLocked()
	case Stopping:
		s.cancelLocked()
	}
	s.state = Idle
	s.session = nil
	s.steps = nil
}

// Pause fades out and freezes the step clock. Sources keep running.
func (s *Sequencer) Pause() error {
	s.mu.Lock()
	defer s.unlock()
	if s.state != Playing {
		return audio.ErrNotPlaying
	}
	s.freezeLocked()
	s.cancelLocked()
	s.state = Paused
	s.drv.Mute()
	s.reportMindfulLocked()
	log.Printf("Playback paused at step %d (%s in)", s.step, s.accrued.Round(time.Millisecond))
	s.notifyStatusLocked()
	return nil
}

// Resume wakes the device, fades back in and reschedules the step deadline
// for whatever remained of the step when it was paused.
func (s *Sequencer) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()
	if s.state != Paused {
		return audio.ErrNotPlaying
	}
	if err := s.drv.Resume(ctx); err != nil {
		if errors.Is(err, audio.ErrAutoplayBlocked) {
			return err
		}
		log.Printf("Device resume failed, stopping: %v", err)
		s.reportLocked()
		s.cancelLocked()
		s.drv.Teardown()
		s.state = Idle
		s.session = nil
		s.steps = nil
		s.notifyStatusLocked()
		return fmt.Errorf("%w: %v", audio.ErrResumeFailure, err)
	}
	s.drv.Unmute()
	s.state = Playing
	s.resumedAt = s.clk.Now()
	s.armLocked()
	s.notifyStatusLocked()
	return nil
}

// Stop fades out and returns to Idle. The state leaves Playing at once;
// the graph is released when the fade has finished.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.unlock()
	s.stopLocked()
}

func (s *Sequencer) stopLocked() {
	if s.state != Playing && s.state != Paused {
		return
	}
	s.freezeLocked()
	s.cancelLocked()
	s.state = Stopping
	s.reportLocked()
	s.drv.Release(StopFade)
	log.Printf("Playback stopping: %s (%s total)", s.nameLocked(), s.completed+s.accrued)

	gen := s.gen
	s.finish = s.clk.AfterFunc(TeardownDelay, func() {
		s.mu.Lock()
		defer s.unlock()
		if gen != s.gen || s.state != Stopping {
			return
		}
		s.finish = nil
		s.drv.Teardown()
		s.state = Idle
		s.session = nil
		s.steps = nil
		s.notifyStatusLocked()
	})
	s.notifyStatusLocked()
}

// Snapshot returns the current state.
func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Sequencer) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.state}
	if s.state == Idle {
		return snap
	}
	snap.StepIndex = s.step
	snap.StepCount = len(s.steps)
	snap.ElapsedInStep = s.elapsedLocked()
	snap.Cumulative = s.completed + snap.ElapsedInStep
	if s.session != nil {
		snap.SessionID = s.session.ID
		snap.SessionName = s.session.Name
		snap.StepDuration = s.session.Steps[s.step].Length()
	}
	return snap
}

func (s *Sequencer) elapsedLocked() time.Duration {
	if s.state == Playing {
		return s.accrued + s.clk.Now().Sub(s.resumedAt)
	}
	return s.accrued
}

// freezeLocked folds the running interval into accrued.
func (s *Sequencer) freezeLocked() {
	if s.state == Playing {
		s.accrued += s.clk.Now().Sub(s.resumedAt)
		s.resumedAt = s.clk.Now()
	}
}

func (s *Sequencer) cancelLocked() {
	s.gen++
	for _, t := range []*clock.Timer{&s.deadline, &s.ticker, &s.finish} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

// armLocked schedules the step deadline for the rest of the current step
// and restarts the observer tick. Free play has no deadline.
func (s *Sequencer) armLocked() {
	gen := s.gen
	if s.session != nil {
		remaining := max(0, s.session.Steps[s.step].Length()-s.accrued)
		s.deadline = s.clk.AfterFunc(remaining, func() { s.advance(gen) })
	}
	s.ticker = s.clk.AfterFunc(tickInterval, func() { s.tick(gen) })
}

func (s *Sequencer) tick(gen int) {
	s.mu.Lock()
	defer s.unlock()
	if gen != s.gen || s.state != Playing {
		return
	}
	s.ticker = s.clk.AfterFunc(tickInterval, func() { s.tick(gen) })
	s.notifyStatusLocked()
}

// advance runs when the current step's deadline fires.
func (s *Sequencer) advance(gen int) {
	s.mu.Lock()
	defer s.unlock()
	if gen != s.gen || s.state != Playing {
		return
	}
	s.completed += s.session.Steps[s.step].Length()
	s.accrued = 0
	s.resumedAt = s.clk.Now()

	if s.step+1 >= len(s.steps) {
		log.Printf("Session finished: %s", s.nameLocked())
		s.stopLocked()
		return
	}

	s.cancelLocked()
	s.step++
	if err := s.drv.Apply(s.steps[s.step]); err != nil {
		log.Printf("Step %d failed to build, stopping: %v", s.step, err)
		s.stopLocked()
		return
	}
	s.armLocked()
	log.Printf("Step %d/%d: %s", s.step+1, len(s.steps), s.nameLocked())
	s.notifyStatusLocked()
}

// reportLocked queues the mindful delta and, for a qualifying session,
// the completion event.
func (s *Sequencer) reportLocked() {
	s.reportMindfulLocked()
	cumulative := s.completed + s.accrued
	if s.session == nil || cumulative < s.qualifying {
		return
	}
	if fn := s.onCompleted; fn != nil {
		ev := Completed{ID: s.session.ID, Name: s.session.Name, Cumulative: cumulative}
		s.pending = append(s.pending, func() { fn(ev) })
	}
}

func (s *Sequencer) reportMindfulLocked() {
	cumulative := s.completed + s.accrued
	delta := cumulative - s.reported
	s.reported = cumulative
	if fn := s.onMindful; fn != nil && delta > 0 {
		s.pending = append(s.pending, func() { fn(delta) })
	}
}

func (s *Sequencer) notifyStatusLocked() {
	if fn := s.onStatus; fn != nil {
		snap := s.snapshotLocked()
		s.pending = append(s.pending, func() { fn(snap) })
	}
}

func (s *Sequencer) nameLocked() string {
	if s.session == nil {
		return "free play"
	}
	if s.session.Name != "" {
		return s.session.Name
	}
	return s.session.ID
}
