package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPlatform means no audio backend is available.
	ErrUnsupportedPlatform = errors.New("unsupported platform: no audio backend available")

	// ErrInvalidParams means a sound source cannot be built from the given parameters.
	ErrInvalidParams = errors.New("invalid sound source parameters")

	// ErrResumeFailure means the output device refused to resume.
	ErrResumeFailure = errors.New("audio device resume failed")

	// ErrAutoplayBlocked means the device will not produce sound until the
	// caller explicitly resumes it.
	ErrAutoplayBlocked = errors.New("autoplay blocked: waiting for resume")

	ErrNoSession        = errors.New("no active session")
	ErrNotPlaying       = errors.New("not playing")
	ErrUnknownFrequency = errors.New("unknown frequency reference")
)

// LayerError reports a failure attributed to one layer.
type LayerError struct {
	Layer string
	Err   error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("layer %s: %v", e.Layer, e.Err)
}

func (e *LayerError) Unwrap() error { return e.Err }
