// Package vad defines the Engine interface for voice activity segmentation.
//
// A VAD engine classifies audio frames one at a time and tracks whether the
// speaker is mid-utterance. Each session keeps its own state (speaking flag,
// accumulated trailing silence) so independent streams never interfere.
//
// Segmentation is synchronous: Process returns immediately with a [Signal],
// making it suitable for the hot loop that gates what is sent to the backend.
package vad

import (
	"time"

	"github.com/MrWong99/cherry/pkg/audio"
)

// Signal is the per-frame segmentation result.
type Signal int

const (
	// Background means no speech has started in the current segment.
	Background Signal = iota

	// Continue means speech is ongoing, or the speaker is pausing and may
	// resume.
	Continue

	// Ended means the speaker was talking and has now been silent for at
	// least the configured silence duration. The session resets itself.
	Ended
)

// String returns the human-readable name of the signal.
func (s Signal) String() string {
	switch s {
	case Background:
		return "BACKGROUND"
	case Continue:
		return "CONTINUE"
	case Ended:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Config holds the parameters for a segmentation session.
type Config struct {
	// Threshold is the RMS level (normalised samples) at or above which a frame
	// counts as speech. Typical: 0.02.
	Threshold float64

	// SilenceDuration is how long the speaker must stay quiet after speaking
	// before the utterance is considered ended. Typical: 1.5s.
	SilenceDuration time.Duration
}

// Segmenter is an active segmentation session for a single audio stream.
//
// A Segmenter should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type Segmenter interface {
	// Process classifies one frame and advances the session state.
	Process(frame audio.Frame) Signal

	// Pausing reports whether the most recent frame was a silent frame inside
	// an utterance (i.e. Process returned Continue for a quiet frame).
	Pausing() bool

	// Reset clears the speaking flag and the accumulated silence.
	Reset()
}

// Engine is the factory for segmentation sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a session with the given configuration. Returns an
	// error if the configuration is invalid.
	NewSession(cfg Config) (Segmenter, error)
}
