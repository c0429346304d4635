// Package energy implements a root-mean-square energy [vad.Engine].
//
// A frame whose RMS is at or above the threshold is speech. Trailing silence
// is counted in samples rather than frames, so the end of an utterance is
// detected after the same wall-clock silence regardless of the frame size in
// use, and frames whose length is not a whole number of nanoseconds do not
// drift.
package energy

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/provider/vad"
)

// Defaults used when a Config field is zero.
const (
	DefaultThreshold       = 0.02
	DefaultSilenceDuration = 1500 * time.Millisecond
)

// Engine creates energy [Segmenter] sessions.
type Engine struct{}

var _ vad.Engine = Engine{}

// NewSession implements [vad.Engine].
func (Engine) NewSession(cfg vad.Config) (vad.Segmenter, error) {
	return New(cfg)
}

// Segmenter is the energy implementation of [vad.Segmenter]. Its thresholds
// can be changed at runtime with [Segmenter.Update]; it is safe for
// concurrent use.
type Segmenter struct {
	mu        sync.Mutex
	threshold float64
	silence   time.Duration

	speaking bool
	pausing  bool

	// Trailing silence as a sample count at silentRate.
	silentSamples int
	silentRate    int
}

var _ vad.Segmenter = (*Segmenter)(nil)

// New validates cfg, applies defaults and returns a Segmenter.
func New(cfg vad.Config) (*Segmenter, error) {
	s := &Segmenter{}
	if err := s.Update(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Update replaces the threshold and silence duration. Zero fields select
// the defaults. The current speaking state is kept.
func (s *Segmenter) Update(cfg vad.Config) error {
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return errors.New("energy: threshold must be within [0, 1]")
	}
	if cfg.SilenceDuration < 0 {
		return errors.New("energy: silence duration must not be negative")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SilenceDuration == 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}
	s.mu.Lock()
	s.threshold = cfg.Threshold
	s.silence = cfg.SilenceDuration
	s.mu.Unlock()
	return nil
}

// Process implements [vad.Segmenter].
func (s *Segmenter) Process(frame audio.Frame) vad.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if frame.RMS() >= s.threshold {
		s.speaking = true
		s.clearSilence()
		return vad.Continue
	}
	if !s.speaking {
		s.pausing = false
		return vad.Background
	}

	s.addSilence(frame)
	if s.silentRate > 0 && time.Duration(s.silentSamples)*time.Second >= s.silence*time.Duration(s.silentRate) {
		s.speaking = false
		s.clearSilence()
		return vad.Ended
	}
	s.pausing = true
	return vad.Continue
}

// addSilence counts frame towards the trailing silence. A rate change
// rescales the count already held.
func (s *Segmenter) addSilence(frame audio.Frame) {
	if frame.SampleRate <= 0 {
		return
	}
	if s.silentRate != frame.SampleRate {
		if s.silentRate > 0 {
			s.silentSamples = s.silentSamples * frame.SampleRate / s.silentRate
		}
		s.silentRate = frame.SampleRate
	}
	s.silentSamples += len(frame.Samples)
}

func (s *Segmenter) clearSilence() {
	s.silentSamples = 0
	s.silentRate = 0
	s.pausing = false
}

// Pausing implements [vad.Segmenter].
func (s *Segmenter) Pausing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pausing
}

// Reset implements [vad.Segmenter].
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
	s.clearSilence()
}
