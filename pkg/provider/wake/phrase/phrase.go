// Package phrase implements a [wake.Spotter] that transcribes a rolling window
// of recent audio with any [stt.Provider] and looks for the wake phrase in the
// text.
//
// The spotter keeps the last Window frames. Every Stride frames, if the
// window carries enough energy to plausibly contain speech, the window is
// transcribed and scored with a phonetic [Matcher], so near-misses such as
// "hey cheri" still trigger "hey cherry".
package phrase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/provider/stt"
	"github.com/MrWong99/cherry/pkg/provider/wake"
)

// Defaults.
const (
	DefaultPhrase    = "hey cherry"
	DefaultWindow    = 24
	DefaultStride    = 8
	DefaultThreshold = 0.80
	DefaultMinEnergy = 0.01
)

// Option configures a [Spotter].
type Option func(*Spotter)

// WithPhrase sets the wake phrase. Default: "hey cherry".
func WithPhrase(p string) Option {
	return func(s *Spotter) { s.phrase = p }
}

// WithWindow sets how many recent frames are transcribed. Default: 24.
func WithWindow(frames int) Option {
	return func(s *Spotter) { s.window = frames }
}

// WithStride sets how many frames arrive between checks. Default: 8.
func WithStride(frames int) Option {
	return func(s *Spotter) { s.stride = frames }
}

// WithThreshold sets the minimum match score (0–1). Default: 0.80.
func WithThreshold(th float64) Option {
	return func(s *Spotter) { s.threshold = th }
}

// WithMinEnergy sets the window RMS below which transcription is skipped.
// Default: 0.01.
func WithMinEnergy(rms float64) Option {
	return func(s *Spotter) { s.minEnergy = rms }
}

// Spotter is the transcription-based [wake.Spotter].
type Spotter struct {
	stt       stt.Provider
	phrase    string
	window    int
	stride    int
	threshold float64
	minEnergy float64
	matcher   *Matcher

	frames []audio.Frame
	seen   int
}

var _ wake.Spotter = (*Spotter)(nil)

// New creates a Spotter that transcribes with provider.
func New(provider stt.Provider, opts ...Option) (*Spotter, error) {
	if provider == nil {
		return nil, errors.New("phrase: stt provider must not be nil")
	}
	s := &Spotter{
		stt:       provider,
		phrase:    DefaultPhrase,
		window:    DefaultWindow,
		stride:    DefaultStride,
		threshold: DefaultThreshold,
		minEnergy: DefaultMinEnergy,
	}
	for _, o := range opts {
		o(s)
	}
	if s.window <= 0 || s.stride <= 0 {
		return nil, fmt.Errorf("phrase: window (%d) and stride (%d) must be positive", s.window, s.stride)
	}
	if len(normalise(s.phrase)) == 0 {
		return nil, errors.New("phrase: wake phrase must contain at least one word")
	}
	s.matcher = NewMatcher(s.phrase, s.threshold)
	return s, nil
}

// Phrase returns the configured wake phrase.
func (s *Spotter) Phrase() string { return s.phrase }

// Detect implements [wake.Spotter].
func (s *Spotter) Detect(ctx context.Context, frame audio.Frame) (bool, error) {
	s.frames = append(s.frames, frame)
	if len(s.frames) > s.window {
		s.frames = s.frames[len(s.frames)-s.window:]
	}
	s.seen++
	if s.seen%s.stride != 0 {
		return false, nil
	}

	buf := audio.Concat(s.frames...)
	if buf.RMS() < s.minEnergy {
		return false, nil
	}

	tr, err := s.stt.Transcribe(ctx, buf)
	if err != nil {
		return false, fmt.Errorf("phrase: transcribe window: %w", err)
	}
	score, ok := s.matcher.Match(tr.Text)
	if !ok {
		return false, nil
	}
	slog.Debug("wake phrase detected", "text", tr.Text, "score", score)
	s.Reset()
	return true, nil
}

// Reset implements [wake.Spotter].
func (s *Spotter) Reset() {
	s.frames = nil
	s.seen = 0
}
