// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Segmenter to script the Signal returned for each processed frame.
//
// Example:
//
//	seg := &mock.Segmenter{Signals: []vad.Signal{vad.Continue, vad.Ended}}
//	eng := &mock.Engine{Segmenter: seg}
package mock

import (
	"sync"

	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Segmenter is returned by NewSession. If nil, a new default Segmenter is
	// returned.
	Segmenter vad.Segmenter

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every NewSession call in order.
	NewSessionCalls []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

// NewSession records the call and returns Segmenter, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.Segmenter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Segmenter != nil {
		return e.Segmenter, nil
	}
	return &Segmenter{}, nil
}

// Segmenter is a mock implementation of vad.Segmenter. Each Process call pops
// the next entry from Signals; once Signals is exhausted, Default is
// returned. A Continue popped from PauseAt positions reports Pausing.
type Segmenter struct {
	mu sync.Mutex

	// Signals are returned in order by Process.
	Signals []vad.Signal

	// Default is returned when Signals is exhausted (zero value: Background).
	Default vad.Signal

	// PauseAt lists Process call indexes (0-based) for which Pausing reports true.
	PauseAt map[int]bool

	// Frames records every frame passed to Process.
	Frames []audio.Frame

	// ResetCalls counts Reset invocations.
	ResetCalls int

	pausing bool
}

var _ vad.Segmenter = (*Segmenter)(nil)

// Process implements vad.Segmenter.
func (s *Segmenter) Process(frame audio.Frame) vad.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.Frames)
	s.Frames = append(s.Frames, frame)
	s.pausing = s.PauseAt[idx]
	if len(s.Signals) == 0 {
		return s.Default
	}
	sig := s.Signals[0]
	s.Signals = s.Signals[1:]
	return sig
}

// Pausing implements vad.Segmenter.
func (s *Segmenter) Pausing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pausing
}

// Reset implements vad.Segmenter.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
	s.pausing = false
}

// ProcessCount returns the number of frames processed so far.
func (s *Segmenter) ProcessCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// Resets returns the number of Reset calls so far.
func (s *Segmenter) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResetCalls
}
