// Package mock provides a test double for the wake.Spotter interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/provider/wake"
)

// Spotter is a mock implementation of wake.Spotter. Detect reports true for
// the call indexes (0-based) listed in TriggerAt.
type Spotter struct {
	mu sync.Mutex

	// TriggerAt lists Detect call indexes that report a detection.
	TriggerAt map[int]bool

	// Err, if non-nil, is returned from every Detect call.
	Err error

	// Frames records every frame passed to Detect.
	Frames []audio.Frame

	// ResetCalls counts Reset invocations.
	ResetCalls int
}

var _ wake.Spotter = (*Spotter)(nil)

// Detect implements wake.Spotter.
func (s *Spotter) Detect(_ context.Context, frame audio.Frame) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.Frames)
	s.Frames = append(s.Frames, frame)
	if s.Err != nil {
		return false, s.Err
	}
	return s.TriggerAt[idx], nil
}

// Reset implements wake.Spotter.
func (s *Spotter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
}

// DetectCount returns the number of Detect calls.
func (s *Spotter) DetectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// Resets returns the number of Reset calls.
func (s *Spotter) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResetCalls
}
