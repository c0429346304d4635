// Package echo implements the guard that keeps Cherry from hearing itself.
//
// The playback worker marks the guard busy for as long as speech is queued
// or playing, and the pipeline discards every captured frame while it is
// busy.
package echo

import "sync/atomic"

// Guard is a process-wide busy flag. The zero value is idle and ready to
// use. Pass it by pointer.
type Guard struct {
	busy atomic.Bool
}

// IsBusy reports whether speech output is active.
func (g *Guard) IsBusy() bool { return g.busy.Load() }

// SetBusy sets the flag.
func (g *Guard) SetBusy(busy bool) { g.busy.Store(busy) }
