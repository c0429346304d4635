// Package wake defines the Spotter interface for wake-phrase detection.
//
// A spotter is fed every frame the assistant hears while idle and reports
// when the configured wake phrase has been spoken. Spotters typically keep a
// short rolling window of recent audio; Reset discards it so that audio heard
// before (or during) a reply can never trigger a later detection.
package wake

import (
	"context"

	"github.com/MrWong99/cherry/pkg/audio"
)

// Spotter detects a wake phrase in a stream of frames.
//
// A Spotter is driven by a single goroutine; implementations need not be
// safe for concurrent Detect calls, but Reset may be called from the same
// goroutine between Detect calls at any time.
type Spotter interface {
	// Detect appends frame to the spotter's window and reports whether the
	// wake phrase was heard. Errors from an underlying engine are returned
	// with detected=false; the caller logs and continues.
	Detect(ctx context.Context, frame audio.Frame) (detected bool, err error)

	// Reset discards all buffered audio.
	Reset()
}
