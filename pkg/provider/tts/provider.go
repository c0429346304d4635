// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A provider turns one reply into 16-bit little-endian mono PCM at the rate
// reported by SampleRate. Audio is delivered as a channel of chunks so
// playback can start before the whole reply is rendered.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/cherry/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice. The returned channel is
	// closed when all audio has been emitted, when synthesis fails part-way,
	// or when ctx is cancelled. Callers must drain it.
	//
	// A non-nil error means synthesis could not be started.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error)

	// SampleRate is the rate of the PCM emitted by Synthesize.
	SampleRate() int

	// ListVoices returns the voices the backend currently offers.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
