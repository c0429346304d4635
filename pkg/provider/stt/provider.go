// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (a local whisper.cpp server,
// in-process whisper.cpp, or a hosted API such as Deepgram) and turns one
// complete utterance into text. Cherry segments speech itself, so providers
// only ever see finished utterances; there is no streaming session.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/cherry/pkg/audio"
)

// ErrEmptyAudio is returned when Transcribe is called with an empty frame.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the transcribed speech, trimmed of surrounding whitespace.
	Text string

	// Language is the detected or configured language code, if known.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts a complete mono utterance into text. The frame may
	// be at any sample rate; providers resample internally when they need a
	// specific one. An utterance without recognisable speech yields an empty
	// Text and a nil error.
	Transcribe(ctx context.Context, utterance audio.Frame) (Transcript, error)
}
