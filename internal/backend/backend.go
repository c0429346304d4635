// Package backend defines how the listener reaches Cherry's brain: one call
// turns a finished utterance plus the conversation so far into a
// transcription and a reply.
//
// Two clients exist. [github.com/MrWong99/cherry/internal/backend/local]
// runs speech-to-text and the language model in-process, and
// [github.com/MrWong99/cherry/internal/backend/remote] posts the utterance to
// a brain server over HTTP.
package backend

import (
	"context"
	"errors"

	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/types"
)

var (
	// ErrNoSpeech means the utterance held no recognisable speech.
	ErrNoSpeech = errors.New("backend: no speech recognized")

	// ErrUnavailable means the brain answered but could not produce a reply.
	ErrUnavailable = errors.New("backend: brain unavailable")

	// ErrNetwork means the brain could not be reached at all.
	ErrNetwork = errors.New("backend: network error")
)

// Reply is the brain's answer: either [Text] or [ToolCalls].
type Reply interface {
	isReply()
}

// Text is a free-form reply that may embed bracket directives.
type Text struct {
	Content string
}

// ToolCalls is a reply made of structured tool invocations only.
type ToolCalls struct {
	Calls []types.ToolCall
}

func (Text) isReply()      {}
func (ToolCalls) isReply() {}

// Result is the outcome of one conversation turn.
type Result struct {
	// Transcription is what the user said.
	Transcription string

	Reply Reply
}

// Client converses with the brain.
type Client interface {
	// Converse transcribes utterance and obtains a reply given history.
	// Implementations return [ErrNoSpeech] when nothing was said.
	Converse(ctx context.Context, utterance audio.Frame, history []types.Message) (*Result, error)

	// Status probes the brain once.
	Status(ctx context.Context) (*Status, error)
}

// Status is the brain's self-report.
type Status struct {
	Status      string `json:"status"`
	SystemStats string `json:"system_stats,omitempty"`
}

// MinTranscription is the shortest transcription treated as speech.
const MinTranscription = 2
