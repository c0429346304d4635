package resilience

import (
	"context"

	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] over an ordered list of backends. An
// empty transcript is a successful answer and does not fail over.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an STTFallback preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Transcribe asks each healthy backend in turn until one answers.
func (f *STTFallback) Transcribe(ctx context.Context, utterance audio.Frame) (stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, utterance)
	})
}
