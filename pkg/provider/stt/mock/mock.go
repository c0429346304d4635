// Package mock provides test doubles for the stt package interfaces.
//
// Provider returns scripted transcripts and records every utterance it was
// asked to transcribe.
//
// Example:
//
//	p := &mock.Provider{Texts: []string{"open the calculator"}}
//	tr, _ := p.Transcribe(ctx, utterance)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Texts are returned in order by Transcribe. Once exhausted, Default is
	// returned.
	Texts []string

	// Default is returned when Texts is exhausted.
	Default string

	// Err, if non-nil, is returned from every Transcribe call.
	Err error

	// Calls records every utterance passed to Transcribe.
	Calls []audio.Frame
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, utterance audio.Frame) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, utterance)
	if p.Err != nil {
		return stt.Transcript{}, p.Err
	}
	text := p.Default
	if len(p.Texts) > 0 {
		text = p.Texts[0]
		p.Texts = p.Texts[1:]
	}
	return stt.Transcript{Text: text, Duration: utterance.Duration()}, nil
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
