// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Chunks: [][]byte{{0, 0}, {1, 0}}, Rate: 16000}
//	ch, _ := p.Synthesize(ctx, "hello", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cherry/pkg/provider/tts"
	"github.com/MrWong99/cherry/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is emitted on the channel returned by Synthesize.
	Chunks [][]byte

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// Rate is returned by SampleRate. Zero means 16000.
	Rate int

	// ListVoicesResult and ListVoicesErr are returned by ListVoices.
	ListVoicesResult []types.VoiceProfile
	ListVoicesErr    error

	// OnSynthesize, if set, runs synchronously inside Synthesize after the
	// call is recorded.
	OnSynthesize func(text string)

	calls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns a channel that emits Chunks.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.calls = append(p.calls, SynthesizeCall{Text: text, Voice: voice})
	err := p.SynthesizeErr
	chunks := make([][]byte, len(p.Chunks))
	copy(chunks, p.Chunks)
	hook := p.OnSynthesize
	p.mu.Unlock()

	if hook != nil {
		hook(text)
	}
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a copy of the recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Texts returns the text of every recorded Synthesize call in order.
func (p *Provider) Texts() []string {
	calls := p.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Text
	}
	return out
}
