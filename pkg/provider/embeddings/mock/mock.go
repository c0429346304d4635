// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cherry/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
//
// When Vectors has an entry for the text, that vector is returned; otherwise
// EmbedResult is.
type Provider struct {
	mu sync.Mutex

	Vectors         map[string][]float32
	EmbedResult     []float32
	EmbedErr        error
	DimensionsValue int
	ModelIDValue    string

	// EmbedCalls records the text of every Embed call in order.
	EmbedCalls []string
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed records the call and returns the configured vector or EmbedErr.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if v, ok := p.Vectors[text]; ok {
		return v, nil
	}
	return p.EmbedResult, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// Calls returns a copy of the recorded Embed texts.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.EmbedCalls...)
}
