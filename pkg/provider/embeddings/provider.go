// Package embeddings defines the Provider interface for vector embedding
// backends. Embeddings give the long-term fact store semantic recall.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to a dense vector. Every vector returned by one Provider
// has length Dimensions().
type Provider interface {
	// Embed computes the embedding vector for text. Text is passed through
	// verbatim; model-specific prefixes are the caller's concern.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed vector length, or 0 when it cannot be
	// determined.
	Dimensions() int

	// ModelID returns the provider-specific model identifier.
	ModelID() string
}
