// Package openai embeds facts through the OpenAI embeddings endpoint.
//
// The text-embedding-3 models accept a requested output size, which lets the
// vectors match a pgvector column created for a smaller model.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/cherry/pkg/provider/embeddings"
)

// DefaultModel is used when New receives an empty model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements [embeddings.Provider].
type Provider struct {
	client oai.Client
	model  string
	dims   int
}

// Option configures a Provider.
type Option func(*Provider, *[]option.RequestOption)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(_ *Provider, ro *[]option.RequestOption) {
		*ro = append(*ro, option.WithBaseURL(url))
	}
}

// WithOrganization sets the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(_ *Provider, ro *[]option.RequestOption) {
		*ro = append(*ro, option.WithOrganization(org))
	}
}

// WithDimensions requests vectors of length n. Only the text-embedding-3
// family honours it.
func WithDimensions(n int) Option {
	return func(p *Provider, _ *[]option.RequestOption) {
		p.dims = n
	}
}

// New returns a Provider authenticated with apiKey.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{model: model}
	ro := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	for _, o := range opts {
		o(p, &ro)
	}
	if p.dims < 0 {
		return nil, fmt.Errorf("openai embeddings: dimensions must be positive, got %d", p.dims)
	}
	p.client = oai.NewClient(ro...)
	return p, nil
}

// Embed returns the vector for text. Line breaks are folded into spaces
// because facts are stored as single sentences.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil, errors.New("openai embeddings: empty text")
	}
	params := oai.EmbeddingNewParams{
		Model:          p.model,
		Input:          oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
		EncodingFormat: oai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if p.dims > 0 {
		params.Dimensions = param.NewOpt(int64(p.dims))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: response carried no vector")
	}

	raw := resp.Data[0].Embedding
	if want := p.Dimensions(); len(raw) != want {
		return nil, fmt.Errorf("openai embeddings: got %d dimensions, want %d", len(raw), want)
	}
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimensions reports the requested size, or the native size of the model.
func (p *Provider) Dimensions() int {
	if p.dims > 0 {
		return p.dims
	}
	if strings.Contains(strings.ToLower(p.model), "3-large") {
		return 3072
	}
	return 1536
}

// ModelID returns the model name.
func (p *Provider) ModelID() string { return p.model }
