// Package coqui provides a TTS provider backed by a locally running Coqui TTS
// server.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with query
//     parameters; voices come from GET /details.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis is
//     POST /tts_to_audio/ with a JSON body; voices come from
//     GET /studio_speakers.
//
// Both servers are batch APIs. Synthesize splits the reply into sentences
// and keeps a few requests in flight so the first sentence can play while the
// rest are still rendering. Output is always resampled to the configured
// output rate.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	pcm, err := p.Synthesize(ctx, "Hello there. How can I help?", voice)
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/provider/tts"
	"github.com/MrWong99/cherry/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage   = "en"
	defaultTimeout    = 30 * time.Second
	defaultOutputRate = 22050

	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// sentenceLookahead bounds the synthesis requests in flight at once.
	sentenceLookahead = 3

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode. Defaults to APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithOutputSampleRate sets the rate synthesised PCM is resampled to.
// Defaults to 22050, the native rate of most Coqui models.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.outputRate = rate
		}
	}
}

// Provider implements tts.Provider backed by a Coqui TTS server. It is safe
// for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int
}

// New creates a Provider targeting the server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		outputRate: defaultOutputRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.outputRate }

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

type audioResult struct {
	pcm []byte
	err error
}

// Synthesize implements tts.Provider. Sentences are rendered concurrently
// (bounded by the lookahead) and emitted in their original order. The first
// failing sentence ends the stream.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice.ID must not be empty in XTTS mode")
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, errors.New("coqui: nothing to synthesize")
	}

	ctx, cancel := context.WithCancel(ctx)

	// Each sentence gets a one-shot result channel; the queue holds them in
	// order so the collector below preserves sentence order.
	queue := make(chan chan audioResult, sentenceLookahead)
	go func() {
		defer close(queue)
		for _, s := range sentences {
			res := make(chan audioResult, 1)
			select {
			case queue <- res:
			case <-ctx.Done():
				return
			}
			go func(s string) {
				pcm, err := p.synthesize(ctx, s, voice)
				res <- audioResult{pcm: pcm, err: err}
			}(s)
		}
	}()

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer cancel()
		for res := range queue {
			var r audioResult
			select {
			case r = <-res:
			case <-ctx.Done():
				return
			}
			if r.err != nil {
				slog.Warn("coqui: sentence synthesis failed", "err", r.err)
				return
			}
			for pcm := r.pcm; len(pcm) > 0; {
				n := min(pcmChunkSize, len(pcm))
				select {
				case out <- pcm[:n]:
				case <-ctx.Done():
					return
				}
				pcm = pcm[n:]
			}
		}
	}()
	return out, nil
}

func (p *Provider) synthesize(ctx context.Context, sentence string, voice types.VoiceProfile) ([]byte, error) {
	var (
		req      *http.Request
		endpoint string
		err      error
	)
	if p.apiMode == APIModeXTTS {
		endpoint = ttsEndpoint
		data, merr := json.Marshal(ttsRequest{Text: sentence, SpeakerWav: voice.ID, Language: p.language})
		if merr != nil {
			return nil, fmt.Errorf("coqui: marshal tts request: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+endpoint, bytes.NewReader(data))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		endpoint = apiTTSEndpoint
		params := url.Values{}
		params.Set("text", sentence)
		if voice.ID != "" {
			params.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			params.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, endpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	frame, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: decode WAV response: %w", err)
	}
	samples := audio.Resample(frame.Samples, frame.SampleRate, p.outputRate)
	return audio.Float32ToPCM16(samples), nil
}

// ListVoices implements tts.Provider.
//
// In XTTS mode every studio speaker becomes a voice. In standard mode a
// multi-speaker model yields one voice per speaker and a single-speaker
// model yields one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		var raw map[string]json.RawMessage
		if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(raw))
		for name := range raw {
			names = append(names, name)
		}
		sort.Strings(names)
		profiles := make([]types.VoiceProfile, 0, len(names))
		for _, name := range names {
			profiles = append(profiles, voice(name, map[string]string{"type": "studio"}))
		}
		return profiles, nil
	}

	var details detailsResponse
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) > 0 {
		speakers := append([]string(nil), details.Speakers...)
		sort.Strings(speakers)
		profiles := make([]types.VoiceProfile, 0, len(speakers))
		for _, spk := range speakers {
			profiles = append(profiles, voice(spk, map[string]string{"type": "speaker", "model_name": details.ModelName}))
		}
		return profiles, nil
	}
	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []types.VoiceProfile{voice(name, map[string]string{"type": "single-speaker", "model_name": name})}, nil
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

func voice(name string, meta map[string]string) types.VoiceProfile {
	return types.VoiceProfile{ID: name, Name: name, Provider: "coqui", Metadata: meta}
}

// splitSentences breaks text on '.', '!' or '?' followed by whitespace or
// the end of input, so "3.14" and "e.g.x" stay whole.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(text) && !unicode.IsSpace(rune(text[i+1])) {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
