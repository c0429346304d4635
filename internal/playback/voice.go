package playback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/provider/tts"
	"github.com/MrWong99/cherry/pkg/types"
)

// Cue defaults: a short, soft A5.
const (
	DefaultCueFrequency = 880.0
	DefaultCueDuration  = 150 * time.Millisecond
	defaultCueGain      = 0.3
	defaultCueRate      = 16000
)

// Speaker synthesizes and plays text, blocking until playback is done.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Cuer plays the instant listening cue.
type Cuer interface {
	Cue(ctx context.Context) error
}

var (
	_ Speaker = (*Voice)(nil)
	_ Cuer    = (*Voice)(nil)
)

// VoiceOption configures a [Voice].
type VoiceOption func(*Voice)

// WithProfile selects the synthesis voice.
func WithProfile(p types.VoiceProfile) VoiceOption {
	return func(v *Voice) { v.profile = p }
}

// WithCueTone sets the cue frequency and length. A zero duration disables
// the cue.
func WithCueTone(freqHz float64, d time.Duration) VoiceOption {
	return func(v *Voice) {
		v.cueFreq = freqHz
		v.cueDur = d
	}
}

// Voice speaks through a TTS provider into an audio sink.
type Voice struct {
	tts     tts.Provider
	sink    audio.Sink
	profile types.VoiceProfile
	cueFreq float64
	cueDur  time.Duration
}

// NewVoice returns a Voice rendering with p and playing on sink.
func NewVoice(p tts.Provider, sink audio.Sink, opts ...VoiceOption) *Voice {
	v := &Voice{
		tts:     p,
		sink:    sink,
		cueFreq: DefaultCueFrequency,
		cueDur:  DefaultCueDuration,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Speak synthesizes text and plays it. Blank text is a no-op.
func (v *Voice) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	ch, err := v.tts.Synthesize(ctx, text, v.profile)
	if err != nil {
		return fmt.Errorf("playback: synthesize: %w", err)
	}
	defer audio.Drain(ch)
	if err := v.sink.Play(ctx, ch, v.tts.SampleRate()); err != nil {
		return fmt.Errorf("playback: play: %w", err)
	}
	return nil
}

// Cue plays the listening tone directly on the sink.
func (v *Voice) Cue(ctx context.Context) error {
	if v.cueDur <= 0 {
		return nil
	}
	rate := v.tts.SampleRate()
	if rate <= 0 {
		rate = defaultCueRate
	}
	pcm := audio.Tone(v.cueFreq, v.cueDur, rate, defaultCueGain)
	if err := audio.PlayBytes(ctx, v.sink, pcm, rate); err != nil {
		return fmt.Errorf("playback: cue: %w", err)
	}
	return nil
}
