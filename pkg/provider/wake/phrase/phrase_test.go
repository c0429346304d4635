package phrase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/cherry/pkg/audio"
	sttmock "github.com/MrWong99/cherry/pkg/provider/stt/mock"
	"github.com/MrWong99/cherry/pkg/provider/wake/phrase"
)

func loud() audio.Frame {
	s := make([]float32, 160)
	for i := range s {
		s[i] = 0.2
	}
	return audio.Frame{Samples: s, SampleRate: 16000}
}

func quiet() audio.Frame {
	return audio.Frame{Samples: make([]float32, 160), SampleRate: 16000}
}

func TestMatcher(t *testing.T) {
	t.Parallel()

	m := phrase.NewMatcher("hey cherry", phrase.DefaultThreshold)
	tests := []struct {
		text string
		want bool
	}{
		{text: "Hey Cherry!", want: true},
		{text: "uh, hey cherry, what's up", want: true},
		{text: "hey cheri", want: true},
		{text: "hey jerry", want: false},
		{text: "cherry", want: false},
		{text: "the weather is nice", want: false},
		{text: "", want: false},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			t.Parallel()
			score, got := m.Match(tc.text)
			if got != tc.want {
				t.Errorf("Match(%q) = %v (score %.2f), want %v", tc.text, got, score, tc.want)
			}
		})
	}
}

func TestSpotter_ChecksEveryStride(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{Default: "nothing here"}
	s, err := phrase.New(p, phrase.WithWindow(4), phrase.WithStride(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	for range 6 {
		if ok, err := s.Detect(ctx, loud()); ok || err != nil {
			t.Fatalf("Detect = %v, %v", ok, err)
		}
	}
	if got := p.CallCount(); got != 3 {
		t.Errorf("transcriptions = %d, want 3", got)
	}
	// The window holds at most 4 frames.
	if got := len(p.Calls[2].Samples); got != 4*160 {
		t.Errorf("window samples = %d, want %d", got, 4*160)
	}
}

func TestSpotter_SkipsSilentWindows(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{Default: "hey cherry"}
	s, _ := phrase.New(p, phrase.WithStride(1))
	for range 5 {
		if ok, _ := s.Detect(context.Background(), quiet()); ok {
			t.Fatal("silence triggered the wake phrase")
		}
	}
	if p.CallCount() != 0 {
		t.Errorf("silent windows were transcribed %d times", p.CallCount())
	}
}

func TestSpotter_DetectsAndResets(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{Texts: []string{"music", "hey cherry"}}
	s, _ := phrase.New(p, phrase.WithStride(1))
	ctx := context.Background()

	if ok, _ := s.Detect(ctx, loud()); ok {
		t.Fatal("first window should not match")
	}
	ok, err := s.Detect(ctx, loud())
	if err != nil || !ok {
		t.Fatalf("Detect = %v, %v, want true", ok, err)
	}
	// After a detection the window starts empty again.
	s.Detect(ctx, loud())
	if got := len(p.Calls[2].Samples); got != 160 {
		t.Errorf("window after detection has %d samples, want 160", got)
	}
}

func TestSpotter_TranscribeError(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{Err: errors.New("engine down")}
	s, _ := phrase.New(p, phrase.WithStride(1))
	ok, err := s.Detect(context.Background(), loud())
	if ok || err == nil {
		t.Errorf("Detect = %v, %v, want false with error", ok, err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := phrase.New(nil); err == nil {
		t.Error("nil provider accepted")
	}
	if _, err := phrase.New(&sttmock.Provider{}, phrase.WithPhrase("  !! ")); err == nil {
		t.Error("empty phrase accepted")
	}
	if _, err := phrase.New(&sttmock.Provider{}, phrase.WithStride(0)); err == nil {
		t.Error("zero stride accepted")
	}
}
