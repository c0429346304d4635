package energy_test

import (
	"testing"
	"time"

	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/provider/vad"
	"github.com/MrWong99/cherry/pkg/provider/vad/energy"
)

// 100ms frames at 16kHz.
func frame(level float32) audio.Frame {
	s := make([]float32, 1600)
	for i := range s {
		if i%2 == 0 {
			s[i] = level
		} else {
			s[i] = -level
		}
	}
	return audio.Frame{Samples: s, SampleRate: 16000}
}

func newSegmenter(t *testing.T, silence time.Duration) *energy.Segmenter {
	t.Helper()
	seg, err := energy.New(vad.Config{Threshold: 0.1, SilenceDuration: silence})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return seg
}

func TestSegmenter_BackgroundBeforeSpeech(t *testing.T) {
	t.Parallel()

	seg := newSegmenter(t, 300*time.Millisecond)
	for i := range 10 {
		if got := seg.Process(frame(0.01)); got != vad.Background {
			t.Fatalf("frame %d: got %v, want BACKGROUND", i, got)
		}
	}
}

func TestSegmenter_EndsAfterSilenceDuration(t *testing.T) {
	t.Parallel()

	// 300ms of silence = exactly 3 frames of 100ms.
	seg := newSegmenter(t, 300*time.Millisecond)
	if got := seg.Process(frame(0.5)); got != vad.Continue {
		t.Fatalf("speech frame: got %v", got)
	}
	for i := range 2 {
		if got := seg.Process(frame(0)); got != vad.Continue {
			t.Fatalf("silent frame %d: got %v, want CONTINUE", i, got)
		}
		if !seg.Pausing() {
			t.Errorf("silent frame %d: Pausing = false", i)
		}
	}
	if got := seg.Process(frame(0)); got != vad.Ended {
		t.Fatalf("third silent frame: got %v, want ENDED", got)
	}
	// The session resets itself after ENDED.
	if got := seg.Process(frame(0)); got != vad.Background {
		t.Errorf("after ENDED: got %v, want BACKGROUND", got)
	}
}

func TestSegmenter_SpeechResetsSilence(t *testing.T) {
	t.Parallel()

	seg := newSegmenter(t, 200*time.Millisecond)
	seq := []struct {
		level float32
		want  vad.Signal
	}{
		{0.5, vad.Continue},
		{0, vad.Continue},
		{0.5, vad.Continue},
		{0, vad.Continue},
		{0, vad.Ended},
	}
	for i, s := range seq {
		if got := seg.Process(frame(s.level)); got != s.want {
			t.Errorf("step %d: got %v, want %v", i, got, s.want)
		}
	}
}

func TestSegmenter_Reset(t *testing.T) {
	t.Parallel()

	seg := newSegmenter(t, 100*time.Millisecond)
	seg.Process(frame(0.5))
	seg.Reset()
	if got := seg.Process(frame(0)); got != vad.Background {
		t.Errorf("after Reset: got %v, want BACKGROUND", got)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     vad.Config
		wantErr bool
	}{
		{name: "defaults", cfg: vad.Config{}},
		{name: "threshold too high", cfg: vad.Config{Threshold: 2}, wantErr: true},
		{name: "negative silence", cfg: vad.Config{SilenceDuration: -time.Second}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := energy.New(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestEngine_NewSession(t *testing.T) {
	t.Parallel()

	var eng vad.Engine = energy.Engine{}
	seg, err := eng.NewSession(vad.Config{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if got := seg.Process(frame(0.5)); got != vad.Continue {
		t.Errorf("got %v, want CONTINUE", got)
	}
}

func TestSegmenter_EndsOnExactSampleCount(t *testing.T) {
	t.Parallel()

	// 160 samples at 48kHz last 3.333...ms, so 10ms of silence is exactly
	// three frames even though each frame's Duration truncates.
	short := func(level float32) audio.Frame {
		s := make([]float32, 160)
		for i := range s {
			s[i] = level
		}
		return audio.Frame{Samples: s, SampleRate: 48000}
	}
	seg := newSegmenter(t, 10*time.Millisecond)
	if got := seg.Process(short(0.5)); got != vad.Continue {
		t.Fatalf("speech frame: got %v", got)
	}
	for i := range 2 {
		if got := seg.Process(short(0)); got != vad.Continue {
			t.Fatalf("silent frame %d: got %v, want CONTINUE", i+1, got)
		}
	}
	if got := seg.Process(short(0)); got != vad.Ended {
		t.Errorf("silent frame 3: got %v, want ENDED", got)
	}
}

func TestSegmenter_SilenceAcrossRateChange(t *testing.T) {
	t.Parallel()

	seg := newSegmenter(t, 200*time.Millisecond)
	seg.Process(frame(0.5))
	// 100ms at 16kHz, then 100ms at 48kHz.
	if got := seg.Process(frame(0)); got != vad.Continue {
		t.Fatalf("first silent frame: got %v", got)
	}
	got := seg.Process(audio.Frame{Samples: make([]float32, 4800), SampleRate: 48000})
	if got != vad.Ended {
		t.Errorf("second silent frame: got %v, want ENDED", got)
	}
}
