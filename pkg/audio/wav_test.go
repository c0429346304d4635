package audio_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/cherry/pkg/audio"
)

func TestDecodeWAV_ReadsEncodedFrame(t *testing.T) {
	t.Parallel()

	in := audio.Frame{Samples: []float32{0, 0.5, -0.5}, SampleRate: 16000}
	wav := audio.EncodeWAV(in)
	if string(wav[0:4]) != "RIFF" || len(wav) != 44+6 {
		t.Fatalf("unexpected header or size %d", len(wav))
	}

	got, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if got.SampleRate != 16000 || len(got.Samples) != 3 {
		t.Fatalf("got rate=%d samples=%d", got.SampleRate, len(got.Samples))
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
	}{
		{name: "empty", in: nil},
		{name: "not riff", in: []byte("RIFX....WAVEfmt ")},
		{name: "no data chunk", in: []byte("RIFF\x04\x00\x00\x00WAVE")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := audio.DecodeWAV(tc.in); !errors.Is(err, audio.ErrInvalidWAV) {
				t.Errorf("err = %v, want ErrInvalidWAV", err)
			}
		})
	}
}
