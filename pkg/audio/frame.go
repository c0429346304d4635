// Package audio defines the frame type, capture/playback device interfaces,
// format conversion helpers and the bounded capture [Source] used by Cherry.
//
// Audio inside the assistant is always normalised mono float32 in [-1, 1].
// Devices exchange little-endian signed 16-bit PCM; [PCM16ToFloat32] and
// [Float32ToPCM16] convert between the two representations.
//
// Concrete devices live in sub-packages (audio/pipe, audio/wsbridge,
// audio/mock). This package lives under pkg/ because third-party device
// adapters are expected to implement [Device] and [Sink].
package audio

import (
	"math"
	"time"
)

// Frame is a fixed-size block of mono samples at a known sample rate.
// Frames are immutable once produced by a [Source].
type Frame struct {
	// Samples holds normalised mono samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for wake/STT input).
	SampleRate int
}

// Duration returns the playback length of the frame. Zero-rate frames have
// zero duration.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Empty reports whether the frame carries no samples.
func (f Frame) Empty() bool {
	return len(f.Samples) == 0
}

// RMS returns the root-mean-square energy of the frame. An empty frame has
// zero energy.
func (f Frame) RMS() float64 {
	if len(f.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range f.Samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(f.Samples)))
}

// Concat joins frames into a single contiguous frame, preserving order. The
// sample rate is taken from the first non-empty frame. Concat of nothing
// returns a zero Frame.
func Concat(frames ...Frame) Frame {
	n := 0
	rate := 0
	for _, f := range frames {
		n += len(f.Samples)
		if rate == 0 && len(f.Samples) > 0 {
			rate = f.SampleRate
		}
	}
	if n == 0 {
		return Frame{SampleRate: rate}
	}
	out := make([]float32, 0, n)
	for _, f := range frames {
		out = append(out, f.Samples...)
	}
	return Frame{Samples: out, SampleRate: rate}
}
