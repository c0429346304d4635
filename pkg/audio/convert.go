package audio

import (
	"log/slog"
	"math"
	"sync"
)

// PCM16ToFloat32 converts little-endian int16 PCM to normalised float32
// samples. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768
	}
	return out
}

// Float32ToPCM16 converts normalised float32 samples to little-endian int16
// PCM, clamping values outside [-1, 1].
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		iv := int16(v)
		out[i*2] = byte(iv)
		out[i*2+1] = byte(iv >> 8)
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates match, or either is non-positive, the input is
// returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// Framer turns raw PCM16 buffers captured at NativeRate into fixed-size
// [Frame] values of FrameSamples samples at TargetRate. Partial frames are
// held until enough samples arrive. Create one per capture stream; not safe
// for concurrent use.
type Framer struct {
	NativeRate   int
	TargetRate   int
	FrameSamples int

	pending        []float32
	carry          []byte
	warnedResample sync.Once
}

// Write appends a captured buffer and returns every complete frame it
// produced, in order.
func (f *Framer) Write(pcm []byte) []Frame {
	if len(f.carry) > 0 {
		pcm = append(f.carry, pcm...)
		f.carry = nil
	}
	if len(pcm)%2 != 0 {
		f.carry = []byte{pcm[len(pcm)-1]}
		pcm = pcm[:len(pcm)-1]
	}

	samples := PCM16ToFloat32(pcm)
	if f.NativeRate != f.TargetRate {
		f.warnedResample.Do(func() {
			slog.Debug("audio framer: resampling capture",
				"from", f.NativeRate,
				"to", f.TargetRate,
			)
		})
		samples = Resample(samples, f.NativeRate, f.TargetRate)
	}
	f.pending = append(f.pending, samples...)

	size := f.FrameSamples
	if size <= 0 {
		size = len(f.pending)
	}
	var frames []Frame
	for size > 0 && len(f.pending) >= size {
		chunk := make([]float32, size)
		copy(chunk, f.pending[:size])
		f.pending = f.pending[size:]
		frames = append(frames, Frame{Samples: chunk, SampleRate: f.TargetRate})
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return frames
}

// Reset discards any partially assembled frame.
func (f *Framer) Reset() {
	f.pending = nil
	f.carry = nil
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a streaming channel (e.g. a TTS
// audio stream) is abandoned.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
