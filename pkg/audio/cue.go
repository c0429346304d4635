package audio

import (
	"math"
	"time"
)

// Tone renders a sine tone as little-endian PCM16 at sampleRate. A short
// linear fade at both ends avoids clicks.
func Tone(freqHz float64, d time.Duration, sampleRate int, gain float64) []byte {
	n := int(d.Seconds() * float64(sampleRate))
	if n <= 0 || sampleRate <= 0 {
		return nil
	}
	fade := sampleRate / 200 // 5ms
	if fade*2 > n {
		fade = n / 2
	}
	samples := make([]float32, n)
	for i := range n {
		env := 1.0
		switch {
		case i < fade:
			env = float64(i) / float64(fade)
		case i >= n-fade:
			env = float64(n-1-i) / float64(fade)
		}
		samples[i] = float32(gain * env * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate)))
	}
	return Float32ToPCM16(samples)
}
