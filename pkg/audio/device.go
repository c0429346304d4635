package audio

import "context"

// Device is a capture endpoint (a local microphone, a remote bridge, …).
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Capture starts the device and returns a channel of raw little-endian
	// mono PCM16 buffers at [Device.NativeRate]. The channel is closed when
	// ctx is cancelled or the device fails; buffer sizes are arbitrary.
	//
	// Capture must never block on the consumer: if the receiver falls behind,
	// the implementation drops buffers rather than stalling the hardware.
	Capture(ctx context.Context) (<-chan []byte, error)

	// NativeRate returns the capture sample rate in Hz.
	NativeRate() int
}

// Sink is a playback endpoint.
//
// Implementations must be safe for concurrent use, but callers only ever
// play one stream at a time.
type Sink interface {
	// Play writes the audio chunks from pcm (little-endian mono PCM16 at
	// sampleRate) to the output and returns once the last chunk has been
	// written or ctx is cancelled. The channel is drained on return.
	Play(ctx context.Context, pcm <-chan []byte, sampleRate int) error
}

// PlayBytes plays a single in-memory PCM16 buffer on sink.
func PlayBytes(ctx context.Context, sink Sink, pcm []byte, sampleRate int) error {
	ch := make(chan []byte, 1)
	ch <- pcm
	close(ch)
	return sink.Play(ctx, ch, sampleRate)
}
