// Package mock provides in-memory implementations of [audio.Device] and
// [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{Rate: 16000, Buffers: [][]byte{pcm}}
//	sink := &mock.Sink{}
//	src := audio.NewSource(dev)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/cherry/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device]. Each Capture call
// delivers Buffers in order and then either closes the channel (HoldOpen
// false) or keeps it open until ctx is cancelled.
type Device struct {
	mu sync.Mutex

	// Rate is returned by NativeRate.
	Rate int

	// Buffers are delivered on every Capture call.
	Buffers [][]byte

	// HoldOpen keeps the capture channel open after Buffers are delivered.
	HoldOpen bool

	// CaptureErr is returned by Capture when non-nil.
	CaptureErr error

	// CaptureCalls counts Capture invocations.
	CaptureCalls int
}

var _ audio.Device = (*Device)(nil)

// Capture implements [audio.Device].
func (d *Device) Capture(ctx context.Context) (<-chan []byte, error) {
	d.mu.Lock()
	d.CaptureCalls++
	err := d.CaptureErr
	bufs := append([][]byte(nil), d.Buffers...)
	hold := d.HoldOpen
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		for _, b := range bufs {
			select {
			case ch <- b:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// NativeRate implements [audio.Device].
func (d *Device) NativeRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Rate == 0 {
		return audio.DefaultTargetRate
	}
	return d.Rate
}

// Calls returns the number of Capture invocations.
func (d *Device) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CaptureCalls
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// PlayCall records a single [Sink.Play] invocation.
type PlayCall struct {
	// PCM is the concatenation of every chunk received.
	PCM []byte

	// SampleRate is the sampleRate argument.
	SampleRate int
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// Delay is slept per Play call to simulate playback time.
	Delay time.Duration

	// PlayErr is returned by Play when non-nil.
	PlayErr error

	// OnPlay, when set, is called at the start of each Play.
	OnPlay func()

	calls []PlayCall
}

var _ audio.Sink = (*Sink)(nil)

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, pcm <-chan []byte, sampleRate int) error {
	s.mu.Lock()
	delay, err, hook := s.Delay, s.PlayErr, s.OnPlay
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	var buf []byte
	for chunk := range pcm {
		buf = append(buf, chunk...)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, PlayCall{PCM: buf, SampleRate: sampleRate})
	s.mu.Unlock()
	return err
}

// Calls returns a copy of the recorded Play calls.
func (s *Sink) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlayCall(nil), s.calls...)
}
