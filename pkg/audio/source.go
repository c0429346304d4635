package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// Source defaults.
const (
	DefaultTargetRate   = 16000
	DefaultFrameSamples = 1280 // 80ms at 16kHz
	DefaultQueueSize    = 64
	defaultRestartDelay = 2 * time.Second
)

// Source owns a capture [Device] and delivers fixed-size frames at the target
// sample rate through a bounded FIFO. Pushing into the FIFO never blocks: when
// it is full the oldest frame is discarded and counted.
//
// One goroutine runs [Source.Run]; one consumer calls [Source.Next].
type Source struct {
	dev          Device
	targetRate   int
	frameSamples int
	restartDelay time.Duration

	queue    chan Frame
	dropped  atomic.Int64
	captured atomic.Int64
}

// SourceOption configures a [Source].
type SourceOption func(*Source)

// WithTargetRate sets the output sample rate. Default: 16000.
func WithTargetRate(hz int) SourceOption {
	return func(s *Source) { s.targetRate = hz }
}

// WithFrameSamples sets the number of samples per frame at the target rate.
// Default: 1280.
func WithFrameSamples(n int) SourceOption {
	return func(s *Source) { s.frameSamples = n }
}

// WithQueueSize sets the capacity of the frame FIFO. Default: 64.
func WithQueueSize(n int) SourceOption {
	return func(s *Source) {
		if n > 0 {
			s.queue = make(chan Frame, n)
		}
	}
}

// WithRestartDelay sets the back-off between device restarts. Default: 2s.
func WithRestartDelay(d time.Duration) SourceOption {
	return func(s *Source) { s.restartDelay = d }
}

// NewSource creates a Source reading from dev.
func NewSource(dev Device, opts ...SourceOption) *Source {
	s := &Source{
		dev:          dev,
		targetRate:   DefaultTargetRate,
		frameSamples: DefaultFrameSamples,
		restartDelay: defaultRestartDelay,
		queue:        make(chan Frame, DefaultQueueSize),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run captures from the device until ctx is cancelled. Device failures are
// logged and the device is reopened after the restart delay; they never
// propagate to the consumer. Run returns nil on cancellation.
func (s *Source) Run(ctx context.Context) error {
	for {
		err := s.capture(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Error("audio source: capture failed", "err", err, "retry_in", s.restartDelay)
		} else {
			slog.Warn("audio source: capture stream ended", "retry_in", s.restartDelay)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.restartDelay):
		}
	}
}

func (s *Source) capture(ctx context.Context) error {
	ch, err := s.dev.Capture(ctx)
	if err != nil {
		return err
	}
	framer := &Framer{
		NativeRate:   s.dev.NativeRate(),
		TargetRate:   s.targetRate,
		FrameSamples: s.frameSamples,
	}
	for buf := range ch {
		for _, f := range framer.Write(buf) {
			s.Push(f)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("audio source: device closed")
}

// Push enqueues f without blocking, discarding the oldest queued frame when
// the FIFO is full. Safe to call from a single producer.
func (s *Source) Push(f Frame) {
	s.captured.Add(1)
	for {
		select {
		case s.queue <- f:
			return
		default:
		}
		select {
		case <-s.queue:
			s.dropped.Add(1)
		default:
		}
	}
}

// Next returns the next frame, waiting at most timeout. ok is false on
// timeout or cancellation.
func (s *Source) Next(ctx context.Context, timeout time.Duration) (f Frame, ok bool) {
	select {
	case f = <-s.queue:
		return f, true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f = <-s.queue:
		return f, true
	case <-t.C:
		return Frame{}, false
	case <-ctx.Done():
		return Frame{}, false
	}
}

// Drain discards every queued frame and returns how many were removed.
func (s *Source) Drain() int {
	n := 0
	for {
		select {
		case <-s.queue:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued frames.
func (s *Source) Len() int { return len(s.queue) }

// Dropped returns the number of frames discarded because the FIFO was full.
func (s *Source) Dropped() int64 { return s.dropped.Load() }

// Captured returns the number of frames produced by the device.
func (s *Source) Captured() int64 { return s.captured.Load() }
