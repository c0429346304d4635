// Package playback owns Cherry's speech output: an ordered queue drained by
// a single worker that keeps the echo guard busy while anything is queued
// or playing.
package playback

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/cherry/internal/echo"
	"github.com/MrWong99/cherry/internal/observe"
)

// Option configures a [Queue].
type Option func(*Queue)

// WithMetrics records the duration of every spoken item.
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue is an unbounded FIFO of texts to speak. [Queue.Run] is the only
// consumer; any goroutine may call [Queue.Speak].
//
// The guard is set busy before an item plays and cleared only once playback
// finishes with nothing left queued, so back-to-back items hold it busy
// without a gap.
type Queue struct {
	speaker Speaker
	guard   *echo.Guard
	metrics *observe.Metrics

	mu      sync.Mutex
	items   []string
	playing bool

	notify chan struct{}
}

// NewQueue returns a queue speaking through s and flagging guard.
func NewQueue(s Speaker, guard *echo.Guard, opts ...Option) *Queue {
	q := &Queue{
		speaker: s,
		guard:   guard,
		notify:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Speak appends text to the queue and returns immediately. Blank text is
// ignored.
func (q *Queue) Speak(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, text)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Idle reports whether nothing is queued or playing.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.playing && len(q.items) == 0
}

// Len returns the number of items waiting to play.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cue plays the instant listening tone when the speaker supports it. It
// bypasses the queue and never touches the guard.
func (q *Queue) Cue(ctx context.Context) error {
	c, ok := q.speaker.(Cuer)
	if !ok {
		return nil
	}
	return c.Cue(ctx)
}

// Run plays queued items until ctx is cancelled. Failures are logged and
// count as completion. Run returns nil on cancellation.
func (q *Queue) Run(ctx context.Context) error {
	defer q.guard.SetBusy(false)
	for {
		text, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.notify:
				continue
			}
		}

		start := time.Now()
		err := q.speaker.Speak(ctx, text)
		if err != nil && ctx.Err() == nil {
			slog.Error("playback: speak failed", "err", err, "text", text)
		}
		if q.metrics != nil {
			q.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(observe.Attr("status", observe.Status(err))))
		}
		q.done()

		if ctx.Err() != nil {
			return nil
		}
	}
}

// next pops the head item and marks playback active.
func (q *Queue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	text := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	q.playing = true
	q.guard.SetBusy(true)
	return text, true
}

// done ends the current item and releases the guard when nothing follows.
func (q *Queue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		q.playing = false
		q.guard.SetBusy(false)
	}
}
