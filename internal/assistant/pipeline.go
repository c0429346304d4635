// Package assistant drives Cherry's conversation loop: it pulls frames from
// the capture queue, waits for the wake phrase, segments the spoken command,
// asks the brain, runs the directives of the reply and queues the answer for
// playback.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/cherry/internal/backend"
	"github.com/MrWong99/cherry/internal/echo"
	"github.com/MrWong99/cherry/internal/observe"
	"github.com/MrWong99/cherry/internal/session"
	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/provider/vad"
	"github.com/MrWong99/cherry/pkg/provider/wake"
	"github.com/MrWong99/cherry/pkg/types"
)

// Spoken fallbacks.
const (
	MsgNotCaught    = "I didn't catch that."
	MsgBrainTrouble = "I'm having trouble connecting to my brain."
	MsgNetwork      = "Network error."
)

// DefaultFrameTimeout is how long one loop iteration waits for a frame.
const DefaultFrameTimeout = 100 * time.Millisecond

// FrameSource is the capture queue.
type FrameSource interface {
	Next(ctx context.Context, timeout time.Duration) (audio.Frame, bool)
	Drain() int
}

// Dispatcher turns a reply into the text to speak.
type Dispatcher interface {
	Dispatch(ctx context.Context, reply backend.Reply) string
}

// Output is the speech side: the playback queue.
type Output interface {
	Speak(text string)
	Idle() bool
	Cue(ctx context.Context) error
}

// Deps are the collaborators of a [Pipeline]. Metrics is optional.
type Deps struct {
	Source     FrameSource
	Guard      *echo.Guard
	Spotter    wake.Spotter
	Segmenter  vad.Segmenter
	Backend    backend.Client
	Dispatcher Dispatcher
	Output     Output
	Memory     *session.Window
	Metrics    *observe.Metrics
}

// Config tunes a [Pipeline]. Zero durations disable the matching limit.
type Config struct {
	// ListenTimeout returns to idle when no speech starts after the wake
	// phrase.
	ListenTimeout time.Duration

	// MinUtterance is the shortest utterance sent to the brain.
	MinUtterance time.Duration

	// BackendTimeout bounds one brain call.
	BackendTimeout time.Duration

	// Acknowledgement is queued after the wake phrase, e.g. "Yes?".
	Acknowledgement string

	// Cue plays the instant tone after the wake phrase.
	Cue bool

	// FrameTimeout is the wait per loop iteration. Default: 100ms.
	FrameTimeout time.Duration

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Pipeline is the conversation loop. Run it on one goroutine; [Pipeline.State]
// may be read from anywhere.
type Pipeline struct {
	d       Deps
	cfg     Config
	machine *Machine

	// announcements holds at most one pending [Pipeline.Announce] text.
	announcements chan string

	// Per-cycle buffers, owned by the Run goroutine.
	utterance     []audio.Frame
	pending       []audio.Frame
	speechStarted bool
	listenSince   time.Time
}

// NewPipeline wires a pipeline. It starts in [Idle].
func NewPipeline(d Deps, cfg Config) *Pipeline {
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = DefaultFrameTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	p := &Pipeline{d: d, cfg: cfg, machine: NewMachine(), announcements: make(chan string, 1)}
	p.machine.OnTransition(func(from, to State) {
		slog.Debug("assistant: state change", "from", from, "to", to)
		if d.Metrics != nil {
			d.Metrics.RecordTransition(context.Background(), from.String(), to.String())
		}
	})
	return p
}

// State returns the current interaction state.
func (p *Pipeline) State() State { return p.machine.State() }

// OnTransition registers an observer of state changes.
func (p *Pipeline) OnTransition(fn func(from, to State)) { p.machine.OnTransition(fn) }

// Announce offers text to be spoken the next time the loop is in [Idle]
// with nothing playing. It reports false when the assistant is not idle or
// another announcement is already waiting. Safe for concurrent use.
func (p *Pipeline) Announce(text string) bool {
	if p.State() != Idle {
		return false
	}
	select {
	case p.announcements <- text:
		return true
	default:
		return false
	}
}

// announce queues a pending announcement. It runs on the loop goroutine, so
// the wake transition cannot fall between its idle check and the enqueue.
func (p *Pipeline) announce() bool {
	if p.State() != Idle || !p.d.Output.Idle() || p.d.Guard.IsBusy() {
		return false
	}
	select {
	case text := <-p.announcements:
		p.d.Output.Speak(text)
		return true
	default:
		return false
	}
}

// Run processes frames until ctx is cancelled. It returns nil on
// cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		p.checkPlayback()
		p.announce()
		f, ok := p.d.Source.Next(ctx, p.cfg.FrameTimeout)
		if !ok {
			p.checkListenTimeout(ctx)
			continue
		}
		p.HandleFrame(ctx, f)
	}
}

// HandleFrame advances the loop by one captured frame.
func (p *Pipeline) HandleFrame(ctx context.Context, f audio.Frame) {
	state := p.State()
	if p.d.Metrics != nil {
		p.d.Metrics.FramesProcessed.Add(ctx, 1, metric.WithAttributes(observe.Attr("state", state.String())))
	}
	if p.d.Guard.IsBusy() {
		p.resetAudio()
		if state == Listening {
			p.listenSince = p.cfg.Now()
		}
		return
	}

	switch state {
	case Idle:
		// Queued announcement audio must not reach the wake spotter.
		if p.announce() || !p.d.Output.Idle() {
			p.resetAudio()
			return
		}
		p.idle(ctx, f)
	case Listening:
		p.listen(ctx, f)
	case Speaking:
		p.checkPlayback()
	}
}

func (p *Pipeline) idle(ctx context.Context, f audio.Frame) {
	detected, err := p.d.Spotter.Detect(ctx, f)
	if err != nil {
		slog.Warn("assistant: wake detection failed", "err", err)
		return
	}
	if !detected {
		return
	}
	if _, ok := p.machine.Fire(EventWake); !ok {
		return
	}
	slog.Info("assistant: wake phrase detected")
	if p.d.Metrics != nil {
		p.d.Metrics.WakeDetections.Add(ctx, 1)
	}
	p.resetAudio()
	p.listenSince = p.cfg.Now()
	if p.cfg.Cue {
		if err := p.d.Output.Cue(ctx); err != nil {
			slog.Warn("assistant: cue failed", "err", err)
		}
	}
	if p.cfg.Acknowledgement != "" {
		p.d.Output.Speak(p.cfg.Acknowledgement)
	}
}

func (p *Pipeline) listen(ctx context.Context, f audio.Frame) {
	switch p.d.Segmenter.Process(f) {
	case vad.Continue:
		p.machine.Fire(EventContinue)
		p.speechStarted = true
		if p.d.Segmenter.Pausing() {
			p.pending = append(p.pending, f)
			return
		}
		p.utterance = append(p.utterance, p.pending...)
		p.utterance = append(p.utterance, f)
		p.pending = p.pending[:0]
	case vad.Background:
		p.machine.Fire(EventBackground)
		p.checkListenTimeout(ctx)
	case vad.Ended:
		if _, ok := p.machine.Fire(EventEnded); ok {
			p.think(ctx)
		}
	}
}

func (p *Pipeline) checkListenTimeout(ctx context.Context) {
	if p.State() != Listening || p.speechStarted || p.cfg.ListenTimeout <= 0 {
		return
	}
	if p.cfg.Now().Sub(p.listenSince) < p.cfg.ListenTimeout {
		return
	}
	if _, ok := p.machine.Fire(EventTimeout); ok {
		slog.Info("assistant: listen timeout")
		p.recordUtterance(ctx, "timeout")
		p.resetAudio()
	}
}

func (p *Pipeline) checkPlayback() {
	if p.State() == Speaking && p.d.Output.Idle() {
		p.machine.Fire(EventPlaybackIdle)
	}
}

// think runs the THINKING state to completion: backend call, dispatch and
// queueing of the spoken answer.
func (p *Pipeline) think(ctx context.Context) {
	utt := audio.Concat(p.utterance...)
	p.resetAudio()
	p.d.Source.Drain()

	if utt.Empty() || utt.Duration() < p.cfg.MinUtterance {
		p.fail(ctx, MsgNotCaught, "short")
		return
	}

	callCtx := ctx
	if p.cfg.BackendTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.BackendTimeout)
		defer cancel()
	}
	res, err := p.d.Backend.Converse(callCtx, utt, p.d.Memory.Context())
	p.d.Source.Drain()

	switch {
	case errors.Is(err, backend.ErrNoSpeech):
		p.fail(ctx, MsgNotCaught, "no_speech")
		return
	case err != nil:
		slog.Error("assistant: backend call failed", "err", err)
		p.fail(ctx, apology(err), "error")
		return
	}
	heard := strings.TrimSpace(res.Transcription)
	if heard == "" {
		p.fail(ctx, MsgNotCaught, "no_speech")
		return
	}
	slog.Info("assistant: heard", "text", heard)

	text := p.d.Dispatcher.Dispatch(ctx, res.Reply)
	p.d.Memory.AddTurn(types.RoleUser, heard)
	p.d.Memory.AddTurn(types.RoleAssistant, text)
	p.recordUtterance(ctx, "ok")

	p.machine.Fire(EventReply)
	p.d.Output.Speak(text)
}

func (p *Pipeline) fail(ctx context.Context, msg, outcome string) {
	p.recordUtterance(ctx, outcome)
	p.machine.Fire(EventFailure)
	p.d.Output.Speak(msg)
}

func apology(err error) string {
	if errors.Is(err, backend.ErrNetwork) {
		return MsgNetwork
	}
	return MsgBrainTrouble
}

// resetAudio discards every per-cycle buffer and the detector state.
func (p *Pipeline) resetAudio() {
	p.d.Spotter.Reset()
	p.d.Segmenter.Reset()
	p.utterance = p.utterance[:0]
	p.pending = p.pending[:0]
	p.speechStarted = false
}

func (p *Pipeline) recordUtterance(ctx context.Context, outcome string) {
	if p.d.Metrics != nil {
		p.d.Metrics.RecordUtterance(ctx, outcome)
	}
}
