package assistant_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/cherry/internal/action"
	actionmock "github.com/MrWong99/cherry/internal/action/mock"
	"github.com/MrWong99/cherry/internal/assistant"
	"github.com/MrWong99/cherry/internal/backend"
	"github.com/MrWong99/cherry/internal/dispatch"
	"github.com/MrWong99/cherry/internal/echo"
	"github.com/MrWong99/cherry/internal/playback"
	"github.com/MrWong99/cherry/internal/session"
	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/provider/vad"
	"github.com/MrWong99/cherry/pkg/provider/vad/energy"
	vadmock "github.com/MrWong99/cherry/pkg/provider/vad/mock"
	wakemock "github.com/MrWong99/cherry/pkg/provider/wake/mock"
	"github.com/MrWong99/cherry/pkg/types"
)

const frameSamples = 1280 // 80ms at 16kHz

func frame(level float32) audio.Frame {
	s := make([]float32, frameSamples)
	for i := range s {
		s[i] = level
	}
	return audio.Frame{Samples: s, SampleRate: 16000}
}

func speech() audio.Frame  { return frame(0.5) }
func silence() audio.Frame { return frame(0) }

// fakeSource hands out scripted frames and records drains.
type fakeSource struct {
	mu     sync.Mutex
	frames []audio.Frame
	drains int
}

func (s *fakeSource) push(f ...audio.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f...)
	s.mu.Unlock()
}

func (s *fakeSource) Next(ctx context.Context, timeout time.Duration) (audio.Frame, bool) {
	s.mu.Lock()
	if len(s.frames) > 0 {
		f := s.frames[0]
		s.frames = s.frames[1:]
		s.mu.Unlock()
		return f, true
	}
	s.mu.Unlock()
	select {
	case <-ctx.Done():
	case <-time.After(min(timeout, 2*time.Millisecond)):
	}
	return audio.Frame{}, false
}

func (s *fakeSource) Drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.frames)
	s.frames = nil
	s.drains++
	return n
}

func (s *fakeSource) Drains() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drains
}

// fakeBackend returns a scripted result and records what it was sent.
type fakeBackend struct {
	mu         sync.Mutex
	result     *backend.Result
	err        error
	utterances []audio.Frame
	histories  [][]types.Message
}

func (b *fakeBackend) Converse(_ context.Context, utt audio.Frame, history []types.Message) (*backend.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.utterances = append(b.utterances, utt)
	b.histories = append(b.histories, history)
	return b.result, b.err
}

func (b *fakeBackend) Status(context.Context) (*backend.Status, error) {
	return &backend.Status{Status: "online"}, nil
}

func (b *fakeBackend) calls() []audio.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.utterances)
}

// fakeOutput records queued speech without playing it.
type fakeOutput struct {
	mu     sync.Mutex
	spoken []string
	cues   int
	busy   bool
}

func (o *fakeOutput) Speak(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spoken = append(o.spoken, text)
}

func (o *fakeOutput) Idle() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.busy
}

func (o *fakeOutput) Cue(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cues++
	return nil
}

func (o *fakeOutput) texts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.spoken)
}

// echoDispatcher speaks text replies unchanged.
type echoDispatcher struct{}

func (echoDispatcher) Dispatch(_ context.Context, r backend.Reply) string {
	if t, ok := r.(backend.Text); ok {
		return t.Content
	}
	return ""
}

type harness struct {
	src     *fakeSource
	guard   *echo.Guard
	spotter *wakemock.Spotter
	seg     vad.Segmenter
	be      *fakeBackend
	out     *fakeOutput
	mem     *session.Window
	p       *assistant.Pipeline
}

func newHarness(t *testing.T, seg vad.Segmenter, cfg assistant.Config) *harness {
	t.Helper()
	h := &harness{
		src:     &fakeSource{},
		guard:   &echo.Guard{},
		spotter: &wakemock.Spotter{TriggerAt: map[int]bool{0: true}},
		seg:     seg,
		be:      &fakeBackend{result: &backend.Result{Transcription: "hello", Reply: backend.Text{Content: "Hi there."}}},
		out:     &fakeOutput{},
		mem:     session.New(10),
	}
	h.mem.SetSystem("You are Cherry.")
	h.p = assistant.NewPipeline(assistant.Deps{
		Source:     h.src,
		Guard:      h.guard,
		Spotter:    h.spotter,
		Segmenter:  seg,
		Backend:    h.be,
		Dispatcher: echoDispatcher{},
		Output:     h.out,
		Memory:     h.mem,
	}, cfg)
	return h
}

func energySegmenter(t *testing.T) *energy.Segmenter {
	t.Helper()
	seg, err := energy.New(vad.Config{Threshold: 0.1, SilenceDuration: 80 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	return seg
}

func (h *harness) feed(ctx context.Context, frames ...audio.Frame) {
	for _, f := range frames {
		h.p.HandleFrame(ctx, f)
	}
}

func TestPipeline_BusyFramesAreInert(t *testing.T) {
	t.Parallel()

	seg := &vadmock.Segmenter{Default: vad.Continue}
	h := newHarness(t, seg, assistant.Config{})
	ctx := context.Background()

	h.guard.SetBusy(true)
	h.feed(ctx, speech(), speech(), speech())
	if h.spotter.DetectCount() != 0 {
		t.Errorf("wake detection ran %d times while busy", h.spotter.DetectCount())
	}
	if h.spotter.Resets() != 3 || seg.Resets() != 3 {
		t.Errorf("resets: spotter=%d segmenter=%d, want 3 each", h.spotter.Resets(), seg.Resets())
	}
	if h.p.State() != assistant.Idle {
		t.Errorf("state = %v", h.p.State())
	}

	// Busy while listening: segmentation must not run.
	h.guard.SetBusy(false)
	h.feed(ctx, speech())
	if h.p.State() != assistant.Listening {
		t.Fatalf("state = %v after wake", h.p.State())
	}
	h.guard.SetBusy(true)
	h.feed(ctx, speech(), speech())
	if seg.ProcessCount() != 0 {
		t.Errorf("segmenter processed %d frames while busy", seg.ProcessCount())
	}
}

func TestPipeline_WakeCueAndAcknowledgement(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &vadmock.Segmenter{}, assistant.Config{Cue: true, Acknowledgement: "Yes?"})
	h.feed(context.Background(), speech())

	if h.p.State() != assistant.Listening {
		t.Fatalf("state = %v", h.p.State())
	}
	if h.out.cues != 1 {
		t.Errorf("cues = %d, want 1", h.out.cues)
	}
	if got := h.out.texts(); !slices.Equal(got, []string{"Yes?"}) {
		t.Errorf("spoken = %v", got)
	}
}

func TestPipeline_AnnounceOnlyFromIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &vadmock.Segmenter{}, assistant.Config{})
	ctx := context.Background()

	if !h.p.Announce("Battery low.") {
		t.Fatal("Announce rejected while idle")
	}
	if h.p.Announce("Second.") {
		t.Error("Announce accepted a second pending text")
	}

	// The announcement takes the frame the spotter would have woken on.
	h.feed(ctx, speech())
	if got := h.out.texts(); !slices.Equal(got, []string{"Battery low."}) {
		t.Errorf("spoken = %v", got)
	}
	if h.spotter.DetectCount() != 0 || h.p.State() != assistant.Idle {
		t.Errorf("detections = %d, state = %v; want no wake on the announcing frame", h.spotter.DetectCount(), h.p.State())
	}

	h.feed(ctx, speech())
	if h.p.State() != assistant.Listening {
		t.Fatalf("state = %v after wake", h.p.State())
	}
	if h.p.Announce("Too late.") {
		t.Error("Announce accepted while listening")
	}
}

func TestPipeline_AnnouncementWaitsForPlayback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &vadmock.Segmenter{}, assistant.Config{})
	ctx := context.Background()

	h.out.mu.Lock()
	h.out.busy = true
	h.out.mu.Unlock()
	h.p.Announce("Battery low.")
	h.feed(ctx, speech(), speech())
	if got := h.out.texts(); len(got) != 0 {
		t.Errorf("spoke %v over active playback", got)
	}
	if h.spotter.DetectCount() != 0 {
		t.Errorf("wake detection ran %d times during playback", h.spotter.DetectCount())
	}

	h.out.mu.Lock()
	h.out.busy = false
	h.out.mu.Unlock()
	h.feed(ctx, speech())
	if got := h.out.texts(); !slices.Equal(got, []string{"Battery low."}) {
		t.Errorf("spoken = %v", got)
	}
}

func TestPipeline_UtteranceBoundaries(t *testing.T) {
	t.Parallel()

	// Frames after wake: lead-in, speech, pause, speech, trailing pause, end.
	seg := &vadmock.Segmenter{
		Signals: []vad.Signal{vad.Background, vad.Continue, vad.Continue, vad.Continue, vad.Continue, vad.Ended},
		PauseAt: map[int]bool{2: true, 4: true},
	}
	h := newHarness(t, seg, assistant.Config{})
	ctx := context.Background()

	frames := make([]audio.Frame, 6)
	for i := range frames {
		frames[i] = frame(float32(i+1) / 10)
	}
	h.feed(ctx, speech())
	h.feed(ctx, frames...)

	calls := h.be.calls()
	if len(calls) != 1 {
		t.Fatalf("backend calls = %d", len(calls))
	}
	want := audio.Concat(frames[1], frames[2], frames[3])
	if !slices.Equal(calls[0].Samples, want.Samples) {
		t.Errorf("utterance has %d samples, want frames 1-3 (%d samples)", len(calls[0].Samples), len(want.Samples))
	}
	if h.src.Drains() != 2 {
		t.Errorf("drains = %d, want 2", h.src.Drains())
	}
}

func TestPipeline_ReplyRecordsMemory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, energySegmenter(t), assistant.Config{})
	ctx := context.Background()
	h.feed(ctx, speech(), speech(), silence())

	if h.p.State() != assistant.Speaking {
		t.Fatalf("state = %v, want SPEAKING", h.p.State())
	}
	if got := h.out.texts(); !slices.Equal(got, []string{"Hi there."}) {
		t.Errorf("spoken = %v", got)
	}
	ctxTurns := h.mem.Context()
	if len(ctxTurns) != 3 || ctxTurns[1].Content != "hello" || ctxTurns[2].Content != "Hi there." {
		t.Errorf("memory = %+v", ctxTurns)
	}
	if hist := h.be.histories[0]; len(hist) != 1 || hist[0].Role != types.RoleSystem {
		t.Errorf("history sent = %+v", hist)
	}

	// Playback idle returns to IDLE on the next frame.
	h.feed(ctx, silence())
	if h.p.State() != assistant.Idle {
		t.Errorf("state = %v, want IDLE", h.p.State())
	}
}

func TestPipeline_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result *backend.Result
		err    error
		want   string
	}{
		{"no speech", nil, backend.ErrNoSpeech, assistant.MsgNotCaught},
		{"empty transcription", &backend.Result{Reply: backend.Text{Content: "?"}}, nil, assistant.MsgNotCaught},
		{"network", nil, errors.Join(backend.ErrNetwork, errors.New("dial tcp")), assistant.MsgNetwork},
		{"unavailable", nil, backend.ErrUnavailable, assistant.MsgBrainTrouble},
		{"other", nil, errors.New("boom"), assistant.MsgBrainTrouble},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, energySegmenter(t), assistant.Config{})
			h.be.result, h.be.err = tt.result, tt.err
			h.feed(context.Background(), speech(), speech(), silence())

			if h.p.State() != assistant.Idle {
				t.Errorf("state = %v, want IDLE", h.p.State())
			}
			if got := h.out.texts(); !slices.Equal(got, []string{tt.want}) {
				t.Errorf("spoken = %v, want [%s]", got, tt.want)
			}
			if h.mem.Len() != 1 {
				t.Errorf("memory grew to %d turns on failure", h.mem.Len())
			}
		})
	}
}

func TestPipeline_ShortUtterance(t *testing.T) {
	t.Parallel()

	h := newHarness(t, energySegmenter(t), assistant.Config{MinUtterance: time.Second})
	h.feed(context.Background(), speech(), speech(), speech(), speech(), silence())

	if len(h.be.calls()) != 0 {
		t.Error("short utterance reached the backend")
	}
	if got := h.out.texts(); !slices.Equal(got, []string{assistant.MsgNotCaught}) {
		t.Errorf("spoken = %v", got)
	}
	if h.p.State() != assistant.Idle {
		t.Errorf("state = %v", h.p.State())
	}
}

func TestPipeline_ListenTimeout(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	h := newHarness(t, energySegmenter(t), assistant.Config{
		ListenTimeout: 3 * time.Second,
		Now:           func() time.Time { return now },
	})
	ctx := context.Background()
	h.feed(ctx, speech())

	now = now.Add(2 * time.Second)
	h.feed(ctx, silence())
	if h.p.State() != assistant.Listening {
		t.Fatalf("timed out early: %v", h.p.State())
	}
	now = now.Add(time.Second)
	h.feed(ctx, silence())
	if h.p.State() != assistant.Idle {
		t.Errorf("state = %v, want IDLE after timeout", h.p.State())
	}
	if len(h.be.calls()) != 0 || len(h.out.texts()) != 0 {
		t.Error("timeout reached the backend or spoke")
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	t.Parallel()

	runner := &actionmock.Runner{}
	reg := action.New(action.Deps{Runner: runner, Commands: action.DefaultCommands("linux"), Probe: &actionmock.Probe{}})

	guard := &echo.Guard{}
	spk := &recordingSpeaker{}
	queue := playback.NewQueue(spk, guard)
	src := &fakeSource{}
	be := &fakeBackend{result: &backend.Result{Transcription: "minimize everything", Reply: backend.Text{Content: "Done. [MINIMIZE]"}}}
	mem := session.New(10)

	p := assistant.NewPipeline(assistant.Deps{
		Source:     src,
		Guard:      guard,
		Spotter:    &wakemock.Spotter{TriggerAt: map[int]bool{0: true}},
		Segmenter:  energySegmenter(t),
		Backend:    be,
		Dispatcher: dispatch.New(reg),
		Output:     queue,
		Memory:     mem,
	}, assistant.Config{FrameTimeout: 5 * time.Millisecond})

	var mu sync.Mutex
	var states []assistant.State
	p.OnTransition(func(_, to assistant.State) {
		mu.Lock()
		states = append(states, to)
		mu.Unlock()
	})

	s1, s2, s3 := frame(0.3), frame(0.4), frame(0.5)
	src.push(speech(), s1, s2, s3, silence())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = queue.Run(ctx) }()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(states)
		mu.Unlock()
		if n >= 4 && p.State() == assistant.Idle {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pipeline stuck in %v", p.State())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	want := []assistant.State{assistant.Listening, assistant.Thinking, assistant.Speaking, assistant.Idle}
	if !slices.Equal(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
	mu.Unlock()

	calls := be.calls()
	if len(calls) != 1 || !slices.Equal(calls[0].Samples, audio.Concat(s1, s2, s3).Samples) {
		t.Errorf("utterance mismatch: %d calls", len(calls))
	}
	if cmds := runner.Calls(); len(cmds) != 1 || !slices.Equal(cmds[0], []string{"xdotool", "key", "super+d"}) {
		t.Errorf("commands = %v", cmds)
	}
	if got := spk.texts(); !slices.Equal(got, []string{"Done."}) {
		t.Errorf("spoken = %v", got)
	}
	if guard.IsBusy() {
		t.Error("guard busy after reply")
	}
}

type recordingSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

func (s *recordingSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *recordingSpeaker) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.spoken)
}
