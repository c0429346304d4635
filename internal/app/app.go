// Package app wires Cherry's subsystems into running processes.
//
// [App] is the listener: it owns the audio device, the wake spotter, the
// interaction pipeline, the playback worker and the battery monitor, and
// talks to a brain that is either in-process or remote. [Brain] is the HTTP
// brain server. Both follow the same lifecycle: New wires everything
// synchronously, Run blocks until the context is cancelled, and Shutdown
// tears down in init order.
//
// For testing, inject doubles via functional options (WithDevice,
// WithBackend, WithRunner, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cherry/internal/assistant"
	"github.com/MrWong99/cherry/internal/backend"
	"github.com/MrWong99/cherry/internal/backend/local"
	"github.com/MrWong99/cherry/internal/backend/remote"
	"github.com/MrWong99/cherry/internal/config"
	"github.com/MrWong99/cherry/internal/echo"
	"github.com/MrWong99/cherry/internal/health"
	"github.com/MrWong99/cherry/internal/observe"
	"github.com/MrWong99/cherry/internal/playback"
	"github.com/MrWong99/cherry/internal/pulse"
	"github.com/MrWong99/cherry/internal/server"
	"github.com/MrWong99/cherry/internal/session"
	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/audio/pipe"
	"github.com/MrWong99/cherry/pkg/audio/wsbridge"
	"github.com/MrWong99/cherry/pkg/provider/vad"
	"github.com/MrWong99/cherry/pkg/provider/vad/energy"
	"github.com/MrWong99/cherry/pkg/provider/wake/phrase"
	"github.com/MrWong99/cherry/pkg/types"
)

// dropReportInterval is how often dropped capture frames are added to the
// frames_dropped counter.
const dropReportInterval = 5 * time.Second

// App owns the listener's subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	opts      *options

	guard     *echo.Guard
	tk        *toolkit
	device    audio.Device
	sink      audio.Sink
	bridge    *wsbridge.Bridge
	source    *audio.Source
	queue     *playback.Queue
	segmenter *energy.Segmenter
	window    *session.Window
	local     *local.Client
	remote    *remote.Client
	backend   backend.Client
	pipeline  *assistant.Pipeline
	pulse     *pulse.Monitor
	health    *health.Handler

	// closers are called in order during Shutdown.
	closers  closers
	stopOnce sync.Once
}

// New creates the listener by wiring all subsystems together. The providers
// struct comes from [BuildProviders]; a TTS provider is always required,
// and an STT provider unless both the spotter and the backend are injected.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		opts:      buildOptions(opts),
		guard:     &echo.Guard{},
		health:    health.New(),
	}

	// ── 1. Actions, tools and facts ──────────────────────────────────────
	tk, err := buildToolkit(ctx, cfg, providers.Embeddings, a.opts, a.health, &a.closers)
	if err != nil {
		a.closers.run(context.Background())
		return nil, fmt.Errorf("app: init toolkit: %w", err)
	}
	a.tk = tk

	// ── 2. Audio device ──────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		a.closers.run(context.Background())
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 3. Speech output ─────────────────────────────────────────────────
	if err := a.initOutput(); err != nil {
		a.closers.run(context.Background())
		return nil, fmt.Errorf("app: init output: %w", err)
	}

	// ── 4. Conversation backend ──────────────────────────────────────────
	if err := a.initBackend(); err != nil {
		a.closers.run(context.Background())
		return nil, fmt.Errorf("app: init backend: %w", err)
	}

	// ── 5. Listening pipeline ────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		a.closers.run(context.Background())
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 6. Battery monitor ───────────────────────────────────────────────
	if cfg.Pulse.Enabled {
		a.pulse = pulse.New(a.opts.probe, a.pipeline.Announce, pulse.Config{
			Interval:  cfg.Pulse.Interval,
			Threshold: cfg.Pulse.Threshold,
			Cooldown:  cfg.Pulse.Cooldown,
		})
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initAudio() error {
	a.device, a.sink = a.opts.device, a.opts.sink
	if a.device == nil || a.sink == nil {
		ac := a.cfg.Audio
		switch ac.Device {
		case config.DeviceBridge:
			b, err := wsbridge.New(wsbridge.WithCodec(ac.BridgeCodec), wsbridge.WithSampleRate(ac.BridgeRate))
			if err != nil {
				return err
			}
			a.bridge = b
			a.device, a.sink = b, b
			a.health.Add(health.Checker{Name: "bridge", Check: func(context.Context) error {
				if !b.Connected() {
					return errors.New("no audio peer connected")
				}
				return nil
			}})
		default:
			a.device = pipe.NewDevice(ac.CaptureCommand, ac.NativeRate)
			a.sink = pipe.NewSink(ac.PlaybackCommand)
		}
	}
	a.source = audio.NewSource(a.device,
		audio.WithTargetRate(a.cfg.Audio.TargetRate),
		audio.WithFrameSamples(a.cfg.Audio.FrameSamples),
		audio.WithQueueSize(a.cfg.Audio.QueueSize),
	)
	slog.Info("audio ready", "device", a.cfg.Audio.Device, "native_rate", a.device.NativeRate(), "target_rate", a.cfg.Audio.TargetRate)
	return nil
}

func (a *App) initOutput() error {
	if a.providers.TTS == nil {
		return errors.New("providers.tts is required")
	}
	voiceOpts := []playback.VoiceOption{
		playback.WithProfile(types.VoiceProfile{ID: a.cfg.Assistant.Voice}),
	}
	if a.cfg.Assistant.DisableCue {
		voiceOpts = append(voiceOpts, playback.WithCueTone(0, 0))
	}
	voice := playback.NewVoice(a.providers.TTS, a.sink, voiceOpts...)
	a.queue = playback.NewQueue(voice, a.guard, playback.WithMetrics(a.opts.metrics))
	return nil
}

func (a *App) initBackend() error {
	if a.opts.backend != nil {
		a.backend = a.opts.backend
		return nil
	}
	switch a.cfg.Assistant.Mode {
	case config.ModeRemote:
		c, err := remote.New(a.cfg.Assistant.BrainURL,
			remote.WithTimeout(a.cfg.Assistant.BackendTimeout),
			remote.WithMetrics(a.opts.metrics),
		)
		if err != nil {
			return err
		}
		a.remote, a.backend = c, c
		a.health.Add(health.Checker{Name: "brain", Check: func(ctx context.Context) error {
			_, err := c.Status(ctx)
			return err
		}})
		slog.Info("backend ready", "mode", "remote", "brain_url", a.cfg.Assistant.BrainURL)
	default:
		if a.providers.LLM == nil || a.providers.STT == nil {
			return errors.New("local mode requires providers.llm and providers.stt")
		}
		a.local = local.New(a.providers.STT, a.providers.LLM, a.cfg.Assistant.SystemPrompt,
			local.WithTools(a.tk.toolDefinitions()),
			local.WithFacts(a.tk.facts, a.cfg.Memory.RecallLimit),
			local.WithProbe(a.opts.probe),
			local.WithMetrics(a.opts.metrics),
		)
		a.backend = a.local
		slog.Info("backend ready", "mode", "local")
	}
	return nil
}

func (a *App) initPipeline() error {
	spotter := a.opts.spotter
	if spotter == nil {
		if a.providers.STT == nil {
			return errors.New("the wake spotter requires providers.stt")
		}
		wc := a.cfg.Wake
		s, err := phrase.New(a.providers.STT,
			phrase.WithPhrase(wc.Phrase),
			phrase.WithWindow(wc.Window),
			phrase.WithStride(wc.Stride),
			phrase.WithThreshold(wc.Threshold),
			phrase.WithMinEnergy(wc.MinEnergy),
		)
		if err != nil {
			return err
		}
		spotter = s
		slog.Info("wake spotter ready", "phrase", s.Phrase())
	}

	seg, err := energy.New(vad.Config{
		Threshold:       a.cfg.VAD.Threshold,
		SilenceDuration: a.cfg.VAD.SilenceDuration,
	})
	if err != nil {
		return err
	}
	a.segmenter = seg

	a.window = session.New(a.cfg.Assistant.MemoryWindow)
	a.window.SetSystem(a.cfg.Assistant.SystemPrompt)

	a.pipeline = assistant.NewPipeline(assistant.Deps{
		Source:     a.source,
		Guard:      a.guard,
		Spotter:    spotter,
		Segmenter:  seg,
		Backend:    a.backend,
		Dispatcher: a.tk.dispatcher,
		Output:     a.queue,
		Memory:     a.window,
		Metrics:    a.opts.metrics,
	}, assistant.Config{
		ListenTimeout:   a.cfg.Assistant.ListenTimeout,
		MinUtterance:    a.cfg.VAD.MinUtterance,
		BackendTimeout:  a.cfg.Assistant.BackendTimeout,
		Acknowledgement: a.cfg.Assistant.Acknowledgement,
		Cue:             !a.cfg.Assistant.DisableCue,
	})
	return nil
}

// idle reports whether the assistant is neither in a conversation nor
// speaking.
// ─── Accessors ───────────────────────────────────────────────────────────────

// Pipeline returns the interaction pipeline.
func (a *App) Pipeline() *assistant.Pipeline { return a.pipeline }

// Queue returns the playback queue.
func (a *App) Queue() *playback.Queue { return a.queue }

// Memory returns the conversation window.
func (a *App) Memory() *session.Window { return a.window }

// Handlers returns the HTTP handlers the listener serves, keyed by listen
// address: the audio bridge on server.listen_addr and the probes and
// metrics on server.metrics_addr. Addresses that are equal share one mux.
func (a *App) Handlers() map[string]http.Handler {
	muxes := make(map[string]*http.ServeMux)
	mux := func(addr string) *http.ServeMux {
		if m, ok := muxes[addr]; ok {
			return m
		}
		m := http.NewServeMux()
		muxes[addr] = m
		return m
	}
	if a.bridge != nil {
		mux(a.cfg.Server.ListenAddr).Handle("GET /audio", a.bridge)
	}
	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		m := mux(addr)
		a.health.Register(m)
		if a.opts.metricsHandler != nil {
			m.Handle("GET /metrics", a.opts.metricsHandler)
		}
	}
	out := make(map[string]http.Handler, len(muxes))
	for addr, m := range muxes {
		out[addr] = observe.Middleware(a.opts.metrics)(m)
	}
	return out
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts capture, playback, the pipeline and the optional battery
// monitor and HTTP endpoints, and blocks until ctx is cancelled or one of
// them fails. When path is non-empty the configuration file is watched and
// hot-reloadable changes are applied.
//
// In remote mode Run first waits for the brain to answer its status probe;
// a brain that never answers is logged and the listener starts anyway.
func (a *App) Run(ctx context.Context, path string) error {
	if a.remote != nil {
		st, err := a.remote.WaitReady(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("brain not reachable, continuing", "err", err)
		} else {
			slog.Info("brain online", "status", st.Status, "stats", st.SystemStats)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.source.Run(ctx) })
	g.Go(func() error { return a.queue.Run(ctx) })
	g.Go(func() error { return a.pipeline.Run(ctx) })
	g.Go(func() error { return a.reportDrops(ctx) })
	if a.pulse != nil {
		g.Go(func() error { return a.pulse.Run(ctx) })
	}
	for addr, h := range a.Handlers() {
		g.Go(func() error { return server.Serve(ctx, addr, h) })
	}
	if path != "" {
		w, err := config.NewWatcher(path, a.reload)
		if err != nil {
			return fmt.Errorf("app: watch config: %w", err)
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	slog.Info("listening", "mode", a.cfg.Assistant.Mode, "wake_phrase", a.cfg.Wake.Phrase)
	return g.Wait()
}

func (a *App) reportDrops(ctx context.Context) error {
	ticker := time.NewTicker(dropReportInterval)
	defer ticker.Stop()
	var last int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n := a.source.Dropped()
			if delta := n - last; delta > 0 {
				a.opts.metrics.FramesDropped.Add(ctx, delta)
				slog.Debug("capture frames dropped", "count", delta)
			}
			last = n
		}
	}
}

// reload applies the hot-reloadable part of a configuration change.
func (a *App) reload(old, cur *config.Config) {
	d := config.Diff(old, cur)
	if d.LogLevelChanged {
		applyLogLevel(a.opts.level, d.NewLogLevel)
	}
	if d.SystemPromptChanged {
		a.window.SetSystem(d.NewSystemPrompt)
		if a.local != nil {
			a.local.SetSystemPrompt(d.NewSystemPrompt)
		}
		slog.Info("system prompt updated")
	}
	if d.VADChanged {
		err := a.segmenter.Update(vad.Config{Threshold: d.NewVADThreshold, SilenceDuration: d.NewSilenceDuration})
		if err != nil {
			slog.Warn("vad update rejected", "err", err)
		} else {
			slog.Info("vad updated", "threshold", d.NewVADThreshold, "silence", d.NewSilenceDuration)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

func applyLogLevel(lv *slog.LevelVar, l config.LogLevel) {
	lv.Set(l.Level())
	slog.Info("log level changed", "level", l)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		err = a.closers.run(ctx)
		slog.Info("shutdown complete")
	})
	return err
}
