package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cherry/internal/backend/local"
	"github.com/MrWong99/cherry/internal/config"
	"github.com/MrWong99/cherry/internal/health"
	"github.com/MrWong99/cherry/internal/server"
)

// Brain runs the reasoning half of Cherry as an HTTP server: speech to text,
// the language model, fact recall and the actions executed on the brain
// host.
type Brain struct {
	cfg    *config.Config
	opts   *options
	client *local.Client
	tk     *toolkit
	server *server.Server
	health *health.Handler

	closers  closers
	stopOnce sync.Once
}

// NewBrain wires the brain from cfg. It requires an LLM and an STT
// provider.
func NewBrain(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*Brain, error) {
	if providers.LLM == nil || providers.STT == nil {
		return nil, errors.New("app: brain requires llm and stt providers")
	}
	b := &Brain{cfg: cfg, opts: buildOptions(opts), health: health.New()}

	tk, err := buildToolkit(ctx, cfg, providers.Embeddings, b.opts, b.health, &b.closers)
	if err != nil {
		b.closers.run(context.Background())
		return nil, fmt.Errorf("app: init toolkit: %w", err)
	}
	b.tk = tk

	b.client = local.New(providers.STT, providers.LLM, cfg.Assistant.SystemPrompt,
		local.WithTools(tk.toolDefinitions()),
		local.WithFacts(tk.facts, cfg.Memory.RecallLimit),
		local.WithProbe(b.opts.probe),
		local.WithMetrics(b.opts.metrics),
	)

	srvOpts := []server.Option{
		server.WithHealth(b.health),
		server.WithMetrics(b.opts.metrics),
	}
	if b.opts.metricsHandler != nil {
		srvOpts = append(srvOpts, server.WithMetricsHandler(b.opts.metricsHandler))
	}
	b.server = server.New(b.client, tk.dispatcher, srvOpts...)
	return b, nil
}

// Server returns the HTTP API.
func (b *Brain) Server() *server.Server { return b.server }

// Run serves the brain API on server.listen_addr until ctx is cancelled.
// When path is non-empty the configuration file is watched and the log
// level and system prompt are applied without a restart.
func (b *Brain) Run(ctx context.Context, path string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.server.ListenAndServe(ctx, b.cfg.Server.ListenAddr)
	})
	if path != "" {
		w, err := config.NewWatcher(path, b.reload)
		if err != nil {
			return fmt.Errorf("app: watch config: %w", err)
		}
		g.Go(func() error { return w.Run(ctx) })
	}
	slog.Info("brain serving", "addr", b.cfg.Server.ListenAddr)
	return g.Wait()
}

func (b *Brain) reload(old, cur *config.Config) {
	d := config.Diff(old, cur)
	if d.LogLevelChanged {
		applyLogLevel(b.opts.level, d.NewLogLevel)
	}
	if d.SystemPromptChanged {
		b.client.SetSystemPrompt(d.NewSystemPrompt)
		slog.Info("system prompt updated")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// Shutdown releases the fact store and the tool host.
func (b *Brain) Shutdown(ctx context.Context) error {
	var err error
	b.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(b.closers))
		err = b.closers.run(ctx)
		slog.Info("shutdown complete")
	})
	return err
}
