package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/MrWong99/cherry/internal/action"
	"github.com/MrWong99/cherry/internal/backend"
	"github.com/MrWong99/cherry/internal/config"
	"github.com/MrWong99/cherry/internal/dispatch"
	"github.com/MrWong99/cherry/internal/health"
	"github.com/MrWong99/cherry/internal/mcp"
	"github.com/MrWong99/cherry/internal/mcp/mcphost"
	"github.com/MrWong99/cherry/internal/observe"
	"github.com/MrWong99/cherry/pkg/audio"
	"github.com/MrWong99/cherry/pkg/memory"
	"github.com/MrWong99/cherry/pkg/memory/file"
	"github.com/MrWong99/cherry/pkg/memory/postgres"
	"github.com/MrWong99/cherry/pkg/provider/embeddings"
	"github.com/MrWong99/cherry/pkg/provider/wake"
	"github.com/MrWong99/cherry/pkg/types"
)

// options collects the test doubles and process-level handles shared by
// [New] and [NewBrain].
type options struct {
	facts          memory.Store
	mcpHost        *mcphost.Host
	runner         action.Runner
	probe          action.Probe
	device         audio.Device
	sink           audio.Sink
	spotter        wake.Spotter
	backend        backend.Client
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
}

// Option is a functional option for New and NewBrain. Use these to inject
// test doubles.
type Option func(*options)

// WithFactStore injects a fact store instead of opening one from config.
func WithFactStore(s memory.Store) Option {
	return func(o *options) { o.facts = s }
}

// WithMCPHost injects a tool host instead of connecting the configured
// servers.
func WithMCPHost(h *mcphost.Host) Option {
	return func(o *options) { o.mcpHost = h }
}

// WithRunner replaces the OS command runner used by actions.
func WithRunner(r action.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithProbe replaces the host statistics probe.
func WithProbe(p action.Probe) Option {
	return func(o *options) { o.probe = p }
}

// WithDevice injects the capture device and playback sink.
func WithDevice(dev audio.Device, sink audio.Sink) Option {
	return func(o *options) {
		o.device = dev
		o.sink = sink
	}
}

// WithSpotter injects a wake spotter instead of building the phrase
// spotter from the STT provider.
func WithSpotter(s wake.Spotter) Option {
	return func(o *options) { o.spotter = s }
}

// WithBackend injects the brain client instead of building one from
// assistant.mode.
func WithBackend(c backend.Client) Option {
	return func(o *options) { o.backend = c }
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) { o.metricsHandler = h }
}

// WithLevelVar lets configuration reloads change the log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(o *options) { o.level = lv }
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, fn := range opts {
		fn(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.level == nil {
		o.level = new(slog.LevelVar)
	}
	if o.probe == nil {
		o.probe = action.HostProbe{}
	}
	return o
}

// closers accumulates teardown functions in init order.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

// run calls every closer, stopping early when ctx expires.
func (c closers) run(ctx context.Context) error {
	for i, closer := range c {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", len(c)-i)
			return ctx.Err()
		default:
		}
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	return nil
}

// openFacts opens the configured fact store. Postgres stores register a
// readiness check.
func openFacts(ctx context.Context, cfg config.MemoryConfig, emb embeddings.Provider, hc *health.Handler, cl *closers) (memory.Store, error) {
	switch cfg.Backend {
	case config.FactBackendPostgres:
		var opts []postgres.Option
		if emb != nil {
			opts = append(opts, postgres.WithEmbedder(emb))
		}
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, cfg.EmbeddingDimensions, opts...)
		if err != nil {
			return nil, err
		}
		cl.add(func() error {
			store.Close()
			return nil
		})
		hc.Add(health.Checker{Name: "facts", Check: store.Ping})
		slog.Info("fact store opened", "backend", "postgres", "dimensions", cfg.EmbeddingDimensions)
		return store, nil
	default:
		var opts []file.Option
		if emb != nil {
			opts = append(opts, file.WithEmbedder(emb))
		}
		store, err := file.Open(cfg.Path, opts...)
		if err != nil {
			return nil, err
		}
		slog.Info("fact store opened", "backend", "file", "path", cfg.Path)
		return store, nil
	}
}

// connectMCP registers every configured MCP server on h.
func connectMCP(ctx context.Context, h *mcphost.Host, servers []config.MCPServerConfig) error {
	for _, srv := range servers {
		err := h.RegisterServer(ctx, mcp.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		})
		if err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name, "transport", srv.Transport)
	}
	return nil
}

// toolkit is the action side shared by the listener and the brain: the
// built-in actions, the external tool host and the dispatcher routing
// replies to both.
type toolkit struct {
	facts      memory.Store
	tools      *mcphost.Host
	actions    *action.Registry
	dispatcher *dispatch.Dispatcher
}

// buildToolkit opens the fact store, connects MCP servers and builds the
// dispatcher.
func buildToolkit(ctx context.Context, cfg *config.Config, emb embeddings.Provider, o *options, hc *health.Handler, cl *closers) (*toolkit, error) {
	tk := &toolkit{facts: o.facts, tools: o.mcpHost}

	if tk.facts == nil {
		facts, err := openFacts(ctx, cfg.Memory, emb, hc, cl)
		if err != nil {
			return nil, fmt.Errorf("open facts: %w", err)
		}
		tk.facts = facts
	}

	if tk.tools == nil {
		host := mcphost.New()
		tk.tools = host
		cl.add(host.Close)
	}
	if err := connectMCP(ctx, tk.tools, cfg.MCP.Servers); err != nil {
		return nil, err
	}

	tk.actions = action.New(action.Deps{
		Runner:        o.runner,
		Commands:      actionCommands(cfg.Actions),
		Probe:         o.probe,
		Facts:         tk.facts,
		ScreenshotDir: cfg.Actions.ScreenshotDir,
	})
	tk.dispatcher = dispatch.New(tk.actions,
		dispatch.WithTools(dispatch.Router{tk.actions, tk.tools}),
		dispatch.WithMetrics(o.metrics),
	)
	slog.Info("actions ready", "builtin", len(tk.actions.All()), "mcp_tools", len(tk.tools.Tools()), "os", runtime.GOOS)
	return tk, nil
}

// toolDefinitions are the tools offered to the LLM: every built-in action
// followed by every MCP tool.
func (tk *toolkit) toolDefinitions() []types.ToolDefinition {
	return append(tk.actions.Tools(), tk.tools.Tools()...)
}

func actionCommands(c config.ActionsConfig) action.Commands {
	return action.Commands{
		OpenApp:     c.OpenApp,
		OpenURL:     c.OpenURL,
		MinimizeAll: c.MinimizeAll,
		VolumeUp:    c.VolumeUp,
		VolumeDown:  c.VolumeDown,
		VolumeMute:  c.VolumeMute,
		Media:       c.Media,
		Screenshot:  c.Screenshot,
	}
}
