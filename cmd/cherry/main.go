// Command cherry is the entry point for the Cherry voice assistant: the
// listener that hears the wake phrase and speaks replies, and the brain
// server that reasons about them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/cherry/internal/app"
	"github.com/MrWong99/cherry/internal/backend/remote"
	"github.com/MrWong99/cherry/internal/config"
	"github.com/MrWong99/cherry/internal/observe"
)

// shutdownTimeout bounds graceful shutdown after SIGINT/SIGTERM.
const shutdownTimeout = 15 * time.Second

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "cherry: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "cherry",
		Short:         "Cherry, a hands-free voice assistant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	listen := &cobra.Command{
		Use:   "listen",
		Short: "Run the listener: wake phrase, conversation and speech",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runListener(cmd.Context(), configPath, stdout)
		},
	}

	brain := &cobra.Command{
		Use:   "brain",
		Short: "Run the brain server answering remote listeners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBrain(cmd.Context(), configPath, stdout)
		},
	}

	var statusURL string
	status := &cobra.Command{
		Use:   "status",
		Short: "Probe a brain server once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), statusURL, stdout)
		},
	}
	status.Flags().StringVar(&statusURL, "url", "http://localhost:5000", "base URL of the brain server")

	voices := &cobra.Command{
		Use:   "voices",
		Short: "List the voices offered by the configured TTS provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVoices(cmd.Context(), configPath, stdout)
		},
	}

	root.AddCommand(listen, brain, status, voices)
	return root
}

// ── Commands ──────────────────────────────────────────────────────────────────

func runListener(ctx context.Context, path string, stdout io.Writer) error {
	cfg, level, err := loadConfig(path)
	if err != nil {
		return err
	}
	if cfg.Assistant.Mode == config.ModeLocal {
		if err := config.RequireLocalProviders(cfg); err != nil {
			return err
		}
	}
	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "cherry-listener", ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownTelemetry(tel)

	printStartupSummary(stdout, "listener", cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLevelVar(level),
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithMetricsHandler(tel.Handler),
	)
	if err != nil {
		return fmt.Errorf("initialise listener: %w", err)
	}

	slog.Info("listener ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx, path)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

func runBrain(ctx context.Context, path string, stdout io.Writer) error {
	cfg, level, err := loadConfig(path)
	if err != nil {
		return err
	}
	if err := config.RequireLocalProviders(cfg); err != nil {
		return err
	}
	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "cherry-brain", ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownTelemetry(tel)

	printStartupSummary(stdout, "brain", cfg)

	b, err := app.NewBrain(ctx, cfg, providers,
		app.WithLevelVar(level),
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithMetricsHandler(tel.Handler),
	)
	if err != nil {
		return fmt.Errorf("initialise brain: %w", err)
	}

	runErr := b.Run(ctx, path)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func runStatus(ctx context.Context, url string, stdout io.Writer) error {
	c, err := remote.New(url, remote.WithTimeout(10*time.Second))
	if err != nil {
		return err
	}
	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("brain at %s: %w", url, err)
	}
	fmt.Fprintf(stdout, "status: %s\n", st.Status)
	if st.SystemStats != "" {
		fmt.Fprintf(stdout, "system: %s\n", st.SystemStats)
	}
	return nil
}

func runVoices(ctx context.Context, path string, stdout io.Writer) error {
	cfg, _, err := loadConfig(path)
	if err != nil {
		return err
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	if cfg.Providers.TTS.Name == "" {
		return errors.New("providers.tts is not configured")
	}
	p, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	voices, err := p.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("list voices: %w", err)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPROVIDER")
	for _, v := range voices {
		marker := ""
		if v.ID == cfg.Assistant.Voice {
			marker = " (configured)"
		}
		fmt.Fprintf(tw, "%s\t%s%s\t%s\n", v.ID, v.Name, marker, v.Provider)
	}
	return tw.Flush()
}

// ── Setup ─────────────────────────────────────────────────────────────────────

// loadConfig reads path and installs the default logger. The returned
// LevelVar lets configuration reloads change the level.
func loadConfig(path string) (*config.Config, *slog.LevelVar, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
		}
		return nil, nil, err
	}
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.Info("cherry starting", "version", version, "config", path, "log_level", cfg.Server.LogLevel)
	return cfg, level, nil
}

func buildProviders(cfg *config.Config) (*app.Providers, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	return app.BuildProviders(cfg, reg)
}

func shutdownTelemetry(tel *observe.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, role string, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintf(w, "║  Cherry %-12s startup summary  ║\n", role)
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider(w, "TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider(w, "Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if role == "listener" {
		printRow(w, "Mode", string(cfg.Assistant.Mode))
		printRow(w, "Audio", string(cfg.Audio.Device))
		printRow(w, "Wake phrase", cfg.Wake.Phrase)
	}
	printRow(w, "Facts", string(cfg.Memory.Backend))
	printRow(w, "MCP servers", fmt.Sprintf("%d", len(cfg.MCP.Servers)))
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(w, kind, value)
}

func printRow(w io.Writer, label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}
