package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/cherry/internal/mcp"
)

// DefaultSystemPrompt instructs the model to answer briefly and to embed
// bracket directives for the actions it wants performed.
const DefaultSystemPrompt = `You are Cherry, a helpful voice assistant running on the user's computer.
Answer in one or two short spoken sentences. When the user asks for something on their computer, add one of these commands to your reply:
- [OPEN: app name] opens an application
- [SEARCH: query] searches the web
- [PLAY: song or video] plays it on YouTube
- [VOLUME: up/down/mute] changes the volume
- [MEDIA: play/pause/next/previous/stop] controls media playback
- [REMEMBER: fact] stores a fact about the user
- [STATS] reports CPU, memory and battery
- [TIME] tells the time
- [DATE] tells the date
- [SCREENSHOT] takes a screenshot
- [MINIMIZE] minimizes all windows
Example: "Sure, opening the calculator. [OPEN: calculator]"`

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"ollama", "openai", "openai-native", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whisper", "whisper-native", "deepgram"},
	"tts":        {"coqui", "elevenlabs"},
	"embeddings": {"ollama", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero-valued field that has a default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, ":5000")
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Audio.Device, DevicePipe)
	setDefault(&cfg.Audio.TargetRate, 16000)
	setDefault(&cfg.Audio.NativeRate, cfg.Audio.TargetRate)
	setDefault(&cfg.Audio.FrameSamples, 1280)
	setDefault(&cfg.Audio.QueueSize, 64)
	setDefault(&cfg.Audio.BridgeCodec, "pcm16")
	setDefault(&cfg.Audio.BridgeRate, 48000)

	setDefault(&cfg.Wake.Phrase, "hey cherry")
	setDefault(&cfg.Wake.Window, 24)
	setDefault(&cfg.Wake.Stride, 8)
	setDefault(&cfg.Wake.Threshold, 0.8)
	setDefault(&cfg.Wake.MinEnergy, 0.01)

	setDefault(&cfg.VAD.Threshold, 0.02)
	setDefault(&cfg.VAD.SilenceDuration, 1500*time.Millisecond)
	setDefault(&cfg.VAD.MinUtterance, 300*time.Millisecond)

	setDefault(&cfg.Assistant.Mode, ModeLocal)
	setDefault(&cfg.Assistant.MemoryWindow, 10)
	setDefault(&cfg.Assistant.SystemPrompt, DefaultSystemPrompt)
	setDefault(&cfg.Assistant.ListenTimeout, 8*time.Second)
	setDefault(&cfg.Assistant.BackendTimeout, 60*time.Second)

	setDefault(&cfg.Actions.ScreenshotDir, "screenshots")

	setDefault(&cfg.Memory.Backend, FactBackendFile)
	setDefault(&cfg.Memory.Path, "data/facts.json")
	setDefault(&cfg.Memory.RecallLimit, 5)
	if cfg.Memory.EmbeddingDimensions == 0 && cfg.Providers.Embeddings.Name != "" {
		cfg.Memory.EmbeddingDimensions = 768
	}

	setDefault(&cfg.Pulse.Interval, 10*time.Second)
	setDefault(&cfg.Pulse.Threshold, 20)
	setDefault(&cfg.Pulse.Cooldown, 5*time.Minute)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	for _, fb := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", fb.Name)
	}

	// Audio
	if cfg.Audio.Device != "" && !cfg.Audio.Device.IsValid() {
		errs = append(errs, fmt.Errorf("audio.device %q is invalid; valid values: pipe, wsbridge", cfg.Audio.Device))
	}
	if cfg.Audio.BridgeCodec != "" && cfg.Audio.BridgeCodec != "pcm16" && cfg.Audio.BridgeCodec != "opus" {
		errs = append(errs, fmt.Errorf("audio.bridge_codec %q is invalid; valid values: pcm16, opus", cfg.Audio.BridgeCodec))
	}
	if cfg.Audio.TargetRate < 0 || cfg.Audio.NativeRate < 0 || cfg.Audio.FrameSamples < 0 || cfg.Audio.QueueSize < 0 {
		errs = append(errs, errors.New("audio: rates, frame_samples and queue_size must not be negative"))
	}

	// Wake / VAD
	if cfg.Wake.Threshold < 0 || cfg.Wake.Threshold > 1 {
		errs = append(errs, fmt.Errorf("wake.threshold %.2f is out of range [0, 1]", cfg.Wake.Threshold))
	}
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.4f is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.SilenceDuration < 0 || cfg.VAD.MinUtterance < 0 {
		errs = append(errs, errors.New("vad: durations must not be negative"))
	}

	// Assistant ↔ providers
	if cfg.Assistant.Mode != "" && !cfg.Assistant.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("assistant.mode %q is invalid; valid values: local, remote", cfg.Assistant.Mode))
	}
	if cfg.Assistant.Mode == ModeRemote && cfg.Assistant.BrainURL == "" {
		errs = append(errs, errors.New("assistant.brain_url is required when assistant.mode is remote"))
	}
	if cfg.Assistant.MemoryWindow < 0 {
		errs = append(errs, fmt.Errorf("assistant.memory_window %d must not be negative", cfg.Assistant.MemoryWindow))
	}

	// Memory
	if cfg.Memory.Backend != "" && !cfg.Memory.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: file, postgres", cfg.Memory.Backend))
	}
	if cfg.Memory.Backend == FactBackendPostgres {
		if cfg.Memory.PostgresDSN == "" {
			errs = append(errs, errors.New("memory.postgres_dsn is required when memory.backend is postgres"))
		}
		if cfg.Memory.EmbeddingDimensions <= 0 {
			errs = append(errs, errors.New("memory.embedding_dimensions must be positive when memory.backend is postgres"))
		}
	}
	if cfg.Memory.Backend == FactBackendPostgres && cfg.Providers.Embeddings.Name == "" {
		slog.Warn("memory.backend is postgres but providers.embeddings is not configured; recall will use full-text search")
	}

	// Pulse
	if cfg.Pulse.Threshold < 0 || cfg.Pulse.Threshold > 100 {
		errs = append(errs, fmt.Errorf("pulse.threshold %.1f is out of range [0, 100]", cfg.Pulse.Threshold))
	}

	// MCP servers
	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if prev, ok := seen[srv.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
		} else {
			seen[srv.Name] = i
		}
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// RequireLocalProviders reports the providers a process running the
// conversation in-process needs: an LLM and an STT.
func RequireLocalProviders(cfg *Config) error {
	var errs []error
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required"))
	}
	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
