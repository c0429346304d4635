package config

import "time"

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied to a running process are tracked; everything else needs a
// restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SystemPromptChanged bool
	NewSystemPrompt     string

	VADChanged         bool
	NewVADThreshold    float64
	NewSilenceDuration time.Duration

	// RestartRequired lists top-level sections that changed in ways that
	// cannot be hot-reloaded.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SystemPromptChanged && !d.VADChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Assistant.SystemPrompt != new.Assistant.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.Assistant.SystemPrompt
	}
	if old.VAD.Threshold != new.VAD.Threshold || old.VAD.SilenceDuration != new.VAD.SilenceDuration {
		d.VADChanged = true
		d.NewVADThreshold = new.VAD.Threshold
		d.NewSilenceDuration = new.VAD.SilenceDuration
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.MetricsAddr != new.Server.MetricsAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Wake != new.Wake {
		d.RestartRequired = append(d.RestartRequired, "wake")
	}
	oa, na := old.Assistant, new.Assistant
	oa.SystemPrompt, na.SystemPrompt = "", ""
	if oa != na {
		d.RestartRequired = append(d.RestartRequired, "assistant")
	}
	if old.Memory != new.Memory {
		d.RestartRequired = append(d.RestartRequired, "memory")
	}
	return d
}

// sameProviders compares the identifying fields of every entry. Options maps
// are not compared.
func sameProviders(a, b ProvidersConfig) bool {
	same := func(x, y ProviderEntry) bool {
		return x.Name == y.Name && x.Model == y.Model && x.BaseURL == y.BaseURL && x.APIKey == y.APIKey
	}
	if !same(a.LLM, b.LLM) || !same(a.STT, b.STT) || !same(a.TTS, b.TTS) || !same(a.Embeddings, b.Embeddings) {
		return false
	}
	if len(a.LLMFallbacks) != len(b.LLMFallbacks) || len(a.STTFallbacks) != len(b.STTFallbacks) {
		return false
	}
	for i := range a.LLMFallbacks {
		if !same(a.LLMFallbacks[i], b.LLMFallbacks[i]) {
			return false
		}
	}
	for i := range a.STTFallbacks {
		if !same(a.STTFallbacks[i], b.STTFallbacks[i]) {
			return false
		}
	}
	return true
}
