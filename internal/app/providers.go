package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/cherry/internal/config"
	"github.com/MrWong99/cherry/internal/resilience"
	"github.com/MrWong99/cherry/pkg/provider/embeddings"
	"github.com/MrWong99/cherry/pkg/provider/llm"
	"github.com/MrWong99/cherry/pkg/provider/stt"
	"github.com/MrWong99/cherry/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by [BuildProviders] or by tests.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
}

// BuildProviders instantiates every provider named in cfg using reg.
//
// When fallbacks are configured the LLM and STT slots hold a
// [resilience.LLMFallback] or [resilience.STTFallback] that tries the
// primary first and each fallback in order, every entry behind its own
// circuit breaker. A fallback that cannot be created is logged and skipped;
// a primary that cannot be created is an error.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	pc := cfg.Providers

	if pc.LLM.Name != "" {
		p, err := reg.CreateLLM(pc.LLM)
		if err != nil {
			return nil, fmt.Errorf("app: create llm provider %q: %w", pc.LLM.Name, err)
		}
		ps.LLM = p
		if len(pc.LLMFallbacks) > 0 {
			fb := resilience.NewLLMFallback(p, pc.LLM.Name, fallbackConfig("llm"))
			for _, entry := range pc.LLMFallbacks {
				alt, err := reg.CreateLLM(entry)
				if err != nil {
					slog.Warn("skipping llm fallback", "name", entry.Name, "err", err)
					continue
				}
				fb.AddFallback(entry.Name, alt)
			}
			ps.LLM = fb
		}
		slog.Info("provider created", "kind", "llm", "name", pc.LLM.Name, "fallbacks", len(pc.LLMFallbacks))
	}

	if pc.STT.Name != "" {
		p, err := reg.CreateSTT(pc.STT)
		if err != nil {
			return nil, fmt.Errorf("app: create stt provider %q: %w", pc.STT.Name, err)
		}
		ps.STT = p
		if len(pc.STTFallbacks) > 0 {
			fb := resilience.NewSTTFallback(p, pc.STT.Name, fallbackConfig("stt"))
			for _, entry := range pc.STTFallbacks {
				alt, err := reg.CreateSTT(entry)
				if err != nil {
					slog.Warn("skipping stt fallback", "name", entry.Name, "err", err)
					continue
				}
				fb.AddFallback(entry.Name, alt)
			}
			ps.STT = fb
		}
		slog.Info("provider created", "kind", "stt", "name", pc.STT.Name, "fallbacks", len(pc.STTFallbacks))
	}

	if pc.TTS.Name != "" {
		p, err := reg.CreateTTS(pc.TTS)
		if err != nil {
			return nil, fmt.Errorf("app: create tts provider %q: %w", pc.TTS.Name, err)
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", pc.TTS.Name)
	}

	if pc.Embeddings.Name != "" {
		p, err := reg.CreateEmbeddings(pc.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not available, recall falls back to keywords", "name", pc.Embeddings.Name)
		} else if err != nil {
			return nil, fmt.Errorf("app: create embeddings provider %q: %w", pc.Embeddings.Name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", pc.Embeddings.Name)
		}
	}

	return ps, nil
}

func fallbackConfig(kind string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: kind},
	}
}
