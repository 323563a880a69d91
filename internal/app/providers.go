package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/health"
	"github.com/MrWong99/jarvis/internal/resilience"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
)

// defaultOllamaURL is probed for readiness when the primary reasoning engine
// is a local Ollama without an explicit base URL.
const defaultOllamaURL = "http://localhost:11434"

// Providers holds one value per provider slot. A slot with several configured
// engines holds a fallback chain. Nil means the slot is not configured.
type Providers struct {
	VAD vad.Engine
	STT stt.Provider
	TTS tts.Provider
	LLM llm.Provider

	// LLMName is the primary reasoning engine's name, used as a metric label.
	LLMName string

	// LLMHealthURL is probed by /readyz when set.
	LLMHealthURL string
}

// BuildProviders instantiates every engine named in cfg through reg. The
// first entry of each list is the primary; later entries become fallbacks
// behind their own circuit breakers.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	if name := cfg.VAD.Provider; name != "" {
		v, err := reg.CreateVAD(config.ProviderEntry{Name: name})
		if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		}
		ps.VAD = v
		slog.Info("provider created", "kind", "vad", "name", name)
	}

	stts, err := createAll(cfg.Providers.STT, "stt", reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	if len(stts) > 0 {
		fb := resilience.NewSTTFallback(stts[0].value, stts[0].name, fallbackConfig())
		for _, p := range stts[1:] {
			fb.AddFallback(p.name, p.value)
		}
		ps.STT = fb
	}

	ttss, err := createAll(cfg.Providers.TTS, "tts", reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	if len(ttss) > 0 {
		fb := resilience.NewTTSFallback(ttss[0].value, ttss[0].name, fallbackConfig())
		for _, p := range ttss[1:] {
			fb.AddFallback(p.name, p.value)
		}
		ps.TTS = fb
	}

	llms, err := createAll(cfg.Providers.LLM, "llm", reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	if len(llms) > 0 {
		fb := resilience.NewLLMFallback(llms[0].value, llms[0].name, fallbackConfig())
		for _, p := range llms[1:] {
			fb.AddFallback(p.name, p.value)
		}
		ps.LLM = fb
		ps.LLMName = llms[0].name

		primary := cfg.Providers.LLM[0]
		switch {
		case primary.BaseURL != "":
			ps.LLMHealthURL = primary.BaseURL
		case primary.Name == "ollama":
			ps.LLMHealthURL = defaultOllamaURL
		}
	}

	return ps, nil
}

// breakerChecks marks a slot unready once every engine in its chain has
// tripped its breaker. Slots not built by [BuildProviders] are not checked.
func (ps *Providers) breakerChecks() []health.Checker {
	var out []health.Checker
	if fb, ok := ps.STT.(*resilience.STTFallback); ok {
		out = append(out, health.Flag("stt", fb.Group().Available, "every recognizer breaker is open"))
	}
	if fb, ok := ps.TTS.(*resilience.TTSFallback); ok {
		out = append(out, health.Flag("tts", fb.Group().Available, "every synthesizer breaker is open"))
	}
	if fb, ok := ps.LLM.(*resilience.LLMFallback); ok {
		out = append(out, health.Flag("llm-engines", fb.Group().Available, "every reasoning engine breaker is open"))
	}
	return out
}

type named[T any] struct {
	name  string
	value T
}

func createAll[T any](entries []config.ProviderEntry, kind string, create func(config.ProviderEntry) (T, error)) ([]named[T], error) {
	out := make([]named[T], 0, len(entries))
	for _, e := range entries {
		p, err := create(e)
		if err != nil {
			return nil, fmt.Errorf("create %s provider %q: %w", kind, e.Name, err)
		}
		out = append(out, named[T]{name: e.Name, value: p})
		slog.Info("provider created", "kind", kind, "name", e.Name, "model", e.Model)
	}
	return out, nil
}

func fallbackConfig() resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("provider circuit breaker state change", "provider", name, "from", from, "to", to)
			},
		},
	}
}
