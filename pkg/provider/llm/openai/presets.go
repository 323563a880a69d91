package openai

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Preset is a known OpenAI-compatible cloud endpoint.
type Preset struct {
	BaseURL string

	// APIKeyEnv is the environment variable conventionally holding the key.
	APIKeyEnv string

	// DefaultModel is used when the configuration names none.
	DefaultModel string

	// LegacyMaxTokens sends the output cap as max_tokens instead of
	// max_completion_tokens, for endpoints that reject the newer field.
	LegacyMaxTokens bool
}

// Presets are the clouds the reasoning slot can fail over to.
var Presets = map[string]Preset{
	"openai": {
		BaseURL:      "https://api.openai.com/v1/",
		APIKeyEnv:    "OPENAI_API_KEY",
		DefaultModel: "gpt-4o-mini",
	},
	"groq": {
		BaseURL:      "https://api.groq.com/openai/v1/",
		APIKeyEnv:    "GROQ_API_KEY",
		DefaultModel: "llama-3.3-70b-versatile",
	},
	"cerebras": {
		BaseURL:      "https://api.cerebras.ai/v1/",
		APIKeyEnv:    "CEREBRAS_API_KEY",
		DefaultModel: "llama-3.3-70b",
	},
	"sambanova": {
		BaseURL:         "https://api.sambanova.ai/v1/",
		APIKeyEnv:       "SAMBANOVA_API_KEY",
		DefaultModel:    "Meta-Llama-3.3-70B-Instruct",
		LegacyMaxTokens: true,
	},
}

// PresetNames lists [Presets], sorted.
func PresetNames() []string { return slices.Sorted(maps.Keys(Presets)) }

// NewFromPreset builds a Provider for a named preset. An empty model picks
// the preset default. opts apply after the preset's own, so WithBaseURL can
// point a preset at a proxy.
func NewFromPreset(name, apiKey, model string, opts ...Option) (*Provider, error) {
	preset, ok := Presets[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("openai: unknown preset %q (have %s)", name, strings.Join(PresetNames(), ", "))
	}
	if model == "" {
		model = preset.DefaultModel
	}
	base := []Option{WithBaseURL(preset.BaseURL)}
	if preset.LegacyMaxTokens {
		base = append(base, WithLegacyMaxTokens())
	}
	return New(apiKey, model, append(base, opts...)...)
}
