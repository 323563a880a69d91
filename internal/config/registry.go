package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is the per-kind factory table.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

func (f *factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	vad factories[vad.Engine]
	stt factories[stt.Provider]
	tts factories[tts.Provider]
	llm factories[llm.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad: factories[vad.Engine]{kind: "vad", m: make(map[string]Factory[vad.Engine])},
		stt: factories[stt.Provider]{kind: "stt", m: make(map[string]Factory[stt.Provider])},
		tts: factories[tts.Provider]{kind: "tts", m: make(map[string]Factory[tts.Provider])},
		llm: factories[llm.Provider]{kind: "llm", m: make(map[string]Factory[llm.Provider])},
	}
}

// RegisterVAD registers a VAD engine factory under name. A later call with
// the same name replaces the earlier one.
func (r *Registry) RegisterVAD(name string, f Factory[vad.Engine]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = f
}

// RegisterSTT registers a recognizer factory under name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterTTS registers a synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = f
}

// RegisterLLM registers a reasoning engine factory under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

// CreateVAD instantiates the VAD engine registered under entry.Name.
// Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vad.create(entry)
}

// CreateSTT instantiates the recognizer registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateTTS instantiates the synthesizer registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// CreateLLM instantiates the reasoning engine registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// Names returns the sorted provider names registered for kind ("vad", "stt",
// "tts" or "llm").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "vad":
		return r.vad.names()
	case "stt":
		return r.stt.names()
	case "tts":
		return r.tts.names()
	case "llm":
		return r.llm.names()
	}
	return nil
}
