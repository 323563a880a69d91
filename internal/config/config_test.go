package config_test

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/router"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	llmmock "github.com/MrWong99/jarvis/pkg/provider/llm/mock"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	sttmock "github.com/MrWong99/jarvis/pkg/provider/stt/mock"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	ttsmock "github.com/MrWong99/jarvis/pkg/provider/tts/mock"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
	"github.com/MrWong99/jarvis/pkg/provider/vad/energy"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9000"
  log_level: debug

audio:
  playback_sample_rate: 24000
  beeps:
    enabled: true

vad:
  speech_threshold: 0.02
  silence_threshold: 0.01
  silence_timeout: 1200ms

providers:
  stt:
    - name: whisper
      base_url: http://localhost:8080
  tts:
    - name: piper
      model: en_US-lessac-medium
  llm:
    - name: ollama
      model: llama3.2
    - name: groq
      api_key: gsk-test

router:
  mode: command
  triggers:
    - phrase: system status
      agent: system-guardian
    - phrase: deal
      agent: deal-scanner
  agents:
    home-butler: Home Butler

memory:
  max_turns: 10
  store: redis
  redis:
    addr: localhost:6379

gateway:
  url: http://localhost:18789
  token: secret
  timeout: 45s
  grace_window: 8s

handoff:
  discord:
    token: bot-token
    channel_id: "1234"

cmdlog:
  sink: postgres
  postgres_dsn: postgres://jarvis@localhost/jarvis
`

// ── YAML loading ─────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Audio.PlaybackSampleRate != 24000 || !cfg.Audio.Beeps.Enabled {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.VAD.SilenceTimeout != 1200*time.Millisecond {
		t.Errorf("vad.silence_timeout = %v", cfg.VAD.SilenceTimeout)
	}
	if len(cfg.Providers.LLM) != 2 || cfg.Providers.LLM[1].Name != "groq" || cfg.Providers.LLM[1].APIKey != "gsk-test" {
		t.Errorf("providers.llm = %+v", cfg.Providers.LLM)
	}
	if cfg.Router.Mode != router.ModeCommand || len(cfg.Router.Triggers) != 2 {
		t.Errorf("router = %+v", cfg.Router)
	}
	if cfg.Router.Triggers[0] != (router.Trigger{Phrase: "system status", Agent: "system-guardian"}) {
		t.Errorf("triggers[0] = %+v", cfg.Router.Triggers[0])
	}
	if cfg.Router.Agents["home-butler"] != "Home Butler" {
		t.Errorf("router.agents = %v", cfg.Router.Agents)
	}
	if cfg.Memory.Store != config.MemoryStoreRedis || cfg.Memory.MaxTurns != 10 {
		t.Errorf("memory = %+v", cfg.Memory)
	}
	if cfg.Gateway.Timeout != 45*time.Second || cfg.Gateway.GraceWindow != 8*time.Second {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if !cfg.Handoff.Discord.Enabled() || cfg.Handoff.Log {
		t.Errorf("handoff = %+v", cfg.Handoff)
	}
	if cfg.CommandLog.Sink != config.CommandLogPostgres {
		t.Errorf("cmdlog = %+v", cfg.CommandLog)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("gateway:\n  url: http://gw\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, config.DefaultListenAddr},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"sample_rate", cfg.Audio.SampleRate, 16000},
		{"frame_ms", cfg.Audio.FrameMs, 30},
		{"beep hz", cfg.Audio.Beeps.ActivationHz, 880.0},
		{"vad provider", cfg.VAD.Provider, "energy"},
		{"silence_timeout", cfg.VAD.SilenceTimeout, 1500 * time.Millisecond},
		{"mode", cfg.Router.Mode, router.ModeConversational},
		{"detection chars", cfg.Router.RouteDetectionChars, router.DefaultDetectionChars},
		{"triggers", len(cfg.Router.Triggers), len(router.DefaultTriggers)},
		{"max_turns", cfg.Memory.MaxTurns, 20},
		{"memory store", cfg.Memory.Store, config.MemoryStoreFile},
		{"transport", cfg.Gateway.Transport, config.GatewayHTTP},
		{"context turns", cfg.Gateway.ContextTurns, 6},
		{"handoff log", cfg.Handoff.Log, true},
		{"cmdlog sink", cfg.CommandLog.Sink, config.CommandLogJSONL},
		{"cmdlog path", cfg.CommandLog.Path, config.DefaultCommandLogPath},
		{"system prompt", cfg.Inference.SystemPrompt != "", true},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestLoadFromReader_DefaultTriggersAreCopied(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("gateway:\n  url: http://gw\n"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Router.Triggers[0].Agent = "changed"
	if router.DefaultTriggers[0].Agent == "changed" {
		t.Fatal("defaults share the built-in trigger table")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("gateway:\n  url: http://gw\n  bogus: 1\n"))
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) { return energy.New(), nil })
	reg.RegisterSTT("mock", func(e config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{Text: e.Model}, nil
	})
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })

	if _, err := reg.CreateVAD(config.ProviderEntry{Name: "energy"}); err != nil {
		t.Errorf("CreateVAD: %v", err)
	}
	p, err := reg.CreateSTT(config.ProviderEntry{Name: "mock", Model: "base.en"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if p.(*sttmock.Provider).Text != "base.en" {
		t.Error("factory did not receive the entry")
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateLLM: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
	if !strings.Contains(err.Error(), `llm/"nope"`) {
		t.Errorf("error should name the kind and provider, got %v", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterTTS("bad", func(config.ProviderEntry) (tts.Provider, error) { return nil, boom })
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	for _, n := range []string{"ollama", "groq", "cerebras"} {
		reg.RegisterLLM(n, func(config.ProviderEntry) (llm.Provider, error) { return nil, nil })
	}
	if got, want := reg.Names("llm"), []string{"cerebras", "groq", "ollama"}; !slices.Equal(got, want) {
		t.Errorf("Names(llm) = %v, want %v", got, want)
	}
	if got := reg.Names("stt"); len(got) != 0 {
		t.Errorf("Names(stt) = %v, want none", got)
	}
	if got := reg.Names("s2s"); got != nil {
		t.Errorf("Names(s2s) = %v, want nil", got)
	}
}
