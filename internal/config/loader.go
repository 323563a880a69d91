package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/jarvis/internal/router"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = "127.0.0.1:8765"
	DefaultMemoryPath     = "jarvis-memory.json"
	DefaultCommandLogPath = "logs/commands.jsonl"
	DefaultRedisKey       = "jarvis:memory"
	DefaultSystemPrompt   = "You are Jarvis, a concise voice assistant that coordinates a team of specialist agents. " +
		"Answer briefly in plain spoken sentences. When a request belongs to a specialist, reply with a first line " +
		"of the form [ROUTE:<agent-id>] <query> and nothing else."
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad": {"energy"},
	"stt": {"whisper", "whisper-native", "deepgram"},
	"tts": {"piper", "coqui", "elevenlabs"},
	"llm": {
		"ollama", "openai", "groq", "cerebras", "sambanova",
		"anthropic", "gemini", "deepseek", "mistral", "llamacpp", "llamafile",
	},
}

// LoadEnv loads KEY=value files into the process environment. Missing files
// are skipped and variables already set are never overridden.
func LoadEnv(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			errs = append(errs, fmt.Errorf("config: load env %q: %w", p, err))
			continue
		}
		slog.Debug("config: loaded env file", "path", p)
	}
	return errors.Join(errs...)
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A .env file next to it is loaded first so ${VAR} references can
// resolve against it.
func Load(path string) (*Config, error) {
	if err := LoadEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
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

// LoadFromReader expands ${VAR} references, decodes a YAML config from r,
// applies defaults and validates the result. Unknown keys are an error.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
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

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = 16000
	}
	if a.FrameMs == 0 {
		a.FrameMs = 30
	}
	if a.PlaybackSampleRate == 0 {
		a.PlaybackSampleRate = 22050
	}
	b := &a.Beeps
	if b.ActivationHz == 0 {
		b.ActivationHz = 880
	}
	if b.EndHz == 0 {
		b.EndHz = 440
	}
	if b.Duration == 0 {
		b.Duration = 100 * time.Millisecond
	}
	if b.Gain == 0 {
		b.Gain = 0.3
	}

	v := &cfg.VAD
	if v.Provider == "" {
		v.Provider = "energy"
	}
	if v.OnsetFrames == 0 {
		v.OnsetFrames = 2
	}
	if v.SilenceTimeout == 0 {
		v.SilenceTimeout = 1500 * time.Millisecond
	}
	if v.MaxUtterance == 0 {
		v.MaxUtterance = 30 * time.Second
	}
	if v.MinUtterance == 0 {
		v.MinUtterance = 300 * time.Millisecond
	}

	if cfg.Inference.SystemPrompt == "" {
		cfg.Inference.SystemPrompt = DefaultSystemPrompt
	}

	rt := &cfg.Router
	if rt.Mode == "" {
		rt.Mode = router.ModeConversational
	}
	if len(rt.Triggers) == 0 {
		rt.Triggers = slices.Clone(router.DefaultTriggers)
	}
	if rt.RouteDetectionChars == 0 {
		rt.RouteDetectionChars = router.DefaultDetectionChars
	}

	m := &cfg.Memory
	if m.MaxTurns == 0 {
		m.MaxTurns = 20
	}
	if m.Store == "" {
		m.Store = MemoryStoreFile
	}
	if m.Path == "" {
		m.Path = DefaultMemoryPath
	}
	if m.Redis.Key == "" {
		m.Redis.Key = DefaultRedisKey
	}

	g := &cfg.Gateway
	if g.Transport == "" {
		g.Transport = GatewayHTTP
	}
	if g.Token == "" {
		g.Token = os.Getenv("OPENCLAW_API_TOKEN")
	}
	if g.ContextTurns == 0 {
		g.ContextTurns = 6
	}

	if !cfg.Handoff.Discord.Enabled() {
		cfg.Handoff.Log = true
	}

	c := &cfg.CommandLog
	if c.Sink == "" {
		c.Sink = CommandLogJSONL
	}
	if c.Path == "" {
		c.Path = DefaultCommandLogPath
	}

	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = "jarvis"
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	switch cfg.Audio.FrameMs {
	case 0, 10, 20, 30:
	default:
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is invalid; valid values: 10, 20, 30", cfg.Audio.FrameMs))
	}
	if cfg.Audio.SampleRate < 0 || cfg.Audio.PlaybackSampleRate < 0 {
		errs = append(errs, errors.New("audio sample rates must not be negative"))
	}
	if g := cfg.Audio.Beeps.Gain; g < 0 || g > 1 {
		errs = append(errs, fmt.Errorf("audio.beeps.gain %.2f is out of range [0, 1]", g))
	}

	// VAD
	v := cfg.VAD
	if v.SpeechThreshold < 0 || v.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.3f is out of range [0, 1]", v.SpeechThreshold))
	}
	if v.SilenceThreshold != 0 && v.SpeechThreshold != 0 && v.SilenceThreshold > v.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.3f exceeds vad.speech_threshold %.3f", v.SilenceThreshold, v.SpeechThreshold))
	}
	if v.MinUtterance > 0 && v.MaxUtterance > 0 && v.MinUtterance > v.MaxUtterance {
		errs = append(errs, fmt.Errorf("vad.min_utterance %v exceeds vad.max_utterance %v", v.MinUtterance, v.MaxUtterance))
	}
	validateProviderName("vad", v.Provider)

	// Providers
	for kind, entries := range map[string][]ProviderEntry{
		"stt": cfg.Providers.STT,
		"tts": cfg.Providers.TTS,
		"llm": cfg.Providers.LLM,
	} {
		for i, e := range entries {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, e.Name)
		}
	}

	// Router
	if _, err := router.ParseMode(string(cfg.Router.Mode)); err != nil {
		errs = append(errs, fmt.Errorf("router.mode: %w", err))
	}
	if _, err := router.NewTable(cfg.Router.Triggers); err != nil {
		errs = append(errs, fmt.Errorf("router.triggers: %w", err))
	}
	if cfg.Router.RouteDetectionChars < 0 {
		errs = append(errs, fmt.Errorf("router.route_detection_chars %d must not be negative", cfg.Router.RouteDetectionChars))
	}
	for id, name := range cfg.Router.Agents {
		if id == "" || name == "" {
			errs = append(errs, fmt.Errorf("router.agents: entry %q: %q needs both an id and a name", id, name))
		}
	}
	if cfg.Router.Mode == router.ModeConversational && len(cfg.Providers.LLM) == 0 {
		slog.Warn("no llm provider configured; conversational mode will answer that no engine is reachable")
	}

	// Memory
	if cfg.Memory.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("memory.max_turns %d must not be negative", cfg.Memory.MaxTurns))
	}
	if cfg.Memory.Store != "" && !cfg.Memory.Store.IsValid() {
		errs = append(errs, fmt.Errorf("memory.store %q is invalid; valid values: file, redis, none", cfg.Memory.Store))
	}
	if cfg.Memory.Store == MemoryStoreRedis && cfg.Memory.Redis.Addr == "" {
		errs = append(errs, errors.New("memory.redis.addr is required when memory.store is redis"))
	}

	// Gateway
	g := cfg.Gateway
	switch g.Transport {
	case GatewayHTTP:
		if g.URL == "" {
			errs = append(errs, errors.New("gateway.url is required for the http transport"))
		}
	case GatewayMCP:
		if (g.MCP.Command == "") == (g.MCP.URL == "") {
			errs = append(errs, errors.New("gateway.mcp needs exactly one of command and url"))
		}
	case "":
	default:
		errs = append(errs, fmt.Errorf("gateway.transport %q is invalid; valid values: http, mcp", g.Transport))
	}
	if g.Timeout < 0 || g.GraceWindow < 0 {
		errs = append(errs, errors.New("gateway timeouts must not be negative"))
	}
	if g.Timeout > 0 && g.GraceWindow > g.Timeout {
		slog.Warn("gateway.grace_window exceeds gateway.timeout; the still-working notice will never play",
			"grace_window", g.GraceWindow, "timeout", g.Timeout)
	}
	if g.RatePerMinute < 0 {
		errs = append(errs, fmt.Errorf("gateway.rate_per_minute %.2f must not be negative", g.RatePerMinute))
	}
	if g.Token == "" {
		slog.Warn("gateway.token is empty and OPENCLAW_API_TOKEN is unset; dispatches are sent unauthenticated")
	}

	// Hand-off
	if d := cfg.Handoff.Discord; d.Enabled() && (d.Token == "" || d.ChannelID == "") {
		errs = append(errs, errors.New("handoff.discord needs both token and channel_id"))
	}

	// Command log
	c := cfg.CommandLog
	if c.Sink != "" && !c.Sink.IsValid() {
		errs = append(errs, fmt.Errorf("cmdlog.sink %q is invalid; valid values: jsonl, postgres, none", c.Sink))
	}
	if c.Sink == CommandLogPostgres && c.PostgresDSN == "" {
		errs = append(errs, errors.New("cmdlog.postgres_dsn is required when cmdlog.sink is postgres"))
	}

	if cfg.Pipeline.PushToTalk && !cfg.Activation.Stdin && !cfg.Activation.Signal && cfg.Server.ListenAddr == ListenOff {
		errs = append(errs, errors.New("pipeline.push_to_talk needs at least one activation source"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not in the
// [ValidProviderNames] list for kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || name == "" || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a provider registered by a build tag",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
