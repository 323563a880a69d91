// Package config provides the configuration schema, loader, and provider
// registry for the jarvis voice daemon.
package config

import (
	"time"

	"github.com/MrWong99/jarvis/internal/router"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// MemoryStore selects where conversation memory is persisted.
type MemoryStore string

const (
	MemoryStoreFile  MemoryStore = "file"
	MemoryStoreRedis MemoryStore = "redis"
	MemoryStoreNone  MemoryStore = "none"
)

// IsValid reports whether s is a recognised memory store.
func (s MemoryStore) IsValid() bool {
	return s == MemoryStoreFile || s == MemoryStoreRedis || s == MemoryStoreNone
}

// GatewayTransport selects how dispatches reach the agent gateway.
type GatewayTransport string

const (
	GatewayHTTP GatewayTransport = "http"
	GatewayMCP  GatewayTransport = "mcp"
)

// IsValid reports whether t is a recognised gateway transport.
func (t GatewayTransport) IsValid() bool { return t == GatewayHTTP || t == GatewayMCP }

// CommandLogSink selects the command log backend.
type CommandLogSink string

const (
	CommandLogJSONL    CommandLogSink = "jsonl"
	CommandLogPostgres CommandLogSink = "postgres"
	CommandLogNone     CommandLogSink = "none"
)

// IsValid reports whether s is a recognised command log sink.
func (s CommandLogSink) IsValid() bool {
	return s == CommandLogJSONL || s == CommandLogPostgres || s == CommandLogNone
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	VAD        VADConfig        `yaml:"vad"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Inference  InferenceConfig  `yaml:"inference"`
	Router     RouterConfig     `yaml:"router"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Memory     MemoryConfig     `yaml:"memory"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Handoff    HandoffConfig    `yaml:"handoff"`
	CommandLog CommandLogConfig `yaml:"cmdlog"`
	Activation ActivationConfig `yaml:"activation"`
	Observe    ObserveConfig    `yaml:"observe"`
}

// ListenOff disables the control server when used as [ServerConfig.ListenAddr].
const ListenOff = "off"

// ServerConfig holds the control server and logging settings.
type ServerConfig struct {
	// ListenAddr is the control server address (activation, events, health,
	// metrics). "off" disables the server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture and playback devices.
type AudioConfig struct {
	// SampleRate of the capture stream. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the capture frame size, 10, 20 or 30. Default 30.
	FrameMs int `yaml:"frame_ms"`

	// PlaybackSampleRate of the output device. Default 22050.
	PlaybackSampleRate int `yaml:"playback_sample_rate"`

	// CaptureCommand and PlaybackCommand override the default arecord/aplay
	// invocations. {rate} and {channels} are substituted.
	CaptureCommand  []string `yaml:"capture_command"`
	PlaybackCommand []string `yaml:"playback_command"`

	Beeps BeepConfig `yaml:"beeps"`
}

// BeepConfig configures the activation and end-of-utterance tones.
type BeepConfig struct {
	Enabled      bool          `yaml:"enabled"`
	ActivationHz float64       `yaml:"activation_hz"`
	EndHz        float64       `yaml:"end_hz"`
	Duration     time.Duration `yaml:"duration"`
	Gain         float64       `yaml:"gain"`
}

// VADConfig configures frame classification and endpointing.
type VADConfig struct {
	// Provider selects the registered VAD engine. Default "energy".
	Provider string `yaml:"provider"`

	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// OnsetFrames consecutive speech frames open an utterance. Default 2.
	OnsetFrames int `yaml:"onset_frames"`

	// SilenceTimeout of trailing silence closes an utterance. Default 1.5s.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`

	// MaxUtterance is the hard cap. Default 30s.
	MaxUtterance time.Duration `yaml:"max_utterance"`

	// MinUtterance shorter utterances are discarded. Default 300ms.
	MinUtterance time.Duration `yaml:"min_utterance"`
}

// ProvidersConfig lists the engines for each stage. The first entry of each
// list is the primary; the rest are fallbacks tried in order.
type ProvidersConfig struct {
	STT []ProviderEntry `yaml:"stt"`
	TTS []ProviderEntry `yaml:"tts"`
	LLM []ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. Name selects the factory in the [Registry].
type ProviderEntry struct {
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API if any. ${ENV}
	// references are expanded at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// InferenceConfig configures the local reasoning engine requests.
type InferenceConfig struct {
	SystemPrompt string        `yaml:"system_prompt"`
	Temperature  float64       `yaml:"temperature"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RouterConfig configures intent routing.
type RouterConfig struct {
	// Mode is "command" or "conversational". Default conversational.
	Mode router.Mode `yaml:"mode"`

	// Triggers is the ordered trigger table for command mode. Empty uses
	// the built-in table.
	Triggers []router.Trigger `yaml:"triggers"`

	// Agents adds to or overrides the built-in agent directory.
	Agents map[string]string `yaml:"agents"`

	// RouteDetectionChars bounds how much of the first line is buffered
	// before it is judged. Default 50.
	RouteDetectionChars int `yaml:"route_detection_chars"`

	Meta router.MetaPhrases `yaml:"meta"`

	// PhoneticCorrection fixes misheard agent names before routing.
	PhoneticCorrection bool `yaml:"phonetic_correction"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	BargeInOnSpeech   bool          `yaml:"barge_in_on_speech"`
	PushToTalk        bool          `yaml:"push_to_talk"`
	ListenWindow      time.Duration `yaml:"listen_window"`
	RecognizeTimeout  time.Duration `yaml:"recognize_timeout"`
	SynthesizeTimeout time.Duration `yaml:"synthesize_timeout"`
	QueueSize         int           `yaml:"queue_size"`
}

// MemoryConfig configures the rolling conversation memory.
type MemoryConfig struct {
	// MaxTurns is the window size. Default 20.
	MaxTurns int `yaml:"max_turns"`

	// Store is file, redis or none. Default file.
	Store MemoryStore `yaml:"store"`

	// Path of the JSON file for the file store.
	Path string `yaml:"path"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis memory store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	TTL      time.Duration `yaml:"ttl"`
}

// GatewayConfig configures specialist dispatch.
type GatewayConfig struct {
	// Transport is http or mcp. Default http.
	Transport GatewayTransport `yaml:"transport"`

	// URL is the gateway base URL for the http transport.
	URL string `yaml:"url"`

	// Token is sent as a bearer token. Default ${OPENCLAW_API_TOKEN}.
	Token string `yaml:"token"`

	MCP MCPConfig `yaml:"mcp"`

	Timeout          time.Duration `yaml:"timeout"`
	GraceWindow      time.Duration `yaml:"grace_window"`
	MaxWords         int           `yaml:"max_words"`
	TruncationNotice string        `yaml:"truncation_notice"`

	// BridgeDelay is how long a dispatch may run before the bridge phrase
	// ("Routing to ...") is spoken. Negative speaks it at once. Default 1s.
	BridgeDelay time.Duration `yaml:"bridge_delay"`

	// ContextTurns recent turns are sent with every dispatch. Negative
	// sends none. Default 6.
	ContextTurns int `yaml:"context_turns"`

	RatePerMinute float64 `yaml:"rate_per_minute"`
	Burst         int     `yaml:"burst"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// MCPConfig configures the MCP gateway transport. Exactly one of Command and
// URL must be set.
type MCPConfig struct {
	Command string            `yaml:"command"`
	URL     string            `yaml:"url"`
	Env     map[string]string `yaml:"env"`
	Tool    string            `yaml:"tool"`
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// HandoffConfig configures where unspoken content goes.
type HandoffConfig struct {
	// Log writes hand-offs to the application log. Default true when no
	// other notifier is configured.
	Log bool `yaml:"log"`

	Discord DiscordConfig `yaml:"discord"`
}

// DiscordConfig configures the Discord hand-off channel.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether the Discord notifier is configured.
func (d DiscordConfig) Enabled() bool { return d.Token != "" || d.ChannelID != "" }

// CommandLogConfig configures the transcript/command log.
type CommandLogConfig struct {
	// Sink is jsonl, postgres or none. Default jsonl.
	Sink CommandLogSink `yaml:"sink"`

	// Path of the JSONL file.
	Path string `yaml:"path"`

	PostgresDSN string `yaml:"postgres_dsn"`
}

// ActivationConfig selects the local activation sources. HTTP and websocket
// activation are served by the control server.
type ActivationConfig struct {
	// Stdin treats every line on standard input as an activation.
	Stdin bool `yaml:"stdin"`

	// Signal activates on SIGUSR1.
	Signal bool `yaml:"signal"`
}

// ObserveConfig configures telemetry.
type ObserveConfig struct {
	ServiceName string `yaml:"service_name"`
}
