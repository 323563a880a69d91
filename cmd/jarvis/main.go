// Command jarvis is the hands-free voice front-end for a fleet of specialist
// agents.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/jarvis/internal/app"
	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/router"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/provider/llm/anyllm"
	"github.com/MrWong99/jarvis/pkg/provider/llm/openai"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/stt/deepgram"
	"github.com/MrWong99/jarvis/pkg/provider/stt/whisper"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/provider/tts/coqui"
	"github.com/MrWong99/jarvis/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/jarvis/pkg/provider/tts/piper"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
	"github.com/MrWong99/jarvis/pkg/provider/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "jarvis.yaml", "path to the YAML configuration file")
	testPipeline := flag.String("test-pipeline", "", "run one turn from this text without audio capture, then exit")
	noTTS := flag.Bool("no-tts", false, "print replies instead of speaking them")
	listAgents := flag.Bool("list-agents", false, "print the agent directory and trigger table, then exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "jarvis: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "jarvis: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "jarvis: %v\n", err)
		}
		return 1
	}

	if *listAgents {
		printAgents(os.Stdout, cfg)
		return 0
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("jarvis starting",
		"config", *configPath,
		"mode", cfg.Router.Mode,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []app.Option
	if *noTTS {
		opts = append(opts, app.WithTextOutput(os.Stdout))
	}
	if *testPipeline != "" {
		opts = append(opts, app.WithoutCapture())
	} else {
		printStartupSummary(os.Stdout, cfg)
	}

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	code := 0
	if *testPipeline != "" {
		if err := application.HandleText(ctx, *testPipeline); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("test pipeline error", "err", err)
			code = 1
		}
	} else {
		slog.Info("jarvis ready, press Ctrl+C to shut down")
		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("run error", "err", err)
			code = 1
		}
		slog.Info("shutdown signal received, stopping")
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// extraRegistrations are added by files behind build tags.
var extraRegistrations []func(*config.Registry)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// Local and first-party backends go through any-llm. Names that also have
	// an OpenAI-compatible preset are registered below instead.
	for _, providerName := range anyllm.Backends() {
		if _, ok := openai.Presets[providerName]; ok {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// OpenAI-compatible clouds serve as the fallback chain.
	for presetName, preset := range openai.Presets {
		reg.RegisterLLM(presetName, func(entry config.ProviderEntry) (llm.Provider, error) {
			key := entry.APIKey
			if key == "" {
				key = os.Getenv(preset.APIKeyEnv)
			}
			var opts []openai.Option
			if entry.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(entry.BaseURL))
			}
			if d := optDuration(entry.Options, "timeout"); d > 0 {
				opts = append(opts, openai.WithTimeout(d))
			}
			return openai.NewFromPreset(presetName, key, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, whisper.WithPrompt(prompt))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if kw := optStrings(entry.Options, "keywords"); len(kw) > 0 {
			opts = append(opts, deepgram.WithKeywords(kw...))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []piper.Option
		if cmd := optString(entry.Options, "command"); cmd != "" {
			opts = append(opts, piper.WithCommand(strings.Fields(cmd)))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, piper.WithSampleRate(rate))
		}
		return piper.New(entry.Model, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, coqui.WithVoice(voice))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, optString(entry.Options, "voice_id"), opts...)
	})

	for _, register := range extraRegistrations {
		register(reg)
	}

	for _, kind := range []string{"vad", "stt", "tts", "llm"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║          jarvis, startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printLine(w, "Mode", string(cfg.Router.Mode))
	printLine(w, "VAD", cfg.VAD.Provider)
	printChain(w, "STT", cfg.Providers.STT)
	printChain(w, "TTS", cfg.Providers.TTS)
	printChain(w, "LLM", cfg.Providers.LLM)
	printLine(w, "Gateway", string(cfg.Gateway.Transport))
	printLine(w, "Memory", fmt.Sprintf("%s / %d turns", cfg.Memory.Store, cfg.Memory.MaxTurns))
	printLine(w, "Command log", string(cfg.CommandLog.Sink))
	if cfg.Handoff.Discord.Enabled() {
		printLine(w, "Hand-off", "discord")
	} else if cfg.Handoff.Log {
		printLine(w, "Hand-off", "log")
	}
	printLine(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printChain(w io.Writer, kind string, entries []config.ProviderEntry) {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	printLine(w, kind, strings.Join(names, " > "))
}

func printLine(w io.Writer, kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

// printAgents writes the agent directory and the trigger table.
func printAgents(w io.Writer, cfg *config.Config) {
	agents := router.DefaultAgents.Merge(cfg.Router.Agents)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tNAME")
	for _, id := range agents.IDs() {
		fmt.Fprintf(tw, "%s\t%s\n", id, agents.Name(id))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TRIGGER\tAGENT")
	for _, t := range cfg.Router.Triggers {
		fmt.Fprintf(tw, "%q\t%s\n", t.Phrase, t.Agent)
	}
	_ = tw.Flush()
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optStrings extracts a list of strings, skipping non-string items.
func optStrings(opts map[string]any, key string) []string {
	items, _ := opts[key].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// optDuration parses a duration option such as "20s".
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
